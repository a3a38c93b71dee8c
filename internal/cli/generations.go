package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/store"
)

// GenerationsResult lists the cached generations.
type GenerationsResult struct {
	Configured  model.Generation       `json:"configured"`
	Deleted     model.Generation       `json:"deleted,omitempty"`
	Generations []store.GenerationInfo `json:"generations"`
}

// Text implements Texter.
func (r GenerationsResult) Text() string {
	var b strings.Builder
	if r.Deleted != "" {
		fmt.Fprintf(&b, "Deleted %s.\n", r.Deleted)
	}
	if len(r.Generations) == 0 {
		b.WriteString("No cached generations.")
		return b.String()
	}
	for i, g := range r.Generations {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := " "
		if g.Name == r.Configured {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-12s %d entries", marker, g.Name, g.Entries)
	}
	return b.String()
}

// NewGenerationsCommand creates the generations command.
func NewGenerationsCommand(rootOpts *RootOptions) *cobra.Command {
	var del string

	cmd := &cobra.Command{
		Use:   "generations",
		Short: "List cached generations",
		Long: `List the generations held in the cache database, oldest first, with
their entry counts. The configured generation is marked with '*'.

--delete removes one generation and its responses before listing. The
configured generation cannot be deleted; use prune to drop all others.

Example:
  hydroplante generations
  hydroplante generations --delete v2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			a, err := openApp(cmd.Context(), rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			result := GenerationsResult{Configured: a.cfg.Generation}
			if del != "" {
				if err := deleteGeneration(cmd, a, model.Generation(del)); err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
				}
				result.Deleted = model.Generation(del)
			}

			gens, err := a.store.Generations(cmd.Context())
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "failed to list generations", err)
			}
			result.Generations = gens
			return f.Success(result)
		},
	}

	cmd.Flags().StringVar(&del, "delete", "", "Delete this generation before listing")

	return cmd
}

func deleteGeneration(cmd *cobra.Command, a *app, gen model.Generation) error {
	if gen == a.cfg.Generation {
		return fmt.Errorf("refusing to delete the configured generation %s", gen)
	}
	ok, err := a.store.HasGeneration(cmd.Context(), gen)
	if err != nil {
		return fmt.Errorf("look up generation %s: %w", gen, err)
	}
	if !ok {
		return fmt.Errorf("generation %s is not cached", gen)
	}
	if err := a.store.DeleteGeneration(cmd.Context(), gen); err != nil {
		return err
	}
	a.logger.Info("generation deleted", "generation", gen)
	return nil
}
