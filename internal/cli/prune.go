package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/model"
)

// PruneResult lists the deleted generations.
type PruneResult struct {
	Kept   model.Generation   `json:"kept"`
	Pruned []model.Generation `json:"pruned"`
}

// Text implements Texter.
func (r PruneResult) Text() string {
	if len(r.Pruned) == 0 {
		return fmt.Sprintf("Nothing to prune; keeping %s.", r.Kept)
	}
	names := make([]string, len(r.Pruned))
	for i, g := range r.Pruned {
		names[i] = string(g)
	}
	return fmt.Sprintf("Pruned %s; keeping %s.", strings.Join(names, ", "), r.Kept)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete every generation except the configured one",
		Long: `Delete every cached generation whose name differs from the configured
generation, together with all of its responses.`,
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

			pruned, err := a.store.PruneObsolete(cmd.Context(), a.cfg.Generation)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "prune failed", err)
			}
			if pruned == nil {
				pruned = []model.Generation{}
			}
			return f.Success(PruneResult{Kept: a.cfg.Generation, Pruned: pruned})
		},
	}

	return cmd
}
