package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/worker"
)

// InstallResult is the output of the install command.
type InstallResult struct {
	*worker.InstallReport
	Active string `json:"active"`
}

// Text implements Texter.
func (r InstallResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Installed generation %s: %d cached, %d missing\n",
		r.Generation, len(r.Cached), len(r.Missing))
	for _, u := range r.Missing {
		marker := ""
		for _, req := range r.MissingRequired {
			if req == u {
				marker = " (required)"
				break
			}
		}
		fmt.Fprintf(&b, "  missing %s%s\n", u, marker)
	}
	for _, g := range r.Pruned {
		fmt.Fprintf(&b, "  pruned %s\n", g)
	}
	fmt.Fprintf(&b, "Active generation: %s", r.Active)
	return b.String()
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Populate the cache with the configured generation",
		Long: `Populate the cache with the configured generation's manifest and activate it.

Every manifest entry is fetched from the origin. Entries that cannot be
fetched are reported and skipped; the command fails only when a required
entry is missing. Nothing is active in a fresh process, so the generation
activates at once and every other generation is deleted.

Example:
  hydroplante install --config hydroplante.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(rootOpts, cmd)
		},
	}

	return cmd
}

func runInstall(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	a, err := openApp(ctx, opts, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	f.VerboseLog("Installing generation %s (%d manifest entries)", a.cfg.Generation, len(a.cfg.Manifest))
	out := a.worker.Dispatch(ctx, worker.InstallEvent{Generation: a.cfg.Generation, Manifest: a.cfg.Manifest})
	report := out.Install
	if report == nil {
		return f.Fail(ExitFailure, ErrCodeInstall, "install produced no report", out.Err)
	}

	a.worker.Wait()

	result := InstallResult{InstallReport: report, Active: string(a.worker.Active())}
	if len(report.MissingRequired) > 0 {
		if f.Format == "json" {
			if err := f.Error(ErrCodeInstall, "required manifest entries missing", result); err != nil {
				return err
			}
		} else if err := f.Success(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d required manifest entries missing", len(report.MissingRequired)))
	}
	return f.Success(result)
}
