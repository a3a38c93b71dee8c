package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                      `json:"valid"`
	Path   string                    `json:"path"`
	Errors []*config.ValidationError `json:"errors,omitempty"`
}

// Text implements Texter.
func (r ValidationResult) Text() string {
	if r.Valid {
		return fmt.Sprintf("✓ %s is valid", r.Path)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %s: %d error(s)", r.Path, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", e.Error())
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the schema without opening the
cache database or touching the network.

Reports every schema violation found (does not fail-fast). The file defaults
to --config, then $HYDRO_CONFIG, then hydroplante.yaml.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	if path == "" {
		e, err := config.LoadEnv()
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "failed to read environment", err)
		}
		path = e.ConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to read configuration", err)
	}
	f.VerboseLog("Validating %s (%d bytes)", path, len(data))

	result := ValidationResult{Path: path}
	if _, err := config.Parse(data); err != nil {
		result.Errors = validationErrors(err)
	}

	if len(result.Errors) > 0 {
		if f.Format == "json" {
			if err := f.Error(result.Errors[0].Code, "validation failed", result); err != nil {
				return err
			}
		} else if err := f.Success(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
	}

	result.Valid = true
	return f.Success(result)
}

// validationErrors flattens the joined error returned by config.Parse.
func validationErrors(err error) []*config.ValidationError {
	var out []*config.ValidationError
	var walk func(error)
	walk = func(e error) {
		var ve *config.ValidationError
		if errors.As(e, &ve) && ve == e {
			out = append(out, ve)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)

	if len(out) == 0 {
		out = append(out, &config.ValidationError{Code: config.ErrCodeSchema, Message: err.Error()})
	}
	return out
}
