package cli

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hydroplante/internal/model"
)

// LookupResult describes one cached response.
type LookupResult struct {
	Generation model.Generation `json:"generation"`
	Method     string           `json:"method"`
	URL        string           `json:"url"`
	Status     int              `json:"status"`
	Header     http.Header      `json:"header,omitempty"`
	Size       int              `json:"size"`
	Digest     string           `json:"digest"`
}

// Text implements Texter.
func (r LookupResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (generation %s)\n", r.Method, r.URL, r.Generation)
	fmt.Fprintf(&b, "  status %d, %d bytes\n", r.Status, r.Size)
	fmt.Fprintf(&b, "  digest %s", r.Digest)
	names := make([]string, 0, len(r.Header))
	for k := range r.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "\n  %s: %s", k, strings.Join(r.Header[k], ", "))
	}
	return b.String()
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	var generation string

	cmd := &cobra.Command{
		Use:   "lookup <url>",
		Short: "Show a cached response",
		Long: `Show the cached GET response for a URL. Matching is exact: method and full
URL, query string included. Paths relative to the origin are resolved first.

Example:
  hydroplante lookup /index.html
  hydroplante lookup https://plante.example/style.css --generation v2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			a, err := openApp(cmd.Context(), rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			gen := a.cfg.Generation
			if generation != "" {
				gen = model.Generation(generation)
			}
			origin, _ := a.cfg.OriginURL()
			target := args[0]
			if strings.HasPrefix(target, "/") {
				target = model.ResolveURL(origin, model.NormalizePath(target)).String()
			}
			key := model.RequestKey{Method: http.MethodGet, URL: target}

			rec, ok, err := a.store.Lookup(cmd.Context(), gen, key)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "lookup failed", err)
			}
			if !ok {
				return f.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("%s not cached in generation %s", key.URL, gen), nil)
			}
			return f.Success(LookupResult{
				Generation: gen,
				Method:     rec.Key.Method,
				URL:        rec.Key.URL,
				Status:     rec.Status,
				Header:     rec.Header,
				Size:       len(rec.Body),
				Digest:     rec.Digest,
			})
		},
	}

	cmd.Flags().StringVar(&generation, "generation", "", "generation to search (default: configured generation)")

	return cmd
}
