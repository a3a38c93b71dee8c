package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hydroplante/internal/config"
	"github.com/roach88/hydroplante/internal/connectivity"
	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/replay"
	"github.com/roach88/hydroplante/internal/telemetry"
	"github.com/roach88/hydroplante/internal/worker"
)

// Control endpoints served next to the proxied application.
const (
	messagePath = "/__worker/message"
	statusPath  = "/__worker/status"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	NoWatch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker behind an HTTP server",
		Long: `Run the worker behind an HTTP server.

Origin-relative requests are answered for the configured origin; absolute-form
proxy requests are forwarded as-is. The configured generation is resumed from
the cache database or installed on start. A connectivity check replays a
pending state write whenever the network comes back, and edits to the config
file install the new generation.

Control endpoints:
  POST /__worker/message   {"type":"SKIP_WAITING"}
  GET  /__worker/status

Example:
  hydroplante serve --config hydroplante.yaml
  HYDRO_SYNC_TOKEN=... hydroplante serve --listen :8080 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not reload the config file on change")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.SetDefault(a.logger)

	shutdownTracing, err := telemetry.Setup(ctx, a.cfg.OTelEndpoint, telemetry.ServiceName)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("flushing traces failed", "error", err)
		}
	}()

	listen := a.cfg.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	origin, _ := a.cfg.OriginURL()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	resumed, err := a.resume(ctx)
	if err != nil {
		a.logger.Warn("resuming cached generation failed", "generation", a.cfg.Generation, "error", err)
	}
	if !resumed {
		a.worker.Enqueue(worker.InstallEvent{Generation: a.cfg.Generation, Manifest: a.cfg.Manifest})
	}

	monitor := connectivity.NewMonitor(
		connectivity.HTTPChecker{URL: a.cfg.Connectivity.URL, Timeout: time.Duration(a.cfg.Connectivity.Timeout)},
		func(_ context.Context, online bool) {
			a.worker.Enqueue(worker.ConnectivityEvent{Online: online})
		},
		connectivity.WithLogger(a.logger),
		connectivity.WithInterval(time.Duration(a.cfg.Connectivity.Interval)),
	)

	srv := &http.Server{
		Addr:              listen,
		Handler:           newProxyHandler(a.worker, a.replay, origin, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(a.worker.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(monitor.Run(gctx))
	})
	if !opts.NoWatch && a.cfg.Path != "" {
		current := a.cfg.Generation
		g.Go(func() error {
			return config.Watch(gctx, a.cfg.Path, func(next *config.Config) {
				if next.Generation == current {
					return
				}
				a.logger.Info("generation changed", "from", current, "to", next.Generation)
				current = next.Generation
				a.worker.Enqueue(worker.InstallEvent{Generation: next.Generation, Manifest: next.Manifest})
			}, a.logger)
		})
	}
	g.Go(func() error {
		a.logger.Info("listening", "addr", listen, "origin", origin.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Worker serving %s on %s\n", origin, listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	a.logger.Info("worker stopped gracefully")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// proxyHandler exposes the worker over HTTP.
type proxyHandler struct {
	worker *worker.Worker
	replay *replay.Controller
	origin *url.URL
	logger *slog.Logger
}

func newProxyHandler(w *worker.Worker, ctrl *replay.Controller, origin *url.URL, logger *slog.Logger) *proxyHandler {
	return &proxyHandler{worker: w, replay: ctrl, origin: origin, logger: logger}
}

// workerStatus is the body of the status endpoint.
type workerStatus struct {
	Active      model.Generation `json:"active"`
	Waiting     model.Generation `json:"waiting,omitempty"`
	PendingSync bool             `json:"pending_sync"`
	// Retries started since the server came up.
	SyncAttempts int `json:"sync_attempts"`
}

// messageResult is the body of the message endpoint.
type messageResult struct {
	Activated model.Generation   `json:"activated,omitempty"`
	Pruned    []model.Generation `json:"pruned,omitempty"`
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		switch r.URL.Path {
		case messagePath:
			h.message(w, r)
			return
		case statusPath:
			h.status(w, r)
			return
		}
	}

	target := h.target(r)
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	for _, hdr := range hopHeaders {
		out.Header.Del(hdr)
	}
	out.ContentLength = r.ContentLength

	resp, err := h.worker.RoundTrip(out)
	if err != nil {
		h.logger.Warn("proxy request failed", "url", target.String(), "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, hdr := range hopHeaders {
		w.Header().Del(hdr)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("copying response body failed", "url", target.String(), "error", err)
	}
}

// target maps an incoming request to the URL the worker sees.
func (h *proxyHandler) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	return h.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
}

func (h *proxyHandler) message(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg worker.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&msg); err != nil {
		http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := h.worker.Dispatch(r.Context(), worker.MessageEvent{Message: msg})
	var f *worker.Failure
	if errors.As(out.Err, &f) && f.Code == worker.CodeUnknownMessage {
		http.Error(w, f.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, messageResult{Activated: out.Activated, Pruned: out.Pruned})
}

func (h *proxyHandler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, err := h.replay.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("status: reading pending flag failed", "error", err)
	}
	writeJSON(w, http.StatusOK, workerStatus{
		Active:       h.worker.Active(),
		Waiting:      h.worker.Waiting(),
		PendingSync:  state == replay.PendingRetry,
		SyncAttempts: h.replay.Attempts(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
