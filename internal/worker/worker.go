package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/hydroplante/internal/model"
)

const tracerName = "github.com/roach88/hydroplante/internal/worker"

// DefaultPopulateConcurrency bounds parallel manifest fetches during install.
const DefaultPopulateConcurrency = 4

// CacheStore is the asset cache the worker reads and writes.
// Implemented by *store.Store.
type CacheStore interface {
	OpenGeneration(ctx context.Context, gen model.Generation) error
	Lookup(ctx context.Context, gen model.Generation, key model.RequestKey) (model.Record, bool, error)
	Put(ctx context.Context, gen model.Generation, rec model.Record) error
	PruneObsolete(ctx context.Context, current model.Generation) ([]model.Generation, error)
}

// ConnectivityListener is told when connectivity returns.
// OnOnline reports whether it started a sync retry.
// Implemented by *replay.Controller.
type ConnectivityListener interface {
	OnOnline(ctx context.Context) bool
}

// Observer receives every dispatched event with its outcome.
type Observer func(ev Event, out Outcome)

// Config holds the fixed parameters of a worker.
type Config struct {
	// Origin is the application origin manifest paths resolve against.
	Origin *url.URL

	// APIHost is the one external host served by the bypass strategy.
	APIHost string
}

// Worker intercepts requests and manages cache generations.
//
// Thread-safety model:
//   - RoundTrip / Dispatch(FetchEvent): safe from any goroutine, concurrent
//   - Enqueue: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - install and activate are serialised by lifecycleMu whichever path
//     they arrive through
type Worker struct {
	store    CacheStore
	network  http.RoundTripper
	cfg      Config
	logger   *slog.Logger
	ids      IDGenerator
	listener ConnectivityListener
	observer Observer
	tracer   trace.Tracer
	queue    *eventQueue

	skipWaiting bool
	concurrency int

	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	active  model.Generation
	waiting model.Generation

	pending sync.WaitGroup // async cache writes
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithIDGenerator sets the request ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *Worker) {
		w.ids = g
	}
}

// WithListener sets the receiver of connectivity restorations.
func WithListener(l ConnectivityListener) Option {
	return func(w *Worker) {
		w.listener = l
	}
}

// WithObserver sets a hook called after every dispatch.
func WithObserver(o Observer) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

// WithTracerProvider sets the provider dispatch spans are recorded with.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		w.tracer = tp.Tracer(tracerName)
	}
}

// WithSkipWaiting makes every installed generation activate immediately.
func WithSkipWaiting(skip bool) Option {
	return func(w *Worker) {
		w.skipWaiting = skip
	}
}

// WithPopulateConcurrency bounds parallel manifest fetches.
// Values below 1 fall back to DefaultPopulateConcurrency.
func WithPopulateConcurrency(n int) Option {
	return func(w *Worker) {
		w.concurrency = n
	}
}

// New creates a worker over the given cache store and network transport.
// A nil network uses http.DefaultTransport.
func New(st CacheStore, network http.RoundTripper, cfg Config, opts ...Option) *Worker {
	if network == nil {
		network = http.DefaultTransport
	}
	w := &Worker{
		store:       st,
		network:     network,
		cfg:         cfg,
		logger:      slog.Default(),
		ids:         UUIDv7Generator{},
		tracer:      otel.Tracer(tracerName),
		queue:       newEventQueue(),
		concurrency: DefaultPopulateConcurrency,
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = DefaultPopulateConcurrency
	}

	return w
}

// SetListener sets the connectivity listener after construction, for
// wiring where the listener itself depends on the worker.
func (w *Worker) SetListener(l ConnectivityListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = l
}

// Active returns the generation currently serving cache lookups.
func (w *Worker) Active() model.Generation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Waiting returns the installed generation awaiting activation, if any.
func (w *Worker) Waiting() model.Generation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.waiting
}

// Dispatch handles one event and returns its outcome.
//
// Dispatch never panics on I/O failure and never returns an intercepted
// fetch without a response; see Outcome.
func (w *Worker) Dispatch(ctx context.Context, ev Event) Outcome {
	kind := EventKind(ev)
	ctx, span := w.tracer.Start(ctx, "worker."+kind, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	var out Outcome
	switch e := ev.(type) {
	case FetchEvent:
		out = w.fetch(ctx, e.Request)
	case InstallEvent:
		out = w.install(ctx, e)
	case ActivateEvent:
		out = w.activate(ctx)
	case MessageEvent:
		out = w.message(ctx, e.Message)
	case ConnectivityEvent:
		out = w.connectivity(ctx, e)
	default:
		out = Outcome{Err: fmt.Errorf("unknown event %T", ev)}
	}

	if out.Route != 0 {
		span.SetAttributes(attribute.String("worker.route", out.Route.String()))
	}
	if out.Source != "" {
		span.SetAttributes(attribute.String("worker.source", string(out.Source)))
	}
	if out.Response != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", out.Response.StatusCode))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}

	if w.observer != nil {
		w.observer(ev, out)
	}
	return out
}

// RoundTrip implements http.RoundTripper.
//
// Intercepted requests always yield a response and a nil error. Requests the
// worker declines to intercept get the underlying transport's result as-is.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	out := w.Dispatch(req.Context(), FetchEvent{Request: req})
	if out.Source == model.SourcePassthrough {
		return out.Response, out.Err
	}
	return out.Response, nil
}

// fetch classifies req and runs the matching strategy.
func (w *Worker) fetch(ctx context.Context, req *http.Request) Outcome {
	route, ok := Classify(req, w.cfg.APIHost)
	if !ok {
		if req == nil {
			return Outcome{Source: model.SourcePassthrough, Err: fmt.Errorf("fetch: nil request")}
		}
		resp, err := w.network.RoundTrip(req)
		return Outcome{Source: model.SourcePassthrough, Response: resp, Err: err}
	}

	log := w.logger.With(
		"request_id", w.ids.Generate(),
		"method", req.Method,
		"url", req.URL.String(),
		"route", route.String(),
	)

	if route == model.RouteBypass {
		return w.bypass(ctx, req, log)
	}
	return w.cacheFirst(ctx, req, log)
}

// message handles control messages from a controlling page.
func (w *Worker) message(ctx context.Context, msg Message) Outcome {
	switch msg.Type {
	case MessageSkipWaiting:
		w.logger.Debug("skip waiting requested")
		return w.activate(ctx)
	default:
		w.logger.Debug("ignoring unknown message", "type", msg.Type)
		return Outcome{Err: &Failure{
			Code: CodeUnknownMessage,
			Op:   "message",
			Err:  fmt.Errorf("unknown message type %q", msg.Type),
		}}
	}
}

// connectivity forwards restorations to the listener.
func (w *Worker) connectivity(ctx context.Context, ev ConnectivityEvent) Outcome {
	if !ev.Online {
		w.logger.Info("connectivity lost")
		return Outcome{}
	}

	w.mu.RLock()
	listener := w.listener
	w.mu.RUnlock()

	w.logger.Info("connectivity restored")
	if listener == nil {
		return Outcome{}
	}
	return Outcome{Retried: listener.OnOnline(ctx)}
}

// Enqueue submits a lifecycle event for processing by the Run loop.
// Fetch events should go through RoundTrip or Dispatch instead.
// Returns false if the worker has been stopped.
func (w *Worker) Enqueue(ev Event) bool {
	return w.queue.Enqueue(ev)
}

// Run processes enqueued events one at a time until ctx is cancelled or
// Stop is called.
//
// Must be called from exactly one goroutine. Failures are already recovered
// inside Dispatch; Run logs them and continues.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting", "active", w.Active())

	for {
		if ev, ok := w.queue.TryDequeue(); ok {
			out := w.Dispatch(ctx, ev)
			if out.Err != nil {
				w.logger.Debug("event recovered from failure", "event", EventKind(ev), "error", out.Err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping: context cancelled")
			w.queue.Close()
			return ctx.Err()

		case <-w.queue.Wait():
			if w.queue.Drained() {
				w.logger.Info("worker stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue; Run returns once it is drained.
func (w *Worker) Stop() {
	w.queue.Close()
}

// Wait blocks until every asynchronous cache write has finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}
