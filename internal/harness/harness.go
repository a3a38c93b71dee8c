package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/replay"
	"github.com/roach88/hydroplante/internal/statesync"
	"github.com/roach88/hydroplante/internal/store"
	"github.com/roach88/hydroplante/internal/testutil"
	"github.com/roach88/hydroplante/internal/worker"
)

// Fixed endpoints of every scenario.
const (
	DefaultOrigin    = "https://app.test"
	APIHost          = "api.github.com"
	SyncEndpoint     = "https://api.github.com/repos/hydroplante/garden/contents/plant_state.json"
	DefaultRequestID = "test-request"
)

// Harness is the scenario execution environment: one worker with its
// store, pending-sync controller and sync client over an in-memory network.
//
// A restart step replaces the worker, controller and client while keeping
// the store, network and local plant state, as a process restart would.
type Harness struct {
	scenario *Scenario
	origin   *url.URL
	store    *store.Store
	network  *testutil.Network
	remote   *testutil.ContentsDocument
	local    *localState
	rec      *recorder
	logger   *slog.Logger

	worker *worker.Worker
	replay *replay.Controller
	client *statesync.Client
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create fresh in-memory database and network
//  2. Boot the worker, controller and sync client
//  3. Replay the steps, checking expect clauses
//  4. Evaluate assertions against the trace and store
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rawOrigin := scenario.Origin
	if rawOrigin == "" {
		rawOrigin = DefaultOrigin
	}
	origin, err := model.ParseOrigin(rawOrigin)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		origin:   origin,
		store:    st,
		network:  testutil.NewNetwork(),
		remote:   testutil.NewContentsDocument(),
		local:    &localState{},
		rec:      &recorder{result: NewResult()},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	for _, r := range scenario.Network {
		h.serve(r)
	}
	if scenario.Remote != "" {
		h.remote.Seed([]byte(scenario.Remote))
	}
	h.network.Handle(SyncEndpoint, h.remote.Handler)

	ctx := context.Background()
	if err := h.boot(ctx, ""); err != nil {
		return nil, err
	}

	for i := range scenario.Steps {
		if err := h.step(ctx, i, &scenario.Steps[i]); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	h.worker.Wait()
	h.replay.Wait()

	result := h.rec.result
	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// boot creates the worker, controller and client. A non-empty resume
// generation is adopted as active without repopulating it.
func (h *Harness) boot(ctx context.Context, resume model.Generation) error {
	requestID := h.scenario.RequestID
	if requestID == "" {
		requestID = DefaultRequestID
	}

	ctrl := replay.New(h.store, replay.WithLogger(h.logger))
	w := worker.New(h.store, h.network,
		worker.Config{Origin: h.origin, APIHost: APIHost},
		worker.WithLogger(h.logger),
		worker.WithIDGenerator(testutil.NewFixedIDGenerator(requestID)),
		worker.WithObserver(h.rec.observe),
		worker.WithSkipWaiting(h.scenario.SkipWaiting),
		worker.WithListener(awaitingListener{ctrl}),
	)
	client := statesync.NewClient(&http.Client{Transport: w}, SyncEndpoint,
		statesync.WithToken("test-token"),
		statesync.WithReporter(tracingReporter{h}),
		statesync.WithStateSource(h.local),
		statesync.WithLogger(h.logger),
	)
	ctrl.SetRetrier(client)

	if resume != "" {
		if err := w.Resume(ctx, resume); err != nil {
			return err
		}
	}
	if _, err := ctrl.Load(ctx); err != nil {
		return fmt.Errorf("load pending sync: %w", err)
	}

	h.worker, h.replay, h.client = w, ctrl, client
	return nil
}

// step runs one scenario step and checks its expect clause.
func (h *Harness) step(ctx context.Context, i int, st *Step) error {
	chk := &checker{result: h.rec.result, prefix: fmt.Sprintf("steps[%d] (%s)", i, strings.Join(st.kinds(), ""))}
	exp := st.Expect
	if exp == nil {
		exp = &ExpectClause{}
	}

	switch {
	case st.Install != nil:
		out := h.worker.Dispatch(ctx, worker.InstallEvent{
			Generation: st.Install.Generation,
			Manifest:   st.Install.Manifest,
		})
		chk.str("activated", string(out.Activated), exp.Activated)

	case st.Activate:
		out := h.worker.Dispatch(ctx, worker.ActivateEvent{})
		chk.str("activated", string(out.Activated), exp.Activated)

	case st.Message != "":
		out := h.worker.Dispatch(ctx, worker.MessageEvent{Message: worker.Message{Type: worker.MessageType(st.Message)}})
		chk.str("activated", string(out.Activated), exp.Activated)

	case st.Fetch != nil:
		method := st.Fetch.Method
		if method == "" {
			method = http.MethodGet
		}
		req, err := http.NewRequestWithContext(ctx, method, h.resolve(st.Fetch.URL), nil)
		if err != nil {
			return err
		}
		out := h.worker.Dispatch(ctx, worker.FetchEvent{Request: req})
		body := testutil.ReadBody(out.Response)
		h.worker.Wait()

		chk.str("source", string(out.Source), exp.Source)
		if out.Response != nil {
			chk.int("status", out.Response.StatusCode, exp.Status)
		}
		if exp.Body != nil {
			chk.str("body", body, *exp.Body)
		}

	case st.Connectivity != "":
		out := h.worker.Dispatch(ctx, worker.ConnectivityEvent{Online: st.Connectivity == "online"})
		if exp.Retried != nil {
			chk.bool("retried", out.Retried, *exp.Retried)
		}

	case st.Network != nil:
		h.applyNetwork(st.Network)

	case st.Push != nil:
		state, err := parseState(st.Push)
		if err != nil {
			return err
		}
		h.local.set(state)
		outcome, _ := h.client.Push(ctx, state)
		h.worker.Wait()
		chk.str("outcome", outcome.String(), exp.Outcome)

	case st.Restart:
		h.worker.Wait()
		h.replay.Wait()
		if err := h.boot(ctx, h.worker.Active()); err != nil {
			return err
		}
	}

	if exp.Pending != nil {
		chk.bool("pending", h.replay.State() == replay.PendingRetry, *exp.Pending)
	}
	return nil
}

func (h *Harness) applyNetwork(n *NetworkStep) {
	if n.Offline != nil {
		h.network.SetOffline(*n.Offline)
	}
	for _, r := range n.Serve {
		h.serve(r)
	}
	for _, u := range n.Fail {
		h.network.Fail(h.resolve(u), nil)
	}
	if n.Reject != nil {
		h.remote.Reject(*n.Reject)
	}
}

func (h *Harness) serve(r Resource) {
	h.network.SetReply(h.resolve(r.URL), testutil.Reply{
		Status:      r.Status,
		ContentType: r.ContentType,
		Body:        r.Body,
	})
}

// resolve turns a scenario URL into the absolute form the worker sees.
func (h *Harness) resolve(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return model.ResolveURL(h.origin, raw).String()
	}
	return raw
}

func parseState(p *PushStep) (statesync.PlantState, error) {
	var st statesync.PlantState
	for _, f := range []struct {
		raw string
		dst *statesync.Timestamp
	}{
		{p.LastWatering, &st.LastWatering},
		{p.LastNotification, &st.LastNotification},
	} {
		if f.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, f.raw)
		if err != nil {
			return st, fmt.Errorf("push: %w", err)
		}
		*f.dst = statesync.At(t)
	}
	return st, nil
}

// recorder appends trace events from the worker observer and the sync
// reporter. Both may fire from background goroutines.
type recorder struct {
	mu     sync.Mutex
	seq    int64
	result *Result
}

func (r *recorder) add(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Seq = r.seq
	r.result.Trace = append(r.result.Trace, ev)
}

func (r *recorder) observe(ev worker.Event, out worker.Outcome) {
	r.add(traceEvent(ev, out))
}

// traceEvent flattens a dispatched event and its outcome.
func traceEvent(ev worker.Event, out worker.Outcome) TraceEvent {
	te := TraceEvent{
		Type:      worker.EventKind(ev),
		Activated: string(out.Activated),
		Pruned:    generationNames(out.Pruned),
		Retried:   out.Retried,
	}
	if out.Route != 0 {
		te.Route = out.Route.String()
	}
	te.Source = string(out.Source)
	if out.Response != nil {
		te.Status = out.Response.StatusCode
	}
	var f *worker.Failure
	if errors.As(out.Err, &f) {
		te.Failure = string(f.Code)
	}

	switch e := ev.(type) {
	case worker.FetchEvent:
		if e.Request != nil {
			te.Method = e.Request.Method
			te.URL = e.Request.URL.String()
		}
	case worker.InstallEvent:
		te.Generation = string(e.Generation)
		if out.Install != nil {
			te.Cached = out.Install.Cached
			te.Missing = out.Install.Missing
		}
	case worker.MessageEvent:
		te.Message = string(e.Message.Type)
	case worker.ConnectivityEvent:
		online := e.Online
		te.Online = &online
	}
	return te
}

func generationNames(gens []model.Generation) []string {
	if len(gens) == 0 {
		return nil
	}
	out := make([]string, len(gens))
	for i, g := range gens {
		out[i] = string(g)
	}
	return out
}

// awaitingListener runs each retry to completion before the connectivity
// event is traced, so retry fetches always precede it.
type awaitingListener struct {
	ctrl *replay.Controller
}

func (l awaitingListener) OnOnline(ctx context.Context) bool {
	started := l.ctrl.OnOnline(ctx)
	l.ctrl.Wait()
	return started
}

// tracingReporter forwards outcomes to the current controller and traces
// the resulting pending state.
type tracingReporter struct {
	h *Harness
}

func (r tracingReporter) Report(ctx context.Context, outcome replay.Outcome) error {
	err := r.h.replay.Report(ctx, outcome)
	pending := r.h.replay.State() == replay.PendingRetry
	r.h.rec.add(TraceEvent{Type: "sync", Outcome: outcome.String(), Pending: &pending})
	return err
}

// localState is the on-device plant state; it survives restarts.
type localState struct {
	mu sync.Mutex
	st statesync.PlantState
}

func (l *localState) set(st statesync.PlantState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st = st
}

// State implements statesync.StateSource.
func (l *localState) State() (statesync.PlantState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st, nil
}

// checker records expectation mismatches for one step.
type checker struct {
	result *Result
	prefix string
}

func (c *checker) str(field, got, want string) {
	if want != "" && got != want {
		c.result.AddError(fmt.Sprintf("%s: %s = %q, want %q", c.prefix, field, got, want))
	}
}

func (c *checker) int(field string, got, want int) {
	if want != 0 && got != want {
		c.result.AddError(fmt.Sprintf("%s: %s = %d, want %d", c.prefix, field, got, want))
	}
}

func (c *checker) bool(field string, got, want bool) {
	if got != want {
		c.result.AddError(fmt.Sprintf("%s: %s = %t, want %t", c.prefix, field, got, want))
	}
}
