package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/store"
	"github.com/roach88/hydroplante/internal/testutil"
)

const (
	testOrigin  = "https://app.test"
	testAPIHost = "api.github.com"
	testAPIURL  = "https://api.github.com/repos/owner/plant/contents/plant_state.json"
)

// testEnv bundles a worker with its store and network double.
type testEnv struct {
	worker  *Worker
	store   *store.Store
	network *testutil.Network
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return Config{Origin: origin, APIHost: testAPIHost}
}

// newTestEnv creates a worker over a fresh on-disk store.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	network := testutil.NewNetwork()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithIDGenerator(testutil.NewFixedIDGenerator("")),
	}, opts...)
	w := New(st, network, testConfig(t), opts...)
	t.Cleanup(w.Wait)

	return &testEnv{worker: w, store: st, network: network}
}

func (e *testEnv) fetch(t *testing.T, method, rawURL string) Outcome {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	require.NoError(t, err)
	return e.worker.Dispatch(context.Background(), FetchEvent{Request: req})
}

func (e *testEnv) get(t *testing.T, rawURL string) Outcome {
	t.Helper()
	return e.fetch(t, http.MethodGet, rawURL)
}

func (e *testEnv) install(t *testing.T, gen model.Generation, paths ...string) Outcome {
	t.Helper()
	m := make(model.Manifest, len(paths))
	for i, p := range paths {
		m[i] = model.ManifestEntry{Path: p}
	}
	return e.worker.Dispatch(context.Background(), InstallEvent{Generation: gen, Manifest: m})
}

func (e *testEnv) cached(t *testing.T, gen model.Generation, rawURL string) (model.Record, bool) {
	t.Helper()
	rec, ok, err := e.store.Lookup(context.Background(), gen, model.RequestKey{Method: http.MethodGet, URL: rawURL})
	require.NoError(t, err)
	return rec, ok
}

var errStoreDown = errors.New("store down")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) OpenGeneration(context.Context, model.Generation) error { return errStoreDown }

func (brokenStore) Lookup(context.Context, model.Generation, model.RequestKey) (model.Record, bool, error) {
	return model.Record{}, false, errStoreDown
}

func (brokenStore) Put(context.Context, model.Generation, model.Record) error { return errStoreDown }

func (brokenStore) PruneObsolete(context.Context, model.Generation) ([]model.Generation, error) {
	return nil, errStoreDown
}

// countingStore counts Put and Lookup calls on top of a real store.
type countingStore struct {
	CacheStore
	puts    atomic.Int32
	lookups atomic.Int32
}

func (s *countingStore) Lookup(ctx context.Context, gen model.Generation, key model.RequestKey) (model.Record, bool, error) {
	s.lookups.Add(1)
	return s.CacheStore.Lookup(ctx, gen, key)
}

func (s *countingStore) Put(ctx context.Context, gen model.Generation, rec model.Record) error {
	s.puts.Add(1)
	return s.CacheStore.Put(ctx, gen, rec)
}

// stubListener counts online notifications.
type stubListener struct {
	calls int
	retry bool
}

func (l *stubListener) OnOnline(context.Context) bool {
	l.calls++
	return l.retry
}
