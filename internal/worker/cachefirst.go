package worker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/hydroplante/internal/model"
)

// cacheFirst serves req from the active generation, falling back to the
// network and caching successful GET responses.
//
// Swallow policy:
//   - lookup failure: Warn, treat as a miss
//   - network failure: Debug, answer with the 503 placeholder
//   - body read failure: Warn, answer with the 503 placeholder
//   - async store failure: Warn, the caller already has its response
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, log *slog.Logger) Outcome {
	out := Outcome{Route: model.RouteCacheable}
	key := model.KeyFor(req)
	gen := w.Active()

	if gen != "" {
		rec, ok, err := w.store.Lookup(ctx, gen, key)
		switch {
		case err != nil:
			log.Warn("cache lookup failed, using network", "generation", gen, "error", err)
			out.Err = &Failure{Code: CodeStoreUnavailable, Op: "lookup", Key: key, Err: err}
		case ok:
			log.Debug("cache hit", "generation", gen)
			if req.Body != nil {
				req.Body.Close()
			}
			out.Source = model.SourceCache
			out.Response = rec.Response(req)
			return out
		}
	}

	resp, err := w.network.RoundTrip(req)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		log.Debug("network unreachable, serving placeholder", "error", err)
		out.Source = model.SourcePlaceholder
		out.Response = placeholderResponse(req)
		out.Err = &Failure{Code: CodeNetworkUnreachable, Op: "fetch", Key: key, Err: err}
		return out
	}

	out.Source = model.SourceNetwork
	if gen == "" || !cacheable(key, resp) {
		log.Debug("network response not cached", "status", resp.StatusCode, "generation", gen)
		out.Response = resp
		return out
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		log.Warn("reading network response failed, serving placeholder", "error", err)
		out.Source = model.SourcePlaceholder
		out.Response = placeholderResponse(req)
		out.Err = &Failure{Code: CodeNetworkUnreachable, Op: "read", Key: key, Err: err}
		return out
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	w.storeAsync(ctx, gen, model.NewRecord(key, resp.StatusCode, resp.Header, body), log)

	out.Response = resp
	return out
}

// cacheable reports whether a network response may enter the cache.
func cacheable(key model.RequestKey, resp *http.Response) bool {
	return key.Method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// storeAsync writes rec to gen in the background. The write outlives the
// request context; Wait blocks until it lands.
func (w *Worker) storeAsync(ctx context.Context, gen model.Generation, rec model.Record, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if err := w.store.Put(ctx, gen, rec); err != nil {
			log.Warn("cache store failed", "generation", gen, "error", err)
			return
		}
		log.Debug("cached network response", "generation", gen, "digest", rec.Digest)
	}()
}
