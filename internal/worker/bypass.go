package worker

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/roach88/hydroplante/internal/model"
)

// bypass forwards an API request to the network unmodified. The cache store
// is never consulted. A network failure becomes the JSON offline payload so
// the caller can tell it apart from a genuine API error.
func (w *Worker) bypass(_ context.Context, req *http.Request, log *slog.Logger) Outcome {
	out := Outcome{Route: model.RouteBypass}

	resp, err := w.network.RoundTrip(req)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		log.Info("api unreachable, serving offline payload", "error", err)
		out.Source = model.SourceOffline
		out.Response = offlineResponse(req)
		out.Err = &Failure{Code: CodeNetworkUnreachable, Op: "fetch", Key: model.KeyFor(req), Err: err}
		return out
	}

	log.Debug("api response", "status", resp.StatusCode)
	out.Source = model.SourceNetwork
	out.Response = resp
	return out
}
