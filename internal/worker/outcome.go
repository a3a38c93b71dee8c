package worker

import (
	"net/http"

	"github.com/roach88/hydroplante/internal/model"
)

// Outcome is the result of dispatching one event.
//
// Err carries a failure the worker already recovered from: it has been
// logged and a fallback is in place (for fetches, Response is always set when
// the request was intercepted). Callers inspect Err for diagnostics only.
type Outcome struct {
	Route    model.Route
	Source   model.Source
	Response *http.Response
	Err      error

	// Install is set for install events.
	Install *InstallReport

	// Activated is the generation that became active, if any.
	Activated model.Generation

	// Pruned lists the generations deleted during activation.
	Pruned []model.Generation

	// Retried reports whether a connectivity event triggered a sync retry.
	Retried bool
}

// InstallReport summarises manifest population for one generation.
type InstallReport struct {
	Generation      model.Generation   `json:"generation"`
	Cached          []string           `json:"cached"`
	Missing         []string           `json:"missing"`
	MissingRequired []string           `json:"missing_required"`
	AlreadyActive   bool               `json:"already_active,omitempty"`
	Activated       bool               `json:"activated"`
	Pruned          []model.Generation `json:"pruned,omitempty"`
}
