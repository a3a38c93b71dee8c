package worker

import (
	"net/http"

	"github.com/roach88/hydroplante/internal/model"
)

// Event is an input to the worker. The set of events is closed.
type Event interface {
	eventKind() string
}

// InstallEvent creates a generation and populates it from the manifest.
type InstallEvent struct {
	Generation model.Generation
	Manifest   model.Manifest
}

// ActivateEvent promotes the waiting generation, pruning all others.
type ActivateEvent struct{}

// FetchEvent is an intercepted request.
type FetchEvent struct {
	Request *http.Request
}

// MessageEvent is a message from a controlling page or operator.
type MessageEvent struct {
	Message Message
}

// ConnectivityEvent reports a connectivity edge from the host environment.
type ConnectivityEvent struct {
	Online bool
}

func (InstallEvent) eventKind() string      { return "install" }
func (ActivateEvent) eventKind() string     { return "activate" }
func (FetchEvent) eventKind() string        { return "fetch" }
func (MessageEvent) eventKind() string      { return "message" }
func (ConnectivityEvent) eventKind() string { return "connectivity" }

// EventKind returns a short name for ev, for logs and traces.
func EventKind(ev Event) string {
	if ev == nil {
		return "none"
	}
	return ev.eventKind()
}

// MessageType discriminates messages.
type MessageType string

// MessageSkipWaiting asks the worker to activate the waiting generation now
// instead of waiting for the next activation. Receiving it twice is harmless.
const MessageSkipWaiting MessageType = "SKIP_WAITING"

// Message is a discriminated message addressed to the worker.
type Message struct {
	Type MessageType `json:"type"`
}
