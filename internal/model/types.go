package model

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Generation identifies one versioned snapshot of the asset cache (e.g. "v3").
type Generation string

// RequestKey is the identity of a cached response.
// Lookups never normalise: two keys match only if both fields are equal.
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// KeyFor returns the identity of req.
func KeyFor(req *http.Request) RequestKey {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: method, URL: req.URL.String()}
}

func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Record is a response captured in the asset cache.
type Record struct {
	Key    RequestKey
	Status int
	Header http.Header
	Body   []byte
	Digest string
}

// NewRecord captures status, header and body under key.
// The header is cloned and the digest computed from body.
func NewRecord(key RequestKey, status int, header http.Header, body []byte) Record {
	if body == nil {
		body = []byte{}
	}
	return Record{
		Key:    key,
		Status: status,
		Header: header.Clone(),
		Body:   body,
		Digest: BodyDigest(body),
	}
}

// Response materialises the record as a fresh response for req.
// Each call returns an independent body reader.
func (r Record) Response(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// Route is the strategy a request is dispatched to.
type Route int

const (
	// RouteCacheable sends the request through the cache-first strategy.
	RouteCacheable Route = iota + 1
	// RouteBypass sends the request straight to the network, never caching.
	RouteBypass
)

func (r Route) String() string {
	switch r {
	case RouteCacheable:
		return "cacheable"
	case RouteBypass:
		return "bypass"
	default:
		return "none"
	}
}

// Source records where a response handed back to the caller came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourcePlaceholder Source = "placeholder"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// PendingSyncKey is the persisted flag marking a state write awaiting replay.
const PendingSyncKey = "hydroplante.pending_sync"

// Version is the worker version reported by the CLI.
const Version = "0.3.0"
