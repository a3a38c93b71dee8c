package testutil

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ErrOffline is returned by Network.RoundTrip while the network is offline.
var ErrOffline = errors.New("testutil: network offline")

// Reply is a canned response served by Network.
type Reply struct {
	Status      int
	ContentType string
	Body        string
}

// HandlerFunc answers one request in place of a canned reply.
type HandlerFunc func(req *http.Request) (*http.Response, error)

// Network is an in-memory http.RoundTripper standing in for the real
// network. Responses are registered per absolute URL; unknown URLs get 404.
//
// Thread-safety: all methods are safe for concurrent use.
type Network struct {
	mu       sync.Mutex
	replies  map[string]Reply
	handlers map[string]HandlerFunc
	failing  map[string]error
	offline  bool
	calls    []string
}

// NewNetwork creates an online network with no registered URLs.
func NewNetwork() *Network {
	return &Network{
		replies:  make(map[string]Reply),
		handlers: make(map[string]HandlerFunc),
		failing:  make(map[string]error),
	}
}

// Set registers a text/plain reply for url, for every method.
func (n *Network) Set(url string, status int, body string) {
	n.SetReply(url, Reply{Status: status, Body: body})
}

// SetReply registers a reply for url, for every method.
func (n *Network) SetReply(url string, r Reply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies[url] = r
}

// Handle registers a handler for url. Handlers take precedence over replies.
func (n *Network) Handle(url string, h HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[url] = h
}

// Fail makes requests for url fail with err, or ErrOffline if err is nil.
func (n *Network) Fail(url string, err error) {
	if err == nil {
		err = ErrOffline
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing[url] = err
}

// SetOffline switches the whole network off or back on.
func (n *Network) SetOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

// Calls returns every request seen so far as "METHOD URL", in order.
// Requests made while offline are included.
func (n *Network) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

// CallCount returns how many requests were made for url, any method.
func (n *Network) CallCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.calls {
		if _, u, _ := strings.Cut(c, " "); u == url {
			count++
		}
	}
	return count
}

// ResetCalls forgets recorded calls.
func (n *Network) ResetCalls() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

// RoundTrip implements http.RoundTripper.
func (n *Network) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	n.mu.Lock()
	n.calls = append(n.calls, method+" "+url)
	offline := n.offline
	failErr := n.failing[url]
	handler := n.handlers[url]
	reply, hasReply := n.replies[url]
	n.mu.Unlock()

	if req.Body != nil {
		defer req.Body.Close()
	}

	if offline {
		return nil, ErrOffline
	}
	if failErr != nil {
		return nil, failErr
	}
	if handler != nil {
		return handler(req)
	}
	if !hasReply {
		reply = Reply{Status: http.StatusNotFound, Body: "not found"}
	}
	return NewResponse(req, reply), nil
}

// NewResponse builds a response for req from r.
func NewResponse(req *http.Request, r Reply) *http.Response {
	contentType := r.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + http.StatusText(r.Status),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// ReadBody reads and closes resp.Body.
func ReadBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return string(b)
}
