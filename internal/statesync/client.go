// Package statesync pushes the plant state to a remote JSON document held
// behind a contents API (read the document and its revision, write it back
// naming that revision).
//
// Requests are meant to travel through the worker, so a network failure
// arrives as the offline payload rather than a transport error. Every
// attempt is classified and reported to the pending-sync controller.
package statesync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/roach88/hydroplante/internal/model"
	"github.com/roach88/hydroplante/internal/replay"
)

// DefaultMessage is the commit message attached to each write.
const DefaultMessage = "Update plant state"

// ErrNoState is returned by RetrySync when there is nothing to push.
var ErrNoState = errors.New("no plant state to push")

// Reporter receives the outcome of each attempt.
// Implemented by *replay.Controller.
type Reporter interface {
	Report(ctx context.Context, outcome replay.Outcome) error
}

// StateSource supplies the local state to push on retry.
type StateSource interface {
	State() (PlantState, error)
}

// document is the wire form of a contents API document.
type document struct {
	SHA      string `json:"sha,omitempty"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// writeRequest is the body of a document write.
type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// AttemptError describes a sync attempt that did not succeed.
type AttemptError struct {
	Outcome replay.Outcome
	Op      string
	Status  int
	Err     error
}

func (e *AttemptError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Outcome, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d", e.Op, e.Outcome, e.Status)
	default:
		return fmt.Sprintf("%s %s", e.Op, e.Outcome)
	}
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Client performs read-modify-write pushes of the plant state.
//
// Thread-safety: Push and RetrySync may be called concurrently; attempts
// are serialised.
type Client struct {
	http     *http.Client
	endpoint string
	token    string
	message  string
	reporter Reporter
	source   StateSource
	logger   *slog.Logger

	mu   sync.Mutex
	last *PlantState
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer credential. It must come from the environment,
// never from a file under version control.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithReporter sets where attempt outcomes are reported.
func WithReporter(r Reporter) Option {
	return func(c *Client) {
		c.reporter = r
	}
}

// WithStateSource sets where RetrySync reads the state to push.
// Without one, RetrySync re-pushes the last state given to Push.
func WithStateSource(s StateSource) Option {
	return func(c *Client) {
		c.source = s
	}
}

// WithMessage sets the commit message of each write. An empty message
// keeps DefaultMessage.
func WithMessage(msg string) Option {
	return func(c *Client) {
		if msg != "" {
			c.message = msg
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the document at endpoint. A nil httpClient
// uses http.DefaultClient; in production its transport is the worker.
func NewClient(httpClient *http.Client, endpoint string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:     httpClient,
		endpoint: endpoint,
		message:  DefaultMessage,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch reads the remote document. A missing document yields the zero state
// and an empty revision.
func (c *Client) Fetch(ctx context.Context) (PlantState, string, error) {
	return c.fetch(ctx)
}

// Push merges state into the remote document and reports the outcome.
// The returned error is nil exactly when the outcome is Succeeded.
func (c *Client) Push(ctx context.Context, state PlantState) (replay.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	saved := state
	c.last = &saved

	err := c.push(ctx, state)
	outcome := replay.Succeeded
	var attempt *AttemptError
	if errors.As(err, &attempt) {
		outcome = attempt.Outcome
	} else if err != nil {
		outcome = replay.Rejected
	}

	c.logger.Info("state sync attempt", "outcome", outcome.String())
	if c.reporter != nil {
		if rerr := c.reporter.Report(ctx, outcome); rerr != nil {
			c.logger.Warn("reporting sync outcome failed", "error", rerr)
		}
	}
	return outcome, err
}

// RetrySync implements replay.Retrier by pushing the local state again.
func (c *Client) RetrySync(ctx context.Context) error {
	var state PlantState
	switch {
	case c.source != nil:
		st, err := c.source.State()
		if err != nil {
			return fmt.Errorf("retry sync: %w", err)
		}
		state = st
	default:
		c.mu.Lock()
		last := c.last
		c.mu.Unlock()
		if last == nil {
			return fmt.Errorf("retry sync: %w", ErrNoState)
		}
		state = *last
	}

	_, err := c.Push(ctx, state)
	return err
}

func (c *Client) push(ctx context.Context, local PlantState) error {
	remote, sha, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	merged := Merge(remote, local)
	content, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	body, err := json.Marshal(writeRequest{
		Message: c.message,
		Content: base64.StdEncoding.EncodeToString(append(content, '\n')),
		SHA:     sha,
	})
	if err != nil {
		return fmt.Errorf("encode write: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, bytes.NewReader(body))
	if err != nil {
		return &AttemptError{Outcome: replay.Unreachable, Op: "write", Err: err}
	}
	defer resp.Body.Close()

	if model.IsOfflineResponse(resp) {
		return &AttemptError{Outcome: replay.Unreachable, Op: "write"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AttemptError{Outcome: replay.Rejected, Op: "write", Status: resp.StatusCode}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) fetch(ctx context.Context) (PlantState, string, error) {
	var st PlantState

	resp, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return st, "", &AttemptError{Outcome: replay.Unreachable, Op: "read", Err: err}
	}
	defer resp.Body.Close()

	if model.IsOfflineResponse(resp) {
		return st, "", &AttemptError{Outcome: replay.Unreachable, Op: "read"}
	}
	if resp.StatusCode == http.StatusNotFound {
		return st, "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return st, "", &AttemptError{Outcome: replay.Rejected, Op: "read", Status: resp.StatusCode}
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return st, "", &AttemptError{Outcome: replay.Rejected, Op: "read", Err: fmt.Errorf("decode document: %w", err)}
	}
	if doc.Content == "" {
		return st, doc.SHA, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(doc.Content, "\n", ""))
	if err != nil {
		return st, "", &AttemptError{Outcome: replay.Rejected, Op: "read", Err: fmt.Errorf("decode content: %w", err)}
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, "", &AttemptError{Outcome: replay.Rejected, Op: "read", Err: fmt.Errorf("decode state: %w", err)}
	}
	return st, doc.SHA, nil
}

func (c *Client) do(ctx context.Context, method string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}
