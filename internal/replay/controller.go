package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/hydroplante/internal/model"
)

// State is the controller state.
type State int

const (
	// Clean means no write is pending.
	Clean State = iota
	// PendingRetry means one failed write awaits replay.
	PendingRetry
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case PendingRetry:
		return "pending_retry"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of one sync attempt as reported by the sync logic.
type Outcome int

const (
	// Succeeded means the remote write was accepted.
	Succeeded Outcome = iota + 1
	// Unreachable means the network could not be reached.
	Unreachable
	// Rejected means the API answered with a genuine error.
	// Retrying the same write cannot help, so nothing stays pending.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Unreachable:
		return "unreachable"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FlagStore persists the pending flag. Implemented by *store.Store.
type FlagStore interface {
	GetFlag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, value bool) error
}

// Retrier performs one sync attempt and reports its outcome back through
// Report. Implemented by *statesync.Client.
type Retrier interface {
	RetrySync(ctx context.Context) error
}

// ErrUnknownOutcome is returned by Report for outcomes it does not know.
var ErrUnknownOutcome = errors.New("unknown sync outcome")

// Controller is the pending-sync state machine.
//
// Thread-safety: all methods are safe for concurrent use.
type Controller struct {
	flags  FlagStore
	key    string
	logger *slog.Logger

	mu       sync.Mutex
	retrier  Retrier
	state    State
	inFlight bool
	attempts int

	retries sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithRetrier sets the sync logic asked to retry on restoration.
func WithRetrier(r Retrier) Option {
	return func(c *Controller) {
		c.retrier = r
	}
}

// WithKey overrides the persisted flag key. Default: model.PendingSyncKey.
func WithKey(key string) Option {
	return func(c *Controller) {
		c.key = key
	}
}

// New creates a controller in the Clean state. Call Load to seed the state
// from the persisted flag.
func New(flags FlagStore, opts ...Option) *Controller {
	c := &Controller{
		flags:  flags,
		key:    model.PendingSyncKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRetrier sets the retrier after construction, for wiring where the
// retrier reports back to this controller.
func (c *Controller) SetRetrier(r Retrier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retrier = r
}

// Load seeds the state from the persisted flag: PendingRetry if a previous
// session left it set, Clean otherwise. On read failure the controller
// stays Clean.
func (c *Controller) Load(ctx context.Context) (State, error) {
	state, err := c.Refresh(ctx)
	if err != nil {
		return state, err
	}
	c.logger.Info("sync state loaded", "state", state.String())
	return state, nil
}

// Refresh re-reads the persisted flag and adopts it as the current state.
// Another process sharing the store may have set or cleared the flag since
// Load. While a retry is in flight, or on read failure, the in-memory state
// is kept.
func (c *Controller) Refresh(ctx context.Context) (State, error) {
	pending, err := c.flags.GetFlag(ctx, c.key)
	if err != nil {
		return c.State(), fmt.Errorf("load pending flag: %w", err)
	}

	state := Clean
	if pending {
		state = PendingRetry
	}

	c.mu.Lock()
	if c.inFlight {
		// The running retry reports its own outcome.
		state = c.state
	}
	prev := c.state
	c.state = state
	c.mu.Unlock()

	if prev != state {
		c.logger.Debug("sync state refreshed", "from", prev.String(), "to", state.String())
	}
	return state, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many retries OnOnline has started.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Report records the outcome of a sync attempt and persists the flag.
//
// If persisting fails the in-memory transition still holds; the error is
// returned for the caller to log.
func (c *Controller) Report(ctx context.Context, outcome Outcome) error {
	var next State
	switch outcome {
	case Unreachable:
		next = PendingRetry
	case Succeeded, Rejected:
		next = Clean
	default:
		return fmt.Errorf("report: %w: %d", ErrUnknownOutcome, int(outcome))
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.logger.Info("sync state changed",
			"from", prev.String(),
			"to", next.String(),
			"outcome", outcome.String(),
		)
	} else {
		c.logger.Debug("sync outcome reported", "state", next.String(), "outcome", outcome.String())
	}

	if err := c.flags.SetFlag(ctx, c.key, next == PendingRetry); err != nil {
		c.logger.Warn("persisting pending flag failed", "error", err)
		return fmt.Errorf("report %s: %w", outcome, err)
	}
	return nil
}

// OnOnline handles a connectivity restoration. It first refreshes the state
// from the persisted flag. In PendingRetry it then starts exactly one retry
// and returns true. In Clean it does nothing. A restoration arriving while
// a retry is still running is dropped.
//
// The retry runs in the background; Wait blocks until it returns.
func (c *Controller) OnOnline(ctx context.Context) bool {
	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("online: reading pending flag failed", "error", err)
	}

	c.mu.Lock()
	switch {
	case c.state != PendingRetry:
		c.mu.Unlock()
		c.logger.Debug("online: nothing pending")
		return false
	case c.inFlight:
		c.mu.Unlock()
		c.logger.Debug("online: retry already in flight")
		return false
	case c.retrier == nil:
		c.mu.Unlock()
		c.logger.Warn("online: write pending but no retrier configured")
		return false
	}
	c.inFlight = true
	c.attempts++
	attempt := c.attempts
	retrier := c.retrier
	c.retries.Add(1)
	c.mu.Unlock()

	c.logger.Info("online: retrying pending sync", "attempt", attempt)
	go func() {
		defer c.retries.Done()
		defer func() {
			c.mu.Lock()
			c.inFlight = false
			c.mu.Unlock()
		}()
		if err := retrier.RetrySync(ctx); err != nil {
			c.logger.Warn("sync retry failed", "attempt", attempt, "error", err)
		}
	}()
	return true
}

// Wait blocks until any running retry has returned.
func (c *Controller) Wait() {
	c.retries.Wait()
}
