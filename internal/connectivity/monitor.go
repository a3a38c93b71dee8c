// Package connectivity turns periodic reachability checks into
// edge-triggered online/offline signals.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultInterval is the check interval used when none is configured.
const DefaultInterval = 30 * time.Second

// DefaultTimeout bounds a single HTTP check.
const DefaultTimeout = 5 * time.Second

// Checker reports whether the network is currently reachable.
type Checker interface {
	Check(ctx context.Context) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) bool

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context) bool { return f(ctx) }

// HTTPChecker checks reachability with a HEAD request. Any response counts as
// reachable, whatever its status.
type HTTPChecker struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Check implements Checker.
func (p HTTPChecker) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Handler receives connectivity edges.
type Handler func(ctx context.Context, online bool)

// Monitor polls a Checker and calls its handler on every change.
//
// The first observation establishes the baseline and is always delivered,
// so a first "online" reads as a restoration. A sync left pending by an
// earlier session is then replayed at start.
type Monitor struct {
	checker  Checker
	interval time.Duration
	handler  Handler
	logger   *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithInterval sets the check interval. Non-positive values fall back to
// DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// NewMonitor creates a monitor that reports edges to handler.
func NewMonitor(checker Checker, handler Handler, opts ...Option) *Monitor {
	m := &Monitor{
		checker:  checker,
		interval: DefaultInterval,
		handler:  handler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	return m
}

// Online returns the last observed state and whether any observation has
// been made yet.
func (m *Monitor) Online() (online, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, m.known
}

// Observe runs one check and delivers an edge if the state changed.
// It reports whether an edge was delivered.
func (m *Monitor) Observe(ctx context.Context) bool {
	online := m.checker.Check(ctx)

	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if !changed {
		return false
	}
	m.logger.Debug("connectivity edge", "online", online)
	if m.handler != nil {
		m.handler(ctx, online)
	}
	return true
}

// Run observes immediately and then once per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("connectivity monitor starting", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Observe(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.Observe(ctx)
		}
	}
}

// String describes the monitor for logs.
func (m *Monitor) String() string {
	online, known := m.Online()
	if !known {
		return "connectivity(unknown)"
	}
	return fmt.Sprintf("connectivity(online=%t)", online)
}
