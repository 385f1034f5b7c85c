// File: internal/activity/monitor.go
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the quiet window that must pass without a call or
// node insertion before the page counts as settled.
const DefaultDebounce = 300 * time.Millisecond

// Hooks receives notifications from the host page. Callbacks may arrive on
// any goroutine.
type Hooks struct {
	// CallStarted fires when an asynchronous network call begins.
	CallStarted func()
	// CallEnded fires when a call started earlier finishes or fails.
	CallEnded func()
	// NodesAdded fires for a tree mutation that inserted descendant nodes.
	NodesAdded func()
}

// Source is the interception seam exposed by the host. A source holds at
// most one subscription: subscribing again detaches the previous one.
// The returned unsubscribe function is idempotent.
type Source interface {
	Subscribe(ctx context.Context, hooks Hooks) (unsubscribe func(), err error)
}

// Monitor tracks in-flight calls and tree insertions and answers "has the
// page settled" with a debounce window. It is best effort: a settled page
// only means nothing observable happened for the window.
type Monitor struct {
	src      Source
	logger   *zap.Logger
	debounce time.Duration

	mu          sync.Mutex
	running     bool
	epoch       uint64
	inflight    int
	gen         uint64
	timer       *time.Timer
	waiter      *waiter
	unsubscribe func()
}

// waiter is a pending WaitForQuiescence call. settled is written before done
// is closed.
type waiter struct {
	done    chan struct{}
	settled bool
}

func (w *waiter) release(settled bool) {
	w.settled = settled
	close(w.done)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce overrides the quiet window.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// NewMonitor creates a stopped monitor over src.
func NewMonitor(src Source, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		src:      src,
		logger:   logger.Named("activity"),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the source. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	unsubscribe, err := m.src.Subscribe(ctx, Hooks{
		CallStarted: func() { m.onCall(epoch, +1) },
		CallEnded:   func() { m.onCall(epoch, -1) },
		NodesAdded:  func() { m.onMutation(epoch) },
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to page activity: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// Stopped while subscribing.
		unsubscribe()
		return nil
	}
	m.running = true
	m.unsubscribe = unsubscribe
	m.logger.Debug("Activity monitor started.", zap.Duration("debounce", m.debounce))
	return nil
}

// Stop detaches from the source and resets all state. A pending waiter is
// released as not settled. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.epoch++
	unsubscribe := m.unsubscribe
	wasRunning := m.running
	m.running = false
	m.unsubscribe = nil
	m.inflight = 0
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.waiter != nil {
		m.waiter.release(false)
		m.waiter = nil
	}
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if wasRunning {
		m.logger.Debug("Activity monitor stopped.")
	}
}

// Running reports whether the monitor is subscribed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// InFlight returns the number of outstanding calls.
func (m *Monitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// WaitForQuiescence blocks until no call is in flight and nothing changed
// for the debounce window, or until budget elapses or ctx ends. It reports
// whether the page settled. A timeout is not an error.
//
// Only one waiter is tracked. A newer call takes over the idle signal and
// the older one returns at its own budget.
func (m *Monitor) WaitForQuiescence(ctx context.Context, budget time.Duration) bool {
	w := &waiter{done: make(chan struct{})}

	m.mu.Lock()
	m.waiter = w
	m.armLocked()
	m.mu.Unlock()

	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	select {
	case <-w.done:
		return w.settled
	case <-deadline.C:
		m.mu.Lock()
		inflight := m.inflight
		if m.waiter == w {
			m.waiter = nil
		}
		m.mu.Unlock()
		m.logger.Debug("Quiescence budget elapsed, continuing.",
			zap.Duration("budget", budget), zap.Int("in_flight", inflight))
		return false
	case <-ctx.Done():
		m.mu.Lock()
		if m.waiter == w {
			m.waiter = nil
		}
		m.mu.Unlock()
		return false
	}
}

func (m *Monitor) onCall(epoch uint64, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.inflight += delta
	if m.inflight < 0 {
		// An end whose start we never saw, e.g. a call begun before Start.
		m.inflight = 0
	}
	m.armLocked()
}

func (m *Monitor) onMutation(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.armLocked()
}

// armLocked restarts the debounce window. Callers hold mu.
func (m *Monitor) armLocked() {
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() { m.fire(gen) })
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.inflight > 0 || m.waiter == nil {
		return
	}
	m.waiter.release(true)
	m.waiter = nil
}
