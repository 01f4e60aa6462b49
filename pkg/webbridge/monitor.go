package webbridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// InterruptionKind tells what interrupted a pending atom call.
type InterruptionKind int

const (
	InterruptionAlert InterruptionKind = iota + 1 // Modal dialog covers the page
	InterruptionCrash                             // Application under test is gone
)

// String returns the string representation of InterruptionKind
func (k InterruptionKind) String() string {
	switch k {
	case InterruptionAlert:
		return "alert"
	case InterruptionCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// Interruption is broadcast to every waiter when the monitor sees a dialog or a crash.
type Interruption struct {
	Kind InterruptionKind
	Err  error // Set for crashes
}

// Error returns the error a waiter rejects with.
func (i Interruption) Error() error {
	if i.Kind == InterruptionCrash && i.Err != nil {
		return i.Err
	}
	return core.ErrUnexpectedAlertOpen
}

type subscriber struct {
	ch    chan Interruption
	fired bool
}

// AlertMonitor polls for obstructing dialogs while atom calls are pending.
// It runs only while at least one subscription is held and starts at most
// one polling goroutine at a time.
type AlertMonitor struct {
	detector    DialogDetector
	interval    time.Duration
	pollTimeout time.Duration

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
	running bool
	polls   int
	closed  bool
	done    chan struct{}
}

// NewAlertMonitor creates an idle monitor. detector may be nil, in which
// case subscriptions never receive anything.
func NewAlertMonitor(detector DialogDetector, interval time.Duration) *AlertMonitor {
	if interval <= 0 {
		interval = DefaultAlertCheckInterval
	}
	return &AlertMonitor{
		detector:    detector,
		interval:    interval,
		pollTimeout: 10 * time.Second,
		subs:        make(map[uint64]*subscriber),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a waiter and starts polling if idle. The returned
// channel receives at most one Interruption. release must be called once
// the waiter settles; extra calls are no-ops.
func (m *AlertMonitor) Subscribe() (<-chan Interruption, func()) {
	sub := &subscriber{ch: make(chan Interruption, 1)}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	if !m.running && !m.closed && m.detector != nil {
		m.running = true
		go m.run()
	}
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	return sub.ch, release
}

// Waiters returns the number of outstanding subscriptions.
func (m *AlertMonitor) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Running reports whether the polling goroutine is active.
func (m *AlertMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Polls returns how many dialog checks have been made.
func (m *AlertMonitor) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// Close stops polling for good. Outstanding subscriptions stay registered
// until released but receive nothing further.
func (m *AlertMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *AlertMonitor) run() {
	logger.Debug("Alert monitor started")
	defer logger.Debug("Alert monitor stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			m.stop()
			return
		case <-timer.C:
		}

		if !m.keepRunning() {
			return
		}
		m.poll()
		timer.Reset(m.interval)
	}
}

// keepRunning flips the monitor back to idle when nobody is waiting.
// Checked and cleared under the same lock Subscribe uses to start it.
func (m *AlertMonitor) keepRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.subs) == 0 {
		m.running = false
		return false
	}
	m.polls++
	return true
}

func (m *AlertMonitor) stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *AlertMonitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), m.pollTimeout)
	defer cancel()

	showing, err := m.detector.IsDialogShowing(ctx)
	switch {
	case err != nil && errors.Is(err, core.ErrInvalidElementState):
		logger.Warn("Application state error while checking for dialogs: %v", err)
		m.broadcast(Interruption{Kind: InterruptionCrash, Err: err})
	case err != nil:
		logger.Debug("Dialog check failed: %v", err)
	case showing:
		logger.Info("Obstructing dialog detected")
		m.broadcast(Interruption{Kind: InterruptionAlert})
	}
}

// broadcast delivers ev to every subscriber registered right now that has
// not fired yet. Channels are buffered so sends never block.
func (m *AlertMonitor) broadcast(ev Interruption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.fired {
			continue
		}
		sub.fired = true
		sub.ch <- ev
	}
}
