// Package webbridge drives web content on a mobile device through two
// automation realms at once: in-page JavaScript atoms run by the remote web
// inspector, and native element/coordinate commands run by the on-device
// UI automation agent. It keeps element handles consistent between the
// two, guards atom calls against dialogs and crashes, and translates web
// coordinates into native screen coordinates.
package webbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// Timing defaults for atom execution.
const (
	// DefaultAtomWaitTimeout is the hard ceiling for a single atom call.
	DefaultAtomWaitTimeout = 2 * time.Minute

	// DefaultAtomInitialWait is how long an atom may run before the alert
	// monitor gets involved. Slightly above the native dialog poll cadence.
	DefaultAtomInitialWait = 2100 * time.Millisecond

	// DefaultAlertCheckInterval is the alert monitor poll interval.
	DefaultAlertCheckInterval = 500 * time.Millisecond
)

// Options configures a Bridge.
type Options struct {
	// PlatformVersion of the device OS, e.g. "17.4". Drives version
	// dependent chrome geometry.
	PlatformVersion string

	// AtomWaitTimeout overrides DefaultAtomWaitTimeout when > 0.
	AtomWaitTimeout time.Duration

	// ImplicitWait is the initial implicit wait for element lookups.
	ImplicitWait time.Duration

	// ElementCacheSize bounds the element cache. 0 means the default.
	ElementCacheSize int

	// Settings is the runtime settings store. A zero-valued store is used when nil.
	Settings *config.Settings
}

// Bridge coordinates a remote debugger and a native proxy for one session.
type Bridge struct {
	debugger Debugger
	native   NativeProxy
	settings *config.Settings
	elements *ElementCache
	monitor  *AlertMonitor
	probe    *metricsProbe

	platformVersion       string
	atomWaitTimeout       time.Duration
	atomTimeoutConfigured bool

	// Tunable for tests
	atomInitialWait time.Duration
	webviewRetries  int
	webviewInterval time.Duration

	mu           sync.Mutex
	frames       []string
	implicitWait time.Duration
	calibration  *CalibrationData
	async        *asyncResolver
}

// New creates a bridge. dialogs may be nil when no native dialog check is
// available; atom calls then never see alert or crash interruptions.
func New(debugger Debugger, native NativeProxy, dialogs DialogDetector, opts Options) (*Bridge, error) {
	if debugger == nil {
		return nil, fmt.Errorf("a debugger is required")
	}

	elements, err := NewElementCache(opts.ElementCacheSize)
	if err != nil {
		return nil, err
	}

	settings := opts.Settings
	if settings == nil {
		settings = config.NewSettings(config.SettingsValues{})
	}

	timeout := DefaultAtomWaitTimeout
	if opts.AtomWaitTimeout > 0 {
		timeout = opts.AtomWaitTimeout
	}

	b := &Bridge{
		debugger:              debugger,
		native:                native,
		settings:              settings,
		elements:              elements,
		monitor:               NewAlertMonitor(dialogs, DefaultAlertCheckInterval),
		platformVersion:       opts.PlatformVersion,
		atomWaitTimeout:       timeout,
		atomTimeoutConfigured: opts.AtomWaitTimeout > 0,
		atomInitialWait:       DefaultAtomInitialWait,
		webviewRetries:        5,
		webviewInterval:       100 * time.Millisecond,
		implicitWait:          opts.ImplicitWait,
	}
	b.probe = newMetricsProbe(b)

	logger.Info("Web bridge created (platform=%s, atomWaitTimeout=%s, cacheSize=%d)",
		opts.PlatformVersion, timeout, opts.ElementCacheSize)
	return b, nil
}

// Elements returns the session's element cache.
func (b *Bridge) Elements() *ElementCache {
	return b.elements
}

// Monitor returns the session's alert monitor.
func (b *Bridge) Monitor() *AlertMonitor {
	return b.monitor
}

// Settings returns the runtime settings store.
func (b *Bridge) Settings() *config.Settings {
	return b.settings
}

// Frames returns the current frame chain, innermost first.
func (b *Bridge) Frames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

func (b *Bridge) enterFrame(window string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append([]string{window}, b.frames...)
}

func (b *Bridge) resetFrames() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

// ImplicitWait returns the implicit wait applied to element lookups.
func (b *Bridge) ImplicitWait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.implicitWait
}

// SetImplicitWait changes the implicit wait applied to element lookups.
func (b *Bridge) SetImplicitWait(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d < 0 {
		d = 0
	}
	b.implicitWait = d
}

// Calibration returns the stored calibration result, if any.
func (b *Bridge) Calibration() *CalibrationData {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calibration == nil {
		return nil
	}
	c := *b.calibration
	return &c
}

// SetCalibration stores (or with nil, clears) a calibration result.
func (b *Bridge) SetCalibration(c *CalibrationData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c == nil {
		b.calibration = nil
		return
	}
	copied := *c
	b.calibration = &copied
}

// Close stops the alert monitor. Pending atom calls run to completion or timeout.
func (b *Bridge) Close() {
	b.monitor.Close()
}
