package webbridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
)

// slowAtom resolves with v after d, or fails when ctx ends first.
func slowAtom(d time.Duration, v interface{}) atomFunc {
	return func(ctx context.Context, _ []interface{}, _ []string) (interface{}, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestExecuteAtomFastPathSkipsMonitor(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", slowAtom(10*time.Millisecond, "hello"))
	dialogs := &fakeDialogs{}
	b := newTestBridge(t, dbg, nil, dialogs, config.SettingsValues{})
	b.atomInitialWait = 500 * time.Millisecond

	got, err := b.ExecuteAtom(context.Background(), "get_text", nil)
	if err != nil {
		t.Fatalf("ExecuteAtom() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("ExecuteAtom() = %v, want hello", got)
	}
	if b.monitor.Running() || b.monitor.Waiters() != 0 {
		t.Error("monitor should not be engaged by a fast atom")
	}
	if dialogs.count() != 0 || b.monitor.Polls() != 0 {
		t.Errorf("dialog checks = %d, want 0", dialogs.count())
	}
}

func TestExecuteAtomSlowSuccess(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_size", slowAtom(80*time.Millisecond, map[string]interface{}{"width": 1.0}))
	dialogs := &fakeDialogs{}
	b := newTestBridge(t, dbg, nil, dialogs, config.SettingsValues{})
	b.atomInitialWait = 10 * time.Millisecond

	got, err := b.ExecuteAtom(context.Background(), "get_size", nil)
	if err != nil {
		t.Fatalf("ExecuteAtom() error = %v", err)
	}
	if m, ok := got.(map[string]interface{}); !ok || m["width"] != 1.0 {
		t.Errorf("ExecuteAtom() = %v", got)
	}
	if dialogs.count() == 0 {
		t.Error("expected the monitor to poll for dialogs")
	}
	if b.monitor.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0 after settling", b.monitor.Waiters())
	}
}

func TestExecuteAtomAlertWinsOverLateSuccess(t *testing.T) {
	dbg := newFakeDebugger()
	done := make(chan struct{})
	dbg.onAtom("click", func(ctx context.Context, _ []interface{}, _ []string) (interface{}, error) {
		defer close(done)
		time.Sleep(150 * time.Millisecond)
		return true, nil
	})
	dialogs := &fakeDialogs{}
	dialogs.set(true, nil)
	b := newTestBridge(t, dbg, nil, dialogs, config.SettingsValues{})
	b.atomInitialWait = 10 * time.Millisecond

	_, err := b.ExecuteAtom(context.Background(), "click", nil)
	if !errors.Is(err, core.ErrUnexpectedAlertOpen) {
		t.Fatalf("ExecuteAtom() error = %v, want unexpected alert open", err)
	}
	<-done
	if b.monitor.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", b.monitor.Waiters())
	}
}

func TestExecuteAtomCrash(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", slowAtom(time.Second, "late"))
	dialogs := &fakeDialogs{}
	dialogs.set(false, core.ErrInvalidElementState.WithMessage("app crashed"))
	b := newTestBridge(t, dbg, nil, dialogs, config.SettingsValues{})
	b.atomInitialWait = 10 * time.Millisecond

	_, err := b.ExecuteAtom(context.Background(), "get_text", nil)
	if !errors.Is(err, core.ErrInvalidElementState) {
		t.Fatalf("ExecuteAtom() error = %v, want invalid element state", err)
	}
	if !strings.Contains(err.Error(), "app crashed") {
		t.Errorf("error = %q, want the crash message", err.Error())
	}
}

func TestExecuteAtomConcurrentWaitersShareMonitor(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", slowAtom(time.Second, "late"))
	dialogs := &fakeDialogs{}
	b := newTestBridge(t, dbg, nil, dialogs, config.SettingsValues{})
	b.atomInitialWait = 10 * time.Millisecond

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := b.ExecuteAtom(context.Background(), "get_text", nil)
			errs <- err
		}()
	}

	if !waitFor(t, time.Second, func() bool { return b.monitor.Waiters() == 3 }) {
		t.Fatalf("Waiters() = %d, want 3", b.monitor.Waiters())
	}
	dialogs.set(true, nil)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, core.ErrUnexpectedAlertOpen) {
				t.Errorf("waiter error = %v, want unexpected alert open", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not released by the alert")
		}
	}
	if !waitFor(t, time.Second, func() bool { return !b.monitor.Running() }) {
		t.Error("monitor kept running after all waiters left")
	}
}

func TestExecuteAtomPropagatesErrors(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", func(context.Context, []interface{}, []string) (interface{}, error) {
		return nil, errBoom
	})
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})

	_, err := b.ExecuteAtom(context.Background(), "get_text", nil)
	if !errors.Is(err, errBoom) {
		t.Errorf("ExecuteAtom() error = %v, want %v", err, errBoom)
	}
}

func TestExecuteAtomTimeout(t *testing.T) {
	tests := []struct {
		name       string
		debugger   func(*fakeDebugger) Debugger
		configured bool
		contains   []string
		absent     []string
	}{
		{
			name:     "no diagnostics, not configured",
			debugger: func(d *fakeDebugger) Debugger { return d },
			contains: []string{"did not respond to atom 'get_text'", "could not be determined", "webviewAtomWaitTimeout"},
		},
		{
			name:     "javascript blocked",
			debugger: func(d *fakeDebugger) Debugger { return &blockedDebugger{fakeDebugger: d, blocked: true} },
			contains: []string{"JavaScript execution is blocked"},
		},
		{
			name:       "javascript responsive, configured",
			debugger:   func(d *fakeDebugger) Debugger { return &blockedDebugger{fakeDebugger: d} },
			configured: true,
			contains:   []string{"still responds to JavaScript"},
			absent:     []string{"webviewAtomWaitTimeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbg := newFakeDebugger()
			dbg.onAtom("get_text", func(ctx context.Context, _ []interface{}, _ []string) (interface{}, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			b := newTestBridge(t, tt.debugger(dbg), nil, &fakeDialogs{}, config.SettingsValues{})
			b.atomInitialWait = 10 * time.Millisecond
			b.atomWaitTimeout = 60 * time.Millisecond
			b.atomTimeoutConfigured = tt.configured

			_, err := b.ExecuteAtom(context.Background(), "get_text", nil)
			if !errors.Is(err, core.ErrTimeout) {
				t.Fatalf("ExecuteAtom() error = %v, want timeout", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q does not contain %q", err.Error(), s)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(err.Error(), s) {
					t.Errorf("error %q should not contain %q", err.Error(), s)
				}
			}

			var execErr *core.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatal("expected an ExecutionError")
			}
			if ms, ok := execErr.Details["elapsedMs"].(int64); !ok || ms < 60 {
				t.Errorf("elapsedMs = %v, want >= 60", execErr.Details["elapsedMs"])
			}
		})
	}
}

func TestExecuteAtomTimeoutBeforeGrace(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", func(ctx context.Context, _ []interface{}, _ []string) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b := newTestBridge(t, dbg, nil, &fakeDialogs{}, config.SettingsValues{})
	b.atomWaitTimeout = 20 * time.Millisecond

	_, err := b.ExecuteAtom(context.Background(), "get_text", nil)
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("ExecuteAtom() error = %v, want timeout", err)
	}
}

func TestExecuteAtomCallerCancel(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onAtom("get_text", slowAtom(time.Second, "late"))
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.ExecuteAtom(ctx, "get_text", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ExecuteAtom() error = %v, want context canceled", err)
	}
}

func TestExecuteAtomUsesFrames(t *testing.T) {
	dbg := newFakeDebugger()
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
	b.enterFrame("win-1")

	if _, err := b.ExecuteAtom(context.Background(), "get_text", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ExecuteAtomInFrames(context.Background(), "get_text", nil, nil); err != nil {
		t.Fatal(err)
	}

	if len(dbg.frames) != 2 {
		t.Fatalf("calls = %d, want 2", len(dbg.frames))
	}
	if len(dbg.frames[0]) != 1 || dbg.frames[0][0] != "win-1" {
		t.Errorf("frames = %v, want [win-1]", dbg.frames[0])
	}
	if len(dbg.frames[1]) != 0 {
		t.Errorf("frames = %v, want default frame", dbg.frames[1])
	}
}

func TestExecuteAtomAsync(t *testing.T) {
	dbg := newFakeDebugger()
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
	dbg.onAsync = func(atom string, args []interface{}) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			b.ReceiveAsyncResponse(nil, "async result")
		}()
	}

	got, err := b.ExecuteAtomAsync(context.Background(), "execute_async_script", []interface{}{"cb()", []interface{}{}})
	if err != nil {
		t.Fatalf("ExecuteAtomAsync() error = %v", err)
	}
	if got != "async result" {
		t.Errorf("ExecuteAtomAsync() = %v", got)
	}

	b.mu.Lock()
	pending := b.async
	b.mu.Unlock()
	if pending != nil {
		t.Error("resolver should be cleared once settled")
	}
}

func TestExecuteAtomAsyncErrors(t *testing.T) {
	status7 := 7
	status0 := 0
	tests := []struct {
		name   string
		status *int
		value  interface{}
		want   error
	}{
		{"w3c error", nil, map[string]interface{}{"error": "no such element", "message": "gone"}, core.ErrElementNotFound},
		{"w3c stale", nil, map[string]interface{}{"error": "stale element reference"}, core.ErrStaleElementReference},
		{"legacy status", &status7, map[string]interface{}{"message": "missing"}, core.ErrElementNotFound},
		{"status zero resolves", &status0, map[string]interface{}{"error": "ignored"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbg := newFakeDebugger()
			b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
			dbg.onAsync = func(string, []interface{}) {
				b.ReceiveAsyncResponse(tt.status, tt.value)
			}

			_, err := b.ExecuteAtomAsync(context.Background(), "execute_async_script", nil)
			if tt.want == nil {
				if err != nil {
					t.Errorf("ExecuteAtomAsync() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ExecuteAtomAsync() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReceiveAsyncResponseWithoutPending(t *testing.T) {
	b := newTestBridge(t, newFakeDebugger(), nil, nil, config.SettingsValues{})
	b.ReceiveAsyncResponse(nil, "unexpected") // dropped, must not block or panic
}
