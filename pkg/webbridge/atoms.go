package webbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// pendingAtomCall is an in-flight atom execution.
type pendingAtomCall struct {
	atom    string
	args    []interface{}
	frames  []string
	started time.Time
}

type atomResult struct {
	value interface{}
	err   error
}

// ExecuteAtom runs a named atom in the current frame chain and waits for
// its result, watching for dialogs and crashes while it runs.
func (b *Bridge) ExecuteAtom(ctx context.Context, atom string, args []interface{}) (interface{}, error) {
	return b.ExecuteAtomInFrames(ctx, atom, args, b.Frames())
}

// ExecuteAtomInFrames runs a named atom in an explicit frame chain. An
// empty chain targets the top-level document.
func (b *Bridge) ExecuteAtomInFrames(ctx context.Context, atom string, args []interface{}, frames []string) (interface{}, error) {
	call := &pendingAtomCall{atom: atom, args: args, frames: frames, started: time.Now()}
	return b.waitForAtom(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.debugger.ExecuteAtom(ctx, atom, args, frames)
	})
}

// ExecuteAtomAsync dispatches an asynchronous atom and waits until its
// result is delivered through ReceiveAsyncResponse.
func (b *Bridge) ExecuteAtomAsync(ctx context.Context, atom string, args []interface{}) (interface{}, error) {
	frames := b.Frames()
	call := &pendingAtomCall{atom: atom, args: args, frames: frames, started: time.Now()}

	resolver := b.parkAsyncResolver()
	defer b.clearAsyncResolver(resolver)

	if err := b.debugger.ExecuteAtomAsync(ctx, atom, args, frames); err != nil {
		return nil, err
	}
	return b.waitForAtom(ctx, call, resolver.wait)
}

// waitForAtom races exec against the hard timeout, and, once the initial
// grace period has passed, against alert and crash interruptions.
func (b *Bridge) waitForAtom(ctx context.Context, call *pendingAtomCall, exec func(context.Context) (interface{}, error)) (interface{}, error) {
	hardCtx, cancel := context.WithTimeout(ctx, b.atomWaitTimeout)
	defer cancel()

	done := make(chan atomResult, 1)
	go func() {
		v, err := exec(hardCtx)
		done <- atomResult{value: v, err: err}
	}()

	grace := time.NewTimer(b.atomInitialWait)
	defer grace.Stop()

	select {
	case res := <-done:
		return b.settleAtom(ctx, hardCtx, call, res)
	case <-hardCtx.Done():
		return nil, b.abortAtom(ctx, call)
	case <-grace.C:
	}

	events, release := b.monitor.Subscribe()
	defer release()
	logger.Debug("Atom '%s' still running after %s, watching for dialogs", call.atom, b.atomInitialWait)

	select {
	case ev := <-events:
		return nil, b.interrupted(call, ev)
	case res := <-done:
		// An interruption delivered at the same time still wins.
		select {
		case ev := <-events:
			return nil, b.interrupted(call, ev)
		default:
		}
		return b.settleAtom(ctx, hardCtx, call, res)
	case <-hardCtx.Done():
		return nil, b.abortAtom(ctx, call)
	}
}

func (b *Bridge) settleAtom(ctx, hardCtx context.Context, call *pendingAtomCall, res atomResult) (interface{}, error) {
	if res.err == nil {
		return res.value, nil
	}
	logger.Debug("Error received while executing atom '%s': %v", call.atom, res.err)
	if errors.Is(res.err, context.DeadlineExceeded) && hardCtx.Err() != nil {
		return nil, b.abortAtom(ctx, call)
	}
	return nil, res.err
}

func (b *Bridge) interrupted(call *pendingAtomCall, ev Interruption) error {
	logger.Warn("Atom '%s' interrupted by %s after %dms", call.atom, ev.Kind, time.Since(call.started).Milliseconds())
	return ev.Error()
}

// abortAtom returns the caller's own cancellation as-is, or a timeout error
// with diagnostics when the hard ceiling was hit.
func (b *Bridge) abortAtom(ctx context.Context, call *pendingAtomCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.atomTimeoutError(call)
}

func (b *Bridge) atomTimeoutError(call *pendingAtomCall) error {
	elapsed := time.Since(call.started).Milliseconds()
	msg := fmt.Sprintf("The remote web inspector did not respond to atom '%s' after %dms. ", call.atom, elapsed)

	blocked, known := b.javascriptBlocked()
	switch {
	case known && blocked:
		msg += "It appears that JavaScript execution is blocked, which could be caused by either " +
			"a modal dialog obstructing the current page, or a JavaScript routine monopolizing the event loop."
	case known:
		msg += "However, the page still responds to JavaScript commands, " +
			"which suggests that the atom is taking too long to execute."
	default:
		msg += "Whether JavaScript execution is blocked could not be determined."
	}
	if !b.atomTimeoutConfigured {
		msg += " You may also consider adjusting the timeout with the 'webviewAtomWaitTimeout' setting."
	}

	return core.ErrTimeout.WithMessage(msg).WithDetails(map[string]interface{}{
		"atom":              call.atom,
		"frames":            call.frames,
		"elapsedMs":         elapsed,
		"javascriptBlocked": blocked,
	})
}

func (b *Bridge) javascriptBlocked() (blocked, known bool) {
	checker, ok := b.debugger.(JavascriptBlockedChecker)
	if !ok {
		return false, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blocked, err := checker.IsJavascriptExecutionBlocked(ctx)
	if err != nil {
		logger.Debug("Could not check whether JavaScript is blocked: %v", err)
		return false, false
	}
	return blocked, true
}

// asyncResolver is the parked resolve/reject pair of an asynchronous atom.
type asyncResolver struct {
	result chan atomResult
	once   sync.Once
}

func (r *asyncResolver) settle(res atomResult) {
	r.once.Do(func() { r.result <- res })
}

func (r *asyncResolver) wait(ctx context.Context) (interface{}, error) {
	select {
	case res := <-r.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) parkAsyncResolver() *asyncResolver {
	r := &asyncResolver{result: make(chan atomResult, 1)}
	b.mu.Lock()
	b.async = r
	b.mu.Unlock()
	return r
}

func (b *Bridge) clearAsyncResolver(r *asyncResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.async == r {
		b.async = nil
	}
}

// ReceiveAsyncResponse settles the pending asynchronous atom. status is the
// legacy JSONWP status code (nil for W3C responses). Responses that arrive
// with nothing pending are logged and dropped.
func (b *Bridge) ReceiveAsyncResponse(status *int, value interface{}) {
	logger.Debug("Received async response: %v", value)

	b.mu.Lock()
	r := b.async
	b.mu.Unlock()
	if r == nil {
		logger.Warn("Received async response when we were not expecting one! Response was: %v", value)
		return
	}

	if status != nil && *status != 0 {
		msg := ""
		if m, ok := value.(map[string]interface{}); ok {
			msg, _ = m["message"].(string)
		}
		r.settle(atomResult{err: errorFromStatus(*status, msg)})
		return
	}
	if m, ok := value.(map[string]interface{}); ok && status == nil {
		if name, ok := m["error"].(string); ok {
			msg, _ := m["message"].(string)
			r.settle(atomResult{err: core.ErrorFromW3C(name, msg)})
			return
		}
	}
	r.settle(atomResult{value: value})
}

// errorFromStatus maps a legacy JSONWP status code to a typed error.
func errorFromStatus(status int, message string) error {
	names := map[int]string{
		7:  "no such element",
		8:  "no such frame",
		10: "stale element reference",
		12: "invalid element state",
		21: "timeout",
		26: "unexpected alert open",
		28: "script timeout",
	}
	name, ok := names[status]
	if !ok {
		name = fmt.Sprintf("status %d", status)
	}
	return core.ErrorFromW3C(name, message)
}
