package jsengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// ExecuteAtom calls atoms[atom](...args). The frame chain is exposed to the
// atom as this.frames.
func (e *Engine) ExecuteAtom(ctx context.Context, atom string, args []interface{}, frames []string) (interface{}, error) {
	return e.run(ctx, func() (goja.Value, error) {
		fn, err := e.atom(atom)
		if err != nil {
			return nil, err
		}
		return fn(e.frameScope(frames), e.values(args)...)
	})
}

// ExecuteAtomAsync calls atoms[atom](...args, done). Whatever the atom passes
// to done is delivered to the async responder.
func (e *Engine) ExecuteAtomAsync(ctx context.Context, atom string, args []interface{}, frames []string) error {
	_, err := e.run(ctx, func() (goja.Value, error) {
		fn, err := e.atom(atom)
		if err != nil {
			return nil, err
		}
		callArgs := append(e.values(args), e.runtime.ToValue(e.completion(atom)))
		return fn(e.frameScope(frames), callArgs...)
	})
	return err
}

// Execute runs script as a function body in the top-level page.
func (e *Engine) Execute(ctx context.Context, script string) (interface{}, error) {
	return e.run(ctx, func() (goja.Value, error) {
		return e.runtime.RunString("(function(){\n" + script + "\n})()")
	})
}

// ListPages returns the configured page ids.
func (e *Engine) ListPages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pages...), nil
}

// Navigate points window.location at url and calls window.onnavigate when
// the page defines it.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	_, err := e.run(ctx, func() (goja.Value, error) {
		window := e.runtime.Get("window")
		if window == nil || goja.IsUndefined(window) {
			return nil, fmt.Errorf("page has no window object")
		}
		obj := window.ToObject(e.runtime)
		location := obj.Get("location")
		if location == nil || goja.IsUndefined(location) || goja.IsNull(location) {
			location = e.runtime.NewObject()
			if err := obj.Set("location", location); err != nil {
				return nil, err
			}
		}
		if err := location.ToObject(e.runtime).Set("href", url); err != nil {
			return nil, err
		}
		if hook, ok := goja.AssertFunction(obj.Get("onnavigate")); ok {
			return hook(obj, e.runtime.ToValue(url))
		}
		return goja.Undefined(), nil
	})
	return err
}

// IsJavascriptExecutionBlocked reports whether a script currently holds the
// runtime.
func (e *Engine) IsJavascriptExecutionBlocked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !e.mu.TryLock() {
		return true, nil
	}
	e.mu.Unlock()
	return false, nil
}

// run executes fn under the runtime lock, interrupting the script when ctx
// ends. Thrown W3C-shaped objects become typed errors.
func (e *Engine) run(ctx context.Context, fn func() (goja.Value, error)) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			e.runtime.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	v, err := fn()
	close(stop)
	<-watched
	e.runtime.ClearInterrupt()

	if err != nil {
		return nil, e.scriptError(err)
	}
	return jsonValue(v)
}

func (e *Engine) scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return err
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		if m, ok := exception.Value().Export().(map[string]interface{}); ok {
			if name, ok := m["error"].(string); ok {
				msg, _ := m["message"].(string)
				return core.ErrorFromW3C(name, msg)
			}
		}
		return core.ErrorFromW3C("javascript error", exception.Error())
	}
	return err
}

func (e *Engine) atom(name string) (goja.Callable, error) {
	atoms := e.runtime.Get("atoms")
	if atoms == nil || goja.IsUndefined(atoms) || goja.IsNull(atoms) {
		return nil, core.ErrNotImplemented.WithMessage("page defines no atoms")
	}
	fn, ok := goja.AssertFunction(atoms.ToObject(e.runtime).Get(name))
	if !ok {
		return nil, core.ErrNotImplemented.WithMessage(fmt.Sprintf("page has no atom named '%s'", name))
	}
	return fn, nil
}

func (e *Engine) frameScope(frames []string) goja.Value {
	scope := e.runtime.NewObject()
	list := make([]interface{}, len(frames))
	for i, f := range frames {
		list[i] = f
	}
	_ = scope.Set("frames", e.runtime.NewArray(list...))
	return scope
}

func (e *Engine) values(args []interface{}) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = e.runtime.ToValue(a)
	}
	return out
}

// completion builds the done callback handed to asynchronous atoms. It runs
// with the runtime lock held, so the responder must not call back into the
// engine.
func (e *Engine) completion(atom string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		value, err := jsonValue(call.Argument(0))
		if err != nil {
			value = map[string]interface{}{"error": "javascript error", "message": err.Error()}
		}
		if e.responder == nil {
			logger.Warn("Async atom '%s' completed with no responder installed", atom)
			return goja.Undefined()
		}
		e.responder(nil, value)
		return goja.Undefined()
	}
}
