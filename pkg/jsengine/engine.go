// Package jsengine hosts a scripted web page in a goja runtime so the bridge
// can run end to end without a device attached.
package jsengine

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

//go:embed page.js
var defaultPage string

// DefaultPageID is the page id the sandbox reports when none are configured.
const DefaultPageID = "WEBVIEW_1"

// AsyncResponder receives the completion of an asynchronous atom. status is
// nil for W3C-style responses.
type AsyncResponder func(status *int, value interface{})

// Engine wraps a goja runtime holding one page.
type Engine struct {
	runtime   *goja.Runtime
	pages     []string
	responder AsyncResponder
	timers    *timerRegistry
	mu        sync.Mutex
}

// timerRegistry manages setTimeout/setInterval timers
type timerRegistry struct {
	timers    map[int]*time.Timer
	tickers   map[int]*interval
	nextID    int
	mu        sync.Mutex
	stopChan  chan struct{}
	closeOnce sync.Once
}

// interval is a running setInterval; stop ends its goroutine.
type interval struct {
	ticker *time.Ticker
	stop   chan struct{}
}

func (iv *interval) cancel() {
	iv.ticker.Stop()
	close(iv.stop)
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		timers:   make(map[int]*time.Timer),
		tickers:  make(map[int]*interval),
		nextID:   1,
		stopChan: make(chan struct{}),
	}
}

// New creates an engine with the built-in sandbox page loaded.
func New() *Engine {
	e := &Engine{
		runtime: goja.New(),
		pages:   []string{DefaultPageID},
		timers:  newTimerRegistry(),
	}

	e.setupConsole()
	e.setupTimers()
	if _, err := e.runtime.RunString(defaultPage); err != nil {
		panic(fmt.Sprintf("jsengine: default page failed to load: %v", err))
	}
	return e
}

// NewWithPage creates an engine and runs pageScript on top of the built-in
// page. An empty pages list keeps the default page id.
func NewWithPage(pageScript string, pages []string) (*Engine, error) {
	e := New()
	if pageScript != "" {
		if err := e.RunScript(pageScript); err != nil {
			e.Close()
			return nil, err
		}
	}
	if len(pages) > 0 {
		e.SetPages(pages)
	}
	return e, nil
}

// setupConsole routes console.log/warn/error to the bridge log.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			log("[page] %v", args)
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	_ = console.Set("log", makeConsoleFunc(logger.Debug))
	_ = console.Set("error", makeConsoleFunc(logger.Error))
	_ = console.Set("warn", makeConsoleFunc(logger.Warn))
	_ = e.runtime.Set("console", console)
}

// setupTimers adds setTimeout, setInterval, clearTimeout, clearInterval
func (e *Engine) setupTimers() {
	_ = e.runtime.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("setTimeout requires 2 arguments"))
		}

		callback, ok := goja.AssertFunction(call.Arguments[0])
		if !ok {
			panic(e.runtime.NewTypeError("first argument must be a function"))
		}

		delay := call.Arguments[1].ToInteger()

		e.timers.mu.Lock()
		id := e.timers.nextID
		e.timers.nextID++

		timer := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			if _, err := callback(goja.Undefined()); err != nil {
				logger.Warn("setTimeout callback error: %v", err)
			}

			e.timers.mu.Lock()
			delete(e.timers.timers, id)
			e.timers.mu.Unlock()
		})

		e.timers.timers[id] = timer
		e.timers.mu.Unlock()

		return e.runtime.ToValue(id)
	})

	_ = e.runtime.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}

		id := int(call.Arguments[0].ToInteger())

		e.timers.mu.Lock()
		if timer, ok := e.timers.timers[id]; ok {
			timer.Stop()
			delete(e.timers.timers, id)
		}
		e.timers.mu.Unlock()

		return goja.Undefined()
	})

	_ = e.runtime.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("setInterval requires 2 arguments"))
		}

		callback, ok := goja.AssertFunction(call.Arguments[0])
		if !ok {
			panic(e.runtime.NewTypeError("first argument must be a function"))
		}

		period := call.Arguments[1].ToInteger()
		if period <= 0 {
			period = 1
		}

		e.timers.mu.Lock()
		id := e.timers.nextID
		e.timers.nextID++

		iv := &interval{
			ticker: time.NewTicker(time.Duration(period) * time.Millisecond),
			stop:   make(chan struct{}),
		}
		e.timers.tickers[id] = iv
		e.timers.mu.Unlock()

		go func() {
			for {
				select {
				case <-e.timers.stopChan:
					return
				case <-iv.stop:
					return
				case <-iv.ticker.C:
					e.mu.Lock()
					select {
					case <-iv.stop:
						e.mu.Unlock()
						return
					default:
					}
					if _, err := callback(goja.Undefined()); err != nil {
						logger.Warn("setInterval callback error: %v", err)
					}
					e.mu.Unlock()
				}
			}
		}()

		return e.runtime.ToValue(id)
	})

	_ = e.runtime.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			return goja.Undefined()
		}

		id := int(call.Arguments[0].ToInteger())

		e.timers.mu.Lock()
		if iv, ok := e.timers.tickers[id]; ok {
			iv.cancel()
			delete(e.timers.tickers, id)
		}
		e.timers.mu.Unlock()

		return goja.Undefined()
	})
}

// SetPages replaces the page ids reported by ListPages.
func (e *Engine) SetPages(pages []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages = append([]string(nil), pages...)
}

// SetAsyncResponder installs the receiver for asynchronous atom results.
func (e *Engine) SetAsyncResponder(fn AsyncResponder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responder = fn
}

// SetVariable sets a global visible to page scripts.
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.runtime.Set(name, value)
}

// Eval evaluates a JavaScript expression and returns its JSON-shaped result.
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return jsonValue(result)
}

// RunScript runs a page script in the global scope.
func (e *Engine) RunScript(script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.runtime.RunString(script); err != nil {
		return fmt.Errorf("JS runtime error: %w", err)
	}
	return nil
}

// Close cleans up the engine (stops timers, etc.)
// Safe to call multiple times.
func (e *Engine) Close() {
	e.timers.closeOnce.Do(func() {
		e.timers.mu.Lock()
		defer e.timers.mu.Unlock()

		for _, timer := range e.timers.timers {
			timer.Stop()
		}
		e.timers.timers = make(map[int]*time.Timer)

		for _, iv := range e.timers.tickers {
			iv.cancel()
		}
		e.timers.tickers = make(map[int]*interval)

		close(e.timers.stopChan)
	})
}

// jsonValue converts a runtime value into the shape a remote debugger would
// deliver after JSON decoding: maps, slices, float64, string, bool or nil.
func jsonValue(v goja.Value) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("result is not serializable: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
