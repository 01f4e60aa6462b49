package webbridge

import (
	"context"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
)

// Debugger executes scripts inside the web content through the remote
// web inspector. Frame chains list window handles from innermost outwards.
type Debugger interface {
	// ExecuteAtom runs a named automation atom and returns its decoded result.
	ExecuteAtom(ctx context.Context, atom string, args []interface{}, frames []string) (interface{}, error)

	// ExecuteAtomAsync dispatches an asynchronous atom. Its result arrives
	// out of band through Bridge.ReceiveAsyncResponse.
	ExecuteAtomAsync(ctx context.Context, atom string, args []interface{}, frames []string) error

	// Execute runs script as a function body in the top-level page and
	// returns whatever it returns.
	Execute(ctx context.Context, script string) (interface{}, error)

	// ListPages returns the ids of the web views known to the debugger,
	// e.g. "WEBVIEW_1".
	ListPages(ctx context.Context) ([]string, error)
}

// JavascriptBlockedChecker is implemented by debuggers that can tell whether
// the page's event loop is stuck. Used for timeout diagnostics only.
type JavascriptBlockedChecker interface {
	IsJavascriptExecutionBlocked(ctx context.Context) (bool, error)
}

// Navigator is implemented by debuggers that can load a URL and wait for it.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NativeProxy is the subset of the native automation agent the bridge uses.
type NativeProxy interface {
	FindElements(ctx context.Context, using, value string) ([]string, error)
	ElementRect(ctx context.Context, elementID string) (core.Rect, error)
	WindowRect(ctx context.Context) (core.Rect, error)
	Tap(ctx context.Context, x, y float64) error
}

// DialogDetector reports whether a modal dialog covers the application.
// It returns an error matching core.ErrInvalidElementState when the
// application under test is no longer running.
type DialogDetector interface {
	IsDialogShowing(ctx context.Context) (bool, error)
}
