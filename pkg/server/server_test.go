package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/jsengine"
	"github.com/devicelab-dev/webview-bridge/pkg/webbridge"
)

func newSandboxServer(t *testing.T) (http.Handler, *jsengine.Engine) {
	t.Helper()
	engine := jsengine.New()
	t.Cleanup(engine.Close)

	b, err := webbridge.New(engine, nil, nil, webbridge.Options{PlatformVersion: "17.4"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)
	engine.SetAsyncResponder(b.ReceiveAsyncResponse)

	return NewServer(b, "test"), engine
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func findHandle(t *testing.T, h http.Handler, selector string) string {
	t.Helper()
	code, out := do(t, h, http.MethodPost, "/api/v1/elements", map[string]interface{}{
		"using": "css selector",
		"value": selector,
	})
	if code != http.StatusOK {
		t.Fatalf("find %s: status = %d, body = %v", selector, code, out)
	}
	el, _ := out["value"].(map[string]interface{})
	handle, _ := el[webbridge.W3CElementKey].(string)
	if handle == "" {
		t.Fatalf("find %s: no handle in %v", selector, out)
	}
	return handle
}

func TestHealth(t *testing.T) {
	h, _ := newSandboxServer(t)
	code, out := do(t, h, http.MethodGet, "/health", nil)
	if code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", code, out)
	}
}

func TestElementLifecycle(t *testing.T) {
	h, engine := newSandboxServer(t)
	handle := findHandle(t, h, "#buy")

	code, out := do(t, h, http.MethodGet, "/api/v1/element/"+handle+"/text", nil)
	if code != http.StatusOK || out["text"] != "Buy now" {
		t.Errorf("text = %d %v", code, out)
	}

	code, out = do(t, h, http.MethodGet, "/api/v1/element/"+handle+"/attribute/type", nil)
	if code != http.StatusOK || out["value"] != "submit" {
		t.Errorf("attribute = %d %v", code, out)
	}
	code, out = do(t, h, http.MethodGet, "/api/v1/element/"+handle+"/attribute/href", nil)
	if code != http.StatusOK || out["value"] != nil {
		t.Errorf("missing attribute = %d %v, want null", code, out)
	}

	code, _ = do(t, h, http.MethodPost, "/api/v1/element/"+handle+"/click", nil)
	if code != http.StatusOK {
		t.Fatalf("click status = %d", code)
	}
	clicks, _ := engine.Execute(context.Background(), "return document.clicks.length;")
	if clicks != 1.0 {
		t.Errorf("clicks = %v, want 1", clicks)
	}

	code, out = do(t, h, http.MethodGet, "/api/v1/elements/cache", nil)
	if code != http.StatusOK || out["size"] != 1.0 {
		t.Errorf("cache = %d %v", code, out)
	}

	code, _ = do(t, h, http.MethodDelete, "/api/v1/elements/cache", nil)
	if code != http.StatusOK {
		t.Fatalf("purge status = %d", code)
	}
	code, _ = do(t, h, http.MethodGet, "/api/v1/element/"+handle+"/text", nil)
	if code != http.StatusNotFound {
		t.Errorf("text after purge = %d, want 404", code)
	}
}

func TestFindElementsErrors(t *testing.T) {
	h, _ := newSandboxServer(t)

	code, _ := do(t, h, http.MethodPost, "/api/v1/elements", map[string]interface{}{"using": "id", "value": "missing"})
	if code != http.StatusNotFound {
		t.Errorf("missing element status = %d, want 404", code)
	}

	code, out := do(t, h, http.MethodPost, "/api/v1/elements", map[string]interface{}{"using": "id", "value": "missing", "multiple": true})
	if list, ok := out["value"].([]interface{}); code != http.StatusOK || !ok || len(list) != 0 {
		t.Errorf("missing elements = %d %v, want empty list", code, out)
	}

	code, _ = do(t, h, http.MethodPost, "/api/v1/elements", map[string]interface{}{"using": "xpath", "value": "//a"})
	if code != http.StatusBadRequest {
		t.Errorf("bad strategy status = %d, want 400", code)
	}
}

func TestExecuteScript(t *testing.T) {
	h, _ := newSandboxServer(t)
	handle := findHandle(t, h, "#email")

	code, out := do(t, h, http.MethodPost, "/api/v1/execute/sync", map[string]interface{}{
		"script": "return arguments[0].attrs.placeholder + '/' + arguments[1];",
		"args":   []interface{}{webbridge.WrapElement(handle), 7},
	})
	if code != http.StatusOK || out["value"] != "Email/7" {
		t.Errorf("execute = %d %v", code, out)
	}

	code, _ = do(t, h, http.MethodPost, "/api/v1/execute/sync", map[string]interface{}{"script": "return nope.value;"})
	if code != http.StatusInternalServerError {
		t.Errorf("script error status = %d, want 500", code)
	}

	code, out = do(t, h, http.MethodPost, "/api/v1/execute/async", map[string]interface{}{
		"script": "var done = arguments[arguments.length - 1]; setTimeout(function () { done(42); }, 5);",
	})
	if code != http.StatusOK || out["value"] != 42.0 {
		t.Errorf("execute async = %d %v", code, out)
	}
}

func TestExecuteAtom(t *testing.T) {
	h, _ := newSandboxServer(t)
	handle := findHandle(t, h, "#title")

	code, out := do(t, h, http.MethodPost, "/api/v1/atoms/get_text", map[string]interface{}{
		"args": []interface{}{webbridge.WrapElement(handle)},
	})
	if code != http.StatusOK || out["value"] != "Sandbox" {
		t.Errorf("get_text = %d %v", code, out)
	}

	code, out = do(t, h, http.MethodPost, "/api/v1/atoms/find_elements", map[string]interface{}{
		"args": []interface{}{"tag name", "button", nil},
	})
	list, _ := out["value"].([]interface{})
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("find_elements = %d %v", code, out)
	}
	if el := list[0].(map[string]interface{}); el[webbridge.W3CElementKey] == nil {
		t.Errorf("atom result element not cached: %v", el)
	}

	code, _ = do(t, h, http.MethodPost, "/api/v1/atoms/no_such_atom", map[string]interface{}{})
	if code != http.StatusNotImplemented {
		t.Errorf("unknown atom status = %d, want 501", code)
	}
}

func TestSwitchFrame(t *testing.T) {
	h, _ := newSandboxServer(t)

	if code, _ := do(t, h, http.MethodPost, "/api/v1/frame", map[string]interface{}{"id": "checkout"}); code != http.StatusOK {
		t.Errorf("frame by name status = %d", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/v1/frame", map[string]interface{}{"id": "nowhere"}); code != http.StatusNotFound {
		t.Errorf("missing frame status = %d, want 404", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/v1/frame", map[string]interface{}{}); code != http.StatusOK {
		t.Errorf("top frame status = %d", code)
	}
}

func TestSettings(t *testing.T) {
	h, _ := newSandboxServer(t)

	code, out := do(t, h, http.MethodPost, "/api/v1/settings", map[string]interface{}{"nativeWebTap": true, "safariTabBarPosition": "top"})
	if code != http.StatusOK || out["nativeWebTap"] != true || out["safariTabBarPosition"] != "top" {
		t.Errorf("update settings = %d %v", code, out)
	}

	code, out = do(t, h, http.MethodGet, "/api/v1/settings", nil)
	if code != http.StatusOK || out["nativeWebTap"] != true {
		t.Errorf("get settings = %d %v", code, out)
	}

	code, _ = do(t, h, http.MethodPost, "/api/v1/settings", map[string]interface{}{"bogus": 1})
	if code != http.StatusBadRequest {
		t.Errorf("unknown setting status = %d, want 400", code)
	}
}

func TestTimeouts(t *testing.T) {
	h, _ := newSandboxServer(t)
	code, out := do(t, h, http.MethodPost, "/api/v1/timeouts", map[string]interface{}{"implicit": 250})
	if code != http.StatusOK || out["implicit"] != 250.0 {
		t.Errorf("timeouts = %d %v", code, out)
	}
}

func TestCoordinatesWithoutNativeAgent(t *testing.T) {
	h, _ := newSandboxServer(t)
	code, _ := do(t, h, http.MethodPost, "/api/v1/coordinates/translate", map[string]interface{}{"x": 10, "y": 20})
	if code != http.StatusNotImplemented {
		t.Errorf("translate status = %d, want 501", code)
	}
}

func TestAsyncResponseWithoutPendingCall(t *testing.T) {
	h, _ := newSandboxServer(t)
	code, _ := do(t, h, http.MethodPost, "/api/v1/async-response", map[string]interface{}{"value": "late"})
	if code != http.StatusOK {
		t.Errorf("async response status = %d", code)
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"stale", core.ErrStaleElementReference, http.StatusNotFound},
		{"not found", core.ErrElementNotFound.WithMessage("x"), http.StatusNotFound},
		{"timeout", core.ErrTimeout, http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"alert", core.ErrUnexpectedAlertOpen, http.StatusConflict},
		{"crash", core.ErrInvalidElementState, http.StatusConflict},
		{"no webview", core.ErrNoWebView, http.StatusInternalServerError},
		{"invalid argument", core.ErrInvalidArgument, http.StatusBadRequest},
		{"not implemented", core.ErrNotImplemented, http.StatusNotImplemented},
		{"unreachable", core.ErrServerUnreachable, http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var se huma.StatusError
			if !errors.As(mapErr(tt.err), &se) {
				t.Fatalf("mapErr(%v) is not a status error", tt.err)
			}
			if se.GetStatus() != tt.want {
				t.Errorf("status = %d, want %d", se.GetStatus(), tt.want)
			}
		})
	}
	if mapErr(nil) != nil {
		t.Error("mapErr(nil) should be nil")
	}
}
