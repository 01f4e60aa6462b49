// Package wda is the native proxy: a WebDriverAgent HTTP client exposing
// the element, geometry, tap and alert endpoints the web bridge consumes.
package wda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// W3C error names WDA reports in {"value": {"error": ...}} payloads.
const (
	errNameNoSuchAlert           = "no such alert"
	errNameNoSuchElement         = "no such element"
	errNameStaleElementReference = "stale element reference"
	errNameInvalidElementState   = "invalid element state"
)

// ErrNoSuchAlert is returned when the alert endpoints find no dialog on screen.
var ErrNoSuchAlert = core.NewExecutionError(core.ErrCategoryAssertion, "no_such_alert", "no alert is open")

// Client is an HTTP client for WebDriverAgent.
type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

// NewClient creates a new WDA client.
func NewClient(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// BaseURL returns the agent root, e.g. http://127.0.0.1:8100.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session management

// CreateSession creates a new WDA session.
func (c *Client) CreateSession(ctx context.Context, bundleID string) error {
	caps := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": map[string]interface{}{
				"bundleId": bundleID,
			},
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/session", caps)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// Extract session ID
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if sessionID, ok := value["sessionId"].(string); ok {
			c.sessionID = sessionID
		}
	}
	if c.sessionID == "" {
		if sessionID, ok := resp["sessionId"].(string); ok {
			c.sessionID = sessionID
		}
	}

	return nil
}

// DeleteSession ends the current session.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/session/%s", c.sessionID), nil)
	c.sessionID = ""
	return err
}

// HasSession returns true if a session is active.
func (c *Client) HasSession() bool {
	return c.sessionID != ""
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Status returns WDA status.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, "/status", nil)
}

// WaitReady polls /status until the agent answers, trying at most attempts
// times with interval between tries.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		_, err := c.Status(ctx)
		if err != nil {
			logger.Debug("WebDriverAgent at %s not ready: %v", c.baseURL, err)
		}
		return err
	}, policy)
}

// Touch actions

// Tap performs a tap at screen coordinates.
func (c *Client) Tap(ctx context.Context, x, y float64) error {
	_, err := c.do(ctx, http.MethodPost, c.sessionPath("/wda/tap"), map[string]interface{}{
		"x": x,
		"y": y,
	})
	return err
}

// Element finding

// FindElements finds multiple elements. An empty result is not an error.
func (c *Client) FindElements(ctx context.Context, using, value string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.sessionPath("/elements"), map[string]interface{}{
		"using": using,
		"value": value,
	})
	if err != nil {
		return nil, err
	}

	var elements []string
	if val, ok := resp["value"].([]interface{}); ok {
		for _, elem := range val {
			if id := elementID(elem); id != "" {
				elements = append(elements, id)
			}
		}
	}
	return elements, nil
}

// ElementRect returns an element's bounds.
func (c *Client) ElementRect(ctx context.Context, elementID string) (core.Rect, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath(fmt.Sprintf("/element/%s/rect", elementID)), nil)
	if err != nil {
		return core.Rect{}, err
	}
	return rectFrom(resp["value"])
}

// WindowRect returns the application window bounds.
func (c *Client) WindowRect(ctx context.Context) (core.Rect, error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath("/window/rect"), nil)
	if err != nil {
		return core.Rect{}, err
	}
	return rectFrom(resp["value"])
}

// Alerts

// AlertText returns the text of the open alert. ok is false when no alert is shown.
func (c *Client) AlertText(ctx context.Context) (text string, ok bool, err error) {
	resp, err := c.do(ctx, http.MethodGet, c.sessionPath("/alert/text"), nil)
	if err != nil {
		if errors.Is(err, ErrNoSuchAlert) {
			return "", false, nil
		}
		return "", false, err
	}
	text, ok = resp["value"].(string)
	return text, ok, nil
}

// IsDialogShowing reports whether a modal dialog covers the application.
// An invalid element state error is passed through untouched: it signals
// that the application under test is gone.
func (c *Client) IsDialogShowing(ctx context.Context) (bool, error) {
	_, ok, err := c.AlertText(ctx)
	return ok, err
}

// HTTP helpers

func (c *Client) sessionPath(path string) string {
	if c.sessionID != "" {
		return fmt.Sprintf("/session/%s%s", c.sessionID, path)
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.ErrServerUnreachable.WithCause(err)
	}
	defer resp.Body.Close()
	return c.parseResponse(resp)
}

func (c *Client) parseResponse(resp *http.Response) (map[string]interface{}, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}

	// Check for WDA error
	if value, ok := result["value"].(map[string]interface{}); ok {
		if errName, ok := value["error"].(string); ok {
			message := errName
			if msg, ok := value["message"].(string); ok && msg != "" {
				message = msg
			}
			return nil, mapError(errName, message)
		}
	}

	return result, nil
}

func mapError(name, message string) error {
	switch strings.ToLower(name) {
	case errNameNoSuchAlert:
		return ErrNoSuchAlert.WithMessage(message)
	case errNameNoSuchElement:
		return core.ErrElementNotFound.WithMessage(message)
	case errNameStaleElementReference:
		return core.ErrStaleElementReference.WithMessage(message)
	case errNameInvalidElementState:
		logger.Debug("WDA reported invalid element state: %s", message)
		return core.ErrInvalidElementState.WithMessage(message)
	default:
		return fmt.Errorf("WDA error: %s", message)
	}
}

// elementID extracts the id from a legacy {"ELEMENT": id} or W3C element object.
func elementID(v interface{}) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	if id, ok := m["ELEMENT"].(string); ok {
		return id
	}
	for _, v := range m {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func rectFrom(v interface{}) (core.Rect, error) {
	value, ok := v.(map[string]interface{})
	if !ok {
		return core.Rect{}, fmt.Errorf("invalid rect response")
	}
	var r core.Rect
	r.X, _ = value["x"].(float64)
	r.Y, _ = value["y"].(float64)
	r.Width, _ = value["width"].(float64)
	r.Height, _ = value["height"].(float64)
	return r, nil
}
