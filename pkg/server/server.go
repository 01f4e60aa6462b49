// Package server exposes a bridge session over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/webbridge"
)

// Service is the bridge session the API drives. *webbridge.Bridge implements it.
type Service interface {
	Click(ctx context.Context, el interface{}) error
	NativeWebTap(ctx context.Context, el interface{}) error
	Text(ctx context.Context, el interface{}) (string, error)
	Attribute(ctx context.Context, el interface{}, name string) (string, bool, error)
	FindElements(ctx context.Context, strategy, selector string, many bool, parent interface{}) (interface{}, error)
	SetFrame(ctx context.Context, frame interface{}) error

	ExecuteAtom(ctx context.Context, atom string, args []interface{}) (interface{}, error)
	ExecuteAtomAsync(ctx context.Context, atom string, args []interface{}) (interface{}, error)
	ExecuteScript(ctx context.Context, script string, args []interface{}) (interface{}, error)
	ExecuteAsyncScript(ctx context.Context, script string, args []interface{}) (interface{}, error)
	ReceiveAsyncResponse(status *int, value interface{})

	TranslateWebCoords(ctx context.Context, p core.Point) (core.Point, error)
	ClickWebCoords(ctx context.Context, p core.Point) error
	Calibrate(ctx context.Context, calibrationURL string) (*webbridge.CalibrationData, error)

	Elements() *webbridge.ElementCache
	Settings() *config.Settings
	ImplicitWait() time.Duration
	SetImplicitWait(d time.Duration)
}

// NewServer builds the HTTP handler for svc.
func NewServer(svc Service, version string) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	api := humachi.New(router, huma.DefaultConfig("WebView Bridge API", version))

	registerElementHandlers(api, svc)
	registerScriptHandlers(api, svc)
	registerSessionHandlers(api, svc)

	return router
}

// mapErr turns bridge errors into HTTP problems by category.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}

	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		return huma.Error500InternalServerError(err.Error())
	}

	msg := execErr.Code + ": " + err.Error()
	switch execErr.Category {
	case core.ErrCategoryAssertion:
		return huma.Error404NotFound(msg)
	case core.ErrCategoryTimeout:
		return huma.Error504GatewayTimeout(msg)
	case core.ErrCategoryConnection:
		return huma.Error502BadGateway(msg)
	case core.ErrCategoryApp:
		if errors.Is(err, core.ErrUnexpectedAlertOpen) || errors.Is(err, core.ErrInvalidElementState) {
			return huma.Error409Conflict(msg)
		}
		return huma.Error500InternalServerError(msg)
	case core.ErrCategoryConfig:
		if errors.Is(err, core.ErrNotImplemented) {
			return huma.Error501NotImplemented(msg)
		}
		return huma.Error400BadRequest(msg)
	default:
		return huma.Error500InternalServerError(msg)
	}
}
