package webbridge

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

const (
	webviewClassName = "XCUIElementTypeWebView"
	viewportScript   = `return {w: window.innerWidth, h: window.innerHeight};`
	windowDimsScript = `return {innerWidth: window.innerWidth, innerHeight: window.innerHeight, ` +
		`outerWidth: window.outerWidth, outerHeight: window.outerHeight};`

	implicitWaitPollInterval = 100 * time.Millisecond
)

// TranslateWebCoords converts a point in web content space into native
// screen coordinates. A stored calibration result takes precedence over
// the chrome geometry heuristics.
func (b *Bridge) TranslateWebCoords(ctx context.Context, p core.Point) (core.Point, error) {
	logger.Debug("Translating web coordinates %+v to native coordinates", p)

	if cal := b.Calibration(); cal != nil {
		return b.translateCalibrated(ctx, *cal, p)
	}
	if b.native == nil {
		return core.Point{}, core.ErrNotImplemented.WithMessage("no native proxy is configured")
	}

	webview, err := b.findWebView(ctx)
	if err != nil {
		return core.Point{}, err
	}
	rect, err := b.native.ElementRect(ctx, webview)
	if err != nil {
		return core.Point{}, fmt.Errorf("failed to get web view rect: %w", err)
	}

	v, err := b.debugger.Execute(ctx, viewportScript)
	if err != nil {
		return core.Point{}, fmt.Errorf("failed to read web viewport: %w", err)
	}
	viewport, err := sizeFrom(v, "w", "h")
	if err != nil || viewport.Width <= 0 || viewport.Height <= 0 {
		return core.Point{}, fmt.Errorf("web coordinates %+v cannot be translated into real coordinates: "+
			"invalid viewport %v. Try to calibrate the translation first", p, v)
	}

	off, err := b.translationOffset(withoutImplicitWait(ctx), rect)
	if err != nil {
		return core.Point{}, err
	}

	usable := core.Rect{
		X:      rect.X,
		Y:      rect.Y + off.Top,
		Width:  rect.Width,
		Height: rect.Height - off.Top - off.Bottom,
	}
	xRatio := usable.Width / viewport.Width
	yRatio := usable.Height / viewport.Height
	native := core.Point{
		X: usable.X + math.Round(xRatio*p.X),
		Y: usable.Y + math.Round(yRatio*p.Y),
	}

	logger.Debug("Converted web coords %+v into real coords %+v (rect=%+v viewport=%+v offset=%+v ratio=%.4f/%.4f)",
		p, native, rect, viewport, off, xRatio, yRatio)
	return native, nil
}

type noImplicitWaitKey struct{}

// withoutImplicitWait marks ctx so native lookups made under it return at
// once instead of polling. The session's implicit wait is left untouched.
func withoutImplicitWait(ctx context.Context) context.Context {
	return context.WithValue(ctx, noImplicitWaitKey{}, true)
}

// lookupWait is the implicit wait that applies to a lookup made under ctx.
func (b *Bridge) lookupWait(ctx context.Context) time.Duration {
	if skip, _ := ctx.Value(noImplicitWaitKey{}).(bool); skip {
		return 0
	}
	return b.ImplicitWait()
}

func (b *Bridge) translateCalibrated(ctx context.Context, cal CalibrationData, p core.Point) (core.Point, error) {
	logger.Debug("Using calibration result %+v", cal)

	v, err := b.debugger.Execute(ctx, windowDimsScript)
	if err != nil {
		return core.Point{}, fmt.Errorf("failed to read window dimensions: %w", err)
	}
	inner, err := sizeFrom(v, "innerWidth", "innerHeight")
	if err != nil {
		return core.Point{}, err
	}
	outer, err := sizeFrom(v, "outerWidth", "outerHeight")
	if err != nil {
		return core.Point{}, err
	}

	rx, ry := 1.0, 1.0
	if inner.Width > outer.Width || inner.Height > outer.Height {
		rx, ry = cal.PixelRatioX, cal.PixelRatioY
	}
	return core.Point{X: cal.OffsetX + p.X*rx, Y: cal.OffsetY + p.Y*ry}, nil
}

// findWebView locates the native web view element, retrying briefly while
// the view hierarchy settles.
func (b *Bridge) findWebView(ctx context.Context) (string, error) {
	var webview string
	find := func() error {
		ids, err := b.native.FindElements(ctx, "class name", webviewClassName)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return core.ErrNoWebView
		}
		webview = ids[0]
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.webviewInterval), uint64(b.webviewRetries-1)),
		ctx,
	)
	if err := backoff.Retry(find, policy); err != nil {
		logger.Debug("Web view lookup failed: %v", err)
		return "", core.ErrNoWebView
	}
	return webview, nil
}

// findNativeElements runs a native find, polling until something matches
// or the implicit wait runs out.
func (b *Bridge) findNativeElements(ctx context.Context, using, value string) ([]string, error) {
	deadline := time.Now().Add(b.lookupWait(ctx))
	for {
		ids, err := b.native.FindElements(ctx, using, value)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 || !time.Now().Before(deadline) {
			return ids, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(implicitWaitPollInterval):
		}
	}
}

// ClickWebCoords taps the native point matching a web content point.
func (b *Bridge) ClickWebCoords(ctx context.Context, p core.Point) error {
	native, err := b.TranslateWebCoords(ctx, p)
	if err != nil {
		return err
	}
	if b.native == nil {
		return core.ErrNotImplemented.WithMessage("no native proxy is configured")
	}
	logger.Info("Tapping native point (%.0f, %.0f) for web point (%.0f, %.0f)", native.X, native.Y, p.X, p.Y)
	return b.native.Tap(ctx, native.X, native.Y)
}
