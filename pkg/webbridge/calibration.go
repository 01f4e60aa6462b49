package webbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// calibrationTapDelta is how far from the window centre each calibration tap lands.
const calibrationTapDelta = 7

const (
	currentURLScript = `return window.location.href;`
	titleScript      = `return document.title;`
)

// CalibrationData maps web coordinates straight onto native ones:
// native = offset + web * pixelRatio.
type CalibrationData struct {
	OffsetX     float64 `json:"offsetX"`
	OffsetY     float64 `json:"offsetY"`
	PixelRatioX float64 `json:"pixelRatioX"`
	PixelRatioY float64 `json:"pixelRatioY"`
}

// Calibrate measures the web to native mapping on the agent's calibration
// page, which reports the last tap position as JSON in its title. The
// result is stored and used by TranslateWebCoords from then on.
func (b *Bridge) Calibrate(ctx context.Context, calibrationURL string) (*CalibrationData, error) {
	nav, ok := b.debugger.(Navigator)
	if !ok {
		return nil, core.ErrNotImplemented.WithMessage("the debugger cannot navigate")
	}
	if b.native == nil {
		return nil, core.ErrNotImplemented.WithMessage("no native proxy is configured")
	}

	currentURL := ""
	if v, err := b.debugger.Execute(ctx, currentURLScript); err == nil {
		currentURL, _ = v.(string)
	}

	if err := nav.Navigate(ctx, calibrationURL); err != nil {
		return nil, fmt.Errorf("failed to open calibration page: %w", err)
	}
	window, err := b.native.WindowRect(ctx)
	if err != nil {
		return nil, err
	}
	cx, cy := window.Width/2, window.Height/2

	var result CalibrationData
	measure := func() error {
		p0, err := b.calibrationTap(ctx, cx-calibrationTapDelta, cy-calibrationTapDelta)
		if err != nil {
			return err
		}
		p1, err := b.calibrationTap(ctx, cx+calibrationTapDelta, cy+calibrationTapDelta)
		if err != nil {
			return err
		}
		if p1.X == p0.X || p1.Y == p0.Y {
			return fmt.Errorf("calibration taps landed on the same web point %+v", p0)
		}
		rx := calibrationTapDelta * 2 / (p1.X - p0.X)
		ry := calibrationTapDelta * 2 / (p1.Y - p0.Y)
		result = CalibrationData{
			OffsetX:     cx - calibrationTapDelta - p0.X*rx,
			OffsetY:     cy - calibrationTapDelta - p0.Y*ry,
			PixelRatioX: rx,
			PixelRatioY: ry,
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 5), ctx)
	if err := backoff.Retry(measure, policy); err != nil {
		return nil, err
	}

	if currentURL != "" {
		if err := nav.Navigate(ctx, currentURL); err != nil {
			logger.Warn("Failed to restore %s after calibration: %v", currentURL, err)
		}
	}

	b.SetCalibration(&result)
	logger.Info("Calibration result: %+v", result)

	rounded := result
	rounded.OffsetX = math.Round(result.OffsetX)
	rounded.OffsetY = math.Round(result.OffsetY)
	return &rounded, nil
}

func (b *Bridge) calibrationTap(ctx context.Context, x, y float64) (core.Point, error) {
	const errPrefix = "cannot determine web view coordinates offset. Are you in Safari context?"

	if err := b.native.Tap(ctx, x, y); err != nil {
		return core.Point{}, err
	}
	v, err := b.debugger.Execute(ctx, titleScript)
	if err != nil {
		return core.Point{}, fmt.Errorf("%s %w", errPrefix, err)
	}

	var raw map[string]interface{}
	switch t := v.(type) {
	case map[string]interface{}:
		raw = t
	case string:
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			return core.Point{}, fmt.Errorf("%s %w", errPrefix, err)
		}
	default:
		return core.Point{}, fmt.Errorf("%s unexpected title %v", errPrefix, v)
	}

	px, okX := toFloat(raw["x"])
	py, okY := toFloat(raw["y"])
	if !okX || !okY || px != math.Trunc(px) || py != math.Trunc(py) {
		return core.Point{}, fmt.Errorf("%s title %v has no integer coordinates", errPrefix, v)
	}
	return core.Point{X: px, Y: py}, nil
}
