package webbridge

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// tapOutcome is the result of the accessibility fast path.
type tapOutcome int

const (
	tapMatched     tapOutcome = iota // One native node, tap its midpoint
	tapAmbiguous                     // Zero or inconsistent matches
	tapUnavailable                   // No text, or a lookup failed
)

// String returns the string representation of tapOutcome
func (o tapOutcome) String() string {
	switch o {
	case tapMatched:
		return "matched"
	case tapAmbiguous:
		return "ambiguous"
	default:
		return "unavailable"
	}
}

// classifyNativeMatches decides the fast path from the native rects found
// for an element's text. One match, or two matches with identical bounds,
// identify the node; anything else is ambiguous.
func classifyNativeMatches(rects []core.Rect) (tapOutcome, core.Rect) {
	switch len(rects) {
	case 1:
		return tapMatched, rects[0]
	case 2:
		if rects[0] == rects[1] {
			return tapMatched, rects[0]
		}
		return tapAmbiguous, core.Rect{}
	default:
		return tapAmbiguous, core.Rect{}
	}
}

// NativeWebTap taps a web element with a native touch. Unless strict mode
// is on it first tries to find the element natively by its text.
func (b *Bridge) NativeWebTap(ctx context.Context, el interface{}) error {
	atomsEl, err := b.elements.GetAtomsElement(el)
	if err != nil {
		return err
	}
	if b.native == nil {
		return core.ErrNotImplemented.WithMessage("no native proxy is configured")
	}

	if !b.settings.Get().NativeWebTapStrict {
		outcome, rect := b.nativeTapFastPath(ctx, atomsEl)
		if outcome == tapMatched {
			center := rect.Center()
			logger.Info("Tapping web element natively at (%.0f, %.0f)", center.X, center.Y)
			err := b.native.Tap(ctx, center.X, center.Y)
			if err == nil {
				return nil
			}
			logger.Warn("Error attempting to click: %v", err)
		} else {
			logger.Debug("Simple native web tap %s", outcome)
		}
	}
	logger.Warn("Unable to do simple native web tap. Attempting to convert coordinates")

	args := []interface{}{atomsEl}

	// The first read after a page change can return stale geometry.
	for _, atom := range []string{"get_size", "get_top_left_coordinates"} {
		if _, err := b.ExecuteAtom(ctx, atom, args); err != nil {
			if errors.Is(err, core.ErrUnexpectedAlertOpen) || errors.Is(err, core.ErrTimeout) {
				return err
			}
			logger.Debug("Ignoring pre-read %s error: %v", atom, err)
		}
	}

	var size, origin interface{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := b.ExecuteAtom(gctx, "get_size", args)
		size = v
		return err
	})
	g.Go(func() error {
		v, err := b.ExecuteAtom(gctx, "get_top_left_coordinates", args)
		origin = v
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	sz, err := sizeFrom(size, "width", "height")
	if err != nil {
		return fmt.Errorf("failed to read element size: %w", err)
	}
	pos, err := pointFrom(origin)
	if err != nil {
		return fmt.Errorf("failed to read element position: %w", err)
	}
	return b.ClickWebCoords(ctx, core.Point{X: pos.X + sz.Width/2, Y: pos.Y + sz.Height/2})
}

// nativeTapFastPath never fails: errors come back as tapUnavailable.
func (b *Bridge) nativeTapFastPath(ctx context.Context, atomsEl map[string]interface{}) (tapOutcome, core.Rect) {
	args := []interface{}{atomsEl}

	var text, value interface{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := b.ExecuteAtom(gctx, "get_text", args)
		text = v
		return err
	})
	g.Go(func() error {
		v, err := b.ExecuteAtom(gctx, "get_attribute_value", []interface{}{atomsEl, "value"})
		value = v
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("Error attempting to click: %v", err)
		return tapUnavailable, core.Rect{}
	}

	label, _ := text.(string)
	if label == "" {
		label, _ = value.(string)
	}
	if label == "" {
		return tapUnavailable, core.Rect{}
	}

	ids, err := b.findNativeElements(ctx, "accessibility id", label)
	if err != nil {
		logger.Warn("Error attempting to click: %v", err)
		return tapUnavailable, core.Rect{}
	}
	if len(ids) != 1 && len(ids) != 2 {
		return tapAmbiguous, core.Rect{}
	}

	rects := make([]core.Rect, 0, len(ids))
	for _, id := range ids {
		rect, err := b.native.ElementRect(ctx, id)
		if err != nil {
			logger.Warn("Error attempting to click: %v", err)
			return tapUnavailable, core.Rect{}
		}
		rects = append(rects, rect)
	}
	return classifyNativeMatches(rects)
}

// Click clicks a web element, natively when either native tap setting is
// on, otherwise through the click atom. A dialog opened by the click is
// left for the next command to report.
func (b *Bridge) Click(ctx context.Context, el interface{}) error {
	s := b.settings.Get()
	if s.NativeWebTap || s.NativeWebTapStrict {
		return b.NativeWebTap(ctx, el)
	}

	atomsEl, err := b.elements.GetAtomsElement(el)
	if err != nil {
		return err
	}
	if _, err := b.ExecuteAtom(ctx, "click", []interface{}{atomsEl}); err != nil {
		if errors.Is(err, core.ErrUnexpectedAlertOpen) {
			logger.Debug("Click opened a dialog: %v", err)
			return nil
		}
		return err
	}
	return nil
}
