package webbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// ExecuteScript runs script in the current frame with args, element
// arguments resolved for atoms. Elements in the result are cached.
func (b *Bridge) ExecuteScript(ctx context.Context, script string, args []interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	v, err := b.ExecuteAtom(ctx, "execute_script", []interface{}{script, b.elements.ConvertElementsForAtoms(args)})
	if err != nil {
		return nil, err
	}
	return b.elements.CacheWebElements(v), nil
}

// ExecuteAsyncScript runs script through the async script atom and waits
// for its callback. Elements in the result are cached.
func (b *Bridge) ExecuteAsyncScript(ctx context.Context, script string, args []interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	v, err := b.ExecuteAtomAsync(ctx, "execute_async_script", []interface{}{script, b.elements.ConvertElementsForAtoms(args)})
	if err != nil {
		return nil, err
	}
	return b.elements.CacheWebElements(v), nil
}

// FindElements finds one element (many=false) or all matching elements,
// optionally inside parent, polling until the implicit wait runs out.
func (b *Bridge) FindElements(ctx context.Context, strategy, selector string, many bool, parent interface{}) (interface{}, error) {
	var scope interface{}
	if parent != nil {
		el, err := b.elements.GetAtomsElement(parent)
		if err != nil {
			return nil, err
		}
		scope = el
	}

	atom := "find_element_fragment"
	if many {
		atom = "find_elements"
	}
	args := []interface{}{strategy, selector, scope}

	var found interface{}
	deadline := time.Now().Add(b.ImplicitWait())
	for {
		v, err := b.ExecuteAtom(ctx, atom, args)
		if err != nil {
			return nil, err
		}
		if !isEmptyResult(v) {
			found = v
			break
		}
		if !time.Now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(implicitWaitPollInterval):
		}
	}

	if many {
		if found == nil {
			return []interface{}{}, nil
		}
		return b.elements.CacheWebElements(found), nil
	}
	if found == nil {
		return nil, core.ErrElementNotFound.WithDetails(map[string]interface{}{
			"strategy": strategy,
			"selector": selector,
		})
	}
	return b.elements.CacheWebElements(found), nil
}

func isEmptyResult(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}

// SetFrame switches the frame subsequent atoms run in. nil returns to the
// top-level document; an element enters that frame element; a number
// selects by index and a string by id or name.
func (b *Bridge) SetFrame(ctx context.Context, frame interface{}) error {
	if frame == nil {
		b.resetFrames()
		logger.Debug("Leaving web frame and going back to default content")
		return nil
	}

	var (
		v   interface{}
		err error
	)
	switch f := frame.(type) {
	case map[string]interface{}:
		if !HasElementID(f) {
			return core.ErrInvalidArgument.WithMessage(fmt.Sprintf("invalid frame %v", frame))
		}
		el, gerr := b.elements.GetAtomsElement(f)
		if gerr != nil {
			return gerr
		}
		v, err = b.ExecuteAtom(ctx, "get_frame_window", []interface{}{el})
	case float64, int, int64:
		v, err = b.ExecuteAtom(ctx, "frame_by_index", []interface{}{f})
	case string:
		v, err = b.ExecuteAtom(ctx, "frame_by_id_or_name", []interface{}{f})
	default:
		return core.ErrInvalidArgument.WithMessage(fmt.Sprintf("invalid frame %v", frame))
	}
	if err != nil {
		return err
	}

	m, _ := v.(map[string]interface{})
	window, _ := m["WINDOW"].(string)
	if window == "" {
		return core.ErrNoSuchFrame.WithDetails(map[string]interface{}{"frame": frame})
	}
	logger.Debug("Entering new web frame: '%s'", window)
	b.enterFrame(window)
	return nil
}

// Text returns the visible text of an element.
func (b *Bridge) Text(ctx context.Context, el interface{}) (string, error) {
	atomsEl, err := b.elements.GetAtomsElement(el)
	if err != nil {
		return "", err
	}
	v, err := b.ExecuteAtom(ctx, "get_text", []interface{}{atomsEl})
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}

// Attribute returns an element attribute. ok is false when the attribute is absent.
func (b *Bridge) Attribute(ctx context.Context, el interface{}, name string) (value string, ok bool, err error) {
	atomsEl, err := b.elements.GetAtomsElement(el)
	if err != nil {
		return "", false, err
	}
	v, err := b.ExecuteAtom(ctx, "get_attribute_value", []interface{}{atomsEl, name})
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}
