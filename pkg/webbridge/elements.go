package webbridge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
)

// Element object keys. Atoms only understand the legacy key; clients may
// send either.
const (
	W3CElementKey    = "element-6066-11e4-a52e-4f735466cecf"
	LegacyElementKey = "ELEMENT"
)

// refDelimiter marks debugger refs that are already unique across the
// session, e.g. ":wdc:1628151649325".
const refDelimiter = ":"

// DefaultElementCacheSize bounds the cache when no size is configured.
const DefaultElementCacheSize = 1024

// ElementCache maps client-visible element handles to the debugger's
// element refs. It is bounded and evicts the least recently used handle.
type ElementCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, string] // handle -> ref
	byRef   map[string]string              // ref -> newest handle
	newID   func() string
}

// NewElementCache creates a cache holding at most size handles.
func NewElementCache(size int) (*ElementCache, error) {
	if size <= 0 {
		size = DefaultElementCacheSize
	}
	c := &ElementCache{
		byRef: make(map[string]string),
		newID: func() string { return uuid.New().String() },
	}
	entries, err := simplelru.NewLRU[string, string](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create element cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// onEvict runs with c.mu held (simplelru calls it synchronously from Add).
func (c *ElementCache) onEvict(handle, ref string) {
	if c.byRef[ref] == handle {
		delete(c.byRef, ref)
	}
}

// Store caches ref and returns its handle. Refs that already look unique
// are used verbatim; anything else gets a freshly minted UUID, so storing
// the same plain ref twice yields two different handles that both resolve.
func (c *ElementCache) Store(ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(ref)
}

// StoreIdempotent behaves like Store but reuses the handle already mapped
// to ref, when there is one.
func (c *ElementCache) StoreIdempotent(ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if handle, ok := c.byRef[ref]; ok {
		if _, ok := c.entries.Get(handle); ok {
			return handle
		}
	}
	return c.storeLocked(ref)
}

func (c *ElementCache) storeLocked(ref string) string {
	handle := ref
	if !strings.Contains(ref, refDelimiter) {
		handle = c.newID()
	}
	c.entries.Add(handle, ref)
	c.byRef[ref] = handle
	return handle
}

// Resolve returns the debugger ref behind handle.
func (c *ElementCache) Resolve(handle string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref, ok := c.entries.Get(handle)
	if !ok {
		return "", core.ErrStaleElementReference.WithDetails(map[string]interface{}{"element": handle})
	}
	return ref, nil
}

// Len returns the number of cached handles.
func (c *ElementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Handles returns cached handles from oldest to newest.
func (c *ElementCache) Handles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Keys()
}

// Purge drops every cached handle, e.g. after a page navigation.
func (c *ElementCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.byRef = make(map[string]string)
}

// CacheWebElement replaces the ref inside an element object by a cached
// handle. Anything that is not an element object is returned unchanged.
func (c *ElementCache) CacheWebElement(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	ref, ok := refFromElement(m)
	if !ok {
		return v
	}
	return WrapElement(c.Store(ref))
}

// CacheWebElements walks slices and objects recursively and caches every
// element object found, preserving the surrounding structure.
func (c *ElementCache) CacheWebElements(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = c.CacheWebElements(item)
		}
		return out
	case map[string]interface{}:
		merged := make(map[string]interface{}, len(t)+2)
		for k, item := range t {
			merged[k] = item
		}
		if wrapped, ok := c.CacheWebElement(t).(map[string]interface{}); ok {
			for k, item := range wrapped {
				merged[k] = item
			}
		}
		out := make(map[string]interface{}, len(merged))
		for k, item := range merged {
			out[k] = c.CacheWebElements(item)
		}
		return out
	default:
		return v
	}
}

// GetAtomsElement resolves a handle (or element object) into the form atoms expect.
func (c *ElementCache) GetAtomsElement(el interface{}) (map[string]interface{}, error) {
	handle, ok := UnwrapElement(el)
	if !ok {
		return nil, core.ErrStaleElementReference.WithDetails(map[string]interface{}{"element": el})
	}
	ref, err := c.Resolve(handle)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{LegacyElementKey: ref}, nil
}

// ConvertElementsForAtoms swaps element arguments for their atoms form,
// descending into nested slices. Stale elements are passed through as-is.
func (c *ElementCache) ConvertElementsForAtoms(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		if HasElementID(arg) {
			if atomsEl, err := c.GetAtomsElement(arg); err == nil {
				out[i] = atomsEl
				continue
			}
			out[i] = arg
			continue
		}
		if nested, ok := arg.([]interface{}); ok {
			out[i] = c.ConvertElementsForAtoms(nested)
			continue
		}
		out[i] = arg
	}
	return out
}

// WrapElement returns an element object carrying handle under both keys.
func WrapElement(handle string) map[string]interface{} {
	return map[string]interface{}{
		LegacyElementKey: handle,
		W3CElementKey:    handle,
	}
}

// UnwrapElement extracts an element id from a plain string or an element object.
func UnwrapElement(el interface{}) (string, bool) {
	switch t := el.(type) {
	case string:
		return t, t != ""
	case map[string]interface{}:
		return refFromElement(t)
	default:
		return "", false
	}
}

// HasElementID reports whether v is an object carrying an element id.
func HasElementID(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	return m[LegacyElementKey] != nil || m[W3CElementKey] != nil
}

// refFromElement reads a valid id from an element object: a non-empty
// string or a finite number.
func refFromElement(m map[string]interface{}) (string, bool) {
	raw, ok := m[LegacyElementKey]
	if !ok || raw == nil {
		raw, ok = m[W3CElementKey]
	}
	if !ok {
		return "", false
	}
	switch id := raw.(type) {
	case string:
		return id, id != ""
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return "", false
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
