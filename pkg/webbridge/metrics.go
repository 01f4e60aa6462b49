package webbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// Browser chrome geometry, in native points.
const (
	iphoneTopBarHeight         = 71
	iphoneScrolledTopBarHeight = 41
	iphoneXScrolledOffset      = 55
	iphoneXNotchOffset         = 24
	iphoneXNotchOffsetIOS13    = 20
	iphoneBottomBarOffset      = 49
	tabBarOffset               = 33
	iphoneSmartAppBannerOffset = 84
	ipadSmartAppBannerOffset   = 95
)

// Orientation of the web surface.
const (
	OrientationPortrait  = "PORTRAIT"
	OrientationLandscape = "LANDSCAPE"
)

const (
	smartAppBannerDismissID = "Close app download offer"
	webviewPagePrefix       = "WEBVIEW_"
)

// notchedDeviceSizes lists physical pixel sizes of notched phones, short side first.
var notchedDeviceSizes = []core.Size{
	{Width: 1125, Height: 2436}, // 11 Pro, X, Xs
	{Width: 828, Height: 1792},  // 11, Xr
	{Width: 1242, Height: 2688}, // 11 Pro Max, Xs Max
	{Width: 1080, Height: 2340}, // 13 mini, 12 mini
	{Width: 1170, Height: 2532}, // 14, 13, 13 Pro, 12, 12 Pro
	{Width: 1284, Height: 2778}, // 14 Plus, 13 Pro Max, 12 Pro Max
	{Width: 1179, Height: 2556}, // 15, 15 Pro, 14 Pro
	{Width: 1290, Height: 2796}, // 15 Plus, 15 Pro Max, 14 Pro Max
}

const (
	userAgentScript  = `return navigator.userAgent;`
	deviceSizeScript = `return {height: window.screen.availHeight * window.devicePixelRatio, ` +
		`width: window.screen.availWidth * window.devicePixelRatio};`
	scrolledScript = `return document.documentElement.scrollTop > 0;`
)

// ChromeMetrics describes the browser chrome around the web surface.
type ChromeMetrics struct {
	IsPhone        bool   `json:"isPhone"`
	IsNotched      bool   `json:"isNotched"`
	Orientation    string `json:"orientation"`
	TabBarPosition string `json:"tabBarPosition"`
	Scrolled       bool   `json:"scrolled"`
}

// TranslationOffset is subtracted from the web surface's native rect.
type TranslationOffset struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// metricsProbe memoizes the device-class facts of a session.
type metricsProbe struct {
	b *Bridge

	mu        sync.Mutex
	isPhone   *bool
	isNotched *bool
}

func newMetricsProbe(b *Bridge) *metricsProbe {
	return &metricsProbe{b: b}
}

// IsPhone reports whether the device has a phone form factor. Assumes a
// phone when the user agent cannot be read; only real answers are kept.
func (p *metricsProbe) IsPhone(ctx context.Context) bool {
	p.mu.Lock()
	cached := p.isPhone
	p.mu.Unlock()
	if cached != nil {
		return *cached
	}

	v, err := p.b.debugger.Execute(ctx, userAgentScript)
	ua, ok := v.(string)
	if err != nil || !ok {
		logger.Warn("Unable to determine the device form factor, assuming phone: %v", err)
		return true
	}
	isPhone := strings.Contains(strings.ToLower(ua), "iphone")

	p.mu.Lock()
	p.isPhone = &isPhone
	p.mu.Unlock()
	return isPhone
}

// IsNotched reports whether the device screen matches a known notched phone.
// Assumes no notch when the screen size cannot be read.
func (p *metricsProbe) IsNotched(ctx context.Context) bool {
	p.mu.Lock()
	cached := p.isNotched
	p.mu.Unlock()
	if cached != nil {
		return *cached
	}

	v, err := p.b.debugger.Execute(ctx, deviceSizeScript)
	if err != nil {
		logger.Warn("Unable to determine whether the device is notched, assuming not: %v", err)
		return false
	}
	size, err := sizeFrom(v, "width", "height")
	if err != nil {
		logger.Warn("Unable to determine whether the device is notched, assuming not: %v", err)
		return false
	}
	isNotched := matchesNotchedSize(size)

	p.mu.Lock()
	p.isNotched = &isNotched
	p.mu.Unlock()
	return isNotched
}

// Scrolled reports whether the page is scrolled past its top.
func (p *metricsProbe) Scrolled(ctx context.Context) bool {
	v, err := p.b.debugger.Execute(ctx, scrolledScript)
	if err != nil {
		logger.Debug("Unable to read the scroll position: %v", err)
		return false
	}
	scrolled, _ := v.(bool)
	return scrolled
}

func matchesNotchedSize(s core.Size) bool {
	w, h := s.Width, s.Height
	if w > h {
		w, h = h, w
	}
	for _, n := range notchedDeviceSizes {
		if n.Width == w && n.Height == h {
			return true
		}
	}
	return false
}

// Metrics gathers the chrome metrics for a web surface occupying rect.
func (b *Bridge) Metrics(ctx context.Context, rect core.Rect) (ChromeMetrics, error) {
	isPhone := b.probe.IsPhone(ctx)
	m := ChromeMetrics{
		IsPhone:     isPhone,
		IsNotched:   isPhone && b.probe.IsNotched(ctx),
		Orientation: OrientationPortrait,
	}
	if rect.IsLandscape() {
		m.Orientation = OrientationLandscape
	}

	position, err := tabBarPosition(b.settings.Get().SafariTabBarPosition, isPhone, b.platformVersion)
	if err != nil {
		return ChromeMetrics{}, err
	}
	m.TabBarPosition = position
	m.Scrolled = b.probe.Scrolled(ctx)
	return m, nil
}

// translationOffset computes the chrome offsets for rect, probing the page
// and the native tree for whatever the visibility settings leave open.
func (b *Bridge) translationOffset(ctx context.Context, rect core.Rect) (TranslationOffset, error) {
	m, err := b.Metrics(ctx, rect)
	if err != nil {
		return TranslationOffset{}, err
	}
	s := b.settings.Get()

	off := chromeOffsets(chromeInputs{
		metrics:          m,
		platformVersion:  b.platformVersion,
		tabBarVisibility: normalizeVisibility(s.NativeWebTapTabBarVisibility),
		bannerVisibility: normalizeVisibility(s.NativeWebTapSmartAppBannerVisibility),
		tabsDetected:     func() bool { return b.tabsDetected(ctx) },
		bannerDetected:   func() bool { return b.bannerDetected(ctx) },
	})
	logger.Debug("Chrome metrics %+v give offsets %+v", m, off)
	return off, nil
}

type chromeInputs struct {
	metrics          ChromeMetrics
	platformVersion  string
	tabBarVisibility string
	bannerVisibility string
	tabsDetected     func() bool
	bannerDetected   func() bool
}

// chromeOffsets is the offset arithmetic. Detectors are only called when
// the matching visibility mode is detect and the value matters.
func chromeOffsets(in chromeInputs) TranslationOffset {
	m := in.metrics
	var off TranslationOffset

	landscapePhone := m.IsPhone && m.Orientation == OrientationLandscape
	notched := m.IsPhone && m.IsNotched

	var notch float64
	if notched {
		notch = iphoneXNotchOffset
		if versionEquals(in.platformVersion, "13.0") {
			notch = iphoneXNotchOffsetIOS13
		}
	}

	switch {
	case m.Scrolled:
		off.Top = iphoneScrolledTopBarHeight + notch
		if notched {
			off.Top -= iphoneXScrolledOffset
		}
		if landscapePhone {
			off.Top = 0
		}
	case landscapePhone:
		// No top bar, tab bar or bottom bar in landscape.
	default:
		if m.TabBarPosition != config.TabBarBottom {
			off.Top = iphoneTopBarHeight
		}
		off.Top += notch
		if m.IsPhone {
			off.Bottom = iphoneBottomBarOffset
		} else if visible(in.tabBarVisibility, in.tabsDetected) {
			off.Top += tabBarOffset
		}
	}

	if visible(in.bannerVisibility, in.bannerDetected) {
		if m.IsPhone {
			off.Top += iphoneSmartAppBannerOffset
		} else {
			off.Top += ipadSmartAppBannerOffset
		}
	}
	return off
}

func visible(mode string, detect func() bool) bool {
	switch mode {
	case config.VisibilityVisible:
		return true
	case config.VisibilityInvisible:
		return false
	default:
		return detect != nil && detect()
	}
}

// tabsDetected assumes a tab bar is shown once more than one web view is open.
func (b *Bridge) tabsDetected(ctx context.Context) bool {
	pages, err := b.debugger.ListPages(ctx)
	if err != nil {
		logger.Debug("Unable to list pages for tab bar detection: %v", err)
		return false
	}
	tabs := 0
	for _, id := range pages {
		if strings.HasPrefix(id, webviewPagePrefix) {
			tabs++
		}
	}
	if tabs > 1 {
		logger.Debug("Found %d tabs. Assuming the tab bar is visible", tabs)
		return true
	}
	return false
}

// bannerDetected looks for the smart app banner's dismiss button.
func (b *Bridge) bannerDetected(ctx context.Context) bool {
	if b.native == nil {
		return false
	}
	banners, err := b.findNativeElements(ctx, "accessibility id", smartAppBannerDismissID)
	if err != nil {
		logger.Debug("Unable to look for the smart app banner: %v", err)
		return false
	}
	return len(banners) > 0
}

func normalizeVisibility(v string) string {
	switch mode := strings.ToLower(strings.TrimSpace(v)); mode {
	case config.VisibilityVisible, config.VisibilityInvisible:
		return mode
	default:
		return config.VisibilityDetect
	}
}

// tabBarPosition resolves the tab bar position from the override or the
// device defaults: bottom for phones on 15.0 and newer, top otherwise.
func tabBarPosition(override string, isPhone bool, platformVersion string) (string, error) {
	position := strings.ToLower(strings.TrimSpace(override))
	switch position {
	case config.TabBarTop, config.TabBarBottom:
		return position, nil
	case "":
	default:
		return "", core.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"%s is invalid as Safari tab bar position. Available positions are %s, %s.",
			override, config.TabBarTop, config.TabBarBottom))
	}
	if isPhone && versionAtLeast(platformVersion, "15.0") {
		return config.TabBarBottom, nil
	}
	return config.TabBarTop, nil
}

func versionEquals(v, target string) bool {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	return parsed.Equal(semver.MustParse(target))
}

func versionAtLeast(v, floor string) bool {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	return !parsed.LessThan(semver.MustParse(floor))
}

// sizeFrom reads two numeric fields from a decoded JSON object.
func sizeFrom(v interface{}, wKey, hKey string) (core.Size, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return core.Size{}, fmt.Errorf("expected an object, got %T", v)
	}
	w, okW := toFloat(m[wKey])
	h, okH := toFloat(m[hKey])
	if !okW || !okH {
		return core.Size{}, fmt.Errorf("missing %s/%s in %v", wKey, hKey, v)
	}
	return core.Size{Width: w, Height: h}, nil
}

// pointFrom reads {x, y} from a decoded JSON object.
func pointFrom(v interface{}) (core.Point, error) {
	s, err := sizeFrom(v, "x", "y")
	if err != nil {
		return core.Point{}, err
	}
	return core.Point{X: s.Width, Y: s.Height}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
