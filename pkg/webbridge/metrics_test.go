package webbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
)

const (
	iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15"
	ipadUA   = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15"
)

// countingDetector returns v and counts how often it was asked.
func countingDetector(v bool, calls *int) func() bool {
	return func() bool {
		*calls++
		return v
	}
}

func TestChromeOffsets(t *testing.T) {
	notchedPortrait := ChromeMetrics{IsPhone: true, IsNotched: true, Orientation: OrientationPortrait, TabBarPosition: config.TabBarTop}
	notchedLandscape := notchedPortrait
	notchedLandscape.Orientation = OrientationLandscape
	tablet := ChromeMetrics{Orientation: OrientationPortrait, TabBarPosition: config.TabBarTop}

	tests := []struct {
		name    string
		metrics ChromeMetrics
		version string
		tabBar  string
		banner  string
		tabs    bool
		banners bool
		want    TranslationOffset
	}{
		{
			name:    "notched phone portrait, tab bar top",
			metrics: notchedPortrait, version: "16.0",
			tabBar: config.VisibilityVisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 71 + 24, Bottom: 49},
		},
		{
			name:    "notched phone on 13.0 uses the smaller notch",
			metrics: notchedPortrait, version: "13.0",
			tabBar: config.VisibilityVisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 71 + 20, Bottom: 49},
		},
		{
			name:    "notched phone landscape has no bars",
			metrics: notchedLandscape, version: "16.0",
			tabBar: config.VisibilityVisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{},
		},
		{
			name: "notched phone scrolled",
			metrics: ChromeMetrics{IsPhone: true, IsNotched: true, Orientation: OrientationPortrait,
				TabBarPosition: config.TabBarTop, Scrolled: true},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 41 + 24 - 55},
		},
		{
			name: "plain phone scrolled",
			metrics: ChromeMetrics{IsPhone: true, Orientation: OrientationPortrait,
				TabBarPosition: config.TabBarTop, Scrolled: true},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 41},
		},
		{
			name: "landscape phone scrolled",
			metrics: ChromeMetrics{IsPhone: true, IsNotched: true, Orientation: OrientationLandscape,
				TabBarPosition: config.TabBarTop, Scrolled: true},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{},
		},
		{
			name: "phone with bottom tab bar",
			metrics: ChromeMetrics{IsPhone: true, Orientation: OrientationPortrait,
				TabBarPosition: config.TabBarBottom},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 0, Bottom: 49},
		},
		{
			name:    "tablet with visible tab bar",
			metrics: tablet, version: "16.0",
			tabBar: config.VisibilityVisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 71 + 33},
		},
		{
			name:    "tablet detects tabs",
			metrics: tablet, version: "16.0",
			tabBar: config.VisibilityDetect, banner: config.VisibilityInvisible, tabs: true,
			want: TranslationOffset{Top: 71 + 33},
		},
		{
			name:    "tablet detects no tabs",
			metrics: tablet, version: "16.0",
			tabBar: config.VisibilityDetect, banner: config.VisibilityInvisible,
			want: TranslationOffset{Top: 71},
		},
		{
			name: "tablet all chrome hidden",
			metrics: ChromeMetrics{Orientation: OrientationPortrait,
				TabBarPosition: config.TabBarBottom},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityInvisible,
			want: TranslationOffset{},
		},
		{
			name: "phone banner visible",
			metrics: ChromeMetrics{IsPhone: true, Orientation: OrientationPortrait,
				TabBarPosition: config.TabBarBottom},
			version: "16.0", tabBar: config.VisibilityInvisible, banner: config.VisibilityVisible,
			want: TranslationOffset{Top: 84, Bottom: 49},
		},
		{
			name:    "tablet banner detected",
			metrics: tablet, version: "16.0",
			tabBar: config.VisibilityInvisible, banner: config.VisibilityDetect, banners: true,
			want: TranslationOffset{Top: 71 + 95},
		},
		{
			name:    "landscape phone still gets the banner",
			metrics: notchedLandscape, version: "16.0",
			tabBar: config.VisibilityInvisible, banner: config.VisibilityVisible,
			want: TranslationOffset{Top: 84},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tabCalls, bannerCalls int
			got := chromeOffsets(chromeInputs{
				metrics:          tt.metrics,
				platformVersion:  tt.version,
				tabBarVisibility: tt.tabBar,
				bannerVisibility: tt.banner,
				tabsDetected:     countingDetector(tt.tabs, &tabCalls),
				bannerDetected:   countingDetector(tt.banners, &bannerCalls),
			})
			if got != tt.want {
				t.Errorf("chromeOffsets() = %+v, want %+v", got, tt.want)
			}
			if tt.tabBar != config.VisibilityDetect && tabCalls != 0 {
				t.Errorf("tab detector called %d times in %s mode", tabCalls, tt.tabBar)
			}
			if tt.banner != config.VisibilityDetect && bannerCalls != 0 {
				t.Errorf("banner detector called %d times in %s mode", bannerCalls, tt.banner)
			}
		})
	}
}

func TestTabBarPosition(t *testing.T) {
	tests := []struct {
		name     string
		override string
		isPhone  bool
		version  string
		want     string
		wantErr  bool
	}{
		{"override top", "TOP", true, "17.0", config.TabBarTop, false},
		{"override bottom", "bottom", false, "12.0", config.TabBarBottom, false},
		{"phone on 15", "", true, "15.0", config.TabBarBottom, false},
		{"phone on 17.4", "", true, "17.4", config.TabBarBottom, false},
		{"phone on 14.8", "", true, "14.8", config.TabBarTop, false},
		{"tablet on 16", "", false, "16.0", config.TabBarTop, false},
		{"unparsable version", "", true, "latest", config.TabBarTop, false},
		{"invalid override", "middle", true, "16.0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tabBarPosition(tt.override, tt.isPhone, tt.version)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidArgument) {
					t.Errorf("error = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("tabBarPosition() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeVisibility(t *testing.T) {
	tests := map[string]string{
		"visible":   config.VisibilityVisible,
		"INVISIBLE": config.VisibilityInvisible,
		" detect ":  config.VisibilityDetect,
		"":          config.VisibilityDetect,
		"sometimes": config.VisibilityDetect,
	}
	for in, want := range tests {
		if got := normalizeVisibility(in); got != want {
			t.Errorf("normalizeVisibility(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchesNotchedSize(t *testing.T) {
	tests := []struct {
		size core.Size
		want bool
	}{
		{core.Size{Width: 1170, Height: 2532}, true},
		{core.Size{Width: 2532, Height: 1170}, true},
		{core.Size{Width: 828, Height: 1792}, true},
		{core.Size{Width: 750, Height: 1334}, false},
	}
	for _, tt := range tests {
		if got := matchesNotchedSize(tt.size); got != tt.want {
			t.Errorf("matchesNotchedSize(%+v) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestProbeIsPhoneMemoizesOnlySuccess(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onScript(userAgentScript, nil, errBoom)
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
	ctx := context.Background()

	if !b.probe.IsPhone(ctx) {
		t.Error("failed probe should assume phone")
	}

	dbg.onScript(userAgentScript, ipadUA, nil)
	if b.probe.IsPhone(ctx) {
		t.Error("iPad user agent should not be a phone")
	}

	dbg.onScript(userAgentScript, iphoneUA, nil)
	if b.probe.IsPhone(ctx) {
		t.Error("expected the memoized answer")
	}
	if n := dbg.scriptCount(userAgentScript); n != 2 {
		t.Errorf("user agent read %d times, want 2", n)
	}
}

func TestProbeIsNotched(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onScript(deviceSizeScript, nil, errBoom)
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
	ctx := context.Background()

	if b.probe.IsNotched(ctx) {
		t.Error("failed probe should assume no notch")
	}

	dbg.onScript(deviceSizeScript, map[string]interface{}{"width": 2532.0, "height": 1170.0}, nil)
	if !b.probe.IsNotched(ctx) {
		t.Error("expected a notched device")
	}

	dbg.onScript(deviceSizeScript, map[string]interface{}{"width": 750.0, "height": 1334.0}, nil)
	if !b.probe.IsNotched(ctx) {
		t.Error("expected the memoized answer")
	}
}

func TestMetrics(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onScript(userAgentScript, iphoneUA, nil)
	dbg.onScript(deviceSizeScript, map[string]interface{}{"width": 1170.0, "height": 2532.0}, nil)
	dbg.onScript(scrolledScript, true, nil)
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})

	m, err := b.Metrics(context.Background(), core.Rect{Width: 844, Height: 390})
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	want := ChromeMetrics{
		IsPhone:        true,
		IsNotched:      true,
		Orientation:    OrientationLandscape,
		TabBarPosition: config.TabBarBottom, // phone on 16.0
		Scrolled:       true,
	}
	if m != want {
		t.Errorf("Metrics() = %+v, want %+v", m, want)
	}
}

func TestMetricsInvalidTabBarPosition(t *testing.T) {
	dbg := newFakeDebugger()
	dbg.onScript(userAgentScript, iphoneUA, nil)
	dbg.onScript(deviceSizeScript, nil, errBoom)
	b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{SafariTabBarPosition: "left"})

	_, err := b.Metrics(context.Background(), core.Rect{Width: 390, Height: 844})
	if !errors.Is(err, core.ErrInvalidArgument) {
		t.Errorf("Metrics() error = %v, want invalid argument", err)
	}
}

func TestTabsDetected(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		err   error
		want  bool
	}{
		{"two webviews", []string{"WEBVIEW_1", "WEBVIEW_2"}, nil, true},
		{"one webview", []string{"WEBVIEW_1", "NATIVE_APP"}, nil, false},
		{"error", nil, errBoom, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbg := newFakeDebugger()
			dbg.pages, dbg.pagesErr = tt.pages, tt.err
			b := newTestBridge(t, dbg, nil, nil, config.SettingsValues{})
			if got := b.tabsDetected(context.Background()); got != tt.want {
				t.Errorf("tabsDetected() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBannerDetected(t *testing.T) {
	native := newFakeNative()
	b := newTestBridge(t, newFakeDebugger(), native, nil, config.SettingsValues{})
	ctx := context.Background()

	if b.bannerDetected(ctx) {
		t.Error("no banner expected")
	}
	native.setFound("accessibility id", smartAppBannerDismissID, "banner-1")
	if !b.bannerDetected(ctx) {
		t.Error("banner expected")
	}
}
