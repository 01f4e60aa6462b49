package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/jsengine"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
	"github.com/devicelab-dev/webview-bridge/pkg/webbridge"
)

var translateCommand = &cli.Command{
	Name:  "translate",
	Usage: "Translate web coordinates to native coordinates offline",
	Description: `Runs the chrome offset computation against the sandbox page and a fixed
web view rectangle, without a device.

Examples:
  webview-bridge translate --x 50 --y 50
  webview-bridge translate --x 10 --y 10 --webview 0,0,820,1180 --viewport 820,1048 \
      --user-agent "Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X)"`,
	Flags: []cli.Flag{
		&cli.Float64Flag{Name: "x", Usage: "Web x coordinate", Required: true},
		&cli.Float64Flag{Name: "y", Usage: "Web y coordinate", Required: true},
		&cli.StringFlag{
			Name:  "webview",
			Usage: "Native web view rectangle as x,y,width,height",
			Value: "0,0,390,844",
		},
		&cli.StringFlag{Name: "viewport", Usage: "Web viewport as width,height (default: the sandbox page's)"},
		&cli.StringFlag{Name: "user-agent", Usage: "Override navigator.userAgent"},
		&cli.StringFlag{Name: "tab-bar", Usage: "Safari tab bar position (top, bottom)"},
		&cli.BoolFlag{Name: "scrolled", Usage: "Treat the page as scrolled"},
	},
	Action: runTranslate,
}

func runTranslate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Close()

	rect, err := parseRect(c.String("webview"))
	if err != nil {
		return err
	}

	engine := jsengine.New()
	defer engine.Close()
	if err := engine.RunScript(pageOverrides(c)); err != nil {
		return err
	}

	settings := cfg.Settings
	if pos := c.String("tab-bar"); pos != "" {
		settings.SafariTabBarPosition = pos
	}

	b, err := webbridge.New(engine, &fixedWebView{rect: rect}, nil, webbridge.Options{
		PlatformVersion: cfg.PlatformVersion,
		Settings:        config.NewSettings(settings),
	})
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := b.TranslateWebCoords(c.Context, core.Point{X: c.Float64("x"), Y: c.Float64("y")})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s,%s\n", formatCoord(p.X), formatCoord(p.Y))
	return nil
}

// pageOverrides builds the script applying the page-related flags.
func pageOverrides(c *cli.Context) string {
	var b strings.Builder
	if v := c.String("viewport"); v != "" {
		if w, h, err := parsePair(v); err == nil {
			fmt.Fprintf(&b, "window.innerWidth = %s; window.innerHeight = %s;\n", formatCoord(w), formatCoord(h))
		}
	}
	if ua := c.String("user-agent"); ua != "" {
		fmt.Fprintf(&b, "navigator.userAgent = %s;\n", strconv.Quote(ua))
	}
	if c.Bool("scrolled") {
		b.WriteString("document.documentElement.scrollTop = 100;\n")
	}
	return b.String()
}

func parseRect(s string) (core.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Rect{}, fmt.Errorf("invalid rectangle %q: want x,y,width,height", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Rect{}, fmt.Errorf("invalid rectangle %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return core.Rect{}, fmt.Errorf("invalid rectangle %q: size must be positive", s)
	}
	return core.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func parsePair(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid pair %q", s)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fixedWebView is a native proxy whose only element is one web view.
type fixedWebView struct {
	rect core.Rect
}

func (f *fixedWebView) FindElements(_ context.Context, using, value string) ([]string, error) {
	if using == "class name" && value == "XCUIElementTypeWebView" {
		return []string{"webview"}, nil
	}
	return nil, nil
}

func (f *fixedWebView) ElementRect(_ context.Context, elementID string) (core.Rect, error) {
	if elementID != "webview" {
		return core.Rect{}, core.ErrElementNotFound
	}
	return f.rect, nil
}

func (f *fixedWebView) WindowRect(context.Context) (core.Rect, error) {
	return f.rect, nil
}

func (f *fixedWebView) Tap(_ context.Context, x, y float64) error {
	logger.Info("Offline tap at (%v, %v) ignored", x, y)
	return nil
}
