package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/driver/wda"
	"github.com/devicelab-dev/webview-bridge/pkg/jsengine"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
	"github.com/devicelab-dev/webview-bridge/pkg/server"
	"github.com/devicelab-dev/webview-bridge/pkg/webbridge"
)

const (
	shutdownTimeout  = 5 * time.Second
	agentPollDelay   = 500 * time.Millisecond
	agentPollRetries = 20
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the bridge HTTP API",
	Description: `Starts an HTTP API over a bridge session. Web content is hosted by the
sandbox page; native coordinates come from WebDriverAgent when --wda is set.

Examples:
  webview-bridge serve
  webview-bridge serve --page checkout.js --addr 127.0.0.1:4780
  webview-bridge serve --wda --bundle-id com.apple.mobilesafari`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "Listen address (default from config: 127.0.0.1:4780)"},
		&cli.StringFlag{Name: "page", Usage: "JavaScript file loaded on top of the sandbox page"},
		&cli.BoolFlag{Name: "wda", Usage: "Use WebDriverAgent as the native agent"},
		&cli.StringFlag{Name: "wda-host", Usage: "WebDriverAgent host", EnvVars: []string{"WDA_HOST"}},
		&cli.IntFlag{Name: "wda-port", Usage: "WebDriverAgent port", EnvVars: []string{"WDA_PORT"}},
		&cli.StringFlag{Name: "bundle-id", Usage: "Application bundle id for the WebDriverAgent session"},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Close()

	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := c.String("page"); v != "" {
		cfg.PageScript = v
	}
	if v := c.String("wda-host"); v != "" {
		cfg.WDA.Host = v
	}
	if v := c.Int("wda-port"); v != 0 {
		cfg.WDA.Port = v
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var agent *wda.Client
	if c.Bool("wda") {
		agent = wda.NewClient(cfg.WDA.Host, cfg.WDA.Port)
		if err := agent.WaitReady(ctx, agentPollDelay, agentPollRetries); err != nil {
			return fmt.Errorf("WebDriverAgent at %s is not reachable: %w", agent.BaseURL(), err)
		}
		if err := agent.CreateSession(ctx, c.String("bundle-id")); err != nil {
			return fmt.Errorf("WebDriverAgent at %s: %w", agent.BaseURL(), err)
		}
		logger.Info("WebDriverAgent session %s created", agent.SessionID())
	}

	sess, err := newSession(cfg, agent)
	if err != nil {
		return err
	}
	defer sess.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewServer(sess.bridge, Version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving bridge API on %s", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(c.App.Writer, "webview-bridge listening on http://%s\n", cfg.Server.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutting down bridge API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// session ties the sandbox page, the bridge and the optional native agent
// together for the lifetime of a command.
type session struct {
	engine *jsengine.Engine
	bridge *webbridge.Bridge
	agent  *wda.Client
}

func newSession(cfg *config.Config, agent *wda.Client) (*session, error) {
	var page string
	if cfg.PageScript != "" {
		data, err := os.ReadFile(config.ResolvePageScript(cfg.PageScript)) //#nosec G304 -- user-provided page script
		if err != nil {
			return nil, fmt.Errorf("failed to read page script: %w", err)
		}
		page = string(data)
	}

	engine, err := jsengine.NewWithPage(page, cfg.Pages)
	if err != nil {
		return nil, err
	}

	var (
		native  webbridge.NativeProxy
		dialogs webbridge.DialogDetector
	)
	if agent != nil {
		native, dialogs = agent, agent
	}

	b, err := webbridge.New(engine, native, dialogs, webbridge.Options{
		PlatformVersion:  cfg.PlatformVersion,
		AtomWaitTimeout:  time.Duration(cfg.AtomWaitTimeoutMs) * time.Millisecond,
		ImplicitWait:     time.Duration(cfg.ImplicitWaitMs) * time.Millisecond,
		ElementCacheSize: cfg.ElementCacheSize,
		Settings:         config.NewSettings(cfg.Settings),
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.SetAsyncResponder(b.ReceiveAsyncResponse)

	return &session{engine: engine, bridge: b, agent: agent}, nil
}

// Close stops the bridge and the page, then ends the agent session.
func (s *session) Close() {
	s.bridge.Close()
	s.engine.Close()
	if s.agent != nil && s.agent.HasSession() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.agent.DeleteSession(ctx); err != nil {
			logger.Warn("Failed to delete WebDriverAgent session: %v", err)
		}
	}
}
