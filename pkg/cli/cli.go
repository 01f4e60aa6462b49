// Package cli provides the command-line interface for webview-bridge.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to bridge.yaml (default: ./bridge.yaml when present)",
		EnvVars: []string{"WEBVIEW_BRIDGE_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "platform-version",
		Usage:   "Device OS version, e.g. 17.4",
		EnvVars: []string{"WEBVIEW_BRIDGE_PLATFORM_VERSION"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Log file path (default: $WEBVIEW_BRIDGE_HOME/logs/bridge.log)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"WEBVIEW_BRIDGE_VERBOSE"},
	},
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "webview-bridge",
		Usage:   "Drive iOS web views through the web inspector and WebDriverAgent",
		Version: Version,
		Description: `webview-bridge runs automation atoms inside a web view, keeps element
handles stable, and maps web coordinates onto the native screen.

Examples:
  webview-bridge serve --page page.js
  webview-bridge serve --wda --wda-port 8100 --bundle-id com.apple.mobilesafari
  webview-bridge translate --x 50 --y 50 --webview 0,0,390,844`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			serveCommand,
			translateCommand,
			versionCommand,
		},
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print the version",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "webview-bridge %s\n", Version)
		return nil
	},
}

// loadConfig resolves the config file, environment and global flags, then
// starts the file logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if v := c.String("platform-version"); v != "" {
		cfg.PlatformVersion = v
	}
	if p := c.String("log-file"); p != "" {
		cfg.Log.Path = p
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	if err := logger.InitWithOptions(cfg.Log.Path, logger.Options{Level: cfg.Log.Level}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
