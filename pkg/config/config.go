// Package config handles configuration for webview-bridge.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/webview-bridge/pkg/logger"
)

// Defaults applied when the config file leaves a value unset.
const (
	DefaultWDAHost          = "127.0.0.1"
	DefaultWDAPort          = 8100
	DefaultServerAddr       = "127.0.0.1:4780"
	DefaultElementCacheSize = 1024
)

// Config represents the bridge configuration (bridge.yaml).
type Config struct {
	// Native agent connection
	WDA WDAConfig `yaml:"wda"`

	// Device facts the probe cannot derive on its own
	PlatformVersion string `yaml:"platformVersion"` // e.g. "17.4"

	// Atom execution
	AtomWaitTimeoutMs int `yaml:"webviewAtomWaitTimeout"` // 0 = built-in ceiling
	ImplicitWaitMs    int `yaml:"implicitWait"`
	ElementCacheSize  int `yaml:"elementCacheSize"`

	// Initial runtime settings
	Settings SettingsValues `yaml:"settings"`

	// Sandbox page used when no remote debugger is attached
	PageScript string   `yaml:"pageScript"`
	Pages      []string `yaml:"pages"`

	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// WDAConfig locates the WebDriverAgent HTTP server.
type WDAConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromDir looks for bridge.yaml or bridge.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, "bridge.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	configPath = filepath.Join(dir, "bridge.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Default(), nil
}

// ApplyEnv overlays WEBVIEW_BRIDGE_* environment variables, loading a .env
// file from the working directory first when one exists.
func (c *Config) ApplyEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded: %v", err)
	}

	c.WDA.Host = getEnvOrDefault("WEBVIEW_BRIDGE_WDA_HOST", c.WDA.Host)
	c.WDA.Port = getEnvIntOrDefault("WEBVIEW_BRIDGE_WDA_PORT", c.WDA.Port)
	c.PlatformVersion = getEnvOrDefault("WEBVIEW_BRIDGE_PLATFORM_VERSION", c.PlatformVersion)
	c.AtomWaitTimeoutMs = getEnvIntOrDefault("WEBVIEW_BRIDGE_ATOM_WAIT_TIMEOUT_MS", c.AtomWaitTimeoutMs)
	c.ImplicitWaitMs = getEnvIntOrDefault("WEBVIEW_BRIDGE_IMPLICIT_WAIT_MS", c.ImplicitWaitMs)
	c.Server.Addr = getEnvOrDefault("WEBVIEW_BRIDGE_ADDR", c.Server.Addr)
	c.Log.Level = getEnvOrDefault("WEBVIEW_BRIDGE_LOG_LEVEL", c.Log.Level)
	c.Settings.NativeWebTap = getEnvBoolOrDefault("WEBVIEW_BRIDGE_NATIVE_WEB_TAP", c.Settings.NativeWebTap)
	c.Settings.NativeWebTapStrict = getEnvBoolOrDefault("WEBVIEW_BRIDGE_NATIVE_WEB_TAP_STRICT", c.Settings.NativeWebTapStrict)
	c.Settings.SafariTabBarPosition = getEnvOrDefault("WEBVIEW_BRIDGE_TAB_BAR_POSITION", c.Settings.SafariTabBarPosition)
}

func (c *Config) applyDefaults() {
	if c.WDA.Host == "" {
		c.WDA.Host = DefaultWDAHost
	}
	if c.WDA.Port == 0 {
		c.WDA.Port = DefaultWDAPort
	}
	if c.ElementCacheSize <= 0 {
		c.ElementCacheSize = DefaultElementCacheSize
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Log.Path == "" {
		c.Log.Path = GetDefaultLogPath()
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		logger.Warn("ignoring %s=%q: not an integer", key, val)
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
		logger.Warn("ignoring %s=%q: not a boolean", key, val)
	}
	return defaultVal
}
