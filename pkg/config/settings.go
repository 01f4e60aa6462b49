package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/devicelab-dev/webview-bridge/pkg/core"
)

// Visibility modes for browser chrome that may or may not be on screen.
const (
	VisibilityVisible   = "visible"
	VisibilityInvisible = "invisible"
	VisibilityDetect    = "detect"
)

// Tab bar positions.
const (
	TabBarTop    = "top"
	TabBarBottom = "bottom"
)

// SettingsValues is a snapshot of the runtime-tunable settings.
type SettingsValues struct {
	NativeWebTap                         bool   `yaml:"nativeWebTap" json:"nativeWebTap"`
	NativeWebTapStrict                   bool   `yaml:"nativeWebTapStrict" json:"nativeWebTapStrict"`
	NativeWebTapTabBarVisibility         string `yaml:"nativeWebTapTabBarVisibility" json:"nativeWebTapTabBarVisibility"`
	NativeWebTapSmartAppBannerVisibility string `yaml:"nativeWebTapSmartAppBannerVisibility" json:"nativeWebTapSmartAppBannerVisibility"`
	SafariTabBarPosition                 string `yaml:"safariTabBarPosition" json:"safariTabBarPosition"`
}

// Settings is a concurrency-safe settings store that clients may update mid-session.
type Settings struct {
	mu sync.RWMutex
	v  SettingsValues
}

// NewSettings creates a store seeded with initial.
func NewSettings(initial SettingsValues) *Settings {
	return &Settings{v: initial}
}

// Get returns the current settings.
func (s *Settings) Get() SettingsValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Update merges patch into the current settings. Unknown keys are rejected
// and leave the store untouched.
func (s *Settings) Update(patch map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := json.Marshal(s.v)
	if err != nil {
		return err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(current, &merged); err != nil {
		return err
	}
	for k, v := range patch {
		if _, ok := merged[k]; !ok {
			return core.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown setting %q", k))
		}
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	var next SettingsValues
	if err := json.Unmarshal(data, &next); err != nil {
		return core.ErrInvalidArgument.WithCause(err)
	}
	s.v = next
	return nil
}
