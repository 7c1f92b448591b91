// Package config loads tester settings from YAML, applies environment
// overrides, and keeps a live copy that can be reloaded on file changes.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"completiontester/logger"
	"completiontester/types"

	"gopkg.in/yaml.v3"
)

const (
	EnvMode  = "COMPLETION_TESTER_MODE"
	EnvDebug = "COMPLETION_TESTER_DEBUG"
)

// Setting paths, as they appear in the YAML file
const (
	PathMode                         = "mode"
	PathInlineTimeout                = "inline_timeout"
	PathSuggestTimeout               = "suggest_timeout"
	PathLoopDelay                    = "loop_delay"
	PathPauseOnUserTyping            = "pause_on_user_typing"
	PathShowTitleButtonsWithoutFocus = "show_title_buttons_without_focus"
	PathLogLevel                     = "log_level"
	PathMetricsAddr                  = "metrics_addr"
	PathTargetPlugin                 = "target_plugin"
	PathNeovim                       = "neovim"
)

// DefaultTargetPlugin is the completion plugin that must be loadable before a run starts
const DefaultTargetPlugin = "copilot"

// Settings is the on-disk configuration. Durations are in milliseconds.
type Settings struct {
	Mode                         string  `yaml:"mode"`
	InlineTimeout                float64 `yaml:"inline_timeout"`
	SuggestTimeout               float64 `yaml:"suggest_timeout"`
	LoopDelay                    float64 `yaml:"loop_delay"`
	PauseOnUserTyping            bool    `yaml:"pause_on_user_typing"`
	ShowTitleButtonsWithoutFocus bool    `yaml:"show_title_buttons_without_focus"`
	LogLevel                     string  `yaml:"log_level"`
	MetricsAddr                  string  `yaml:"metrics_addr"`
	TargetPlugin                 string  `yaml:"target_plugin"`
	Neovim                       Neovim  `yaml:"neovim"`
}

// Neovim configures the Neovim host
type Neovim struct {
	// Address is a socket path or host:port; empty means $NVIM
	Address string `yaml:"address"`
	// Commands maps completion command ids to Ex commands
	Commands map[string]string `yaml:"commands"`
}

// Default returns the settings used when no file is present
func Default() Settings {
	d := types.DefaultConfig()
	return Settings{
		Mode:                         string(d.Mode),
		InlineTimeout:                millis(d.InlineTimeout),
		SuggestTimeout:               millis(d.SuggestTimeout),
		LoopDelay:                    millis(d.LoopDelay),
		PauseOnUserTyping:            d.PauseOnUserTyping,
		ShowTitleButtonsWithoutFocus: d.ShowTitleButtonsWithoutFocus,
		LogLevel:                     "info",
		TargetPlugin:                 DefaultTargetPlugin,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Parse decodes YAML on top of the defaults, so absent keys keep their default
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return s, nil
}

// Load reads path (a missing file yields defaults), applies environment
// overrides and sanitizes the result
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("config: %s not found, using defaults", path)
		case err != nil:
			return Settings{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if s, err = Parse(data); err != nil {
				return Settings{}, err
			}
		}
	}
	s.ApplyEnv(os.Getenv)
	return s.Sanitize(), nil
}

// ApplyEnv overrides settings from environment variables looked up with getenv
func (s *Settings) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvMode)); v != "" {
		s.Mode = v
	}
	if v := strings.TrimSpace(getenv(EnvDebug)); v != "" {
		if on, err := strconv.ParseBool(v); err == nil && on {
			s.LogLevel = "debug"
		}
	}
}

// Sanitize replaces invalid values with defaults: durations must be finite
// and non-negative and the mode must be known
func (s Settings) Sanitize() Settings {
	d := Default()
	s.InlineTimeout = sanitizeNumber(s.InlineTimeout, d.InlineTimeout)
	s.SuggestTimeout = sanitizeNumber(s.SuggestTimeout, d.SuggestTimeout)
	s.LoopDelay = sanitizeNumber(s.LoopDelay, d.LoopDelay)
	if _, err := types.ParseMode(s.Mode); err != nil {
		logger.Warn("config: %v, using %s", err, d.Mode)
		s.Mode = d.Mode
	}
	if _, err := logger.ParseLevel(s.LogLevel); err != nil {
		logger.Warn("config: %v, using %s", err, d.LogLevel)
		s.LogLevel = d.LogLevel
	}
	return s
}

func sanitizeNumber(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fallback
	}
	return v
}

// Core converts sanitized settings into the snapshot the loop consumes
func (s Settings) Core() types.Config {
	mode, err := types.ParseMode(s.Mode)
	if err != nil {
		mode = types.ModeBoth
	}
	return types.Config{
		Mode:                         mode,
		InlineTimeout:                duration(s.InlineTimeout),
		SuggestTimeout:               duration(s.SuggestTimeout),
		LoopDelay:                    duration(s.LoopDelay),
		PauseOnUserTyping:            s.PauseOnUserTyping,
		ShowTitleButtonsWithoutFocus: s.ShowTitleButtonsWithoutFocus,
	}
}

// duration saturates at the largest Duration instead of overflowing
func duration(ms float64) time.Duration {
	d := ms * float64(time.Millisecond)
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}

// Marshal renders settings as YAML
func (s Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
