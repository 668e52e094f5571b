// Package config holds the on-disk daemon configuration: the device port
// selection, the mode roster with its key bindings, and the session tuning
// knobs. The file lives in the platform config directory as YAML; a missing
// file means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pedalworks/softstepd/internal/keysafety"
	"github.com/pedalworks/softstepd/internal/session"
)

// Mode is one roster entry. Standalone modes (standalone_ prefix) carry the
// onboard preset program they select; any mode may claim a key that selects
// it.
type Mode struct {
	Name string `yaml:"name"`

	// Program is the onboard preset for standalone modes, absent otherwise.
	Program *uint8 `yaml:"program,omitempty"`

	// Key binds a grid key (0-9) to select this mode.
	Key *int `yaml:"key,omitempty"`
}

// KeySafety selects the sensor arbitration strategy, with optional per-mode
// overrides.
type KeySafety struct {
	Default string            `yaml:"default"`
	PerMode map[string]string `yaml:"per_mode,omitempty"`
}

// Config is the full daemon configuration.
type Config struct {
	// InPort and OutPort are case-insensitive substring patterns; empty
	// means auto-detect.
	InPort  string `yaml:"in_port"`
	OutPort string `yaml:"out_port"`

	InitialMode     string `yaml:"initial_mode"`
	InitialLastMode string `yaml:"initial_last_mode,omitempty"`

	// BackgroundProgram is parked while crossing out of standalone;
	// DisconnectProgram is selected when the daemon says goodbye.
	BackgroundProgram uint8 `yaml:"background_program"`
	DisconnectProgram uint8 `yaml:"disconnect_program"`

	// Backlight absent leaves the backlight unmanaged.
	Backlight           *bool `yaml:"backlight,omitempty"`
	DisconnectBacklight *bool `yaml:"disconnect_backlight,omitempty"`

	FullPressure bool `yaml:"full_pressure"`

	KeySafety KeySafety `yaml:"key_safety"`

	IdentityRequestDelayMS int `yaml:"identity_request_delay_ms"`
	PingIntervalMS         int `yaml:"ping_interval_ms"`

	Modes []Mode `yaml:"modes"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file exists: auto-detected
// ports, the mode chooser as the only mode, adjacent-key lockout.
func Default() *Config {
	return &Config{
		InitialMode:            "mode_select",
		KeySafety:              KeySafety{Default: keysafety.AdjacentLockout.String()},
		IdentityRequestDelayMS: 500,
		LogLevel:               "info",
		Modes:                  []Mode{{Name: "mode_select"}},
	}
}

// configDir returns the platform-appropriate config directory.
func configDir() (string, error) {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, "softstepd"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config from path, or from the default location when path
// is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.normalize()
	return &cfg, nil
}

// normalize fills the zero values a hand-edited file tends to leave out.
func (c *Config) normalize() {
	if c.KeySafety.Default == "" {
		c.KeySafety.Default = keysafety.AdjacentLockout.String()
	}
	if c.IdentityRequestDelayMS <= 0 {
		c.IdentityRequestDelayMS = 500
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Modes) == 0 {
		c.Modes = Default().Modes
		if c.InitialMode == "" {
			c.InitialMode = Default().InitialMode
		}
	}
}

// Save writes the config to path, or to the default location when path is
// empty, creating the directory as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the config for contradictions a typo would introduce.
func (c *Config) Validate() error {
	if _, err := keysafety.ParseStrategy(c.KeySafety.Default); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Modes))
	for _, m := range c.Modes {
		if m.Name == "" {
			return fmt.Errorf("mode with empty name")
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate mode: %s", m.Name)
		}
		names[m.Name] = true

		if session.CategoryOf(m.Name) == session.CategoryHidden {
			return fmt.Errorf("mode name is reserved: %s", m.Name)
		}
		standalone := session.CategoryOf(m.Name) == session.CategoryStandalone
		switch {
		case standalone && m.Program == nil:
			return fmt.Errorf("standalone mode needs a program: %s", m.Name)
		case !standalone && m.Program != nil:
			return fmt.Errorf("only standalone modes take a program: %s", m.Name)
		case m.Program != nil && *m.Program > 127:
			return fmt.Errorf("program out of range for %s: %d", m.Name, *m.Program)
		}
		if m.Key != nil && (*m.Key < 0 || *m.Key > 9) {
			return fmt.Errorf("key out of range for %s: %d", m.Name, *m.Key)
		}
	}

	for mode, strat := range c.KeySafety.PerMode {
		if !names[mode] {
			return fmt.Errorf("key safety override for unknown mode: %s", mode)
		}
		if _, err := keysafety.ParseStrategy(strat); err != nil {
			return err
		}
	}

	if c.InitialMode != "" && !names[c.InitialMode] {
		return fmt.Errorf("initial mode not in roster: %s", c.InitialMode)
	}
	if c.InitialLastMode != "" && !names[c.InitialLastMode] {
		return fmt.Errorf("initial last mode not in roster: %s", c.InitialLastMode)
	}
	if c.BackgroundProgram > 127 {
		return fmt.Errorf("background program out of range: %d", c.BackgroundProgram)
	}
	if c.DisconnectProgram > 127 {
		return fmt.Errorf("disconnect program out of range: %d", c.DisconnectProgram)
	}
	if c.PingIntervalMS < 0 {
		return fmt.Errorf("ping interval must not be negative: %d", c.PingIntervalMS)
	}
	return nil
}

// SessionConfig converts the file values into the session driver's
// construction parameters.
func (c *Config) SessionConfig() (session.Config, error) {
	def, err := keysafety.ParseStrategy(c.KeySafety.Default)
	if err != nil {
		return session.Config{}, err
	}
	var perMode map[string]keysafety.Strategy
	if len(c.KeySafety.PerMode) > 0 {
		perMode = make(map[string]keysafety.Strategy, len(c.KeySafety.PerMode))
		for mode, strat := range c.KeySafety.PerMode {
			s, err := keysafety.ParseStrategy(strat)
			if err != nil {
				return session.Config{}, fmt.Errorf("key safety for %s: %w", mode, err)
			}
			perMode[mode] = s
		}
	}
	return session.Config{
		InitialMode:          c.InitialMode,
		InitialLastMode:      c.InitialLastMode,
		IdentityRequestDelay: time.Duration(c.IdentityRequestDelayMS) * time.Millisecond,
		PingInterval:         time.Duration(c.PingIntervalMS) * time.Millisecond,
		KeySafetyStrategy:    def,
		ModeKeySafety:        perMode,
		Backlight:            c.Backlight,
		DisconnectBacklight:  c.DisconnectBacklight,
		BackgroundProgram:    c.BackgroundProgram,
		DisconnectProgram:    c.DisconnectProgram,
		FullPressure:         c.FullPressure,
	}, nil
}

// ApplyModes registers the roster on a driver and wires the configured key
// bindings. Modes are all registered before any key binds, so alternate-mode
// lookups see the full roster.
func (c *Config) ApplyModes(d *session.Driver) error {
	for _, m := range c.Modes {
		var err error
		if m.Program != nil {
			err = d.AddStandaloneMode(m.Name, *m.Program)
		} else {
			err = d.AddMode(m.Name)
		}
		if err != nil {
			return err
		}
	}
	for _, m := range c.Modes {
		if m.Key == nil {
			continue
		}
		if _, err := d.BindModeButton(*m.Key, m.Name); err != nil {
			return err
		}
	}
	return nil
}
