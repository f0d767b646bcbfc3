/*
Package config holds the process-wide configuration guiding interactive
pipeline evaluation: capture replay policy, capture budgets, and display
formatting for the rendering collaborator.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/eddy/pkg/domain"
)

// Config guides how the interactive engine works.
type Config struct {
	// EnableCaptureReplay controls whether captured replayable source data is
	// reused across evaluations while still valid. When false, every
	// evaluation invalidates the previous capture and starts a fresh one.
	EnableCaptureReplay bool `yaml:"enable_capture_replay" mapstructure:"enable_capture_replay"`

	// CapturableSources lists the transform kinds whose source data the
	// background capture job snapshots.
	CapturableSources []domain.TransformKind `yaml:"capturable_sources" mapstructure:"capturable_sources"`

	// CaptureDuration bounds how long one background capture runs.
	CaptureDuration time.Duration `yaml:"capture_duration" mapstructure:"capture_duration"`

	// CaptureSizeLimit bounds the bytes one background capture accumulates.
	CaptureSizeLimit int64 `yaml:"capture_size_limit" mapstructure:"capture_size_limit"`

	// DisplayTimestampFormat is the Go reference layout used when element
	// timestamps are rendered. Owned by the display collaborator; carried
	// here so there is a single configuration surface.
	DisplayTimestampFormat string `yaml:"display_timestamp_format" mapstructure:"display_timestamp_format"`

	// DisplayTimezone is the IANA name of the timezone timestamps are
	// rendered in. Empty means the local timezone.
	DisplayTimezone string `yaml:"display_timezone" mapstructure:"display_timezone"`
}

// Default returns the configuration used when nothing is set explicitly.
func Default() *Config {
	return &Config{
		EnableCaptureReplay:    true,
		CapturableSources:      []domain.TransformKind{domain.KindPeriodicSeq},
		CaptureDuration:        60 * time.Second,
		CaptureSizeLimit:       1e9,
		DisplayTimestampFormat: "2006-01-02 15:04:05.000000-0700",
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes on top of the existing values so files only need to
// state what they change. Durations accept "10s" style strings.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return c.Merge(raw)
}

// Merge applies a generic key-value override map (e.g., from --set flags)
// on top of the current values.
func (c *Config) Merge(overrides map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: c,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("applying config overrides: %w", err)
	}
	return nil
}

// Validate checks the invariants evaluation depends on.
func (c *Config) Validate() error {
	if c.CaptureDuration <= 0 {
		return fmt.Errorf("capture_duration must be positive, got %s", c.CaptureDuration)
	}
	if c.CaptureSizeLimit <= 0 {
		return fmt.Errorf("capture_size_limit must be positive, got %d", c.CaptureSizeLimit)
	}
	if c.DisplayTimezone != "" {
		if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
			return fmt.Errorf("display_timezone: %w", err)
		}
	}
	return nil
}

// Capturable returns the capturable source kinds as a lookup set.
func (c *Config) Capturable() map[domain.TransformKind]bool {
	out := make(map[domain.TransformKind]bool, len(c.CapturableSources))
	for _, k := range c.CapturableSources {
		out[k] = true
	}
	return out
}

// Budget returns the capture budget derived from the limits.
func (c *Config) Budget() domain.CaptureBudget {
	return domain.CaptureBudget{
		Duration:  c.CaptureDuration,
		SizeLimit: c.CaptureSizeLimit,
	}
}

// Location resolves the display timezone, defaulting to the local one.
func (c *Config) Location() *time.Location {
	if c.DisplayTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}
