package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else {
		u, err := url.Parse(cfg.Server.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("server.url %q is not a valid URL: %w", cfg.Server.URL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
		}
	}

	// Audio
	if cfg.Audio.CadenceMillis < 0 {
		errs = append(errs, fmt.Errorf("audio.cadence_ms %d is negative", cfg.Audio.CadenceMillis))
	}
	if cfg.Audio.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d is negative", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.PlaybackSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is negative", cfg.Audio.PlaybackSampleRate))
	}

	// Logging
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}
