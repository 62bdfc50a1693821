// Package config provides the configuration schema and loader for the Parley
// voice client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to its [slog.Level]. Unrecognised levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig identifies the remote conversational agent.
type ServerConfig struct {
	// URL is the WebSocket endpoint of the remote agent
	// (e.g., "ws://localhost:8000/ws").
	URL string `yaml:"url"`
}

// AudioConfig holds capture and playback device settings.
type AudioConfig struct {
	// CadenceMillis is the interval between outbound chunk flushes.
	// Zero selects the built-in default of 250 ms.
	CadenceMillis int `yaml:"cadence_ms"`

	// CaptureSampleRate is the microphone sample rate in Hz.
	// Zero selects the device default of 48000.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// PlaybackSampleRate is the output device sample rate in Hz.
	// Zero selects the device default of 44100.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
}

// Cadence returns the chunk flush interval as a duration.
func (a AudioConfig) Cadence() time.Duration {
	return time.Duration(a.CadenceMillis) * time.Millisecond
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level controls verbosity. Empty means info.
	Level LogLevel `yaml:"level"`

	// JSON switches log output from human-readable text to JSON lines.
	JSON bool `yaml:"json"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings.
type MetricsConfig struct {
	// ListenAddr is the TCP address the /metrics endpoint listens on
	// (e.g., ":9091"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}
