// Package config loads daemon configuration from defaults, an optional YAML
// file and PATCHFIELD_* environment variables, in that order of precedence.
//
// Environment overrides follow a forgiving rule: a value that fails to parse or
// falls outside its bounds is logged at Warn and ignored, keeping the value from
// the layer below. File values are not forgiven; Validate rejects them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Bounds checked by Validate and by environment overrides.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000

	MinBufferSize = 16
	MaxBufferSize = 4096

	MaxDeviceChannels = 8

	MinWatchdogTimeout = 10 * time.Millisecond
	MaxWatchdogTimeout = 10 * time.Second

	MinHandshakeRetries = 1
	MaxHandshakeRetries = 10000

	MinHandshakeInterval = time.Millisecond
	MaxHandshakeInterval = time.Second
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Redis configures the optional event publisher.
type Redis struct {
	// Addr is host:port of the server; empty disables publishing.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Config is the daemon configuration.
type Config struct {
	SampleRate     int    `yaml:"sample_rate"`
	BufferSize     int    `yaml:"buffer_size"`
	InputChannels  int    `yaml:"input_channels"`
	OutputChannels int    `yaml:"output_channels"`
	Rendezvous     string `yaml:"rendezvous"`

	WatchdogTimeout   time.Duration `yaml:"watchdog_timeout"`
	HandshakeRetries  int           `yaml:"handshake_retries"`
	HandshakeInterval time.Duration `yaml:"handshake_interval"`

	AdminAddr string `yaml:"admin_addr"`
	Redis     Redis  `yaml:"redis"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SampleRate:        48000,
		BufferSize:        256,
		InputChannels:     2,
		OutputChannels:    2,
		Rendezvous:        "@patchfield-shm",
		WatchdogTimeout:   time.Second,
		HandshakeRetries:  100,
		HandshakeInterval: 10 * time.Millisecond,
		AdminAddr:         "127.0.0.1:7380",
		Redis:             Redis{Channel: "patchfield:events"},
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyEnvironment(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Load",
		"path":        path,
		"sample_rate": cfg.SampleRate,
		"buffer_size": cfg.BufferSize,
		"rendezvous":  cfg.Rendezvous,
		"admin_addr":  cfg.AdminAddr,
		"redis":       cfg.Redis.Addr != "",
	}).Info("Configuration loaded")
	return cfg, nil
}

// Decode overlays YAML data onto c. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Encode returns c as YAML.
func (c *Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate returns an error naming the first field out of bounds.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate:
		return invalid("sample_rate", c.SampleRate)
	case c.BufferSize < MinBufferSize || c.BufferSize > MaxBufferSize:
		return invalid("buffer_size", c.BufferSize)
	case c.InputChannels < 0 || c.InputChannels > MaxDeviceChannels:
		return invalid("input_channels", c.InputChannels)
	case c.OutputChannels < 0 || c.OutputChannels > MaxDeviceChannels:
		return invalid("output_channels", c.OutputChannels)
	case c.Rendezvous == "":
		return invalid("rendezvous", c.Rendezvous)
	case c.WatchdogTimeout < MinWatchdogTimeout || c.WatchdogTimeout > MaxWatchdogTimeout:
		return invalid("watchdog_timeout", c.WatchdogTimeout)
	case c.HandshakeRetries < MinHandshakeRetries || c.HandshakeRetries > MaxHandshakeRetries:
		return invalid("handshake_retries", c.HandshakeRetries)
	case c.HandshakeInterval < MinHandshakeInterval || c.HandshakeInterval > MaxHandshakeInterval:
		return invalid("handshake_interval", c.HandshakeInterval)
	case c.Redis.Addr != "" && c.Redis.Channel == "":
		return invalid("redis.channel", c.Redis.Channel)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return invalid("log_format", c.LogFormat)
	}
	return nil
}

func invalid(field string, value any) error {
	return fmt.Errorf("%w: %s = %v", ErrInvalid, field, value)
}
