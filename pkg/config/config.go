// Package config loads the obvengine configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/attachment"
	"github.com/ZentaChain/obvengine/pkg/crypto"
)

var ErrInvalid = errors.New("invalid configuration")

// Engine configures the protocol engine and the attachment pipeline
type Engine struct {
	DataDir      string
	DatabasePath string
	LogLevel     string
	// ChunkSize is the cleartext length of attachment chunks
	ChunkSize int
	// AuthEncAlgorithm is "aes256-ctr-hmac" or "chacha20-poly1305"
	AuthEncAlgorithm string
	Workers          int
}

// Relay configures the user data server
type Relay struct {
	Port         int
	DatabasePath string
	// BaseURL is where clients reach the relay
	BaseURL      string
	RateLimit    int
	MaxBodyBytes int64
	UserDataTTL  Duration
}

// Metrics configures the prometheus endpoint; an empty Address disables it
type Metrics struct {
	Address string
}

// Config is the top level configuration
type Config struct {
	Engine  Engine
	Relay   Relay
	Metrics Metrics
}

// Duration is a time.Duration read from a TOML string such as "720h"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Engine: Engine{
			DataDir:          "./obvengine-data",
			LogLevel:         "info",
			ChunkSize:        attachment.DefaultChunkSize,
			AuthEncAlgorithm: "aes256-ctr-hmac",
		},
		Relay: Relay{
			Port:         8080,
			BaseURL:      "http://localhost:8080",
			RateLimit:    600,
			MaxBodyBytes: 8 << 20,
			UserDataTTL:  Duration{30 * 24 * time.Hour},
		},
		Metrics: Metrics{
			Address: "127.0.0.1:9090",
		},
	}
}

// Load parses a TOML document over the defaults and validates the result
func Load(b []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the file at path
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Validate checks the values and fills in the paths derived from DataDir
func (c *Config) Validate() error {
	if c.Engine.DataDir == "" {
		return fmt.Errorf("%w: engine data dir is empty", ErrInvalid)
	}
	if c.Engine.DatabasePath == "" {
		c.Engine.DatabasePath = filepath.Join(c.Engine.DataDir, "engine.db")
	}
	if c.Relay.DatabasePath == "" {
		c.Relay.DatabasePath = filepath.Join(c.Engine.DataDir, "relay.db")
	}
	if _, err := logrus.ParseLevel(c.Engine.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Engine.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalid)
	}
	if _, err := c.Engine.Algorithm(); err != nil {
		return err
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("%w: relay port %d", ErrInvalid, c.Relay.Port)
	}
	if c.Relay.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: relay max body must be positive", ErrInvalid)
	}
	return nil
}

// Algorithm returns the authenticated encryption algorithm byte named in the config
func (e Engine) Algorithm() (byte, error) {
	switch strings.ToLower(e.AuthEncAlgorithm) {
	case "", "aes256-ctr-hmac":
		return crypto.AuthEncAES256CTRThenHMACSHA256, nil
	case "chacha20-poly1305":
		return crypto.AuthEncChaCha20Poly1305, nil
	}
	return 0, fmt.Errorf("%w: unknown authenc algorithm %q", ErrInvalid, e.AuthEncAlgorithm)
}
