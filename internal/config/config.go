package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/threadline/internal/pending"
)

// Config represents the global ~/.threadline/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Thread         Thread `toml:"thread"`
	Layout         Layout `toml:"layout"`
	UI             UI     `toml:"ui"`
}

// Thread tunes the history engine of an open conversation.
type Thread struct {
	PageSize int `toml:"page_size"`
	// PendingTimeout is how long a request may stay unanswered, as a
	// duration string such as "5s".
	PendingTimeout string `toml:"pending_timeout"`
	// PaceInterval is the minimum spacing between history requests.
	PaceInterval string `toml:"pace_interval"`
	PaceBurst    int    `toml:"pace_burst"`
	Workers      int    `toml:"workers"`
	// SelfID overrides the local participant id reported by the daemon.
	SelfID string `toml:"self_id"`
}

// Layout holds the geometry rows are measured against.
type Layout struct {
	ThreadWidth   float64 `toml:"thread_width"`
	MaxImageWidth float64 `toml:"max_image_width"`
}

// UI holds terminal presentation settings.
type UI struct {
	// Theme is "dark" or "light".
	Theme string `toml:"theme"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Thread: Thread{
			PageSize:       50,
			PendingTimeout: pending.DefaultTimeout.String(),
			PaceInterval:   "250ms",
			PaceBurst:      2,
			Workers:        4,
		},
		Layout: Layout{
			ThreadWidth:   640,
			MaxImageWidth: 300,
		},
		UI: UI{Theme: "dark"},
	}
}

// Load reads config from the given path. Returns nil config and error if
// the file is missing. Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// PendingTimeoutDuration parses the pending timeout, or returns the default.
func (t Thread) PendingTimeoutDuration() time.Duration {
	return parseDuration(t.PendingTimeout, pending.DefaultTimeout)
}

// PaceIntervalDuration parses the pacing interval, or returns the default.
func (t Thread) PaceIntervalDuration() time.Duration {
	return parseDuration(t.PaceInterval, 250*time.Millisecond)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
