package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Storage — all fields required; the pipeline cannot run without the
	// object store.
	if cfg.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if cfg.Storage.Region == "" {
		errs = append(errs, errors.New("storage.region is required"))
	}
	if cfg.Storage.AccessKeyID == "" {
		errs = append(errs, errors.New("storage.access_key_id is required"))
	}
	if cfg.Storage.SecretAccessKey == "" {
		errs = append(errs, errors.New("storage.secret_access_key is required"))
	}

	// Database
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	// Providers
	if cfg.Transcription.Token == "" {
		errs = append(errs, errors.New("transcription.token is required"))
	}
	if cfg.Judge.APIKey == "" {
		errs = append(errs, errors.New("judge.api_key is required"))
	}

	// Room service credentials are forwarded to the web layer only; warn
	// rather than fail so the analysis path can run standalone.
	if cfg.Room.URL == "" {
		slog.Warn("room.url is empty; session tokens for the web layer cannot be issued")
	}

	// Monitor
	if cfg.Monitor.IntervalMs < 0 {
		errs = append(errs, fmt.Errorf("monitor.interval_ms %d must not be negative", cfg.Monitor.IntervalMs))
	}
	if cfg.Monitor.Enabled {
		if cfg.Monitor.FaceModelURL == "" {
			errs = append(errs, errors.New("monitor.face_model_url is required when the monitor is enabled"))
		}
		if cfg.Monitor.VoiceModelURL == "" {
			errs = append(errs, errors.New("monitor.voice_model_url is required when the monitor is enabled"))
		}
	}

	return errors.Join(errs...)
}
