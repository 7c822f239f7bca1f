// Package config loads service configuration from an optional JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the runtime configuration for the tracking service.
// Fields may be loaded from a JSON file and overridden by environment
// variables.
type Config struct {
	ListenAddr   string `json:"listen_addr"`
	BackendURL   string `json:"backend_url"`
	DatabasePath string `json:"database_path"`
	OutputDir    string `json:"output_dir"`

	// SimulateBackend replaces the remote backend with the in-process
	// simulator. Used for development and demos without a GPU box.
	SimulateBackend bool `json:"simulate_backend"`

	// Tracking defaults applied when a request omits them.
	DefaultModel        string  `json:"default_model"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IOUThreshold        float64 `json:"iou_threshold"`
	InferenceSize       int     `json:"inference_size"`
	PollIntervalMs      int     `json:"poll_interval_ms"`
	RequestTimeoutSec   int     `json:"request_timeout_sec"`

	// Rearing analysis defaults.
	FPS float64 `json:"fps"`

	// RunRetentionDays prunes archived analysis runs older than this many
	// days at startup. Zero keeps runs forever.
	RunRetentionDays int `json:"run_retention_days"`

	// Authentication
	AuthEnabled  bool   `json:"auth_enabled"`
	AuthUsername string `json:"auth_username"`
	AuthPassword string `json:"auth_password"`
	JWTSecret    string `json:"jwt_secret"`
	TokenExpiry  string `json:"token_expiry"`
}

// Default returns a Config populated with standard defaults.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		BackendURL:          "http://localhost:8000",
		DatabasePath:        "micetrack.db",
		OutputDir:           "results",
		DefaultModel:        "yolov11s_pose.pt",
		ConfidenceThreshold: 0.5,
		IOUThreshold:        0.45,
		InferenceSize:       640,
		PollIntervalMs:      500,
		RequestTimeoutSec:   30,
		FPS:                 30,
		AuthUsername:        "admin",
		TokenExpiry:         "24h",
	}
}

// Load reads the configuration: defaults, then the JSON file at path (when
// non-empty), then environment variables. A missing file at an explicitly
// given path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "MICETRACK_LISTEN_ADDR")
	setString(&c.BackendURL, "MICETRACK_BACKEND_URL")
	setString(&c.DatabasePath, "MICETRACK_DB_PATH")
	setString(&c.OutputDir, "MICETRACK_OUTPUT_DIR")
	setString(&c.DefaultModel, "MICETRACK_DEFAULT_MODEL")
	setBool(&c.SimulateBackend, "MICETRACK_SIMULATE_BACKEND")
	setInt(&c.RunRetentionDays, "MICETRACK_RUN_RETENTION_DAYS")
	setBool(&c.AuthEnabled, "AUTH_ENABLED")
	setString(&c.AuthUsername, "AUTH_USERNAME")
	setString(&c.AuthPassword, "AUTH_PASSWORD")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.TokenExpiry, "JWT_EXPIRY")
}

// Validate checks ranges and normalizes obviously broken values.
func (c *Config) Validate() error {
	if c.BackendURL == "" && !c.SimulateBackend {
		return fmt.Errorf("backend_url is required unless simulate_backend is set")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("confidence_threshold must be in (0, 1), got %v", c.ConfidenceThreshold)
	}
	if c.IOUThreshold <= 0 || c.IOUThreshold >= 1 {
		return fmt.Errorf("iou_threshold must be in (0, 1), got %v", c.IOUThreshold)
	}
	if c.InferenceSize <= 0 {
		c.InferenceSize = 640
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 500
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 30
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %v", c.FPS)
	}
	if c.RunRetentionDays < 0 {
		return fmt.Errorf("run_retention_days must not be negative, got %d", c.RunRetentionDays)
	}
	if c.AuthEnabled && c.AuthPassword == "" {
		return fmt.Errorf("auth_password is required when auth is enabled")
	}
	return nil
}

// PollInterval returns the poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RequestTimeout returns the backend request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}
