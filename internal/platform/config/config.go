package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// PlayerConfig is the YAML-serializable shape of the orchestrator's
// runtime configuration, independent of the orchestrator
// package to keep config free of a domain import.
type PlayerConfig struct {
	ControlPlaneAddr string `yaml:"control_plane_addr"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`

	ManifestURL string `yaml:"manifest_url"`

	AutoPlay                       bool    `yaml:"auto_play"`
	WantedBufferAhead              float64 `yaml:"wanted_buffer_ahead"`
	MaxBufferAhead                 float64 `yaml:"max_buffer_ahead"`
	MaxBufferBehind                float64 `yaml:"max_buffer_behind"`
	EndOfPlay                      float64 `yaml:"end_of_play"`
	ManifestRefreshThrottleSeconds float64 `yaml:"manifest_refresh_throttle_seconds"`
	SwitchCanFlush                 bool    `yaml:"switch_can_flush"`
}

// DefaultPlayerConfig mirrors orchestrator.DefaultConfig in YAML-friendly form.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		ControlPlaneAddr:               ":8080",
		LogLevel:                       "info",
		LogFormat:                      "json",
		AutoPlay:                       true,
		WantedBufferAhead:              10,
		MaxBufferAhead:                 30,
		MaxBufferBehind:                30,
		EndOfPlay:                      0.5,
		ManifestRefreshThrottleSeconds: 5,
	}
}

// LoadYAML reads a PlayerConfig from a YAML file, starting from
// DefaultPlayerConfig so a partial file only overrides what it sets.
func LoadYAML(path string) (PlayerConfig, error) {
	cfg := DefaultPlayerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
