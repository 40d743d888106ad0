// Package config loads engine configuration from the environment (and an
// optional .agentfleet.yaml) via Viper, grounded on the teacher's
// internal/config/config.go (Load unmarshals into a struct, then
// applyDefaults fills the zero values) with the section set narrowed to
// what SPEC_FULL.md §6 actually names: data root, transport bind address
// (reserved), log level, assistant binary override, and GitHub App
// credentials for internal/gitpr.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// GitHubConfig carries the GitHub App credentials internal/ghauth needs to
// mint installation tokens for internal/gitpr's push/PR operations.
type GitHubConfig struct {
	AppID          string `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	APIBaseURL     string `mapstructure:"api_base_url"`
}

// Config is the full engine configuration, unmarshaled from environment
// variables prefixed AGENTFLEET_ plus an optional .agentfleet.yaml.
type Config struct {
	DataRoot      string       `mapstructure:"data_root"`
	Port          int          `mapstructure:"port"`
	Host          string       `mapstructure:"host"`
	LogLevel      string       `mapstructure:"log_level"`
	AssistantBin  string       `mapstructure:"assistant_bin"`
	GitHub        GitHubConfig `mapstructure:"github"`
}

// Load reads configuration from the environment (prefix AGENTFLEET_) and,
// if present, a ./.agentfleet.yaml, then applies defaults for anything left
// unset. Mirrors the teacher's Load/applyDefaults split.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTFLEET")
	v.AutomaticEnv()

	v.SetConfigName(".agentfleet")
	v.SetConfigType("yaml")
	if cwd, err := os.Getwd(); err == nil {
		v.AddConfigPath(cwd)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading .agentfleet.yaml: %w", err)
		}
	}

	_ = v.BindEnv("data_root", "AGENTFLEET_DATA")
	_ = v.BindEnv("port", "AGENTFLEET_PORT")
	_ = v.BindEnv("host", "AGENTFLEET_HOST")
	_ = v.BindEnv("log_level", "AGENTFLEET_LOG_LEVEL")
	_ = v.BindEnv("assistant_bin", "AGENTFLEET_ASSISTANT_BIN")
	_ = v.BindEnv("github.app_id", "AGENTFLEET_GITHUB_APP_ID")
	_ = v.BindEnv("github.installation_id", "AGENTFLEET_GITHUB_INSTALLATION_ID")
	_ = v.BindEnv("github.private_key_path", "AGENTFLEET_GITHUB_PRIVATE_KEY_PATH")
	_ = v.BindEnv("github.api_base_url", "AGENTFLEET_GITHUB_API_BASE_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataRoot == "" {
		home, _ := os.UserHomeDir()
		cfg.DataRoot = home + "/.agentfleet"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8787
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com"
	}
}
