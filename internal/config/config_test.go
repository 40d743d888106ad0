package config

import "testing"

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.DataRoot == "" {
		t.Error("DataRoot left empty")
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8787 {
		t.Errorf("Port = %d, want 8787", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.GitHub.APIBaseURL != "https://api.github.com" {
		t.Errorf("GitHub.APIBaseURL = %q, want https://api.github.com", cfg.GitHub.APIBaseURL)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		DataRoot: "/custom/data",
		Host:     "0.0.0.0",
		Port:     9999,
		LogLevel: "debug",
		GitHub:   GitHubConfig{APIBaseURL: "https://ghe.example.com/api/v3"},
	}
	applyDefaults(cfg)

	if cfg.DataRoot != "/custom/data" {
		t.Errorf("DataRoot overwritten: %q", cfg.DataRoot)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host overwritten: %q", cfg.Host)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port overwritten: %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel overwritten: %q", cfg.LogLevel)
	}
	if cfg.GitHub.APIBaseURL != "https://ghe.example.com/api/v3" {
		t.Errorf("GitHub.APIBaseURL overwritten: %q", cfg.GitHub.APIBaseURL)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("AGENTFLEET_DATA", "/tmp/agentfleet-test-data")
	t.Setenv("AGENTFLEET_LOG_LEVEL", "debug")
	t.Setenv("AGENTFLEET_GITHUB_APP_ID", "12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/tmp/agentfleet-test-data" {
		t.Errorf("DataRoot = %q, want /tmp/agentfleet-test-data", cfg.DataRoot)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.GitHub.AppID != "12345" {
		t.Errorf("GitHub.AppID = %q, want 12345", cfg.GitHub.AppID)
	}
	// Unset values still get defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default 127.0.0.1", cfg.Host)
	}
}
