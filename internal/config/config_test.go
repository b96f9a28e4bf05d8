package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint == "" {
		t.Error("expected non-empty default endpoint")
	}
	if cfg.ReconnectCapSeconds <= 0 {
		t.Error("expected positive reconnect cap")
	}
	if cfg.DescriptorCacheBackend != "memory" {
		t.Errorf("expected default backend 'memory', got %q", cfg.DescriptorCacheBackend)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("TVSTREAM_RECONNECT_CAP_SECONDS", "30")
	defer os.Unsetenv("TVSTREAM_RECONNECT_CAP_SECONDS")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReconnectCapSeconds != 30 {
		t.Errorf("expected 30, got %d", cfg.ReconnectCapSeconds)
	}
	if cfg.ReconnectCap().Seconds() != 30 {
		t.Errorf("expected 30s duration, got %v", cfg.ReconnectCap())
	}
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
