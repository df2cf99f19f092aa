package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile_ReturnsDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path == "" {
		t.Fatalf("expected config path")
	}
	if got := cfg.Host(); got != DefaultHost {
		t.Fatalf("cfg.Host() = %q, want %q", got, DefaultHost)
	}
	if got := cfg.Port(); got != DefaultPort {
		t.Fatalf("cfg.Port() = %d, want %d", got, DefaultPort)
	}
	if got := cfg.Model(); got != DefaultModel {
		t.Fatalf("cfg.Model() = %q, want %q", got, DefaultModel)
	}
	if got := cfg.MaxOutputTokens(); got != DefaultMaxOutputTokens {
		t.Fatalf("cfg.MaxOutputTokens() = %d, want %d", got, DefaultMaxOutputTokens)
	}
}

func TestEnsureDefaultConfig_CreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := EnsureDefaultConfig()
	if err != nil {
		t.Fatalf("EnsureDefaultConfig() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist at %s: %v", path, err)
	}

	cfg, gotPath, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if filepath.Clean(gotPath) != filepath.Clean(path) {
		t.Fatalf("Load() path = %s, want %s", gotPath, path)
	}
	if got := cfg.MemoryBaseURL(); got != DefaultMemoryBaseURL {
		t.Fatalf("cfg.MemoryBaseURL() = %q, want %q", got, DefaultMemoryBaseURL)
	}
}

func TestLoad_ParsesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".memochat")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	content := "server:\n  host: 0.0.0.0\n  port: 9090\ngemini:\n  model: gemini-1.5-pro\n  max_output_tokens: 512\nmemory:\n  base_url: http://localhost:8765/\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Host(); got != "0.0.0.0" {
		t.Fatalf("cfg.Host() = %q, want %q", got, "0.0.0.0")
	}
	if got := cfg.Port(); got != 9090 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 9090)
	}
	if got := cfg.Model(); got != "gemini-1.5-pro" {
		t.Fatalf("cfg.Model() = %q, want %q", got, "gemini-1.5-pro")
	}
	if got := cfg.MaxOutputTokens(); got != 512 {
		t.Fatalf("cfg.MaxOutputTokens() = %d, want %d", got, 512)
	}
	// Trailing slash trimmed so URL joining is predictable.
	if got := cfg.MemoryBaseURL(); got != "http://localhost:8765" {
		t.Fatalf("cfg.MemoryBaseURL() = %q, want %q", got, "http://localhost:8765")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".memochat")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 99999\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEMOCHAT_GEMINI_API_KEY", "env-key")
	t.Setenv("MEMOCHAT_PORT", "7070")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.GeminiAPIKey(); got != "env-key" {
		t.Fatalf("cfg.GeminiAPIKey() = %q, want %q", got, "env-key")
	}
	if got := cfg.Port(); got != 7070 {
		t.Fatalf("cfg.Port() = %d, want %d", got, 7070)
	}
}
