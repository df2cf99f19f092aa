package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.memochat/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// gemini:
//   api_key: ...
//   model: gemini-2.0-flash
//   max_output_tokens: 2000
// memory:
//   base_url: https://api.mem0.ai
//   api_key: ...
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - API keys may also come from MEMOCHAT_GEMINI_API_KEY and
//   MEMOCHAT_MEMORY_API_KEY; the environment wins over the file.

type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Gemini GeminiConfig `yaml:"gemini"`
	Memory MemoryConfig `yaml:"memory"`
	Store  StoreConfig  `yaml:"store"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type GeminiConfig struct {
	APIKey          *string `yaml:"api_key"`
	Model           *string `yaml:"model"`
	MaxOutputTokens *int    `yaml:"max_output_tokens"`
}

type MemoryConfig struct {
	BaseURL *string `yaml:"base_url"`
	APIKey  *string `yaml:"api_key"`
}

type StoreConfig struct {
	DBPath    *string `yaml:"db_path"`
	UploadDir *string `yaml:"upload_dir"`
}

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8090
	DefaultModel           = "gemini-2.0-flash"
	DefaultMaxOutputTokens = 2000
	DefaultMemoryBaseURL   = "https://api.mem0.ai"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".memochat")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.memochat/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	if cfg.MaxOutputTokens() < 1 {
		return nil, "", fmt.Errorf("invalid gemini.max_output_tokens %d in %s", cfg.MaxOutputTokens(), configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Gemini: GeminiConfig{Model: ptr(DefaultModel), MaxOutputTokens: ptr(DefaultMaxOutputTokens)},
		Memory: MemoryConfig{BaseURL: ptr(DefaultMemoryBaseURL)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions; the file may hold API keys.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if v := strings.TrimSpace(os.Getenv("MEMOCHAT_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			return p
		}
	}
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) GeminiAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("MEMOCHAT_GEMINI_API_KEY")); v != "" {
		return v
	}
	if c == nil || c.Gemini.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Gemini.APIKey)
}

func (c *AppConfig) Model() string {
	if c == nil || c.Gemini.Model == nil {
		return DefaultModel
	}
	v := strings.TrimSpace(*c.Gemini.Model)
	if v == "" {
		return DefaultModel
	}
	return v
}

func (c *AppConfig) MaxOutputTokens() int {
	if c == nil || c.Gemini.MaxOutputTokens == nil {
		return DefaultMaxOutputTokens
	}
	return *c.Gemini.MaxOutputTokens
}

func (c *AppConfig) MemoryBaseURL() string {
	if c == nil || c.Memory.BaseURL == nil {
		return DefaultMemoryBaseURL
	}
	v := strings.TrimSpace(*c.Memory.BaseURL)
	if v == "" {
		return DefaultMemoryBaseURL
	}
	return strings.TrimRight(v, "/")
}

func (c *AppConfig) MemoryAPIKey() string {
	if v := strings.TrimSpace(os.Getenv("MEMOCHAT_MEMORY_API_KEY")); v != "" {
		return v
	}
	if c == nil || c.Memory.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(*c.Memory.APIKey)
}

func (c *AppConfig) DBPath() string {
	if c != nil && c.Store.DBPath != nil && strings.TrimSpace(*c.Store.DBPath) != "" {
		return *c.Store.DBPath
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		return "memochat.db"
	}
	return filepath.Join(dir, "memochat.db")
}

func (c *AppConfig) UploadDir() string {
	if c != nil && c.Store.UploadDir != nil && strings.TrimSpace(*c.Store.UploadDir) != "" {
		return *c.Store.UploadDir
	}
	return filepath.Join(os.TempDir(), "memochat-uploads")
}

func ptr[T any](v T) *T { return &v }
