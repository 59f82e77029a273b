package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel           = "gemini-2.0-flash-exp"
	DefaultMaxTokens       = 2500
	DefaultTemperature     = 0.7
	DefaultUpstreamTimeout = 60
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 3000
	DefaultStoreDriver     = "sqlite"
	DefaultImportDelayMs   = 1000
	DefaultSessionInterval = 1000
	DefaultSessionTimeout  = 300
	DefaultEventCacheTTL   = 86400
)

type Config struct {
	Upstream UpstreamConfig `json:"upstream"`
	Gemini   GeminiConfig   `json:"gemini"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Import   ImportConfig   `json:"import"`
	Prompts  PromptsConfig  `json:"prompts"`
	Session  SessionConfig  `json:"session"`
	Cache    CacheConfig    `json:"cache"`
}

// UpstreamConfig points at a remote generation endpoint. When EndpointURL
// is empty the server calls Gemini directly.
type UpstreamConfig struct {
	EndpointURL string   `json:"endpointUrl,omitempty"`
	BearerToken string   `json:"bearerToken,omitempty"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens"`
	TimeoutSec  int      `json:"timeoutSec"`
}

type GeminiConfig struct {
	APIKey      string   `json:"apiKey,omitempty"`
	BaseURL     string   `json:"baseUrl,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	BearerToken string `json:"bearerToken,omitempty"`
}

type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" or "postgres"
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

type ImportConfig struct {
	DelayMs int `json:"delayMs"`
}

type PromptsConfig struct {
	Dir string `json:"dir,omitempty"`
}

type SessionConfig struct {
	URL        string `json:"url,omitempty"`
	IntervalMs int    `json:"intervalMs"`
	TimeoutSec int    `json:"timeoutSec"`
}

// CacheConfig enables the Redis event analysis cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string `json:"redisUrl,omitempty"`
	TTLSec   int    `json:"ttlSec"`
}

func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			Model:       DefaultModel,
			Temperature: temperature(DefaultTemperature),
			MaxTokens:   DefaultMaxTokens,
			TimeoutSec:  DefaultUpstreamTimeout,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			Path:   filepath.Join(ConfigDir(), "data", "gtm.db"),
		},
		Import: ImportConfig{DelayMs: DefaultImportDelayMs},
		Prompts: PromptsConfig{
			Dir: filepath.Join(ConfigDir(), "prompts"),
		},
		Session: SessionConfig{
			IntervalMs: DefaultSessionInterval,
			TimeoutSec: DefaultSessionTimeout,
		},
		Cache: CacheConfig{TTLSec: DefaultEventCacheTTL},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".kbyg")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KBYG_UPSTREAM_URL"); v != "" {
		cfg.Upstream.EndpointURL = v
	}
	if v := os.Getenv("KBYG_UPSTREAM_TOKEN"); v != "" {
		cfg.Upstream.BearerToken = v
	}
	if v := os.Getenv("KBYG_MODEL"); v != "" {
		cfg.Upstream.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("MCP_BEARER_TOKEN"); v != "" {
		cfg.Server.BearerToken = v
	}
	if v := os.Getenv("KBYG_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := os.Getenv("KBYG_DB_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("KBYG_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
		if os.Getenv("KBYG_DB_DRIVER") == "" {
			cfg.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("KBYG_IMPORT_DELAY_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Import.DelayMs = parsed
		}
	}
	if v := os.Getenv("KBYG_PROMPTS_DIR"); v != "" {
		cfg.Prompts.Dir = v
	}
	if v := os.Getenv("KBYG_SESSION_URL"); v != "" {
		cfg.Session.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = DefaultModel
	}
	// 0 is a valid temperature; only unset or negative values fall back.
	if cfg.Upstream.Temperature == nil || *cfg.Upstream.Temperature < 0 {
		cfg.Upstream.Temperature = temperature(DefaultTemperature)
	}
	if cfg.Upstream.MaxTokens <= 0 {
		cfg.Upstream.MaxTokens = DefaultMaxTokens
	}
	if cfg.Upstream.TimeoutSec <= 0 {
		cfg.Upstream.TimeoutSec = DefaultUpstreamTimeout
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = cfg.Upstream.Model
	}
	if cfg.Gemini.Temperature == nil || *cfg.Gemini.Temperature < 0 {
		cfg.Gemini.Temperature = temperature(*cfg.Upstream.Temperature)
	}
	if cfg.Gemini.MaxTokens <= 0 {
		cfg.Gemini.MaxTokens = cfg.Upstream.MaxTokens
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultConfig().Store.Path
	}
	if cfg.Import.DelayMs < 0 {
		cfg.Import.DelayMs = 0
	}
	if cfg.Session.IntervalMs <= 0 {
		cfg.Session.IntervalMs = DefaultSessionInterval
	}
	if cfg.Session.TimeoutSec <= 0 {
		cfg.Session.TimeoutSec = DefaultSessionTimeout
	}
	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = DefaultEventCacheTTL
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSec) * time.Second
}

func (c *Config) ImportDelay() time.Duration {
	return time.Duration(c.Import.DelayMs) * time.Millisecond
}

func (c *Config) SessionInterval() time.Duration {
	return time.Duration(c.Session.IntervalMs) * time.Millisecond
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSec) * time.Second
}

func (c *Config) EventCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func temperature(v float64) *float64 { return &v }
