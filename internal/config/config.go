package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP listener and request limits
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	StaticDir      string        `mapstructure:"static_dir"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	// per client IP, applied to the POST routes
	RateLimitEvery time.Duration `mapstructure:"rate_limit_every"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// LLMConfig selects the generative backend used for summaries and chat
type LLMConfig struct {
	Backend    string        `mapstructure:"backend"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"` // 0 disables the summary cache
}

// OCRConfig tunes the text extraction engine
type OCRConfig struct {
	Languages     []string      `mapstructure:"languages"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

// SessionConfig selects where session contexts live
type SessionConfig struct {
	Store         string        `mapstructure:"store"`
	TTL           time.Duration `mapstructure:"ttl"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Dir    string `mapstructure:"dir"`
	Stdout bool   `mapstructure:"stdout"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

var defaultModels = map[string]string{
	BackendGemini:    "gemini-2.5-flash",
	BackendOpenAI:    "gpt-4o-mini",
	BackendAnthropic: "claude-sonnet-4-20250514",
	BackendOllama:    "llama3:latest",
}

var defaultBaseURLs = map[string]string{
	BackendGemini:    "https://generativelanguage.googleapis.com",
	BackendOpenAI:    "https://api.openai.com",
	BackendAnthropic: "https://api.anthropic.com",
	BackendOllama:    "http://localhost:11434",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("server.max_upload_bytes", int64(10<<20))
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 200*time.Second)
	v.SetDefault("server.rate_limit_every", 600*time.Millisecond)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("llm.backend", BackendGemini)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 1)
	v.SetDefault("llm.cache_ttl", time.Duration(0))

	v.SetDefault("ocr.languages", []string{"eng"})
	v.SetDefault("ocr.timeout", 60*time.Second)
	v.SetDefault("ocr.max_concurrent", int64(2))

	v.SetDefault("session.store", StoreMemory)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.sqlite_path", "mediscan.db")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.stdout", true)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.dir", "logs")
}

// Load reads configuration from an optional file and MEDISCAN_* environment
// variables. GOOGLE_API_KEY is honored as the generative API key. An empty
// path searches ./config.{yaml,json,toml} and ./config/; a missing file is
// not an error in that case.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MEDISCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "MEDISCAN_LLM_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	cfg.LLM.applyBackendDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout < cfg.AnalyzeBudget() {
		cfg.Server.WriteTimeout = cfg.AnalyzeBudget()
	}
	return cfg, nil
}

// retryPause bounds the wait between generative attempts.
const retryPause = time.Second

// responseSlack covers decoding, storage and writing the response.
const responseSlack = 10 * time.Second

// AnalyzeBudget is the longest an analyze request may take: the OCR timeout
// (which also bounds the wait for an OCR slot), every generative attempt with
// the pauses between them, and a margin for the rest of the request.
func (c Config) AnalyzeBudget() time.Duration {
	attempts := time.Duration(c.LLM.MaxRetries + 1)
	return c.OCR.Timeout + attempts*c.LLM.Timeout + time.Duration(c.LLM.MaxRetries)*retryPause + responseSlack
}

func (c *LLMConfig) applyBackendDefaults() {
	if c.Model == "" {
		c.Model = defaultModels[c.Backend]
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURLs[c.Backend]
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Validate checks structural settings. A missing API key is deliberately not
// checked here: the generative call reports it when it is first invoked.
func (c Config) Validate() error {
	if _, ok := defaultModels[c.LLM.Backend]; !ok {
		return fmt.Errorf("unknown llm backend: %q", c.LLM.Backend)
	}
	switch c.Session.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown session store: %q", c.Session.Store)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.OCR.MaxConcurrent <= 0 {
		return fmt.Errorf("ocr.max_concurrent must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	return nil
}

// LoadDotEnv copies KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}
