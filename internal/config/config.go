package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	X         XConfig         `yaml:"x"`
	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Canonical CanonicalConfig `yaml:"canonical"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Images    ImagesConfig    `yaml:"images"`
	Posting   PostingConfig   `yaml:"posting"`
	Security  SecurityConfig  `yaml:"security"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
	// PublicURL prefixes review links returned by the API.
	PublicURL string `yaml:"publicURL"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type XConfig struct {
	APIBaseURL    string  `yaml:"apiBaseURL"`
	UploadBaseURL string  `yaml:"uploadBaseURL"`
	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	MaxAttempts   int     `yaml:"maxAttempts"`
	BaseBackoffMs int     `yaml:"baseBackoffMs"`
	TimeoutSec    int     `yaml:"timeoutSec"`
}

type LLMConfig struct {
	// If empty, read from env OPENAI_API_KEY
	APIKey              string `yaml:"apiKey"`
	APIURL              string `yaml:"apiURL"`
	DefaultModel        string `yaml:"defaultModel"`
	LargeModel          string `yaml:"largeModel"`
	LargeThresholdWords int    `yaml:"largeThresholdWords"`
	JSONRetries         int    `yaml:"jsonRetries"`
	TimeoutSec          int    `yaml:"timeoutSec"`
}

type BudgetConfig struct {
	CapUSD          float64 `yaml:"capUSD"`
	CompressPrompts bool    `yaml:"compressPrompts"`
}

type CanonicalConfig struct {
	FollowRedirects bool `yaml:"followRedirects"`
	MaxRedirects    int  `yaml:"maxRedirects"`
}

type ScrapeConfig struct {
	MinWordCount        int    `yaml:"minWordCount"`
	ReadabilityMinWords int    `yaml:"readabilityMinWords"`
	TimeoutSec          int    `yaml:"timeoutSec"`
	UserAgent           string `yaml:"userAgent"`
	MaxBytes            int64  `yaml:"maxBytes"`
}

type ImagesConfig struct {
	MinWidth    int   `yaml:"minWidth"`
	MaxWidth    int   `yaml:"maxWidth"`
	JPEGQuality int   `yaml:"jpegQuality"`
	MaxBytes    int64 `yaml:"maxBytes"`
}

type PostingConfig struct {
	MaxRetries    int     `yaml:"maxRetries"`
	PaceSeconds   float64 `yaml:"paceSeconds"`
	JitterSeconds float64 `yaml:"jitterSeconds"`
}

type SecurityConfig struct {
	// AESKey seals account tokens at rest: 32 bytes, base64 or hex encoded.
	// If empty, read from env SECRET_AES_KEY
	AESKey string `yaml:"aesKey"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8000", PublicURL: "http://localhost:8000"},
		Storage: StorageConfig{DBPath: "./data/threadify.db"},
		X: XConfig{
			APIBaseURL:    "https://api.twitter.com/2",
			UploadBaseURL: "https://upload.twitter.com/1.1",
			RPS:           2,
			Burst:         10,
			MaxAttempts:   5,
			BaseBackoffMs: 500,
			TimeoutSec:    30,
		},
		LLM: LLMConfig{
			APIURL:              "https://api.openai.com/v1/chat/completions",
			DefaultModel:        "gpt-4o-mini",
			LargeModel:          "gpt-4o",
			LargeThresholdWords: 2500,
			JSONRetries:         2,
			TimeoutSec:          60,
		},
		Budget:    BudgetConfig{CapUSD: 0.02},
		Canonical: CanonicalConfig{FollowRedirects: true, MaxRedirects: 5},
		Scrape: ScrapeConfig{
			MinWordCount:        200,
			ReadabilityMinWords: 100,
			TimeoutSec:          30,
			UserAgent:           "threadify/0.1 (+https://github.com/threadify)",
			MaxBytes:            5 << 20,
		},
		Images:  ImagesConfig{MinWidth: 800, MaxWidth: 1600, JPEGQuality: 85, MaxBytes: 10 << 20},
		Posting: PostingConfig{MaxRetries: 3, PaceSeconds: 3, JitterSeconds: 0.5},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// LoadDotEnv loads a .env file into the process environment if one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ResolveEnv fills in config fields from environment variables.
// Secrets are only read when unset; operational knobs always win when present.
func (c *Config) ResolveEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Security.AESKey == "" {
		c.Security.AESKey = os.Getenv("SECRET_AES_KEY")
	}
	if v := os.Getenv("THREADIFY_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("THREADIFY_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("X_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.X.RPS = f
		}
	}
	c.X.Burst = envInt("X_API_BURST", c.X.Burst)
	c.X.MaxAttempts = envInt("X_API_MAX_ATTEMPTS", c.X.MaxAttempts)
	c.X.BaseBackoffMs = envInt("X_API_BASE_BACKOFF_MS", c.X.BaseBackoffMs)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Budget.CapUSD < 0 {
		return errors.New("budget.capUSD must be >= 0")
	}
	if c.Canonical.MaxRedirects < 0 || (c.Canonical.FollowRedirects && c.Canonical.MaxRedirects == 0) {
		return errors.New("canonical.maxRedirects must be >= 1 when following redirects")
	}
	if c.Posting.MaxRetries < 1 {
		return errors.New("posting.maxRetries must be >= 1")
	}
	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpegQuality must be in 1..100, got %d", c.Images.JPEGQuality)
	}
	if c.Images.MinWidth > c.Images.MaxWidth {
		return errors.New("images.minWidth must not exceed images.maxWidth")
	}
	if c.Security.AESKey != "" {
		if _, err := c.Security.Key(); err != nil {
			return err
		}
	}
	return nil
}

// Key decodes AESKey. It accepts base64 (std or url, padded or not) or hex.
func (s SecurityConfig) Key() ([]byte, error) {
	raw := strings.TrimSpace(s.AESKey)
	if raw == "" {
		return nil, errors.New("security.aesKey is not set")
	}
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, dec := range decoders {
		if b, err := dec(raw); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	return nil, errors.New("security.aesKey must decode to 32 bytes")
}

// Load reads YAML config from path. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	} else if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ResolveEnv()
	return cfg, cfg.Validate()
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
