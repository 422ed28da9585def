// Package config loads tiergate settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store kinds accepted by TIERGATE_STORE.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all runtime configuration.
type Config struct {
	APIURL          string
	DataDir         string
	StoreKind       string
	ResolveInterval time.Duration
	RequestTimeout  time.Duration
	ListenAddr      string
	LogLevel        string
	LogFormat       string
	UpgradeURL      string
	RenewalURL      string
	ReturnURL       string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	AllowedOrigins  []string
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	resolveInterval, err := envOrDefaultDuration("TIERGATE_RESOLVE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := envOrDefaultDuration("TIERGATE_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	breakerTimeout, err := envOrDefaultDuration("TIERGATE_BREAKER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	breakerFailures, err := envOrDefaultInt("TIERGATE_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIURL:          strings.TrimRight(envOrDefault("TIERGATE_API_URL", "http://localhost:3000"), "/"),
		DataDir:         envOrDefault("TIERGATE_DATA_DIR", defaultDataDir()),
		StoreKind:       strings.ToLower(envOrDefault("TIERGATE_STORE", StoreFile)),
		ResolveInterval: resolveInterval,
		RequestTimeout:  requestTimeout,
		ListenAddr:      envOrDefault("TIERGATE_LISTEN_ADDR", "127.0.0.1:8787"),
		LogLevel:        envOrDefault("TIERGATE_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("TIERGATE_LOG_FORMAT", "auto"),
		UpgradeURL:      strings.TrimSpace(os.Getenv("TIERGATE_UPGRADE_URL")),
		RenewalURL:      strings.TrimSpace(os.Getenv("TIERGATE_RENEWAL_URL")),
		ReturnURL:       strings.TrimSpace(os.Getenv("TIERGATE_RETURN_URL")),
		BreakerTimeout:  breakerTimeout,
		AllowedOrigins:  envList("TIERGATE_ALLOWED_ORIGINS"),
	}
	if breakerFailures > 0 {
		cfg.BreakerFailures = uint32(breakerFailures)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate tiergate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	parsed, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("TIERGATE_API_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("TIERGATE_API_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("TIERGATE_API_URL must include a host")
	}

	switch c.StoreKind {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("TIERGATE_STORE must be one of %s, %s, %s; got %q", StoreFile, StoreSQLite, StoreMemory, c.StoreKind)
	}

	if c.ResolveInterval < 10*time.Second {
		return fmt.Errorf("TIERGATE_RESOLVE_INTERVAL must be at least 10s, got %s", c.ResolveInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("TIERGATE_REQUEST_TIMEOUT must be greater than 0, got %s", c.RequestTimeout)
	}
	if c.BreakerFailures == 0 {
		return fmt.Errorf("TIERGATE_BREAKER_FAILURES must be greater than 0")
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("TIERGATE_BREAKER_TIMEOUT must be greater than 0, got %s", c.BreakerTimeout)
	}
	if strings.TrimSpace(c.DataDir) == "" && c.StoreKind != StoreMemory {
		return fmt.Errorf("TIERGATE_DATA_DIR is required for the %s store", c.StoreKind)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tiergate"
	}
	return filepath.Join(home, ".tiergate")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
