package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TIERGATE_API_URL", "TIERGATE_DATA_DIR", "TIERGATE_STORE", "TIERGATE_RESOLVE_INTERVAL",
		"TIERGATE_REQUEST_TIMEOUT", "TIERGATE_LISTEN_ADDR", "TIERGATE_LOG_LEVEL", "TIERGATE_LOG_FORMAT",
		"TIERGATE_UPGRADE_URL", "TIERGATE_RENEWAL_URL", "TIERGATE_RETURN_URL",
		"TIERGATE_BREAKER_FAILURES", "TIERGATE_BREAKER_TIMEOUT", "TIERGATE_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TIERGATE_DATA_DIR", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://localhost:3000" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.StoreKind != StoreFile {
		t.Errorf("StoreKind = %q", cfg.StoreKind)
	}
	if cfg.ResolveInterval != 5*time.Minute {
		t.Errorf("ResolveInterval = %s", cfg.ResolveInterval)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if cfg.BreakerFailures != 5 || cfg.BreakerTimeout != 30*time.Second {
		t.Errorf("breaker = %d/%s", cfg.BreakerFailures, cfg.BreakerTimeout)
	}
	if cfg.ListenAddr != "127.0.0.1:8787" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want none", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TIERGATE_API_URL", "https://api.pinkybot.io/")
	t.Setenv("TIERGATE_STORE", "SQLite")
	t.Setenv("TIERGATE_RESOLVE_INTERVAL", "90s")
	t.Setenv("TIERGATE_REQUEST_TIMEOUT", "3s")
	t.Setenv("TIERGATE_BREAKER_FAILURES", "2")
	t.Setenv("TIERGATE_ALLOWED_ORIGINS", " https://*.pinkybot.io, ,http://localhost:5173 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "https://api.pinkybot.io" {
		t.Errorf("APIURL = %q, want trailing slash trimmed", cfg.APIURL)
	}
	if cfg.StoreKind != StoreSQLite {
		t.Errorf("StoreKind = %q", cfg.StoreKind)
	}
	if cfg.ResolveInterval != 90*time.Second || cfg.RequestTimeout != 3*time.Second {
		t.Errorf("durations = %s/%s", cfg.ResolveInterval, cfg.RequestTimeout)
	}
	if cfg.BreakerFailures != 2 {
		t.Errorf("BreakerFailures = %d", cfg.BreakerFailures)
	}
	if got := strings.Join(cfg.AllowedOrigins, "|"); got != "https://*.pinkybot.io|http://localhost:5173" {
		t.Errorf("AllowedOrigins = %q", got)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad scheme", "TIERGATE_API_URL", "ftp://example.com", "http or https"},
		{"missing host", "TIERGATE_API_URL", "https://", "must include a host"},
		{"bad store", "TIERGATE_STORE", "redis", "TIERGATE_STORE"},
		{"interval too short", "TIERGATE_RESOLVE_INTERVAL", "1s", "at least 10s"},
		{"interval unparsable", "TIERGATE_RESOLVE_INTERVAL", "soon", "valid duration"},
		{"zero timeout", "TIERGATE_REQUEST_TIMEOUT", "0s", "greater than 0"},
		{"breaker not int", "TIERGATE_BREAKER_FAILURES", "many", "valid integer"},
		{"breaker zero", "TIERGATE_BREAKER_FAILURES", "0", "TIERGATE_BREAKER_FAILURES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
