package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Backend != "modstore:flatfile" || cfg.DataDir != "./data" || cfg.Workers != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SweepInterval != 5*time.Minute || cfg.Redis.Namespace != "modstore" || cfg.S3.Region != "us-east-1" {
		t.Fatalf("unexpected nested defaults %+v", cfg)
	}
}

func TestLoadFromVariables(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"MODSTORE_BACKEND":         "modstore:redis",
		"MODSTORE_WORKERS":         "8",
		"MODSTORE_SWEEP_INTERVAL":  "30s",
		"MODSTORE_REDIS_ADDR":      "redis:6379",
		"MODSTORE_REDIS_DB":        "2",
		"MODSTORE_S3_BUCKET":       "saves",
		"MODSTORE_S3_PATH_STYLE":   "true",
		"MODSTORE_POSTGRES_DSN":    "postgres://db/modstore",
		"UNRELATED_MODSTORE_VALUE": "ignored",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "modstore:redis" || cfg.Workers != 8 || cfg.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 || cfg.S3.Bucket != "saves" || !cfg.S3.PathStyle {
		t.Fatalf("unexpected nested config %+v", cfg)
	}
	if cfg.PostgresDSN != "postgres://db/modstore" {
		t.Fatalf("unexpected dsn %q", cfg.PostgresDSN)
	}
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("MODSTORE_DATA_DIR", "/srv/modstore")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/modstore" {
		t.Fatalf("expected data dir from env, got %q", cfg.DataDir)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"MODSTORE_WORKERS": "many"}); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := LoadFrom(map[string]string{"MODSTORE_WORKERS": "0"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "console"
	log, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatalf("expected debug level enabled")
	}
	cfg.LogLevel = "loud"
	if _, err := cfg.NewLogger(); err == nil {
		t.Fatalf("expected level error")
	}
	cfg.LogLevel = "info"
	cfg.LogFormat = "xml"
	if _, err := cfg.NewLogger(); err == nil {
		t.Fatalf("expected format error")
	}
}
