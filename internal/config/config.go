// Package config loads process configuration from MODSTORE_* environment
// variables and builds the logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prefix is prepended to every variable name.
const Prefix = "MODSTORE_"

// Config is the complete storage configuration.
type Config struct {
	Backend       string        `env:"BACKEND"        envDefault:"modstore:flatfile"`
	DataDir       string        `env:"DATA_DIR"       envDefault:"./data"`
	Workers       int           `env:"WORKERS"        envDefault:"4"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	LogLevel      string        `env:"LOG_LEVEL"      envDefault:"info"`
	LogFormat     string        `env:"LOG_FORMAT"     envDefault:"json"`

	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"modstore.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	BoltPath    string `env:"BOLT_PATH"    envDefault:"modstore.bolt"`

	Redis Redis `envPrefix:"REDIS_"`
	S3    S3    `envPrefix:"S3_"`
}

// Redis configures the Redis backend.
type Redis struct {
	Addr      string `env:"ADDR"      envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"        envDefault:"0"`
	Namespace string `env:"NAMESPACE" envDefault:"modstore"`
}

// S3 configures the S3 backend.
type S3 struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION"     envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	Prefix    string `env:"PREFIX"     envDefault:"modstore"`
	PathStyle bool   `env:"PATH_STYLE" envDefault:"false"`
}

// Default returns the configuration with every default applied and no
// environment consulted.
func Default() Config {
	cfg, err := parse(env.Options{Prefix: Prefix, Environment: map[string]string{}})
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads the supplied variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings no backend could work with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: %sWORKERS must be at least 1, got %d", Prefix, c.Workers)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("config: %sSWEEP_INTERVAL must not be negative", Prefix)
	}
	if c.Backend == "" {
		return fmt.Errorf("config: %sBACKEND must not be empty", Prefix)
	}
	return nil
}

// NewLogger builds a zap logger from the level and format settings. Format
// is "json" or "console".
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %sLOG_LEVEL: %w", Prefix, err)
	}
	var zc zap.Config
	switch strings.ToLower(c.LogFormat) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("config: %sLOG_FORMAT %q is neither json nor console", Prefix, c.LogFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
