package core

import (
	"context"

	"modstore/internal/config"
	"modstore/internal/infra/persistence/bolt"
	"modstore/internal/infra/persistence/flatfile"
	"modstore/internal/infra/persistence/memory"
	"modstore/internal/infra/persistence/postgres"
	"modstore/internal/infra/persistence/redis"
	"modstore/internal/infra/persistence/s3"
	"modstore/internal/infra/persistence/sqlite"
	"modstore/internal/persistence"
)

// BuiltinFactories returns every backend shipped with the module except the
// flat-file default. Backends that need a server or a file open on first
// use, so listing them is free.
func BuiltinFactories(cfg config.Config) []persistence.Factory {
	ctx := context.Background()
	return []persistence.Factory{
		memory.New(),
		persistence.Lazy(sqlite.ID, "SQLite", func() (persistence.Factory, error) {
			return sqlite.NewFactory(ctx, cfg.SQLitePath)
		}),
		persistence.Lazy(postgres.ID, "PostgreSQL", func() (persistence.Factory, error) {
			return postgres.NewFactory(ctx, cfg.PostgresDSN)
		}),
		persistence.Lazy(bolt.ID, "BoltDB", func() (persistence.Factory, error) {
			return bolt.New(cfg.BoltPath)
		}),
		persistence.Lazy(redis.ID, "Redis", func() (persistence.Factory, error) {
			return redis.Open(ctx, redis.Config{
				Addr:      cfg.Redis.Addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				Namespace: cfg.Redis.Namespace,
			})
		}),
		persistence.Lazy(s3.ID, "S3", func() (persistence.Factory, error) {
			return s3.New(ctx, s3.Config{
				Region:    cfg.S3.Region,
				Bucket:    cfg.S3.Bucket,
				Prefix:    cfg.S3.Prefix,
				Endpoint:  cfg.S3.Endpoint,
				PathStyle: cfg.S3.PathStyle,
			})
		}),
	}
}

// OpenRegistry builds the registry with the flat-file default, any extra
// factories and the built-in backends. An extra factory replaces the
// built-in registered under the same id; two extras sharing an id abort
// startup.
func OpenRegistry(cfg config.Config, extra ...persistence.Factory) (*persistence.Registry, error) {
	def, err := flatfile.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	reg := persistence.NewRegistry(def)
	for _, f := range extra {
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	for _, f := range BuiltinFactories(cfg) {
		if _, err := reg.Lookup(f.ID()); err == nil {
			continue
		}
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
