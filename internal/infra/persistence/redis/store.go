// Package redis stores entity documents in Redis.
//
//	<ns>:<category>:<id>   document
//	<ns>:index:<category>  set of stored ids
//	<ns>:single:<name>     single record
package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the Redis backend.
const ID = "modstore:redis"

const (
	defaultNamespace = "modstore"
	indexSegment     = "index"
	singleSegment    = "single"
)

// Error is the class of Redis backend errors.
var Error = errs.Class("redis")

// Config holds connection parameters.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Factory serves every category from one Redis database.
type Factory struct {
	db *redis.Client
	ns string
}

var _ persistence.Factory = (*Factory)(nil)

// Open returns a factory, verifying a successful connection to redis.
func Open(ctx context.Context, cfg Config) (*Factory, error) {
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	db := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	// ping here to verify we are able to connect to redis with the initialized client.
	if err := db.Ping(ctx).Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), db.Close())
	}
	return &Factory{db: db, ns: ns}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "Redis" }

// Namespace returns the key prefix.
func (f *Factory) Namespace() string { return f.ns }

// KeyedRepository returns the repository for c.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	name := string(c)
	if persistence.ValidateID(name) != nil || name == indexSegment || name == singleSegment {
		return nil, persistence.Unsupported("redis: category %s", c)
	}
	return &keyedRepo{
		db:     f.db,
		prefix: f.ns + ":" + name + ":",
		index:  f.ns + ":" + indexSegment + ":" + name,
	}, nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	if err := persistence.ValidateID(name); err != nil {
		return nil, err
	}
	return &singleRepo{db: f.db, key: f.ns + ":" + singleSegment + ":" + name}, nil
}

// Close closes the client.
func (f *Factory) Close() error { return Error.Wrap(f.db.Close()) }

func get(ctx context.Context, cmdable redis.Cmdable, key string) (persistence.Raw, bool, error) {
	value, err := cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("get error: %v", err)
	}
	return persistence.Raw(value), true, nil
}

type keyedRepo struct {
	db     *redis.Client
	prefix string
	index  string
}

func (r *keyedRepo) Get(ctx context.Context, id string) (persistence.Raw, bool, error) {
	return get(ctx, r.db, r.prefix+id)
}

// Set writes the document and indexes its id atomically.
func (r *keyedRepo) Set(ctx context.Context, id string, raw persistence.Raw) error {
	if id == "" {
		return persistence.ErrInvalidID.New("empty id")
	}
	_, err := r.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.prefix+id, []byte(raw), 0)
		pipe.SAdd(ctx, r.index, id)
		return nil
	})
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

func (r *keyedRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.prefix+id)
		pipe.SRem(ctx, r.index, id)
		return nil
	})
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}

func (r *keyedRepo) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.db.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, Error.New("exists error: %v", err)
	}
	return n > 0, nil
}

// ListIDs reads the id index.
func (r *keyedRepo) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := r.db.SMembers(ctx, r.index).Result()
	if err != nil {
		return nil, Error.New("list error: %v", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	return persistence.ScanMatching(ctx, r, q)
}

type singleRepo struct {
	db  *redis.Client
	key string
}

func (r *singleRepo) Get(ctx context.Context) (persistence.Raw, bool, error) {
	return get(ctx, r.db, r.key)
}

func (r *singleRepo) Set(ctx context.Context, raw persistence.Raw) error {
	if err := r.db.Set(ctx, r.key, []byte(raw), 0).Err(); err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

func (r *singleRepo) Delete(ctx context.Context) error {
	if err := r.db.Del(ctx, r.key).Err(); err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}
