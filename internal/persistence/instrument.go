package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"modstore/pkg/query"
)

// Observer receives the outcome of every repository operation.
type Observer interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Instrument wraps f so every repository call is logged at debug level and
// reported to obs. Either may be nil.
func Instrument(f Factory, log *zap.Logger, obs Observer) Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &instrumented{Factory: f, log: log.Named("persistence").With(zap.String("backend", f.ID())), obs: obs}
}

type instrumented struct {
	Factory
	log *zap.Logger
	obs Observer
}

func (i *instrumented) KeyedRepository(c Category) (KeyedRepository, error) {
	repo, err := i.Factory.KeyedRepository(c)
	if err != nil {
		return nil, err
	}
	return &keyedLogger{repo: repo, log: i.log.With(zap.String("category", string(c))), obs: i.obs, prefix: string(c)}, nil
}

func (i *instrumented) SingleRepository(name string) (SingleRepository, error) {
	repo, err := i.Factory.SingleRepository(name)
	if err != nil {
		return nil, err
	}
	return &singleLogger{repo: repo, log: i.log.With(zap.String("single", name)), obs: i.obs, prefix: name}, nil
}

func (i *instrumented) Close() error {
	i.log.Debug("Close")
	return i.Factory.Close()
}

func observe(ctx context.Context, obs Observer, op string, start time.Time, err *error) {
	if obs == nil {
		return
	}
	obs.Observe(ctx, op, *err == nil, time.Since(start))
}

type keyedLogger struct {
	repo   KeyedRepository
	log    *zap.Logger
	obs    Observer
	prefix string
}

func (k *keyedLogger) Get(ctx context.Context, id string) (_ Raw, _ bool, err error) {
	defer observe(ctx, k.obs, k.prefix+".get", time.Now(), &err)
	raw, ok, err := k.repo.Get(ctx, id)
	k.log.Debug("Get", zap.String("id", id), zap.Bool("found", ok), zap.Int("length", len(raw)), zap.Error(err))
	return raw, ok, err
}

func (k *keyedLogger) Set(ctx context.Context, id string, raw Raw) (err error) {
	defer observe(ctx, k.obs, k.prefix+".set", time.Now(), &err)
	k.log.Debug("Set", zap.String("id", id), zap.Int("length", len(raw)))
	return k.repo.Set(ctx, id, raw)
}

func (k *keyedLogger) Delete(ctx context.Context, id string) (err error) {
	defer observe(ctx, k.obs, k.prefix+".delete", time.Now(), &err)
	k.log.Debug("Delete", zap.String("id", id))
	return k.repo.Delete(ctx, id)
}

func (k *keyedLogger) Exists(ctx context.Context, id string) (_ bool, err error) {
	defer observe(ctx, k.obs, k.prefix+".exists", time.Now(), &err)
	k.log.Debug("Exists", zap.String("id", id))
	return k.repo.Exists(ctx, id)
}

func (k *keyedLogger) IDs(ctx context.Context, q query.Query) (_ []string, err error) {
	defer observe(ctx, k.obs, k.prefix+".ids", time.Now(), &err)
	ids, err := k.repo.IDs(ctx, q)
	k.log.Debug("IDs", zap.Stringer("query", q), zap.Int("matched", len(ids)), zap.Error(err))
	return ids, err
}

type singleLogger struct {
	repo   SingleRepository
	log    *zap.Logger
	obs    Observer
	prefix string
}

func (s *singleLogger) Get(ctx context.Context) (_ Raw, _ bool, err error) {
	defer observe(ctx, s.obs, s.prefix+".get", time.Now(), &err)
	raw, ok, err := s.repo.Get(ctx)
	s.log.Debug("Get", zap.Bool("found", ok), zap.Int("length", len(raw)), zap.Error(err))
	return raw, ok, err
}

func (s *singleLogger) Set(ctx context.Context, raw Raw) (err error) {
	defer observe(ctx, s.obs, s.prefix+".set", time.Now(), &err)
	s.log.Debug("Set", zap.Int("length", len(raw)))
	return s.repo.Set(ctx, raw)
}

func (s *singleLogger) Delete(ctx context.Context) (err error) {
	defer observe(ctx, s.obs, s.prefix+".delete", time.Now(), &err)
	s.log.Debug("Delete")
	return s.repo.Delete(ctx)
}
