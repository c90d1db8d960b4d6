package core

import (
	"context"

	"modstore/internal/persistence"
	"modstore/internal/translate"
	"modstore/pkg/query"
)

// singleAdapter presents a SingleRepository as a keyed repository holding
// at most one document, stored under the record name.
type singleAdapter struct {
	name string
	repo persistence.SingleRepository
}

func (a singleAdapter) check(id string) error {
	if id != a.name {
		return persistence.ErrInvalidID.New("%q is not %q", id, a.name)
	}
	return nil
}

func (a singleAdapter) Get(ctx context.Context, id string) (persistence.Raw, bool, error) {
	if err := a.check(id); err != nil {
		return nil, false, err
	}
	return a.repo.Get(ctx)
}

func (a singleAdapter) Set(ctx context.Context, id string, raw persistence.Raw) error {
	if err := a.check(id); err != nil {
		return err
	}
	return a.repo.Set(ctx, raw)
}

func (a singleAdapter) Delete(ctx context.Context, id string) error {
	if err := a.check(id); err != nil {
		return err
	}
	return a.repo.Delete(ctx)
}

func (a singleAdapter) Exists(ctx context.Context, id string) (bool, error) {
	if id != a.name {
		return false, nil
	}
	_, ok, err := a.repo.Get(ctx)
	return ok, err
}

func (a singleAdapter) IDs(ctx context.Context, q query.Query) ([]string, error) {
	if !q.AllowsID(a.name) {
		return []string{}, nil
	}
	raw, ok, err := a.repo.Get(ctx)
	if err != nil || !ok {
		return []string{}, err
	}
	match, err := q.MatchJSON(a.name, raw)
	if err != nil || !match {
		return []string{}, err
	}
	return []string{a.name}, nil
}

// SingleService is the cache-fronted access point to one singleton record
// such as the general record.
type SingleService[R Record] struct {
	name  string
	inner *KeyedService[R]
}

// NewSingleService returns a service for the record stored in repo. A nil
// repo means the active backend does not support the record.
func NewSingleService[R Record](name string, repo persistence.SingleRepository, tr translate.Translator[R], pool *Pool, opts ...ServiceOption) *SingleService[R] {
	var keyedRepo persistence.KeyedRepository
	if repo != nil {
		keyedRepo = singleAdapter{name: name, repo: repo}
	}
	opts = append(opts, WithIDCanonicalizer(func(id string) (string, error) { return id, nil }))
	return &SingleService[R]{name: name, inner: NewKeyedService(name, keyedRepo, tr, pool, opts...)}
}

// Name returns the record name.
func (s *SingleService[R]) Name() string { return s.name }

// Available reports whether the active backend supports the record.
func (s *SingleService[R]) Available() bool { return s.inner.Available() }

// Get loads the record; ErrNotFound when nothing is stored.
func (s *SingleService[R]) Get() *Future[R] { return s.inner.Get(s.name) }

// GetOrCreate loads the record or creates an empty one.
func (s *SingleService[R]) GetOrCreate() *Future[R] { return s.inner.GetOrCreate(s.name) }

// GetCached returns the cached record without I/O.
func (s *SingleService[R]) GetCached() (R, bool) { return s.inner.GetOnThread(s.name) }

// Save writes the cached record.
func (s *SingleService[R]) Save() *Future[struct{}] { return s.inner.Save(s.name) }

// Unload saves and evicts the cached record.
func (s *SingleService[R]) Unload() *Future[struct{}] { return s.inner.Unload(s.name) }

// Invalidate drops the cached record without saving.
func (s *SingleService[R]) Invalidate() { s.inner.Invalidate(s.name) }

// Reload replaces the cached record with the stored one.
func (s *SingleService[R]) Reload() *Future[R] { return s.inner.Reload(s.name) }

// Delete drops the cached record and removes the stored one.
func (s *SingleService[R]) Delete() *Future[struct{}] { return s.inner.Delete(s.name) }

// Exists reports whether the record is cached or stored.
func (s *SingleService[R]) Exists() *Future[bool] { return s.inner.Exists(s.name) }

// FlushDirty saves the record if it has unsaved changes.
func (s *SingleService[R]) FlushDirty() *Future[int] { return s.inner.FlushDirty() }

func (s *SingleService[R]) stopLoads() { s.inner.stopLoads() }

func (s *SingleService[R]) waitLoads(ctx context.Context) error { return s.inner.waitLoads(ctx) }

func (s *SingleService[R]) invalidateAll() { s.inner.InvalidateAll() }
