package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"modstore/internal/persistence"
	"modstore/internal/translate"
	"modstore/pkg/query"
)

// Record is what a KeyedService caches: a mutable record that tracks its
// own unsaved changes.
type Record interface {
	Dirty() bool
	ClearDirty()
}

// ServiceOption configures a KeyedService or SingleService.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	log       *zap.Logger
	cache     CacheRecorder
	canonical func(string) (string, error)
}

// WithServiceLogger sets the logger; the default discards everything.
func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCacheRecorder reports cache hits and misses to c.
func WithCacheRecorder(c CacheRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithIDCanonicalizer replaces the id normalisation applied before every
// lookup. The default is persistence.CanonicalID.
func WithIDCanonicalizer(fn func(string) (string, error)) ServiceOption {
	return func(o *serviceOptions) {
		if fn != nil {
			o.canonical = fn
		}
	}
}

type entry[R Record] struct {
	rec R
	// unsaved marks a record created locally that was never written.
	unsaved bool
	// saveFailed marks a record whose last write failed; the next flush
	// retries it.
	saveFailed bool
}

func (e *entry[R]) needsSave() bool {
	return e.unsaved || e.saveFailed || e.rec.Dirty()
}

type loadToken struct {
	epoch uint64
	gen   uint64
}

// RemoveResult reports a bulk removal.
type RemoveResult struct {
	// Matched lists the ids the query selected.
	Matched []string
	// Removed lists the ids whose stored document was deleted.
	Removed []string
	// Failed maps ids that could not be deleted to the cause.
	Failed map[string]error
}

// KeyedService is the cache-fronted access point to one category of keyed
// records. At most one record instance per id is live and at most one load
// per id is in flight. Records themselves are not synchronized; they
// belong to the goroutine that drives the host's main loop.
type KeyedService[R Record] struct {
	name      string
	repo      persistence.KeyedRepository
	tr        translate.Translator[R]
	pool      *Pool
	log       *zap.Logger
	cache     CacheRecorder
	canonical func(string) (string, error)

	loads   singleflight.Group
	loading sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry[R]
	// gens holds a generation only for ids with loads in flight; inflight
	// counts those loads so the entry is dropped once the last one ends.
	gens     map[string]uint64
	inflight map[string]int
	epoch   uint64
	writes  map[string]*Future[struct{}]
	stopped bool
}

// NewKeyedService returns a service for records stored in repo. A nil repo
// means the active backend does not support the category: every operation
// then fails with persistence.ErrUnsupported.
func NewKeyedService[R Record](name string, repo persistence.KeyedRepository, tr translate.Translator[R], pool *Pool, opts ...ServiceOption) *KeyedService[R] {
	o := serviceOptions{log: zap.NewNop(), cache: noopCache{}, canonical: persistence.CanonicalID}
	for _, opt := range opts {
		opt(&o)
	}
	return &KeyedService[R]{
		name:      name,
		repo:      repo,
		tr:        tr,
		pool:      pool,
		log:       o.log.Named("service").With(zap.String("service", name)),
		cache:     o.cache,
		canonical: o.canonical,
		entries:   make(map[string]*entry[R]),
		gens:      make(map[string]uint64),
		inflight:  make(map[string]int),
		writes:    make(map[string]*Future[struct{}]),
	}
}

// Name returns the service name used in logs and metrics.
func (s *KeyedService[R]) Name() string { return s.name }

// Available reports whether the active backend supports this service.
func (s *KeyedService[R]) Available() bool { return s.repo != nil }

func (s *KeyedService[R]) unsupported() error {
	return persistence.Unsupported("%s is not available on the active backend", s.name)
}

// prepare canonicalises id and checks availability.
func (s *KeyedService[R]) prepare(id string) (string, error) {
	if s.repo == nil {
		return "", s.unsupported()
	}
	return s.canonical(id)
}

// GetOnThread returns the cached record for id without any I/O.
func (s *KeyedService[R]) GetOnThread(id string) (R, bool) {
	var zero R
	id, err := s.canonical(id)
	if err != nil {
		return zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.rec, true
	}
	return zero, false
}

// Get returns the record for id, loading it if it is not cached. A missing
// document resolves with ErrNotFound.
func (s *KeyedService[R]) Get(id string) *Future[R] {
	return s.get(id, false)
}

// GetOrCreate is Get, except that a missing document yields a new empty
// record which is cached and scheduled for saving.
func (s *KeyedService[R]) GetOrCreate(id string) *Future[R] {
	return s.get(id, true)
}

func (s *KeyedService[R]) get(id string, create bool) *Future[R] {
	var zero R
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(zero, err)
	}
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		s.mu.Unlock()
		s.cache.CacheLookup(s.name, true)
		return Resolved(e.rec, nil)
	}
	tok, err := s.beginLoadLocked(id)
	s.mu.Unlock()
	if err != nil {
		return Resolved(zero, err)
	}
	s.cache.CacheLookup(s.name, false)

	key := fmt.Sprintf("%s#%d.%d", id, tok.epoch, tok.gen)
	if create {
		key += "+create"
	}
	return s.startLoad(id, key, func() (R, error) {
		rec, err := s.read(id)
		if ErrNotFound.Has(err) && create {
			return s.install(id, tok, s.tr.CreateNew(), true)
		}
		if err != nil {
			return zero, err
		}
		return s.install(id, tok, rec, false)
	})
}

// beginLoadLocked registers an in-flight load and returns the token its
// result will be validated against.
func (s *KeyedService[R]) beginLoadLocked(id string) (loadToken, error) {
	if s.stopped {
		return loadToken{}, ErrClosed.New("%s: not accepting loads", s.name)
	}
	s.loading.Add(1)
	s.inflight[id]++
	return s.tokenLocked(id), nil
}

func (s *KeyedService[R]) endLoadLocked(id string) {
	if s.inflight[id]--; s.inflight[id] <= 0 {
		delete(s.inflight, id)
		delete(s.gens, id)
	}
}

// startLoad joins or starts the load registered under key. Joining happens
// on the calling goroutine so concurrent callers share one load.
func (s *KeyedService[R]) startLoad(id, key string, load func() (R, error)) *Future[R] {
	f := newFuture[R]()
	ch := s.loads.DoChan(key, func() (any, error) { return load() })
	go func() {
		defer s.loading.Done()
		res := <-ch
		s.mu.Lock()
		s.endLoadLocked(id)
		s.mu.Unlock()
		rec, _ := res.Val.(R)
		f.resolve(rec, res.Err)
	}()
	return f
}

// read fetches and translates the stored document for id once any pending
// write for id has completed.
func (s *KeyedService[R]) read(id string) (R, error) {
	var zero R
	s.awaitWrite(id)

	var raw persistence.Raw
	var found bool
	err := s.pool.Do(func(ctx context.Context) error {
		var err error
		raw, found, err = s.repo.Get(ctx, id)
		return err
	})
	if err != nil {
		s.log.Error("load failed", zap.String("id", id), zap.Error(err))
		return zero, persistence.ErrLoad.Wrap(err)
	}
	if !found {
		return zero, ErrNotFound.New("%s %s", s.name, id)
	}
	rec, err := s.tr.FromRaw(id, raw)
	if err != nil {
		s.log.Error("stored document is unusable", zap.String("id", id), zap.Error(err))
		return zero, err
	}
	return rec, nil
}

func (s *KeyedService[R]) awaitWrite(id string) {
	s.mu.Lock()
	w := s.writes[id]
	s.mu.Unlock()
	if w != nil {
		<-w.Done()
	}
}

// install caches rec unless the load was overtaken. A record cached in the
// meantime always wins, so callers never observe two instances for one id.
func (s *KeyedService[R]) install(id string, tok loadToken, rec R, unsaved bool) (R, error) {
	var zero R
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.rec, nil
	}
	if tok != s.tokenLocked(id) {
		return zero, ErrInvalidated.New("%s %s", s.name, id)
	}
	s.entries[id] = &entry[R]{rec: rec, unsaved: unsaved}
	return rec, nil
}

func (s *KeyedService[R]) tokenLocked(id string) loadToken {
	return loadToken{epoch: s.epoch, gen: s.gens[id]}
}

// Reload reads id from the backend and replaces the cached record only if
// the read succeeds. Callers holding the previous instance keep a detached
// copy.
func (s *KeyedService[R]) Reload(id string) *Future[R] {
	var zero R
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(zero, err)
	}
	s.mu.Lock()
	tok, err := s.beginLoadLocked(id)
	s.mu.Unlock()
	if err != nil {
		return Resolved(zero, err)
	}

	key := fmt.Sprintf("%s#%d.%d+reload", id, tok.epoch, tok.gen)
	return s.startLoad(id, key, func() (R, error) {
		rec, err := s.read(id)
		if err != nil {
			return zero, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if tok != s.tokenLocked(id) {
			if e, ok := s.entries[id]; ok {
				return e.rec, nil
			}
			return zero, ErrInvalidated.New("%s %s", s.name, id)
		}
		s.entries[id] = &entry[R]{rec: rec}
		return rec, nil
	})
}

// Save translates the cached record for id on the calling goroutine and
// writes it in the background. Saving an id that is not cached succeeds
// without doing anything; Save never adds to the cache.
func (s *KeyedService[R]) Save(id string) *Future[struct{}] {
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(struct{}{}, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Resolved(struct{}{}, nil)
	}
	return s.saveLocked(id, e)
}

func (s *KeyedService[R]) saveLocked(id string, e *entry[R]) *Future[struct{}] {
	raw, err := s.tr.ToRaw(e.rec)
	if err != nil {
		s.log.Error("cannot encode record", zap.String("id", id), zap.Error(err))
		return Resolved(struct{}{}, Error.New("encode %s %s: %v", s.name, id, err))
	}
	e.rec.ClearDirty()
	e.unsaved, e.saveFailed = false, false
	return s.enqueueWriteLocked(id, func(ctx context.Context) error {
		err := s.repo.Set(ctx, id, raw)
		if err != nil {
			s.log.Error("save failed", zap.String("id", id), zap.Error(err))
			s.mu.Lock()
			e.saveFailed = true
			s.mu.Unlock()
		}
		return err
	})
}

// enqueueWriteLocked chains a write behind any pending write for id, so
// writes for one id reach the backend in submission order.
func (s *KeyedService[R]) enqueueWriteLocked(id string, write func(ctx context.Context) error) *Future[struct{}] {
	prev := s.writes[id]
	f := newFuture[struct{}]()
	s.writes[id] = f
	err := s.pool.Go(func() {
		if prev != nil {
			<-prev.Done()
		}
		err := s.pool.Do(write)
		s.mu.Lock()
		if s.writes[id] == f {
			delete(s.writes, id)
		}
		s.mu.Unlock()
		f.resolve(struct{}{}, err)
	})
	if err != nil {
		if prev != nil {
			s.writes[id] = prev
		} else {
			delete(s.writes, id)
		}
		f.resolve(struct{}{}, err)
	}
	return f
}

// Unload saves the cached record for id and evicts it. The snapshot, the
// eviction and the write registration happen atomically, so a later Get
// reads what was saved.
func (s *KeyedService[R]) Unload(id string) *Future[struct{}] {
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(struct{}{}, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Resolved(struct{}{}, nil)
	}
	f := s.saveLocked(id, e)
	s.evictLocked(id)
	return f
}

// Delete evicts id and removes its stored document.
func (s *KeyedService[R]) Delete(id string) *Future[struct{}] {
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(struct{}{}, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(id)
	return s.enqueueWriteLocked(id, func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	})
}

// evictLocked drops id and invalidates the tokens of its loads in flight.
// Without such loads there is no token to invalidate and no state is kept.
func (s *KeyedService[R]) evictLocked(id string) {
	delete(s.entries, id)
	if s.inflight[id] > 0 {
		s.gens[id]++
	}
}

// Invalidate drops the cached record for id without saving it. A load of
// id already in flight will not install its result.
func (s *KeyedService[R]) Invalidate(id string) {
	id, err := s.canonical(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.evictLocked(id)
	s.mu.Unlock()
}

// InvalidateAll drops every cached record without saving.
func (s *KeyedService[R]) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]*entry[R])
	s.gens = make(map[string]uint64)
	s.epoch++
	s.mu.Unlock()
}

// Exists reports whether id is cached or stored.
func (s *KeyedService[R]) Exists(id string) *Future[bool] {
	id, err := s.prepare(id)
	if err != nil {
		return Resolved(false, err)
	}
	if _, ok := s.GetOnThread(id); ok {
		return Resolved(true, nil)
	}
	return submit(s.pool, func() (bool, error) {
		s.awaitWrite(id)
		var ok bool
		err := s.pool.Do(func(ctx context.Context) error {
			var err error
			ok, err = s.repo.Exists(ctx, id)
			return err
		})
		return ok, err
	})
}

// IDs returns the stored ids matching q in ascending order.
func (s *KeyedService[R]) IDs(q query.Query) *Future[[]string] {
	if s.repo == nil {
		return Resolved[[]string](nil, s.unsupported())
	}
	return submit(s.pool, func() ([]string, error) { return s.ids(q) })
}

func (s *KeyedService[R]) ids(q query.Query) ([]string, error) {
	var ids []string
	err := s.pool.Do(func(ctx context.Context) error {
		var err error
		ids, err = s.repo.IDs(ctx, q)
		return err
	})
	return ids, err
}

// Count returns the number of stored records matching q.
func (s *KeyedService[R]) Count(q query.Query) *Future[int] {
	if s.repo == nil {
		return Resolved(0, s.unsupported())
	}
	return submit(s.pool, func() (int, error) {
		ids, err := s.ids(q)
		return len(ids), err
	})
}

// GetAll loads every record matching q, reusing cached instances. Records
// that vanish between the query and the load are skipped; other failures
// are combined into the error alongside the records that did load.
func (s *KeyedService[R]) GetAll(q query.Query) *Future[[]R] {
	if s.repo == nil {
		return Resolved[[]R](nil, s.unsupported())
	}
	return submit(s.pool, func() ([]R, error) {
		ids, err := s.ids(q)
		if err != nil {
			return nil, err
		}
		pending := make([]*Future[R], len(ids))
		for i, id := range ids {
			pending[i] = s.Get(id)
		}
		out := make([]R, 0, len(ids))
		var group errs.Group
		for _, f := range pending {
			rec, err := f.Wait(context.Background())
			switch {
			case err == nil:
				out = append(out, rec)
			case ErrNotFound.Has(err):
			default:
				group.Add(err)
			}
		}
		return out, group.Err()
	})
}

// GetFirst loads the first record, in id order, matching q. Records that
// vanish between the query and the load are skipped; no match resolves
// with ErrNotFound.
func (s *KeyedService[R]) GetFirst(q query.Query) *Future[R] {
	var zero R
	if s.repo == nil {
		return Resolved(zero, s.unsupported())
	}
	return submit(s.pool, func() (R, error) {
		ids, err := s.ids(q)
		if err != nil {
			return zero, err
		}
		for _, id := range ids {
			rec, err := s.Get(id).Wait(context.Background())
			if ErrNotFound.Has(err) {
				continue
			}
			return rec, err
		}
		return zero, ErrNotFound.New("%s: no record matches %s", s.name, q)
	})
}

// RemoveMatching deletes every stored record matching q and drops it from
// the cache. Removal is best-effort: each id is attempted and failures are
// collected in the result and combined into the error.
func (s *KeyedService[R]) RemoveMatching(q query.Query) *Future[RemoveResult] {
	if s.repo == nil {
		return Resolved(RemoveResult{}, s.unsupported())
	}
	return submit(s.pool, func() (RemoveResult, error) {
		ids, err := s.ids(q)
		if err != nil {
			return RemoveResult{}, err
		}
		res := RemoveResult{Matched: ids, Removed: []string{}, Failed: map[string]error{}}
		pending := make([]*Future[struct{}], len(ids))
		for i, id := range ids {
			pending[i] = s.Delete(id)
		}
		var group errs.Group
		for i, f := range pending {
			if _, err := f.Wait(context.Background()); err != nil {
				res.Failed[ids[i]] = err
				group.Add(err)
				continue
			}
			res.Removed = append(res.Removed, ids[i])
		}
		if len(res.Failed) > 0 {
			s.log.Warn("bulk removal incomplete", zap.Int("removed", len(res.Removed)), zap.Int("failed", len(res.Failed)))
		}
		return res, group.Err()
	})
}

// FlushDirty saves every cached record with unsaved changes. Translation
// runs on the calling goroutine; the returned future resolves with the
// number of records written once all writes finish.
func (s *KeyedService[R]) FlushDirty() *Future[int] {
	if s.repo == nil {
		return Resolved(0, nil)
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		if e.needsSave() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	pending := make([]*Future[struct{}], 0, len(ids))
	for _, id := range ids {
		pending = append(pending, s.saveLocked(id, s.entries[id]))
	}
	s.mu.Unlock()

	out := newFuture[int]()
	go func() {
		_, err := All(pending...).Wait(context.Background())
		out.resolve(len(pending), err)
	}()
	return out
}

// Cached returns the cached ids in ascending order.
func (s *KeyedService[R]) Cached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stopLoads makes every later load fail with ErrClosed.
func (s *KeyedService[R]) stopLoads() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// waitLoads blocks until in-flight loads finish or ctx ends.
func (s *KeyedService[R]) waitLoads(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loading.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
