// Package memory implements an in-process persistence backend used by tests
// and ephemeral deployments.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the memory backend.
const ID = "modstore:memory"

// Error is the class of memory backend errors.
var Error = errs.Class("memory")

// Option configures a Factory.
type Option func(*Factory)

// WithUnsupported makes the factory report the named categories or single
// records as unsupported.
func WithUnsupported(names ...string) Option {
	return func(f *Factory) {
		for _, n := range names {
			f.unsupported[n] = true
		}
	}
}

// Factory keeps every document in process memory.
type Factory struct {
	mu          sync.Mutex
	keyed       map[persistence.Category]*keyedRepo
	singles     map[string]*singleRepo
	unsupported map[string]bool
	closed      bool
}

var _ persistence.Factory = (*Factory)(nil)

// New returns an empty memory factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		keyed:       make(map[persistence.Category]*keyedRepo),
		singles:     make(map[string]*singleRepo),
		unsupported: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "In-memory" }

// KeyedRepository returns the repository for c, creating it on first use.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, Error.New("factory closed")
	}
	if f.unsupported[string(c)] {
		return nil, persistence.Unsupported("memory: category %s", c)
	}
	repo, ok := f.keyed[c]
	if !ok {
		repo = &keyedRepo{docs: make(map[string][]byte)}
		f.keyed[c] = repo
	}
	return repo, nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, Error.New("factory closed")
	}
	if f.unsupported[name] {
		return nil, persistence.Unsupported("memory: single %s", name)
	}
	repo, ok := f.singles[name]
	if !ok {
		repo = &singleRepo{}
		f.singles[name] = repo
	}
	return repo, nil
}

// Close marks the factory closed. Stored documents are kept so repositories
// already handed out keep working.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type keyedRepo struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func (r *keyedRepo) Get(_ context.Context, id string) (persistence.Raw, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(doc), true, nil
}

func (r *keyedRepo) Set(_ context.Context, id string, raw persistence.Raw) error {
	r.mu.Lock()
	r.docs[id] = bytes.Clone(raw)
	r.mu.Unlock()
	return nil
}

func (r *keyedRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.docs, id)
	r.mu.Unlock()
	return nil
}

func (r *keyedRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	_, ok := r.docs[id]
	r.mu.RUnlock()
	return ok, nil
}

func (r *keyedRepo) ListIDs(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	return persistence.ScanMatching(ctx, r, q)
}

type singleRepo struct {
	mu  sync.RWMutex
	doc []byte
}

func (r *singleRepo) Get(context.Context) (persistence.Raw, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.doc == nil {
		return nil, false, nil
	}
	return bytes.Clone(r.doc), true, nil
}

func (r *singleRepo) Set(_ context.Context, raw persistence.Raw) error {
	r.mu.Lock()
	r.doc = bytes.Clone(raw)
	if r.doc == nil {
		r.doc = []byte{}
	}
	r.mu.Unlock()
	return nil
}

func (r *singleRepo) Delete(context.Context) error {
	r.mu.Lock()
	r.doc = nil
	r.mu.Unlock()
	return nil
}
