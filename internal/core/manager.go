// Package core holds the cache-fronted storage services and the Manager
// that wires them to the selected backend.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"modstore/internal/config"
	"modstore/internal/persistence"
	"modstore/internal/translate"
	"modstore/pkg/pluginapi"
	"modstore/pkg/records"
)

// Executor runs fn on the host's main loop.
type Executor func(fn func())

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	log       *zap.Logger
	metrics   MetricsRecorder
	reporters translate.Reporters
	exec      Executor
	execSet   bool
	factories []persistence.Factory
	plugins   []pluginapi.Plugin
	registry  *PluginRegistry
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *managerOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetricsRecorder reports every backend operation to m. When m also
// implements CacheRecorder or translate.Reporter it receives those events
// too.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithReporter adds a receiver for key decode failures. Failures are always
// logged.
func WithReporter(r translate.Reporter) Option {
	return func(o *managerOptions) {
		if r != nil {
			o.reporters = append(o.reporters, r)
		}
	}
}

// WithMainExecutor sets where the dirty sweep translates records. It should
// post onto the goroutine that mutates records. Without it the sweep reads
// records on its own goroutine, which is only safe when nothing else
// mutates them while the sweep runs.
func WithMainExecutor(exec Executor) Option {
	return func(o *managerOptions) {
		if exec != nil {
			o.exec = exec
			o.execSet = true
		}
	}
}

// WithFactory registers an additional backend, replacing a built-in with
// the same id.
func WithFactory(f persistence.Factory) Option {
	return func(o *managerOptions) {
		if f != nil {
			o.factories = append(o.factories, f)
		}
	}
}

// WithPlugins installs feature modules before any record is loaded.
func WithPlugins(ps ...pluginapi.Plugin) Option {
	return func(o *managerOptions) { o.plugins = append(o.plugins, ps...) }
}

// WithPluginRegistry reuses plugins already installed into reg. Keys are
// declared on process-wide schemas, so a host that opens several managers
// installs its plugins once and passes the registry to each.
func WithPluginRegistry(reg *PluginRegistry) Option {
	return func(o *managerOptions) { o.registry = reg }
}

// Manager owns the registry, the worker pool and the storage services.
type Manager struct {
	cfg      config.Config
	log      *zap.Logger
	exec     Executor
	execSet  bool
	registry *persistence.Registry
	active   persistence.Factory
	pool     *Pool
	plugins  *PluginRegistry

	users   *KeyedService[*records.UserData]
	worlds  *KeyedService[*records.WorldData]
	general *SingleService[*records.GeneralData]
	kits    *SingleService[*records.KitsData]

	mu       sync.Mutex
	stop     chan struct{}
	sweeping sync.WaitGroup
	shutdown bool
}

// NewManager opens the backend selected by cfg.Backend and builds the
// services. Categories the backend cannot serve are disabled with a single
// warning each.
func NewManager(cfg config.Config, opts ...Option) (*Manager, error) {
	o := managerOptions{log: zap.NewNop(), exec: func(fn func()) { fn() }}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := o.log

	plugins := o.registry
	if plugins == nil {
		plugins = NewPluginRegistry()
	}
	for _, p := range o.plugins {
		if err := plugins.Install(p); err != nil {
			return nil, err
		}
	}

	registry, err := OpenRegistry(cfg, o.factories...)
	if err != nil {
		return nil, err
	}
	selected, err := registry.Lookup(cfg.Backend)
	if err != nil {
		return nil, errs.Combine(err, registry.Close())
	}

	var observer persistence.Observer
	var cache CacheRecorder = noopCache{}
	reporters := append(translate.Reporters{translate.Zap(log)}, o.reporters...)
	if o.metrics != nil {
		observer = o.metrics
		if c, ok := o.metrics.(CacheRecorder); ok {
			cache = c
		}
		if r, ok := o.metrics.(translate.Reporter); ok {
			reporters = append(reporters, r)
		}
	}
	active := persistence.Instrument(selected, log, observer)

	m := &Manager{
		cfg:      cfg,
		log:      log.Named("storage"),
		exec:     o.exec,
		execSet:  o.execSet,
		registry: registry,
		active:   active,
		pool:     NewPool(cfg.Workers),
		plugins:  plugins,
	}
	svcOpts := []ServiceOption{WithServiceLogger(log), WithCacheRecorder(cache)}

	m.users = NewKeyedService("users", m.keyedRepo(persistence.CategoryUser),
		translate.NewKeyed(records.Users, reporters), m.pool, svcOpts...)
	m.worlds = NewKeyedService("worlds", m.keyedRepo(persistence.CategoryWorld),
		translate.NewKeyed(records.Worlds, reporters), m.pool, svcOpts...)
	m.general = NewSingleService(persistence.SingleGeneral, m.singleRepo(persistence.SingleGeneral),
		translate.NewKeyed(records.GeneralSchema, reporters), m.pool, svcOpts...)
	m.kits = NewSingleService(persistence.SingleKits, m.singleRepo(persistence.SingleKits),
		translate.NewStructured(records.KitsSchema, nil, reporters), m.pool, svcOpts...)

	m.log.Info("storage ready", zap.String("backend", selected.ID()), zap.String("name", selected.Name()))
	return m, nil
}

// keyedRepo resolves the repository for c, or nil when the backend does not
// support it.
func (m *Manager) keyedRepo(c persistence.Category) persistence.KeyedRepository {
	repo, err := m.active.KeyedRepository(c)
	if err != nil {
		m.reportUnavailable(string(c), err)
		return nil
	}
	return repo
}

func (m *Manager) singleRepo(name string) persistence.SingleRepository {
	repo, err := m.active.SingleRepository(name)
	if err != nil {
		m.reportUnavailable(name, err)
		return nil
	}
	return repo
}

func (m *Manager) reportUnavailable(what string, err error) {
	if persistence.IsUnsupported(err) {
		m.log.Warn("backend does not support category; it is disabled", zap.String("category", what))
		return
	}
	m.log.Error("cannot open repository; category is disabled", zap.String("category", what), zap.Error(err))
}

// Users returns the per-user records.
func (m *Manager) Users() *KeyedService[*records.UserData] { return m.users }

// Worlds returns the per-world records.
func (m *Manager) Worlds() *KeyedService[*records.WorldData] { return m.worlds }

// General returns the general record.
func (m *Manager) General() *SingleService[*records.GeneralData] { return m.general }

// Kits returns the kits record.
func (m *Manager) Kits() *SingleService[*records.KitsData] { return m.kits }

// Plugins returns the installed feature modules and their query fields.
func (m *Manager) Plugins() *PluginRegistry { return m.plugins }

// Registry returns the backend registry.
func (m *Manager) Registry() *persistence.Registry { return m.registry }

// Backend returns the active backend.
func (m *Manager) Backend() persistence.Factory { return m.active }

// Start launches the periodic dirty sweep. It stops when ctx ends or the
// manager shuts down. A non-positive sweep interval disables the sweep.
//
// Records are not synchronized. Unless WithMainExecutor routes the sweep
// onto the goroutine that mutates records, the sweep reads them
// concurrently with that goroutine; use the default only when records are
// not mutated while the manager runs.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil || m.shutdown || m.cfg.SweepInterval <= 0 {
		return
	}
	if !m.execSet {
		m.log.Warn("dirty sweep runs without a main executor; records must not be mutated concurrently")
	}
	m.stop = make(chan struct{})
	m.sweeping.Add(1)
	go m.sweep(ctx, m.stop, m.cfg.SweepInterval)
}

func (m *Manager) sweep(ctx context.Context, stop <-chan struct{}, interval time.Duration) {
	defer m.sweeping.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.exec(func() {
				f := m.SaveAll()
				go func() {
					if n, err := f.Wait(context.Background()); err != nil {
						m.log.Warn("dirty sweep incomplete", zap.Int("records", n), zap.Error(err))
					} else if n > 0 {
						m.log.Debug("dirty sweep", zap.Int("records", n))
					}
				}()
			})
		}
	}
}

// SaveAll writes every cached record with unsaved changes. It must run on
// the main loop since it reads the records.
func (m *Manager) SaveAll() *Future[int] {
	flushes := []*Future[int]{
		m.users.FlushDirty(),
		m.worlds.FlushDirty(),
		m.general.FlushDirty(),
		m.kits.FlushDirty(),
	}
	out := newFuture[int]()
	go func() {
		counts, err := All(flushes...).Wait(context.Background())
		total := 0
		for _, n := range counts {
			total += n
		}
		out.resolve(total, err)
	}()
	return out
}

// SaveAndInvalidateAll writes every dirty record and empties every cache.
// Later reads see what was written.
func (m *Manager) SaveAndInvalidateAll() *Future[int] {
	f := m.SaveAll()
	m.users.InvalidateAll()
	m.worlds.InvalidateAll()
	m.general.invalidateAll()
	m.kits.invalidateAll()
	return f
}

type drainable interface {
	stopLoads()
	waitLoads(ctx context.Context) error
}

func (m *Manager) services() []drainable {
	return []drainable{m.users, m.worlds, m.general, m.kits}
}

// Shutdown stops accepting loads, waits for loads in flight, flushes dirty
// records on the calling goroutine, waits for every write and closes the
// backends. It must be called from the main loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	stop := m.stop
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	m.sweeping.Wait()

	var group errs.Group
	for _, s := range m.services() {
		s.stopLoads()
	}
	for _, s := range m.services() {
		group.Add(s.waitLoads(ctx))
	}
	n, err := m.SaveAll().Wait(ctx)
	group.Add(err)
	m.pool.Close()
	group.Add(m.pool.Wait(ctx))
	group.Add(m.registry.Close())

	m.log.Info("storage shut down", zap.Int("flushed", n))
	return group.Err()
}
