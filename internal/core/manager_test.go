package core

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"modstore/internal/config"
	"modstore/internal/infra/persistence/flatfile"
	"modstore/internal/infra/persistence/memory"
	"modstore/internal/persistence"
	"modstore/pkg/keyed"
	"modstore/pkg/records"
)

var (
	visitsKey   = keyed.MustDeclare(records.Users, "core_test_visits", keyed.Int(), 0)
	cooldownKey = keyed.MustDeclare(records.KitsSchema, "core_test.cooldown", keyed.String(), "")
	seenKey     = keyed.MustDeclare(records.Users, "core_test_seen", keyed.Time(), time.Time{})
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = backend
	cfg.DataDir = t.TempDir()
	cfg.SweepInterval = 0
	return cfg
}

func newTestManager(t *testing.T, cfg config.Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func storedUser(t *testing.T, f persistence.Factory, id string) (string, bool) {
	t.Helper()
	repo, err := f.KeyedRepository(persistence.CategoryUser)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	raw, ok, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact: %v", err)
	}
	return buf.String(), true
}

func TestManagerDefaultsToFlatFile(t *testing.T) {
	cfg := testConfig(t, flatfile.ID)
	m := newTestManager(t, cfg)
	if m.Backend().ID() != flatfile.ID {
		t.Fatalf("expected flat-file backend, got %s", m.Backend().ID())
	}
	ids := m.Registry().IDs()
	for _, want := range []string{"modstore:bolt", flatfile.ID, memory.ID, "modstore:postgres", "modstore:redis", "modstore:s3", "modstore:sqlite"} {
		found := false
		for _, id := range ids {
			found = found || id == want
		}
		if !found {
			t.Fatalf("expected %s registered, got %v", want, ids)
		}
	}

	rec := mustWait(t, m.Users().GetOrCreate("steve"))
	if err := visitsKey.Set(rec, 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reopened, err := flatfile.New(cfg.DataDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc, ok := storedUser(t, reopened, "steve")
	if !ok || doc != `{"core_test_visits":2}` {
		t.Fatalf("shutdown did not flush the dirty record: %q %v", doc, ok)
	}
}

func TestSaveInvalidateGetRoundTripsOnDefaultBackend(t *testing.T) {
	m := newTestManager(t, testConfig(t, flatfile.ID))
	zone := time.FixedZone("UTC-7", -7*3600)
	seen := time.Date(2024, 5, 17, 21, 4, 5, 123456789, zone)

	rec := mustWait(t, m.Users().GetOrCreate("steve"))
	if err := visitsKey.Set(rec, 9); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := seenKey.Set(rec, seen); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustWait(t, m.Users().Save("steve"))
	m.Users().Invalidate("steve")
	if _, ok := m.Users().GetOnThread("steve"); ok {
		t.Fatalf("invalidate should evict")
	}

	loaded := mustWait(t, m.Users().Get("steve"))
	if loaded == rec {
		t.Fatalf("expected a fresh instance after invalidate")
	}
	if got := visitsKey.GetOrDefault(loaded); got != 9 {
		t.Fatalf("expected visits 9, got %d", got)
	}
	got, ok := seenKey.Get(loaded)
	if !ok || !got.Equal(seen) {
		t.Fatalf("expected %v, got %v %v", seen, got, ok)
	}
	if loaded.Dirty() {
		t.Fatalf("a loaded record starts clean")
	}
}

func TestStartWithoutMainExecutorWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := testConfig(t, memory.ID)
	cfg.SweepInterval = time.Hour
	m := newTestManager(t, cfg, WithFactory(memory.New()), WithLogger(zap.New(core)))
	m.Start(context.Background())
	if n := logs.FilterMessageSnippet("without a main executor").Len(); n != 1 {
		t.Fatalf("expected one warning, got %d", n)
	}

	core2, logs2 := observer.New(zapcore.WarnLevel)
	m2 := newTestManager(t, cfg, WithFactory(memory.New()), WithLogger(zap.New(core2)),
		WithMainExecutor(func(fn func()) { fn() }))
	m2.Start(context.Background())
	if n := logs2.FilterMessageSnippet("without a main executor").Len(); n != 0 {
		t.Fatalf("expected no warning with an executor, got %d", n)
	}
}

func TestManagerDisablesUnsupportedCategories(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backend := memory.New(memory.WithUnsupported(string(persistence.CategoryWorld), persistence.SingleKits))
	m := newTestManager(t, testConfig(t, memory.ID), WithFactory(backend), WithLogger(zap.New(core)))

	if !m.Users().Available() || !m.General().Available() {
		t.Fatalf("supported categories should be available")
	}
	if m.Worlds().Available() || m.Kits().Available() {
		t.Fatalf("unsupported categories should be disabled")
	}
	if n := logs.FilterMessageSnippet("does not support").Len(); n != 2 {
		t.Fatalf("expected one warning per unsupported category, got %d", n)
	}
	if _, err := wait(t, m.Worlds().Get("overworld")); !persistence.IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if _, err := wait(t, m.Kits().GetOrCreate()); !persistence.IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if n := mustWait(t, m.SaveAll()); n != 0 {
		t.Fatalf("expected nothing to save, got %d", n)
	}
}

func TestManagerRejectsUnknownBackend(t *testing.T) {
	if _, err := NewManager(testConfig(t, "modstore:nope")); !persistence.ErrUnknownFactory.Has(err) {
		t.Fatalf("expected unknown factory error, got %v", err)
	}
}

func TestManagerRejectsDuplicateFactories(t *testing.T) {
	_, err := NewManager(testConfig(t, memory.ID), WithFactory(memory.New()), WithFactory(memory.New()))
	if !persistence.ErrDuplicateRegistration.Has(err) {
		t.Fatalf("expected duplicate registration, got %v", err)
	}
}

func TestSweepPersistsDirtyRecordsOnMainExecutor(t *testing.T) {
	backend := memory.New()
	cfg := testConfig(t, memory.ID)
	cfg.SweepInterval = 10 * time.Millisecond
	var posted atomic.Int64
	mainLoop := make(chan func(), 16)
	m := newTestManager(t, cfg, WithFactory(backend), WithMainExecutor(func(fn func()) {
		posted.Add(1)
		select {
		case mainLoop <- fn:
		default:
		}
	}))

	rec := mustWait(t, m.Users().GetOrCreate("steve"))
	_ = visitsKey.Set(rec, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case fn := <-mainLoop:
			fn()
		case <-deadline:
			t.Fatalf("sweep never persisted the record")
		}
		if doc, ok := storedUser(t, backend, "steve"); ok && doc == `{"core_test_visits":5}` {
			break
		}
	}
	if posted.Load() == 0 {
		t.Fatalf("sweep should run through the main executor")
	}
}

func TestSaveAndInvalidateAll(t *testing.T) {
	backend := memory.New()
	m := newTestManager(t, testConfig(t, memory.ID), WithFactory(backend))

	rec := mustWait(t, m.Users().GetOrCreate("steve"))
	_ = visitsKey.Set(rec, 1)
	general := mustWait(t, m.General().GetOrCreate())
	if n := mustWait(t, m.SaveAndInvalidateAll()); n != 2 {
		t.Fatalf("expected two records saved, got %d", n)
	}
	if _, ok := m.Users().GetOnThread("steve"); ok {
		t.Fatalf("expected empty user cache")
	}
	if _, ok := m.General().GetCached(); ok {
		t.Fatalf("expected empty general cache")
	}
	again := mustWait(t, m.General().Get())
	if again == general {
		t.Fatalf("expected a fresh general record")
	}
	loaded := mustWait(t, m.Users().Get("steve"))
	if visitsKey.GetOrDefault(loaded) != 1 {
		t.Fatalf("expected saved value to be reloaded")
	}
}

func TestShutdownStopsLoads(t *testing.T) {
	m := newTestManager(t, testConfig(t, memory.ID), WithFactory(memory.New()))
	mustWait(t, m.Users().GetOrCreate("steve"))
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := wait(t, m.Users().Get("alex")); !ErrClosed.Has(err) {
		t.Fatalf("expected closed, got %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestSingleServiceRoundTrip(t *testing.T) {
	backend := memory.New()
	m := newTestManager(t, testConfig(t, memory.ID), WithFactory(backend))
	kits := m.Kits()

	if ok := mustWait(t, kits.Exists()); ok {
		t.Fatalf("kits should not exist yet")
	}
	if _, err := wait(t, kits.Get()); !ErrNotFound.Has(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	rec := mustWait(t, kits.GetOrCreate())
	if err := cooldownKey.Set(rec, "1h"); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustWait(t, kits.Save())

	repo, err := backend.SingleRepository(persistence.SingleKits)
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	raw, ok, err := repo.Get(context.Background())
	if err != nil || !ok || !strings.Contains(string(raw), `"cooldown":"1h"`) {
		t.Fatalf("unexpected stored kits %q %v %v", raw, ok, err)
	}

	reloaded := mustWait(t, kits.Reload())
	if cached, _ := kits.GetCached(); cached != reloaded {
		t.Fatalf("reload should replace the cached kits")
	}
	mustWait(t, kits.Unload())
	if _, ok := kits.GetCached(); ok {
		t.Fatalf("unload should evict")
	}
	mustWait(t, kits.Delete())
	if ok := mustWait(t, kits.Exists()); ok {
		t.Fatalf("kits should be deleted")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	m := newTestManager(t, testConfig(t, memory.ID), WithFactory(memory.New()), WithMetricsRecorder(rec))

	mustWait(t, m.Users().GetOrCreate("steve"))
	mustWait(t, m.Users().Get("steve"))
	if got := testutil.ToFloat64(rec.lookups.WithLabelValues("users", "miss")); got != 1 {
		t.Fatalf("expected one miss, got %v", got)
	}
	if got := testutil.ToFloat64(rec.lookups.WithLabelValues("users", "hit")); got != 1 {
		t.Fatalf("expected one hit, got %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("user.get", "success")); got != 1 {
		t.Fatalf("expected one backend read, got %v", got)
	}

	rec.KeyDecodeFailed("users", "steve", "visits", nil)
	if got := testutil.ToFloat64(rec.decode.WithLabelValues("users")); got != 1 {
		t.Fatalf("expected one decode failure, got %v", got)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "user.get", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "user.get", false, 5*time.Millisecond)
	recorder.CacheLookup("users", true)
	recorder.KeyDecodeFailed("users", "steve", "visits", nil)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["user.get"] <= 0 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if snapshot.Results["user.get"]["success"] != 1 || snapshot.Results["user.get"]["error"] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}
	if snapshot.CacheLookups["users"]["hit"] != 1 || snapshot.DecodeFailures["users"] != 1 {
		t.Fatalf("unexpected counters snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "user.get") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}
