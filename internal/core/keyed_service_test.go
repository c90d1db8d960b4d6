package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"modstore/internal/persistence"
	"modstore/internal/translate"
	"modstore/pkg/keyed"
	"modstore/pkg/query"
)

type testOwner struct{}

type testRecord = *keyed.Object[testOwner]

var (
	testSchema = keyed.NewSchema[testOwner]("test")
	loginsKey  = keyed.MustDeclare(testSchema, "logins", keyed.Int(), 0)
)

// scriptRepo is an in-memory keyed repository whose calls can be blocked or
// made to fail.
type scriptRepo struct {
	mu         sync.Mutex
	docs       map[string]string
	gets       int
	getGate    chan struct{}
	setGate    chan struct{}
	entered    chan string
	failGet    error
	failSet    error
	failDelete map[string]error
}

func newScriptRepo() *scriptRepo {
	return &scriptRepo{
		docs:       map[string]string{},
		entered:    make(chan string, 64),
		failDelete: map[string]error{},
	}
}

func (r *scriptRepo) Get(_ context.Context, id string) (persistence.Raw, bool, error) {
	r.mu.Lock()
	r.gets++
	gate, fail := r.getGate, r.failGet
	r.mu.Unlock()
	r.entered <- id
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, false, fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, false, nil
	}
	return persistence.Raw(doc), true, nil
}

func (r *scriptRepo) Set(_ context.Context, id string, raw persistence.Raw) error {
	r.mu.Lock()
	gate, fail := r.setGate, r.failSet
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != nil {
		return fail
	}
	r.mu.Lock()
	r.docs[id] = string(raw)
	r.mu.Unlock()
	return nil
}

func (r *scriptRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failDelete[id]; err != nil {
		return err
	}
	delete(r.docs, id)
	return nil
}

func (r *scriptRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.docs[id]
	return ok, nil
}

func (r *scriptRepo) IDs(_ context.Context, q query.Query) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []string{}
	for id, doc := range r.docs {
		if !q.AllowsID(id) {
			continue
		}
		ok, err := q.MatchJSON(id, []byte(doc))
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *scriptRepo) doc(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	return doc, ok
}

func (r *scriptRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

type captureCache struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (c *captureCache) CacheLookup(_ string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func newTestService(t *testing.T, repo persistence.KeyedRepository, opts ...ServiceOption) *KeyedService[testRecord] {
	t.Helper()
	pool := NewPool(4)
	t.Cleanup(func() {
		pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Wait(ctx)
	})
	return NewKeyedService[testRecord]("tests", repo, translate.NewKeyed(testSchema, nil), pool, opts...)
}

func wait[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("future did not resolve")
	}
	return v, err
}

func mustWait[T any](t *testing.T, f *Future[T]) T {
	t.Helper()
	v, err := wait(t, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

func awaitEntered(t *testing.T, repo *scriptRepo) {
	t.Helper()
	select {
	case <-repo.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("backend was never called")
	}
}

func TestGetReturnsSingleCachedInstance(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":2}`
	cache := &captureCache{}
	svc := newTestService(t, repo, WithCacheRecorder(cache))

	first := mustWait(t, svc.Get("steve"))
	second := mustWait(t, svc.Get("steve"))
	if first != second {
		t.Fatalf("expected one instance per id")
	}
	if got := loginsKey.GetOrDefault(first); got != 2 {
		t.Fatalf("expected logins 2, got %d", got)
	}
	if cached, ok := svc.GetOnThread("steve"); !ok || cached != first {
		t.Fatalf("expected cached instance on thread")
	}
	if repo.getCount() != 1 {
		t.Fatalf("expected a single backend read, got %d", repo.getCount())
	}
	if cache.hits != 1 || cache.misses != 1 {
		t.Fatalf("unexpected cache counts hits=%d misses=%d", cache.hits, cache.misses)
	}
}

func TestConcurrentGetsShareOneLoad(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":1}`
	repo.getGate = make(chan struct{})
	svc := newTestService(t, repo)

	futures := make([]*Future[testRecord], 10)
	for i := range futures {
		futures[i] = svc.Get("steve")
	}
	awaitEntered(t, repo)
	close(repo.getGate)

	first := mustWait(t, futures[0])
	for _, f := range futures[1:] {
		if rec := mustWait(t, f); rec != first {
			t.Fatalf("expected every caller to observe the same instance")
		}
	}
	if repo.getCount() != 1 {
		t.Fatalf("expected one in-flight load, got %d reads", repo.getCount())
	}
}

func TestGetDoesNotBlockCaller(t *testing.T) {
	repo := newScriptRepo()
	repo.getGate = make(chan struct{})
	svc := newTestService(t, repo)

	f := svc.Get("steve")
	select {
	case <-f.Done():
		t.Fatalf("load resolved before the backend answered")
	default:
	}
	close(repo.getGate)
	if _, err := wait(t, f); !ErrNotFound.Has(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok := svc.GetOnThread("steve"); ok {
		t.Fatalf("missing record must not be cached")
	}
}

func TestInvalidateDiscardsStaleLoad(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":1}`
	repo.getGate = make(chan struct{})
	svc := newTestService(t, repo)

	f := svc.Get("steve")
	awaitEntered(t, repo)
	svc.Invalidate("steve")
	close(repo.getGate)

	if _, err := wait(t, f); !ErrInvalidated.Has(err) {
		t.Fatalf("expected invalidated load, got %v", err)
	}
	if _, ok := svc.GetOnThread("steve"); ok {
		t.Fatalf("stale load must not install a record")
	}
	if _, err := wait(t, svc.Get("steve")); err != nil {
		t.Fatalf("fresh load after invalidate: %v", err)
	}
}

func TestEvictionKeepsNoPerIDState(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":1}`
	repo.getGate = make(chan struct{})
	svc := newTestService(t, repo)

	f := svc.Get("steve")
	awaitEntered(t, repo)
	svc.Invalidate("steve")
	close(repo.getGate)
	if _, err := wait(t, f); !ErrInvalidated.Has(err) {
		t.Fatalf("expected invalidated load, got %v", err)
	}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("player-%d", i)
		mustWait(t, svc.GetOrCreate(id))
		mustWait(t, svc.Unload(id))
		svc.Invalidate(id)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.gens) != 0 || len(svc.inflight) != 0 {
		t.Fatalf("expected no per-id load state, got %d generations and %d in flight", len(svc.gens), len(svc.inflight))
	}
}

func TestInvalidateAllDiscardsStaleLoads(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["a"] = `{}`
	repo.docs["b"] = `{}`
	svc := newTestService(t, repo)
	mustWait(t, svc.Get("a"))

	repo.getGate = make(chan struct{})
	f := svc.Get("b")
	awaitEntered(t, repo)
	svc.InvalidateAll()
	close(repo.getGate)

	if _, err := wait(t, f); !ErrInvalidated.Has(err) {
		t.Fatalf("expected invalidated load, got %v", err)
	}
	if cached := svc.Cached(); len(cached) != 0 {
		t.Fatalf("expected empty cache, got %v", cached)
	}
}

func TestGetOrCreateInstallsUnsavedRecord(t *testing.T) {
	repo := newScriptRepo()
	svc := newTestService(t, repo)

	rec := mustWait(t, svc.GetOrCreate("steve"))
	if rec.Dirty() {
		t.Fatalf("fresh record should have no dirty keys")
	}
	if _, stored := repo.doc("steve"); stored {
		t.Fatalf("create must not write synchronously")
	}
	if n := mustWait(t, svc.FlushDirty()); n != 1 {
		t.Fatalf("expected the new record to be flushed, got %d", n)
	}
	if doc, _ := repo.doc("steve"); doc != `{}` {
		t.Fatalf("unexpected stored document %q", doc)
	}
	if n := mustWait(t, svc.FlushDirty()); n != 0 {
		t.Fatalf("expected nothing left to flush, got %d", n)
	}
}

func TestSaveWritesCachedRecordOnly(t *testing.T) {
	repo := newScriptRepo()
	svc := newTestService(t, repo)

	mustWait(t, svc.Save("ghost"))
	if _, ok := repo.doc("ghost"); ok {
		t.Fatalf("saving an uncached id must not write")
	}
	if _, ok := svc.GetOnThread("ghost"); ok {
		t.Fatalf("save must not insert into the cache")
	}

	repo.docs["steve"] = `{"logins":1}`
	rec := mustWait(t, svc.Get("steve"))
	if err := loginsKey.Set(rec, 3); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !rec.Dirty() {
		t.Fatalf("expected dirty record")
	}
	mustWait(t, svc.Save("steve"))
	if doc, _ := repo.doc("steve"); doc != `{"logins":3}` {
		t.Fatalf("unexpected stored document %q", doc)
	}
	if rec.Dirty() {
		t.Fatalf("save should clear dirty keys")
	}
	mustWait(t, svc.Save("steve"))
}

func TestFailedSaveIsRetriedByFlush(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{}`
	svc := newTestService(t, repo)
	rec := mustWait(t, svc.Get("steve"))
	_ = loginsKey.Set(rec, 5)

	repo.failSet = errors.New("disk full")
	if _, err := wait(t, svc.Save("steve")); err == nil {
		t.Fatalf("expected save error")
	}
	repo.mu.Lock()
	repo.failSet = nil
	repo.mu.Unlock()

	if n := mustWait(t, svc.FlushDirty()); n != 1 {
		t.Fatalf("expected failed record to be retried, got %d", n)
	}
	if doc, _ := repo.doc("steve"); doc != `{"logins":5}` {
		t.Fatalf("unexpected stored document %q", doc)
	}
}

func TestUnloadPersistsBeforeLaterLoad(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":1}`
	svc := newTestService(t, repo)
	rec := mustWait(t, svc.Get("steve"))
	_ = loginsKey.Set(rec, 9)

	repo.setGate = make(chan struct{})
	unloaded := svc.Unload("steve")
	if _, ok := svc.GetOnThread("steve"); ok {
		t.Fatalf("unload should evict immediately")
	}
	reloaded := svc.Get("steve")
	close(repo.setGate)

	mustWait(t, unloaded)
	again := mustWait(t, reloaded)
	if again == rec {
		t.Fatalf("expected a fresh instance after unload")
	}
	if got := loginsKey.GetOrDefault(again); got != 9 {
		t.Fatalf("load overtook the unload write: logins=%d", got)
	}
}

func TestDeleteAndExists(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{}`
	svc := newTestService(t, repo)

	if ok := mustWait(t, svc.Exists("steve")); !ok {
		t.Fatalf("expected stored record to exist")
	}
	if ok := mustWait(t, svc.Exists("alex")); ok {
		t.Fatalf("expected missing record")
	}
	mustWait(t, svc.GetOrCreate("alex"))
	if ok := mustWait(t, svc.Exists("alex")); !ok {
		t.Fatalf("cached record should exist")
	}

	mustWait(t, svc.Get("steve"))
	mustWait(t, svc.Delete("steve"))
	if _, ok := svc.GetOnThread("steve"); ok {
		t.Fatalf("delete should evict")
	}
	if ok := mustWait(t, svc.Exists("steve")); ok {
		t.Fatalf("deleted record should not exist")
	}
}

func TestLoadFailureIsReported(t *testing.T) {
	repo := newScriptRepo()
	repo.failGet = errors.New("connection reset")
	svc := newTestService(t, repo)

	if _, err := wait(t, svc.Get("steve")); !persistence.ErrLoad.Has(err) {
		t.Fatalf("expected load failure, got %v", err)
	}
	if _, ok := svc.GetOnThread("steve"); ok {
		t.Fatalf("failed load must not leave a partial entry")
	}

	repo.mu.Lock()
	repo.failGet = nil
	repo.docs["bad"] = `[1,2]`
	repo.mu.Unlock()
	if _, err := wait(t, svc.Get("bad")); !persistence.ErrLoad.Has(err) {
		t.Fatalf("expected load failure for a non-object, got %v", err)
	}
}

func TestReloadReplacesOnlyOnSuccess(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{"logins":1}`
	svc := newTestService(t, repo)
	old := mustWait(t, svc.Get("steve"))

	repo.mu.Lock()
	repo.failGet = errors.New("timeout")
	repo.mu.Unlock()
	if _, err := wait(t, svc.Reload("steve")); err == nil {
		t.Fatalf("expected reload failure")
	}
	if cur, _ := svc.GetOnThread("steve"); cur != old {
		t.Fatalf("failed reload must keep the cached record")
	}

	repo.mu.Lock()
	repo.failGet = nil
	repo.docs["steve"] = `{"logins":4}`
	repo.mu.Unlock()
	fresh := mustWait(t, svc.Reload("steve"))
	if fresh == old || loginsKey.GetOrDefault(fresh) != 4 {
		t.Fatalf("expected reloaded record with logins 4")
	}
	if cur, _ := svc.GetOnThread("steve"); cur != fresh {
		t.Fatalf("reload should replace the cached record")
	}
}

func TestGetAllReusesCachedInstances(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["a"] = `{"logins":1}`
	repo.docs["b"] = `{"logins":7}`
	repo.docs["c"] = `{"logins":9}`
	svc := newTestService(t, repo)
	cached := mustWait(t, svc.Get("a"))

	all := mustWait(t, svc.GetAll(query.New().Where("logins", query.Lt, 8)))
	if len(all) != 2 || all[0] != cached {
		t.Fatalf("expected cached a and loaded b, got %d records", len(all))
	}
	if n := mustWait(t, svc.Count(query.New())); n != 3 {
		t.Fatalf("expected 3 stored records, got %d", n)
	}
	ids := mustWait(t, svc.IDs(query.ForIDs("c", "z")))
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if got := svc.Cached(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected cached ids %v", got)
	}
}

func TestGetFirstReturnsLowestMatchingID(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["a"] = `{"logins":1}`
	repo.docs["b"] = `{"logins":7}`
	repo.docs["c"] = `{"logins":9}`
	svc := newTestService(t, repo)
	cached := mustWait(t, svc.Get("c"))

	rec := mustWait(t, svc.GetFirst(query.New().Where("logins", query.Gt, 5)))
	if loginsKey.GetOrDefault(rec) != 7 {
		t.Fatalf("expected b, got logins=%d", loginsKey.GetOrDefault(rec))
	}
	if again := mustWait(t, svc.GetFirst(query.ForIDs("c"))); again != cached {
		t.Fatalf("expected the cached instance")
	}
	if _, err := wait(t, svc.GetFirst(query.New().Where("logins", query.Gt, 100))); !ErrNotFound.Has(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveMatchingReportsPartialFailures(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["a"] = `{}`
	repo.docs["b"] = `{}`
	repo.docs["c"] = `{}`
	repo.failDelete["b"] = errors.New("locked")
	svc := newTestService(t, repo)
	mustWait(t, svc.Get("a"))

	res, err := wait(t, svc.RemoveMatching(query.New()))
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if len(res.Matched) != 3 || len(res.Removed) != 2 || res.Removed[0] != "a" || res.Removed[1] != "c" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, failed := res.Failed["b"]; !failed || len(res.Failed) != 1 {
		t.Fatalf("expected b to fail, got %v", res.Failed)
	}
	if _, ok := svc.GetOnThread("a"); ok {
		t.Fatalf("removed record should be evicted")
	}
	if _, ok := repo.doc("b"); !ok {
		t.Fatalf("failed removal should keep the document")
	}
}

func TestUnsupportedServiceFailsGracefully(t *testing.T) {
	svc := newTestService(t, nil)
	if svc.Available() {
		t.Fatalf("expected unavailable service")
	}
	if _, err := wait(t, svc.Get("steve")); !persistence.IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if _, err := wait(t, svc.IDs(query.New())); !persistence.IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if n, err := wait(t, svc.FlushDirty()); n != 0 || err != nil {
		t.Fatalf("flush of an unsupported service should be a no-op, got %d %v", n, err)
	}
}

func TestInvalidIDsAreRejected(t *testing.T) {
	svc := newTestService(t, newScriptRepo())
	if _, err := wait(t, svc.Get("../etc/passwd")); !persistence.ErrInvalidID.Has(err) {
		t.Fatalf("expected invalid id, got %v", err)
	}
}

func TestUUIDsAreCanonicalised(t *testing.T) {
	repo := newScriptRepo()
	svc := newTestService(t, repo)
	rec := mustWait(t, svc.GetOrCreate("0A6B1C3E-6C3F-4D5E-9A8B-7C6D5E4F3A2B"))
	if cached, ok := svc.GetOnThread("0a6b1c3e6c3f4d5e9a8b7c6d5e4f3a2b"); !ok || cached != rec {
		t.Fatalf("expected spellings of one uuid to share an entry")
	}
}

func TestStoppedServiceRejectsLoads(t *testing.T) {
	repo := newScriptRepo()
	repo.docs["steve"] = `{}`
	svc := newTestService(t, repo)
	mustWait(t, svc.Get("steve"))
	svc.stopLoads()

	if _, err := wait(t, svc.Get("steve")); err != nil {
		t.Fatalf("cached records stay readable: %v", err)
	}
	if _, err := wait(t, svc.Get("alex")); !ErrClosed.Has(err) {
		t.Fatalf("expected closed, got %v", err)
	}
	if err := svc.waitLoads(context.Background()); err != nil {
		t.Fatalf("wait loads: %v", err)
	}
}
