package engine

import (
	"boardsync/cache"
	"boardsync/core"
	"boardsync/stores/memory"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyStore wraps a real in-memory store so tests can fail writes and
// inject subscription errors on demand.
type flakyStore struct {
	*memory.Store

	mu            sync.Mutex
	failWrites    bool
	onError       func(error)
	subscribes    int
	onFailedWrite func(ctx context.Context)
}

func newFlakyStore(userID string) *flakyStore {
	return &flakyStore{Store: memory.NewStore(userID)}
}

func (s *flakyStore) setFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func (s *flakyStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failWrites
}

func (s *flakyStore) Subscribe(onSnapshot func([]core.Object), onError func(error)) func() {
	s.mu.Lock()
	s.onError = onError
	s.subscribes++
	s.mu.Unlock()
	return s.Store.Subscribe(onSnapshot, onError)
}

func (s *flakyStore) injectError(err error) {
	s.mu.Lock()
	onError := s.onError
	s.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (s *flakyStore) subscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func (s *flakyStore) BatchCreate(ctx context.Context, objs []*core.Object) ([]string, error) {
	if s.failing() {
		return nil, errors.New("simulated write failure")
	}
	return s.Store.BatchCreate(ctx, objs)
}

func (s *flakyStore) BatchUpdate(ctx context.Context, updates []core.ObjectUpdate) error {
	if s.failing() {
		s.mu.Lock()
		hook := s.onFailedWrite
		s.mu.Unlock()
		if hook != nil {
			hook(ctx)
		}
		return errors.New("simulated write failure")
	}
	return s.Store.BatchUpdate(ctx, updates)
}

func (s *flakyStore) BatchDelete(ctx context.Context, ids []string) error {
	if s.failing() {
		return errors.New("simulated write failure")
	}
	return s.Store.BatchDelete(ctx, ids)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func seed(t *testing.T, store *flakyStore, x float64) string {
	t.Helper()
	id, err := store.Store.Create(context.Background(), &core.Object{
		Type: core.TypeRectangle, X: x, Y: 100, Width: 50, Height: 50, Opacity: 1,
	})
	if err != nil {
		t.Fatalf("seed Create() failed: %v", err)
	}
	return id
}

func TestStart_SyncsImmediately(t *testing.T) {
	store := newFlakyStore("user-a")
	id := seed(t, store, 10)

	local := cache.NewStore()
	eng := NewEngine(store, local)
	defer eng.Close()
	eng.Start()

	state, retrying := eng.State()
	if state != StateSynced {
		t.Errorf("State() = %v, want %v", state, StateSynced)
	}
	if retrying {
		t.Error("retrying = true right after a clean start")
	}
	if _, ok := local.Get(id); !ok {
		t.Error("initial snapshot did not populate the cache")
	}
}

func TestSnapshot_ReplacesCacheWholesale(t *testing.T) {
	store := newFlakyStore("user-a")
	id := seed(t, store, 10)

	local := cache.NewStore()
	// Stale residue that no snapshot contains.
	local.Insert(&core.Object{ID: "ghost", Type: core.TypeEllipse})

	eng := NewEngine(store, local)
	defer eng.Close()
	eng.Start()

	if _, ok := local.Get("ghost"); ok {
		t.Error("snapshot merged with stale cache contents instead of replacing them")
	}
	if _, ok := local.Get(id); !ok {
		t.Error("snapshot object missing from cache")
	}
}

func TestHandleError_BacksOffAndReconnects(t *testing.T) {
	store := newFlakyStore("user-a")
	seed(t, store, 10)

	local := cache.NewStore()
	eng := NewEngine(store, local)
	eng.SetBackoff(time.Millisecond, 5*time.Millisecond)
	defer eng.Close()
	eng.Start()

	before := store.subscribeCount()
	store.injectError(errors.New("stream torn down"))

	if got := eng.Attempts(); got != 1 {
		t.Errorf("Attempts() = %d, want 1", got)
	}
	if _, retrying := eng.State(); !retrying {
		t.Error("retrying = false after subscription error")
	}

	waitFor(t, "reconnect", func() bool { return store.subscribeCount() > before })
	waitFor(t, "resync", func() bool {
		state, retrying := eng.State()
		return state == StateSynced && !retrying
	})
	if got := eng.Attempts(); got != 0 {
		t.Errorf("Attempts() = %d after successful resync, want 0", got)
	}
}

func TestRetry_ResetsAttemptsAndReconnects(t *testing.T) {
	store := newFlakyStore("user-a")
	seed(t, store, 10)

	local := cache.NewStore()
	eng := NewEngine(store, local)
	// Long enough that the scheduled reconnect never fires during the test.
	eng.SetBackoff(time.Hour, time.Hour)
	defer eng.Close()
	eng.Start()

	store.injectError(errors.New("stream torn down"))
	if got := eng.Attempts(); got != 1 {
		t.Fatalf("Attempts() = %d, want 1", got)
	}

	eng.Retry()

	if got := eng.Attempts(); got != 0 {
		t.Errorf("Attempts() = %d after Retry(), want 0", got)
	}
	state, retrying := eng.State()
	if state != StateSynced || retrying {
		t.Errorf("State() = %v retrying=%v after Retry(), want synced", state, retrying)
	}
}

func TestSetOnline_OfflineKeepsSubscription(t *testing.T) {
	store := newFlakyStore("user-a")
	seed(t, store, 10)

	local := cache.NewStore()
	eng := NewEngine(store, local)
	defer eng.Close()
	eng.Start()

	eng.SetOnline(false)
	state, _ := eng.State()
	if state != StateDisconnected {
		t.Errorf("State() = %v after going offline, want %v", state, StateDisconnected)
	}

	// The subscription is still wired, so a committed write still reaches
	// the cache even while the state reads disconnected.
	id := seed(t, store, 99)
	if _, ok := local.Get(id); !ok {
		t.Error("offline state tore down the subscription")
	}

	eng.SetOnline(true)
	state, retrying := eng.State()
	if state != StateSynced || retrying {
		t.Errorf("State() = %v retrying=%v after coming back online, want synced", state, retrying)
	}
}

func TestClose_StopsReconnects(t *testing.T) {
	store := newFlakyStore("user-a")
	seed(t, store, 10)

	local := cache.NewStore()
	eng := NewEngine(store, local)
	eng.SetBackoff(time.Millisecond, time.Millisecond)
	eng.Start()
	eng.Close()

	before := store.subscribeCount()
	store.injectError(errors.New("stream torn down"))
	time.Sleep(20 * time.Millisecond)

	if got := store.subscribeCount(); got != before {
		t.Errorf("engine reconnected after Close(): %d -> %d subscribes", before, got)
	}
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	base := time.Second
	max := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, max, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIsTempID(t *testing.T) {
	if !IsTempID("temp-01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Error("IsTempID() = false for temp id")
	}
	if IsTempID("01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Error("IsTempID() = true for stored id")
	}
	if IsTempID("temp-") {
		t.Error("IsTempID() = true for bare prefix")
	}
}
