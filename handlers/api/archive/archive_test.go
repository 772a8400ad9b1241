package archive

import (
	"boardsync/core"
	"boardsync/stores/memory"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newRouter(store core.ArchiveStore) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/archive", HandleList(store))
	r.Post("/archive", HandleCreate(store))
	r.Get("/archive/{id}", HandleGet(store))
	r.Put("/archive/{id}", HandleUpdate(store))
	r.Delete("/archive/{id}", HandleDelete(store))
	return r
}

func TestHandleCreate_Success(t *testing.T) {
	store := memory.NewStore("service")
	r := newRouter(store)

	body := `{"name":"before review","data":"[{\"id\":\"shape-1\"}]"}`
	req := httptest.NewRequest(http.MethodPost, "/archive", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var resp SaveSnapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("response missing snapshot id")
	}

	snap, err := store.GetSnapshot(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if snap.Name != "before review" {
		t.Errorf("Name = %q, want %q", snap.Name, "before review")
	}
}

func TestHandleList_EmptyIsArrayNotNull(t *testing.T) {
	store := memory.NewStore("service")
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/archive", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	store := memory.NewStore("service")
	r := newRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/archive/nonexistent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleUpdate_Overwrites(t *testing.T) {
	store := memory.NewStore("service")
	r := newRouter(store)
	ctx := context.Background()

	if err := store.Save(ctx, &core.BoardSnapshot{ID: "snap-1", Name: "v1"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/archive/snap-1", bytes.NewBufferString(`{"name":"v2"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	snap, _ := store.GetSnapshot(ctx, "snap-1")
	if snap.Name != "v2" {
		t.Errorf("Name = %q, want %q", snap.Name, "v2")
	}
}

func TestHandleDelete_Success(t *testing.T) {
	store := memory.NewStore("service")
	r := newRouter(store)
	ctx := context.Background()

	if err := store.Save(ctx, &core.BoardSnapshot{ID: "snap-1", Name: "v1"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/archive/snap-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if _, err := store.GetSnapshot(ctx, "snap-1"); err == nil {
		t.Error("snapshot still present after delete")
	}
}
