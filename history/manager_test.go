package history

import (
	"boardsync/core"
	"boardsync/stores/memory"
	"context"
	"errors"
	"testing"
)

func seedObject(t *testing.T, store *memory.Store, x float64) string {
	t.Helper()
	id, err := store.Create(context.Background(), &core.Object{
		Type: core.TypeRectangle, X: x, Y: 100, Width: 50, Height: 50, Opacity: 1,
	})
	if err != nil {
		t.Fatalf("seed Create() failed: %v", err)
	}
	return id
}

func moveEntry(id string, fromX, toX float64) *Entry {
	return &Entry{
		Kind:        "move",
		Description: "Move 1 object(s)",
		Undo:        Payload{Updates: map[string]core.Fields{id: {core.FieldX: fromX}}},
		Redo:        Payload{Updates: map[string]core.Fields{id: {core.FieldX: toX}}},
	}
}

func TestUndo_EmptyStack(t *testing.T) {
	m := NewManager(memory.NewStore("user-a"), 0)

	if _, err := m.Undo(context.Background()); err != ErrNothingToUndo {
		t.Errorf("Undo() error = %v, want ErrNothingToUndo", err)
	}
	if m.CanUndo() {
		t.Error("CanUndo() = true on empty stack")
	}
}

func TestRedo_EmptyStack(t *testing.T) {
	m := NewManager(memory.NewStore("user-a"), 0)

	if _, err := m.Redo(context.Background()); err != ErrNothingToRedo {
		t.Errorf("Redo() error = %v, want ErrNothingToRedo", err)
	}
	if m.CanRedo() {
		t.Error("CanRedo() = true on empty stack")
	}
}

func TestUndo_ReplaysPriorValues(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()
	id := seedObject(t, store, 100)

	if err := store.Update(ctx, id, core.Fields{core.FieldX: 110.0}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	m := NewManager(store, 0)
	m.Record(moveEntry(id, 100, 110))

	entry, err := m.Undo(ctx)
	if err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if entry.Kind != "move" {
		t.Errorf("entry.Kind = %q, want %q", entry.Kind, "move")
	}

	obj, _ := store.Get(ctx, id)
	if obj.X != 100 {
		t.Errorf("X = %v after undo, want 100", obj.X)
	}
	if m.CanUndo() {
		t.Error("CanUndo() = true after sole entry undone")
	}
	if !m.CanRedo() {
		t.Error("CanRedo() = false after undo")
	}
}

func TestRedo_ReplaysNewValues(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()
	id := seedObject(t, store, 100)

	m := NewManager(store, 0)
	m.Record(moveEntry(id, 100, 110))
	if _, err := m.Undo(ctx); err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if _, err := m.Redo(ctx); err != nil {
		t.Fatalf("Redo() failed: %v", err)
	}

	obj, _ := store.Get(ctx, id)
	if obj.X != 110 {
		t.Errorf("X = %v after redo, want 110", obj.X)
	}
	if !m.CanUndo() {
		t.Error("CanUndo() = false after redo")
	}
	if m.CanRedo() {
		t.Error("CanRedo() = true after sole entry redone")
	}
}

func TestRecord_ClearsRedoStack(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()
	id := seedObject(t, store, 100)

	m := NewManager(store, 0)
	m.Record(moveEntry(id, 100, 110))
	if _, err := m.Undo(ctx); err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if !m.CanRedo() {
		t.Fatal("CanRedo() = false after undo")
	}

	// A divergent edit invalidates the redo payload.
	m.Record(moveEntry(id, 100, 200))
	if m.CanRedo() {
		t.Error("CanRedo() = true after recording a new command")
	}
}

func TestRecord_BoundsUndoStack(t *testing.T) {
	store := memory.NewStore("user-a")
	id := seedObject(t, store, 0)

	m := NewManager(store, 3)
	for i := 0; i < 5; i++ {
		m.Record(moveEntry(id, float64(i), float64(i+1)))
	}

	undo, redo := m.Depths()
	if undo != 3 {
		t.Errorf("undo depth = %d, want 3", undo)
	}
	if redo != 0 {
		t.Errorf("redo depth = %d, want 0", redo)
	}

	// The retained entries are the most recent ones.
	entry, err := m.Undo(context.Background())
	if err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	if got := entry.Undo.Updates[id][core.FieldX]; got != 4.0 {
		t.Errorf("latest entry undoes to X=%v, want 4", got)
	}
}

func TestUndo_ResurrectsDeletedObjectsWithOriginalIDs(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()
	id := seedObject(t, store, 100)

	captured, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	m := NewManager(store, 0)
	m.Record(&Entry{
		Kind: "delete",
		Undo: Payload{Create: []*core.Object{captured}},
		Redo: Payload{Delete: []string{id}},
	})

	if _, err := m.Undo(ctx); err != nil {
		t.Fatalf("Undo() failed: %v", err)
	}
	obj, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("object not resurrected under original id: %v", err)
	}
	if obj.X != 100 {
		t.Errorf("resurrected X = %v, want 100", obj.X)
	}

	if _, err := m.Redo(ctx); err != nil {
		t.Fatalf("Redo() failed: %v", err)
	}
	if _, err := store.Get(ctx, id); err == nil {
		t.Error("object still present after redo of delete")
	}
}

func TestUndo_FailedReplayKeepsEntry(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()

	m := NewManager(store, 0)
	// The undo payload targets an object the store has never seen, so the
	// batch update fails.
	m.Record(moveEntry("missing-object", 100, 110))

	if _, err := m.Undo(ctx); err == nil {
		t.Fatal("Undo() should surface the replay failure")
	}
	if !m.CanUndo() {
		t.Error("failed undo must leave the entry on the undo stack")
	}
	if m.CanRedo() {
		t.Error("failed undo must not populate the redo stack")
	}
}

func TestUndoRedo_AlternatingSequence(t *testing.T) {
	store := memory.NewStore("user-a")
	ctx := context.Background()
	id := seedObject(t, store, 0)

	m := NewManager(store, 0)
	for i := 0; i < 3; i++ {
		from := float64(i * 10)
		to := float64((i + 1) * 10)
		if err := store.Update(ctx, id, core.Fields{core.FieldX: to}); err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
		m.Record(moveEntry(id, from, to))
	}

	// Unwind everything, then replay everything.
	for i := 0; i < 3; i++ {
		if _, err := m.Undo(ctx); err != nil {
			t.Fatalf("Undo() #%d failed: %v", i+1, err)
		}
	}
	obj, _ := store.Get(ctx, id)
	if obj.X != 0 {
		t.Fatalf("X = %v after full unwind, want 0", obj.X)
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Redo(ctx); err != nil {
			t.Fatalf("Redo() #%d failed: %v", i+1, err)
		}
	}
	obj, _ = store.Get(ctx, id)
	if obj.X != 30 {
		t.Fatalf("X = %v after full replay, want 30", obj.X)
	}

	if _, err := m.Redo(ctx); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("Redo() past the end = %v, want ErrNothingToRedo", err)
	}
}
