package cache

import (
	"boardsync/core"
	"testing"
)

func TestGetAll_OrderedByZIndex(t *testing.T) {
	s := NewStore()
	s.Insert(&core.Object{ID: "c", ZIndex: 3})
	s.Insert(&core.Object{ID: "a", ZIndex: 1})
	s.Insert(&core.Object{ID: "b", ZIndex: 2.5})

	all := s.GetAll()
	want := []string{"a", "b", "c"}
	if len(all) != len(want) {
		t.Fatalf("GetAll() returned %d objects, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("paint order[%d] = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Insert(&core.Object{ID: "a", X: 1})

	obj, ok := s.Get("a")
	if !ok {
		t.Fatal("Get() missed an inserted object")
	}
	obj.X = 99

	again, _ := s.Get("a")
	if again.X != 1 {
		t.Errorf("X = %v after mutating a returned copy, want 1", again.X)
	}
}

func TestPatch_MissingObjectIsNoOp(t *testing.T) {
	s := NewStore()

	if err := s.Patch("deleted-under-us", core.Fields{core.FieldX: 1.0}); err != nil {
		t.Errorf("Patch() on missing object errored: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestPatch_InvalidFieldSurfaces(t *testing.T) {
	s := NewStore()
	s.Insert(&core.Object{ID: "a"})

	if err := s.Patch("a", core.Fields{"no-such-field": 1.0}); err == nil {
		t.Error("Patch() accepted an unknown field")
	}
}

func TestReplaceAll_DropsStaleEntries(t *testing.T) {
	s := NewStore()
	s.Insert(&core.Object{ID: "stale", X: 1})
	s.Insert(&core.Object{ID: "kept", X: 2})

	s.ReplaceAll([]core.Object{{ID: "kept", X: 20}, {ID: "new", X: 30}})

	if _, ok := s.Get("stale"); ok {
		t.Error("stale entry survived ReplaceAll")
	}
	kept, _ := s.Get("kept")
	if kept.X != 20 {
		t.Errorf("kept.X = %v, want the snapshot value 20", kept.X)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestOnChange_FiresPerMutation(t *testing.T) {
	s := NewStore()
	var calls int
	s.OnChange(func() { calls++ })

	s.Insert(&core.Object{ID: "a"})
	if err := s.Patch("a", core.Fields{core.FieldX: 1.0}); err != nil {
		t.Fatalf("Patch() failed: %v", err)
	}
	s.Remove("a")
	s.ReplaceAll(nil)

	if calls != 4 {
		t.Errorf("onChange fired %d times, want 4", calls)
	}
}
