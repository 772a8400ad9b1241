// Package history keeps the undo/redo stacks. Entries are replayed by
// writing their recorded payloads straight through the store's batch
// primitives, never by re-running the command that produced them, so undo
// restores the exact prior values even if defaults or command logic change.
package history

import (
	"boardsync/core"
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNothingToUndo reports an empty undo stack. Callers surface it to
	// the user rather than swallowing it.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo reports an empty redo stack.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DefaultLimit bounds each stack.
const DefaultLimit = 100

type (
	// Payload is one direction of an entry: prior (undo) or new (redo)
	// state, expressed directly in store terms.
	Payload struct {
		// Updates holds field values keyed by object id.
		Updates map[string]core.Fields
		// Create holds full objects to recreate under their original ids.
		Create []*core.Object
		// Delete holds ids of objects to remove.
		Delete []string
	}

	// Entry is a discriminated record of one executed command.
	Entry struct {
		Kind        string
		Description string
		Undo        Payload
		Redo        Payload
	}
)

// Manager owns the two bounded stacks.
type Manager struct {
	store core.ObjectStore

	mu    sync.Mutex
	undo  []*Entry
	redo  []*Entry
	limit int
}

// NewManager creates a history manager replaying through store.
func NewManager(store core.ObjectStore, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Manager{store: store, limit: limit}
}

// Record pushes an executed command onto the undo stack. Recording a new
// command clears the redo stack: a redo payload recorded before a divergent
// edit would re-apply values that no longer describe the board.
func (m *Manager) Record(entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.undo = append(m.undo, entry)
	if len(m.undo) > m.limit {
		m.undo = m.undo[len(m.undo)-m.limit:]
	}
	m.redo = nil
}

// Undo replays the most recent entry's undo payload and moves the entry to
// the redo stack. An empty stack returns ErrNothingToUndo.
func (m *Manager) Undo(ctx context.Context) (*Entry, error) {
	m.mu.Lock()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	entry := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.mu.Unlock()

	if err := m.apply(ctx, entry.Undo); err != nil {
		// Replay failed; the entry stays undoable.
		m.mu.Lock()
		m.undo = append(m.undo, entry)
		m.mu.Unlock()
		logrus.WithField("kind", entry.Kind).WithError(err).Error("Undo replay failed")
		return nil, err
	}

	m.mu.Lock()
	m.redo = append(m.redo, entry)
	if len(m.redo) > m.limit {
		m.redo = m.redo[len(m.redo)-m.limit:]
	}
	m.mu.Unlock()
	return entry, nil
}

// Redo replays the most recently undone entry's redo payload and moves the
// entry back to the undo stack. An empty stack returns ErrNothingToRedo.
func (m *Manager) Redo(ctx context.Context) (*Entry, error) {
	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	entry := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	if err := m.apply(ctx, entry.Redo); err != nil {
		m.mu.Lock()
		m.redo = append(m.redo, entry)
		m.mu.Unlock()
		logrus.WithField("kind", entry.Kind).WithError(err).Error("Redo replay failed")
		return nil, err
	}

	m.mu.Lock()
	m.undo = append(m.undo, entry)
	m.mu.Unlock()
	return entry, nil
}

// apply writes a payload through the store's batch primitives. An entry is
// all-or-nothing against the ids it names: each batch commits as a single
// revision.
func (m *Manager) apply(ctx context.Context, p Payload) error {
	if len(p.Create) > 0 {
		objs := make([]*core.Object, len(p.Create))
		for i, obj := range p.Create {
			objs[i] = obj.Clone()
		}
		if _, err := m.store.BatchCreate(ctx, objs); err != nil {
			return err
		}
	}
	if len(p.Updates) > 0 {
		updates := make([]core.ObjectUpdate, 0, len(p.Updates))
		for id, fields := range p.Updates {
			updates = append(updates, core.ObjectUpdate{ID: id, Fields: fields.Clone()})
		}
		if err := m.store.BatchUpdate(ctx, updates); err != nil {
			return err
		}
	}
	if len(p.Delete) > 0 {
		if err := m.store.BatchDelete(ctx, p.Delete); err != nil {
			return err
		}
	}
	return nil
}

// CanUndo reports whether the undo stack is non-empty.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// Depths returns the sizes of the undo and redo stacks.
func (m *Manager) Depths() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}
