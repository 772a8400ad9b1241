package engine

import (
	"boardsync/core"
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Each in-flight optimistic write is a small state machine: it starts
// pending, and either commits (remote write confirmed) or rolls back (remote
// write rejected). A write that a newer authoritative snapshot has already
// overtaken is not rolled back: the snapshot is the truth and undoing the
// local mutation on top of it would reintroduce stale values.
type writeState int

const (
	writePending writeState = iota
	writeCommitted
	writeRolledBack
)

type pendingWrite struct {
	id         string
	generation uint64
	state      writeState
	rollback   func()
}

// snapshotGeneration reads the generation counter bumped by each
// authoritative snapshot. Optimistic writes capture it before touching the
// local cache, so a snapshot landing anywhere between the local mutation and
// the remote outcome marks the write as superseded.
func (e *Engine) snapshotGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

func (e *Engine) beginWrite(gen uint64, rollback func()) *pendingWrite {
	w := &pendingWrite{
		id:         ulid.Make().String(),
		generation: gen,
		state:      writePending,
		rollback:   rollback,
	}
	e.pendingMu.Lock()
	e.pending[w.id] = w
	e.pendingMu.Unlock()
	return w
}

func (e *Engine) commitWrite(w *pendingWrite) {
	e.pendingMu.Lock()
	w.state = writeCommitted
	delete(e.pending, w.id)
	e.pendingMu.Unlock()
}

func (e *Engine) rollbackWrite(w *pendingWrite) {
	e.mu.Lock()
	superseded := e.generation != w.generation
	e.mu.Unlock()

	e.pendingMu.Lock()
	w.state = writeRolledBack
	delete(e.pending, w.id)
	e.pendingMu.Unlock()

	if superseded {
		logrus.Debug("Skipping rollback of optimistic write superseded by snapshot")
		return
	}
	w.rollback()
}

// PendingWrites returns the number of optimistic writes still awaiting a
// remote outcome.
func (e *Engine) PendingWrites() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// CreateOptimistic inserts a placeholder under a temporary local id, then
// issues the remote create. The placeholder is removed either way: on
// success the real object arrives via the next snapshot, on failure the
// removal undoes the insert and the error is returned.
func (e *Engine) CreateOptimistic(ctx context.Context, obj *core.Object) (string, error) {
	ids, err := e.BatchCreateOptimistic(ctx, []*core.Object{obj})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// BatchCreateOptimistic is CreateOptimistic over several objects with a
// single atomic remote write.
func (e *Engine) BatchCreateOptimistic(ctx context.Context, objs []*core.Object) ([]string, error) {
	gen := e.snapshotGeneration()
	tempIDs := make([]string, len(objs))
	for i, obj := range objs {
		temp := obj.Clone()
		temp.ID = tempIDPrefix + ulid.Make().String()
		tempIDs[i] = temp.ID
		e.local.Insert(temp)
	}

	removeTemps := func() {
		for _, id := range tempIDs {
			e.local.Remove(id)
		}
	}

	w := e.beginWrite(gen, removeTemps)
	ids, err := e.store.BatchCreate(ctx, objs)
	if err != nil {
		e.rollbackWrite(w)
		// Superseded or not, the placeholders must go: they never
		// correspond to a stored object.
		removeTemps()
		return nil, err
	}
	e.commitWrite(w)
	removeTemps()
	return ids, nil
}

// UpdateOptimistic patches the cache immediately and issues the remote
// update, rolling the cache back to the exact pre-mutation values on
// failure. Updating an object that is no longer cached is a logged no-op.
func (e *Engine) UpdateOptimistic(ctx context.Context, id string, fields core.Fields) error {
	return e.BatchUpdateOptimistic(ctx, []core.ObjectUpdate{{ID: id, Fields: fields}})
}

// BatchUpdateOptimistic is UpdateOptimistic over several objects with a
// single atomic remote write. All local mutations roll back together.
func (e *Engine) BatchUpdateOptimistic(ctx context.Context, updates []core.ObjectUpdate) error {
	gen := e.snapshotGeneration()
	applied := make([]core.ObjectUpdate, 0, len(updates))
	priors := make([]core.Fields, 0, len(updates))
	for _, u := range updates {
		obj, ok := e.local.Get(u.ID)
		if !ok {
			logrus.WithField("object_id", u.ID).Warn("Optimistic update of missing object ignored")
			continue
		}
		prior := core.CaptureFields(obj, fieldNames(u.Fields)...)
		if err := e.local.Patch(u.ID, u.Fields); err != nil {
			return err
		}
		applied = append(applied, u)
		priors = append(priors, prior)
	}
	if len(applied) == 0 {
		return nil
	}

	w := e.beginWrite(gen, func() {
		for i, u := range applied {
			if err := e.local.Patch(u.ID, priors[i]); err != nil {
				logrus.WithField("object_id", u.ID).WithError(err).Warn("Rollback patch failed")
			}
		}
	})
	if err := e.store.BatchUpdate(ctx, applied); err != nil {
		e.rollbackWrite(w)
		return err
	}
	e.commitWrite(w)
	return nil
}

// DeleteOptimistic removes the object locally and issues the remote delete,
// re-inserting the captured object on failure.
func (e *Engine) DeleteOptimistic(ctx context.Context, id string) error {
	return e.BatchDeleteOptimistic(ctx, []string{id})
}

// BatchDeleteOptimistic is DeleteOptimistic over several objects with a
// single atomic remote write.
func (e *Engine) BatchDeleteOptimistic(ctx context.Context, ids []string) error {
	gen := e.snapshotGeneration()
	removed := make([]*core.Object, 0, len(ids))
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		obj, ok := e.local.Get(id)
		if !ok {
			logrus.WithField("object_id", id).Warn("Optimistic delete of missing object ignored")
			continue
		}
		removed = append(removed, obj)
		present = append(present, id)
		e.local.Remove(id)
	}
	if len(present) == 0 {
		return nil
	}

	w := e.beginWrite(gen, func() {
		for _, obj := range removed {
			e.local.Insert(obj)
		}
	})
	if err := e.store.BatchDelete(ctx, present); err != nil {
		e.rollbackWrite(w)
		return err
	}
	e.commitWrite(w)
	return nil
}

func fieldNames(fields core.Fields) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}
