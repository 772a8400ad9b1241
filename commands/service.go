// Package commands is the single entry point for every user-visible
// mutation. Each command follows the same template: acquire the leases it is
// missing, capture the pre-mutation values of the fields it touches, apply
// the mutation to the local cache optimistically, issue one batched remote
// write, and record an invertible history entry. On failure the optimistic
// residue is left for the next authoritative snapshot to correct.
package commands

import (
	"boardsync/cache"
	"boardsync/core"
	"boardsync/engine"
	"boardsync/history"
	"boardsync/locks"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LeaseDeniedError reports that every target of a command was under a live
// foreign lease, so nothing could be mutated.
type LeaseDeniedError struct {
	Blocked []locks.AcquireResult
}

func (e *LeaseDeniedError) Error() string {
	holders := make([]string, 0, len(e.Blocked))
	for _, b := range e.Blocked {
		holders = append(holders, fmt.Sprintf("%s (held by %s)", b.ObjectID, b.Holder))
	}
	return "objects locked by other users: " + strings.Join(holders, ", ")
}

// Service executes commands on behalf of one user.
type Service struct {
	engine  *engine.Engine
	locks   *locks.Manager
	local   *cache.Store
	history *history.Manager

	mu        sync.Mutex
	clipboard []*core.Object
	onError   func(op string, err error)
}

// NewService wires a command service over the sync engine, lock manager,
// local cache, and history manager.
func NewService(eng *engine.Engine, lm *locks.Manager, local *cache.Store, hist *history.Manager) *Service {
	return &Service{engine: eng, locks: lm, local: local, history: hist}
}

// OnError registers the transient-notification hook; every failed mutation
// passes through it exactly once. Nothing is ever silently swallowed.
func (s *Service) OnError(fn func(op string, err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *Service) fail(op string, err error) error {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()

	logrus.WithField("op", op).WithError(err).Warn("Command failed")
	if fn != nil {
		fn(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ensureLeases acquires any leases the service does not already hold for the
// target ids. It returns the ids it may mutate and the per-object refusals.
// Leases acquired here are retained after the command completes, so that a
// sequence of edits to the same selection does not re-acquire on every
// keystroke. They are given back on Deselect.
func (s *Service) ensureLeases(ctx context.Context, ids []string) (granted []string, blocked []locks.AcquireResult, err error) {
	var missing []string
	for _, id := range ids {
		if s.locks.HeldByMe(id) {
			granted = append(granted, id)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return granted, nil, nil
	}

	results, err := s.locks.BatchAcquire(ctx, missing)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range results {
		if r.OK {
			granted = append(granted, r.ObjectID)
		} else {
			blocked = append(blocked, r)
		}
	}
	return granted, blocked, nil
}

// mutate runs the shared template for field-updating commands: leases,
// prior-value capture, optimistic batch write, history entry. fields maps
// object id to the new values for that object; ids absent from the cache are
// skipped with a warning.
func (s *Service) mutate(ctx context.Context, op, description string, fields map[string]core.Fields) ([]locks.AcquireResult, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}

	granted, blocked, err := s.ensureLeases(ctx, ids)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if len(granted) == 0 {
		return blocked, s.fail(op, &LeaseDeniedError{Blocked: blocked})
	}

	prior := make(map[string]core.Fields, len(granted))
	next := make(map[string]core.Fields, len(granted))
	updates := make([]core.ObjectUpdate, 0, len(granted))
	for _, id := range granted {
		obj, ok := s.local.Get(id)
		if !ok {
			logrus.WithFields(logrus.Fields{"op": op, "object_id": id}).Warn("Command target no longer exists")
			continue
		}
		f := fields[id]
		names := make([]string, 0, len(f))
		for name := range f {
			names = append(names, name)
		}
		prior[id] = core.CaptureFields(obj, names...)
		next[id] = f.Clone()
		updates = append(updates, core.ObjectUpdate{ID: id, Fields: f})
	}
	if len(updates) == 0 {
		return blocked, nil
	}

	if err := s.engine.BatchUpdateOptimistic(ctx, updates); err != nil {
		return blocked, s.fail(op, err)
	}

	s.history.Record(&history.Entry{
		Kind:        op,
		Description: description,
		Undo:        history.Payload{Updates: prior},
		Redo:        history.Payload{Updates: next},
	})
	return blocked, nil
}

// Create adds a new object and records its creation. A zero ZIndex means
// "place on top of the stack" and a zero Opacity means "fully opaque";
// callers that want a literal zero for either apply it after creation with
// Reorder or Restyle.
func (s *Service) Create(ctx context.Context, obj *core.Object) (string, error) {
	created := obj.Clone()
	if created.ZIndex == 0 {
		created.ZIndex = s.topZ() + 1
	}
	if created.Opacity == 0 {
		created.Opacity = 1
	}

	id, err := s.engine.CreateOptimistic(ctx, created)
	if err != nil {
		return "", s.fail("create", err)
	}
	created.ID = id

	s.history.Record(&history.Entry{
		Kind:        "create",
		Description: fmt.Sprintf("Create %s", created.Type),
		Undo:        history.Payload{Delete: []string{id}},
		Redo:        history.Payload{Create: []*core.Object{created}},
	})
	return id, nil
}

// Move translates the selected objects by a delta. It proceeds with the
// subset of objects whose leases it got and reports the rest as blocked.
func (s *Service) Move(ctx context.Context, ids []string, dx, dy float64) ([]locks.AcquireResult, error) {
	fields := make(map[string]core.Fields, len(ids))
	for _, id := range ids {
		obj, ok := s.local.Get(id)
		if !ok {
			logrus.WithField("object_id", id).Warn("Move target no longer exists")
			continue
		}
		fields[id] = core.Fields{
			core.FieldX: obj.X + dx,
			core.FieldY: obj.Y + dy,
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return s.mutate(ctx, "move", fmt.Sprintf("Move %d object(s)", len(fields)), fields)
}

// Geometry is one object's full placement for a Transform command.
type Geometry struct {
	ObjectID string
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Rotation float64
}

// Transform repositions, resizes, and rotates the selected objects.
func (s *Service) Transform(ctx context.Context, changes []Geometry) ([]locks.AcquireResult, error) {
	fields := make(map[string]core.Fields, len(changes))
	for _, g := range changes {
		fields[g.ObjectID] = core.Fields{
			core.FieldX:        g.X,
			core.FieldY:        g.Y,
			core.FieldWidth:    g.Width,
			core.FieldHeight:   g.Height,
			core.FieldRotation: g.Rotation,
		}
	}
	return s.mutate(ctx, "transform", fmt.Sprintf("Transform %d object(s)", len(changes)), fields)
}

var styleFields = map[string]bool{
	core.FieldColor:       true,
	core.FieldStrokeColor: true,
	core.FieldStrokeWidth: true,
	core.FieldOpacity:     true,
}

// Restyle changes fill, stroke, or opacity on the selected objects. Only
// style fields are accepted; the populated-fields-only rule means absent
// keys are left untouched.
func (s *Service) Restyle(ctx context.Context, ids []string, style core.Fields) ([]locks.AcquireResult, error) {
	for name := range style {
		if !styleFields[name] {
			return nil, s.fail("restyle", fmt.Errorf("field %q is not a style field", name))
		}
	}
	fields := make(map[string]core.Fields, len(ids))
	for _, id := range ids {
		fields[id] = style.Clone()
	}
	return s.mutate(ctx, "restyle", fmt.Sprintf("Restyle %d object(s)", len(ids)), fields)
}

var textFields = map[string]bool{
	core.FieldText:       true,
	core.FieldFontSize:   true,
	core.FieldFontWeight: true,
	core.FieldFontStyle:  true,
}

// EditText changes the text content or typography of a text object.
func (s *Service) EditText(ctx context.Context, id string, edit core.Fields) error {
	for name := range edit {
		if !textFields[name] {
			return s.fail("edit-text", fmt.Errorf("field %q is not a text field", name))
		}
	}
	_, err := s.mutate(ctx, "edit-text", "Edit text", map[string]core.Fields{id: edit})
	return err
}

// Delete removes the selected objects. It follows the same lease discipline
// as every other mutation, but releases the leases before issuing the delete
// so no other client ever observes the deletion of a locked object. The full
// objects are captured so undo can resurrect them under their original ids.
func (s *Service) Delete(ctx context.Context, ids []string) ([]locks.AcquireResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	granted, blocked, err := s.ensureLeases(ctx, ids)
	if err != nil {
		return nil, s.fail("delete", err)
	}
	if len(granted) == 0 {
		return blocked, s.fail("delete", &LeaseDeniedError{Blocked: blocked})
	}

	captured := make([]*core.Object, 0, len(granted))
	present := make([]string, 0, len(granted))
	for _, id := range granted {
		obj, ok := s.local.Get(id)
		if !ok {
			logrus.WithField("object_id", id).Warn("Delete target no longer exists")
			continue
		}
		// The stored copy must not carry the lease we are about to clear.
		obj.LockedBy = ""
		obj.LockedAt = nil
		captured = append(captured, obj)
		present = append(present, id)
	}
	if len(present) == 0 {
		return blocked, nil
	}

	for _, id := range present {
		if err := s.locks.Release(ctx, id); err != nil {
			logrus.WithField("object_id", id).WithError(err).Warn("Failed to release lease before delete")
		}
	}

	if err := s.engine.BatchDeleteOptimistic(ctx, present); err != nil {
		return blocked, s.fail("delete", err)
	}

	s.history.Record(&history.Entry{
		Kind:        "delete",
		Description: fmt.Sprintf("Delete %d object(s)", len(present)),
		Undo:        history.Payload{Create: captured},
		Redo:        history.Payload{Delete: present},
	})
	return blocked, nil
}

// Duplicate creates exact copies of the selected objects, each placed
// directly on top of its source at zIndex+1.
func (s *Service) Duplicate(ctx context.Context, ids []string) ([]string, error) {
	copies := make([]*core.Object, 0, len(ids))
	for _, id := range ids {
		obj, ok := s.local.Get(id)
		if !ok {
			logrus.WithField("object_id", id).Warn("Duplicate target no longer exists")
			continue
		}
		dup := obj.Clone()
		dup.ID = ""
		dup.ZIndex = obj.ZIndex + 1
		dup.LockedBy = ""
		dup.LockedAt = nil
		copies = append(copies, dup)
	}
	if len(copies) == 0 {
		return nil, nil
	}
	return s.createCopies(ctx, "duplicate", fmt.Sprintf("Duplicate %d object(s)", len(copies)), copies)
}

// Deselect releases the leases retained across the editing session for the
// given objects.
func (s *Service) Deselect(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.locks.Release(ctx, id); err != nil {
			logrus.WithField("object_id", id).WithError(err).Warn("Failed to release lease on deselect")
		}
	}
}

// createCopies runs the optimistic batch create and records the entry shared
// by Duplicate and Paste.
func (s *Service) createCopies(ctx context.Context, op, description string, copies []*core.Object) ([]string, error) {
	ids, err := s.engine.BatchCreateOptimistic(ctx, copies)
	if err != nil {
		return nil, s.fail(op, err)
	}

	created := make([]*core.Object, len(copies))
	for i, obj := range copies {
		created[i] = obj.Clone()
		created[i].ID = ids[i]
	}
	s.history.Record(&history.Entry{
		Kind:        op,
		Description: description,
		Undo:        history.Payload{Delete: ids},
		Redo:        history.Payload{Create: created},
	})
	return ids, nil
}

func (s *Service) topZ() float64 {
	all := s.local.GetAll()
	if len(all) == 0 {
		return 0
	}
	return all[len(all)-1].ZIndex
}

func (s *Service) bottomZ() float64 {
	all := s.local.GetAll()
	if len(all) == 0 {
		return 0
	}
	return all[0].ZIndex
}
