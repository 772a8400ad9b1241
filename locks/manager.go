// Package locks implements the per-object lease protocol. A lease is the
// object's own lockedBy/lockedAt fields; acquisition goes through the
// store's transaction primitive so that "check lock, then take lock" is
// atomic across clients. Leases never expire on their own; they only become
// stale, at which point any client may override them.
package locks

import (
	"boardsync/cache"
	"boardsync/core"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLeaseTimeout is the staleness window after which a lease may be
// unilaterally overridden. It is a liveness heuristic standing in for true
// lease renewal: a crashed client's lease must not block an object forever.
const DefaultLeaseTimeout = 30 * time.Second

// AcquireResult is the per-object verdict of an acquisition attempt.
// Contention is not exceptional: a refused lease comes back as OK=false with
// the current holder, never as an error.
type AcquireResult struct {
	ObjectID string
	OK       bool
	Holder   string
}

// Manager acquires and releases leases on behalf of one user.
type Manager struct {
	store   core.ObjectStore
	local   *cache.Store
	clock   core.Clock
	userID  string
	timeout time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

// NewManager creates a lock manager for userID with the given staleness
// window.
func NewManager(store core.ObjectStore, local *cache.Store, clock core.Clock, userID string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	return &Manager{
		store:   store,
		local:   local,
		clock:   clock,
		userID:  userID,
		timeout: timeout,
		held:    make(map[string]struct{}),
	}
}

// fresh reports whether obj carries a live lease.
func (m *Manager) fresh(obj *core.Object) bool {
	if obj.LockedBy == "" || obj.LockedAt == nil {
		return false
	}
	return m.clock.Now().Sub(*obj.LockedAt) < m.timeout
}

// freshForeign reports whether obj carries a live lease owned by someone else.
func (m *Manager) freshForeign(obj *core.Object) bool {
	return m.fresh(obj) && obj.LockedBy != m.userID
}

// Acquire attempts to take the lease on one object. A live foreign lease is
// a typed refusal carrying the holder; an absent, owned, or stale lease is
// overwritten inside a transaction so two clients cannot both read
// "unlocked" and both write "locked by me".
func (m *Manager) Acquire(ctx context.Context, objectID string) (AcquireResult, error) {
	results, err := m.BatchAcquire(ctx, []string{objectID})
	if err != nil {
		return AcquireResult{ObjectID: objectID}, err
	}
	return results[0], nil
}

// BatchAcquire attempts to take leases on all named objects in a single
// transaction. Each object is judged independently against the staleness
// rule; leases are written only for the subset that passes, and the
// per-object verdict list lets the caller proceed with what it got.
func (m *Manager) BatchAcquire(ctx context.Context, objectIDs []string) ([]AcquireResult, error) {
	// Cheap pre-check against the local cache: if every object is under a
	// live foreign lease there is nothing to transact about.
	if results, allBlocked := m.precheck(objectIDs); allBlocked {
		return results, nil
	}

	results, err := m.tryAcquire(ctx, objectIDs)
	if errors.Is(err, core.ErrTxConflict) {
		// Lost a race against another client's acquisition; the re-read
		// inside the retry sees their fresh lease and refuses cleanly.
		results, err = m.tryAcquire(ctx, objectIDs)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, r := range results {
		if r.OK {
			m.held[r.ObjectID] = struct{}{}
		}
	}
	m.mu.Unlock()
	return results, nil
}

func (m *Manager) precheck(objectIDs []string) ([]AcquireResult, bool) {
	results := make([]AcquireResult, len(objectIDs))
	allBlocked := true
	for i, id := range objectIDs {
		results[i] = AcquireResult{ObjectID: id}
		obj, ok := m.local.Get(id)
		if ok && m.freshForeign(obj) {
			results[i].Holder = obj.LockedBy
		} else {
			allBlocked = false
		}
	}
	return results, allBlocked && len(objectIDs) > 0
}

func (m *Manager) tryAcquire(ctx context.Context, objectIDs []string) ([]AcquireResult, error) {
	results := make([]AcquireResult, len(objectIDs))
	err := m.store.Transact(ctx, func(tx core.Tx) error {
		now := m.clock.Now()
		for i, id := range objectIDs {
			results[i] = AcquireResult{ObjectID: id}

			obj, err := tx.Get(id)
			if errors.Is(err, core.ErrNotFound) {
				// Acting on a deleted object is a no-op, not a fault.
				logrus.WithField("object_id", id).Warn("Lease requested for missing object")
				continue
			}
			if err != nil {
				return err
			}

			if m.freshForeign(obj) {
				results[i].Holder = obj.LockedBy
				continue
			}

			if err := tx.Update(id, core.Fields{
				core.FieldLockedBy: m.userID,
				core.FieldLockedAt: now,
			}); err != nil {
				return err
			}
			results[i].OK = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Release clears the lease on one object if this manager holds it. Releasing
// an object that was never acquired, or that has since been deleted, is a
// tolerated no-op.
func (m *Manager) Release(ctx context.Context, objectID string) error {
	m.mu.Lock()
	_, holding := m.held[objectID]
	delete(m.held, objectID)
	m.mu.Unlock()

	if !holding {
		return nil
	}
	err := m.store.Update(ctx, objectID, clearedLease())
	if errors.Is(err, core.ErrNotFound) {
		logrus.WithField("object_id", objectID).Warn("Released lease on missing object")
		return nil
	}
	return err
}

// ReleaseAll clears every lease this manager holds with settle-all
// semantics: one unreachable object does not block releasing the rest, and
// the held set is emptied regardless.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.held = make(map[string]struct{})
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	updates := make([]core.ObjectUpdate, len(ids))
	for i, id := range ids {
		updates[i] = core.ObjectUpdate{ID: id, Fields: clearedLease()}
	}
	if err := m.store.BatchUpdate(ctx, updates); err == nil {
		return
	}

	// The batch is all-or-nothing, so a single missing object fails it.
	// Fall back to releasing one by one and ignore individual failures.
	for _, id := range ids {
		if err := m.store.Update(ctx, id, clearedLease()); err != nil {
			logrus.WithFields(logrus.Fields{
				"object_id": id,
			}).WithError(err).Warn("Failed to release lease")
		}
	}
}

func clearedLease() core.Fields {
	return core.Fields{
		core.FieldLockedBy: "",
		core.FieldLockedAt: nil,
	}
}

// IsLocked reports whether the object carries any live lease, judged from
// the local cache.
func (m *Manager) IsLocked(objectID string) bool {
	obj, ok := m.local.Get(objectID)
	return ok && m.fresh(obj)
}

// HolderOf returns the user holding a live lease on the object, or "" if the
// lease is absent or stale.
func (m *Manager) HolderOf(objectID string) string {
	obj, ok := m.local.Get(objectID)
	if !ok || !m.fresh(obj) {
		return ""
	}
	return obj.LockedBy
}

// HeldByMe reports whether this manager acquired (and has not released) the
// object's lease.
func (m *Manager) HeldByMe(objectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[objectID]
	return ok
}

// Held returns the ids of all leases this manager currently holds.
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	return ids
}
