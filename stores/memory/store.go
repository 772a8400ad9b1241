package memory

import (
	"boardsync/core"
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Board is the shared in-memory document set. Multiple adapter handles
// (one per writer identity) can be opened against the same Board, which is
// what gives tests real multi-client semantics: two handles race through the
// same transaction bookkeeping the way two clients race through the remote
// store. All state is per-instance; nothing here is package-level.
type Board struct {
	mu        sync.Mutex
	objects   map[string]*core.Object
	revisions map[string]uint64
	boardRev  uint64
	snapshots map[string]*core.BoardSnapshot
	subs      map[int]*subscriber
	nextSubID int
	clock     core.Clock
}

// subscriber serializes snapshot delivery per listener. commitLocked stamps
// each snapshot with the board revision it was taken at; deliver drops any
// snapshot older than the last one handed to this listener, so two commits
// racing out of the board lock can never leave a listener on stale state.
type subscriber struct {
	mu         sync.Mutex
	lastRev    uint64
	onSnapshot func([]core.Object)
	onError    func(error)
}

func (s *subscriber) deliver(snapshot []core.Object, rev uint64) {
	if s.onSnapshot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev <= s.lastRev {
		return
	}
	s.lastRev = rev
	s.onSnapshot(snapshot)
}

// NewBoard creates an empty board using the system clock.
func NewBoard() *Board {
	return NewBoardWithClock(core.SystemClock())
}

// NewBoardWithClock creates an empty board stamping writes from the given clock.
func NewBoardWithClock(clock core.Clock) *Board {
	return &Board{
		objects:   make(map[string]*core.Object),
		revisions: make(map[string]uint64),
		boardRev:  1,
		snapshots: make(map[string]*core.BoardSnapshot),
		subs:      make(map[int]*subscriber),
		clock:     clock,
	}
}

// Adapter opens a store handle bound to a writer identity. Every write
// through the handle stamps lastUpdatedBy with userID.
func (b *Board) Adapter(userID string) *Store {
	return &Store{board: b, userID: userID}
}

// Store is one writer's handle onto a Board. It implements both the object
// store and the archive store.
type Store struct {
	board  *Board
	userID string
}

// NewStore creates a standalone in-memory store with its own board.
func NewStore(userID string) *Store {
	return NewBoard().Adapter(userID)
}

func (s *Store) Get(ctx context.Context, id string) (*core.Object, error) {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[id]
	if !ok {
		return nil, core.NotFoundError(id)
	}
	return obj.Clone(), nil
}

func (s *Store) Create(ctx context.Context, obj *core.Object) (string, error) {
	ids, err := s.BatchCreate(ctx, []*core.Object{obj})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) Update(ctx context.Context, id string, fields core.Fields) error {
	return s.BatchUpdate(ctx, []core.ObjectUpdate{{ID: id, Fields: fields}})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.BatchDelete(ctx, []string{id})
}

// BatchCreate inserts all objects as a single revision. Objects carrying an
// id keep it, so history replay can resurrect deleted objects in place.
func (s *Store) BatchCreate(ctx context.Context, objs []*core.Object) ([]string, error) {
	b := s.board
	b.mu.Lock()

	now := b.clock.Now()
	ids := make([]string, len(objs))
	for i, obj := range objs {
		stored := obj.Clone()
		if stored.ID == "" {
			stored.ID = ulid.Make().String()
		}
		stored.LastUpdatedBy = s.userID
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		b.objects[stored.ID] = stored
		b.revisions[stored.ID]++
		ids[i] = stored.ID
	}
	subs, snapshot, rev := b.commitLocked()
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"count":   len(objs),
		"user_id": s.userID,
	}).Debug("Objects created")
	notify(subs, snapshot, rev)
	return ids, nil
}

// BatchUpdate patches all named objects as a single revision, or none of
// them: a missing object or an unknown field fails the whole batch before
// anything is applied.
func (s *Store) BatchUpdate(ctx context.Context, updates []core.ObjectUpdate) error {
	b := s.board
	b.mu.Lock()

	now := b.clock.Now()
	patched := make([]*core.Object, 0, len(updates))
	for _, u := range updates {
		obj, ok := b.objects[u.ID]
		if !ok {
			b.mu.Unlock()
			return core.NotFoundError(u.ID)
		}
		next := obj.Clone()
		if err := core.ApplyFields(next, u.Fields); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("update %s: %w", u.ID, err)
		}
		next.LastUpdatedBy = s.userID
		next.UpdatedAt = now
		patched = append(patched, next)
	}
	for _, obj := range patched {
		b.objects[obj.ID] = obj
		b.revisions[obj.ID]++
	}
	subs, snapshot, rev := b.commitLocked()
	b.mu.Unlock()

	notify(subs, snapshot, rev)
	return nil
}

// BatchDelete removes all named objects as a single revision. Already-absent
// ids are tolerated: deleting a deleted object is a no-op, not a failure.
func (s *Store) BatchDelete(ctx context.Context, ids []string) error {
	b := s.board
	b.mu.Lock()

	for _, id := range ids {
		if _, ok := b.objects[id]; !ok {
			logrus.WithField("object_id", id).Warn("Delete of absent object ignored")
			continue
		}
		delete(b.objects, id)
		b.revisions[id]++
	}
	subs, snapshot, rev := b.commitLocked()
	b.mu.Unlock()

	notify(subs, snapshot, rev)
	return nil
}

// Transact runs fn against a read-your-writes view without holding the board
// lock, then commits. The commit is rejected with core.ErrTxConflict if any
// object read inside fn changed revision in the meantime, which is exactly
// the race two clients acquiring the same lease need to lose on.
func (s *Store) Transact(ctx context.Context, fn func(tx core.Tx) error) error {
	t := &boardTx{
		store: s,
		reads: make(map[string]uint64),
		over:  make(map[string]*core.Object),
	}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

type boardTx struct {
	store *Store
	reads map[string]uint64       // object id -> revision seen at first read
	over  map[string]*core.Object // read-your-writes overlay
	order []core.ObjectUpdate     // buffered writes, in call order
}

func (t *boardTx) Get(id string) (*core.Object, error) {
	if obj, ok := t.over[id]; ok {
		return obj.Clone(), nil
	}

	b := t.store.board
	b.mu.Lock()
	obj, ok := b.objects[id]
	if _, seen := t.reads[id]; !seen {
		t.reads[id] = b.revisions[id]
	}
	if ok {
		obj = obj.Clone()
	}
	b.mu.Unlock()

	if !ok {
		return nil, core.NotFoundError(id)
	}
	return obj, nil
}

func (t *boardTx) Update(id string, fields core.Fields) error {
	base, ok := t.over[id]
	if !ok {
		cur, err := t.Get(id)
		if err != nil {
			return err
		}
		base = cur
	}
	if err := core.ApplyFields(base, fields); err != nil {
		return err
	}
	t.over[id] = base
	t.order = append(t.order, core.ObjectUpdate{ID: id, Fields: fields.Clone()})
	return nil
}

func (t *boardTx) commit() error {
	if len(t.order) == 0 {
		return nil
	}

	b := t.store.board
	b.mu.Lock()

	for id, rev := range t.reads {
		if b.revisions[id] != rev {
			b.mu.Unlock()
			return core.ErrTxConflict
		}
	}

	now := b.clock.Now()
	for _, u := range t.order {
		obj, ok := b.objects[u.ID]
		if !ok {
			b.mu.Unlock()
			return core.NotFoundError(u.ID)
		}
		next := obj.Clone()
		if err := core.ApplyFields(next, u.Fields); err != nil {
			b.mu.Unlock()
			return err
		}
		next.LastUpdatedBy = t.store.userID
		next.UpdatedAt = now
		b.objects[u.ID] = next
		b.revisions[u.ID]++
	}
	subs, snapshot, rev := b.commitLocked()
	b.mu.Unlock()

	notify(subs, snapshot, rev)
	return nil
}

// Subscribe registers a snapshot listener and delivers the current object
// set immediately, mirroring how a remote document store primes a new
// listener with the existing data.
func (s *Store) Subscribe(onSnapshot func([]core.Object), onError func(error)) func() {
	b := s.board
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	sub := &subscriber{onSnapshot: onSnapshot, onError: onError}
	b.subs[id] = sub
	snapshot := b.currentLocked()
	rev := b.boardRev
	b.mu.Unlock()

	sub.deliver(snapshot, rev)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Board) currentLocked() []core.Object {
	snapshot := make([]core.Object, 0, len(b.objects))
	for _, obj := range b.objects {
		snapshot = append(snapshot, *obj.Clone())
	}
	return snapshot
}

// commitLocked bumps the board revision for a committed write and returns
// the listeners along with the snapshot stamped at that revision.
func (b *Board) commitLocked() ([]*subscriber, []core.Object, uint64) {
	b.boardRev++
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs, b.currentLocked(), b.boardRev
}

func notify(subs []*subscriber, snapshot []core.Object, rev uint64) {
	for _, sub := range subs {
		sub.deliver(snapshot, rev)
	}
}

// ArchiveStore implementation.

func (s *Store) List(ctx context.Context) ([]*core.BoardSnapshot, error) {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshots := make([]*core.BoardSnapshot, 0, len(b.snapshots))
	for _, snap := range b.snapshots {
		// List views omit the heavy Data payload.
		snapshots = append(snapshots, &core.BoardSnapshot{
			ID:        snap.ID,
			Name:      snap.Name,
			Thumbnail: snap.Thumbnail,
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.UpdatedAt,
		})
	}
	return snapshots, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.BoardSnapshot, error) {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, ok := b.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("snapshot with id %s not found", id)
	}
	copied := *snap
	return &copied, nil
}

func (s *Store) Save(ctx context.Context, snapshot *core.BoardSnapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot ID cannot be empty for save operation")
	}

	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if existing, ok := b.snapshots[snapshot.ID]; ok {
		snapshot.CreatedAt = existing.CreatedAt
	} else {
		snapshot.CreatedAt = now
	}
	snapshot.UpdatedAt = now

	copied := *snapshot
	b.snapshots[snapshot.ID] = &copied
	logrus.WithField("snapshot_id", snapshot.ID).Info("Board snapshot saved")
	return nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.snapshots[id]; !ok {
		return fmt.Errorf("snapshot with id %s not found", id)
	}
	delete(b.snapshots, id)
	return nil
}

var _ core.ObjectStore = (*Store)(nil)
