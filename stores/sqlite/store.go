package sqlite

import (
	"boardsync/core"
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed object and archive store. Every object row
// carries a revision counter bumped on each write; Transact revalidates the
// revisions it read before committing, which is what makes lease acquisition
// atomic across writers sharing the database.
type Store struct {
	db     *sql.DB
	userID string
	clock  core.Clock

	subMu     sync.Mutex
	subs      map[int]*subscriber
	nextSubID int
	emitSeq   uint64
}

// subscriber serializes snapshot delivery per listener and drops any
// snapshot older than the last one delivered, so concurrent commits cannot
// leave a listener holding stale state.
type subscriber struct {
	mu         sync.Mutex
	lastSeq    uint64
	onSnapshot func([]core.Object)
	onError    func(error)
}

func (s *subscriber) deliver(snapshot []core.Object, seq uint64) {
	if s.onSnapshot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return
	}
	s.lastSeq = seq
	s.onSnapshot(snapshot)
}

// NewStore opens (and if necessary initializes) a SQLite-backed store whose
// writes are stamped with userID.
func NewStore(dataSourceName, userID string) *Store {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	objectTableStmt := `
	CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		x REAL, y REAL, width REAL, height REAL, rotation REAL,
		color TEXT, stroke_color TEXT, stroke_width REAL, opacity REAL,
		text TEXT, font_size REAL, font_weight TEXT, font_style TEXT,
		z_index REAL,
		locked_by TEXT, locked_at DATETIME,
		last_updated_by TEXT,
		created_at DATETIME, updated_at DATETIME,
		revision INTEGER NOT NULL DEFAULT 0
	);`
	if _, err = db.Exec(objectTableStmt); err != nil {
		log.Fatalf("failed to create objects table: %v", err)
	}

	snapshotTableStmt := `
	CREATE TABLE IF NOT EXISTS board_snapshots (
		id TEXT PRIMARY KEY,
		name TEXT,
		thumbnail TEXT,
		data BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(snapshotTableStmt); err != nil {
		log.Fatalf("failed to create board_snapshots table: %v", err)
	}

	return &Store{
		db:      db,
		userID:  userID,
		clock:   core.SystemClock(),
		subs:    make(map[int]*subscriber),
		emitSeq: 1,
	}
}

const objectColumns = `id, type, x, y, width, height, rotation,
	color, stroke_color, stroke_width, opacity,
	text, font_size, font_weight, font_style,
	z_index, locked_by, locked_at, last_updated_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*core.Object, error) {
	var obj core.Object
	var lockedAt sql.NullTime
	err := row.Scan(
		&obj.ID, &obj.Type, &obj.X, &obj.Y, &obj.Width, &obj.Height, &obj.Rotation,
		&obj.Color, &obj.StrokeColor, &obj.StrokeWidth, &obj.Opacity,
		&obj.Text, &obj.FontSize, &obj.FontWeight, &obj.FontStyle,
		&obj.ZIndex, &obj.LockedBy, &lockedAt, &obj.LastUpdatedBy, &obj.CreatedAt, &obj.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		obj.LockedAt = &t
	}
	return &obj, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeObject(ctx context.Context, ex execer, obj *core.Object) error {
	var lockedAt sql.NullTime
	if obj.LockedAt != nil {
		lockedAt = sql.NullTime{Time: *obj.LockedAt, Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO objects (
			id, type, x, y, width, height, rotation,
			color, stroke_color, stroke_width, opacity,
			text, font_size, font_weight, font_style,
			z_index, locked_by, locked_at, last_updated_by, created_at, updated_at, revision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			x = excluded.x, y = excluded.y,
			width = excluded.width, height = excluded.height, rotation = excluded.rotation,
			color = excluded.color, stroke_color = excluded.stroke_color,
			stroke_width = excluded.stroke_width, opacity = excluded.opacity,
			text = excluded.text, font_size = excluded.font_size,
			font_weight = excluded.font_weight, font_style = excluded.font_style,
			z_index = excluded.z_index,
			locked_by = excluded.locked_by, locked_at = excluded.locked_at,
			last_updated_by = excluded.last_updated_by,
			updated_at = excluded.updated_at,
			revision = objects.revision + 1`,
		obj.ID, obj.Type, obj.X, obj.Y, obj.Width, obj.Height, obj.Rotation,
		obj.Color, obj.StrokeColor, obj.StrokeWidth, obj.Opacity,
		obj.Text, obj.FontSize, obj.FontWeight, obj.FontStyle,
		obj.ZIndex, obj.LockedBy, lockedAt, obj.LastUpdatedBy, obj.CreatedAt, obj.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*core.Object, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", id)
	obj, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, core.NotFoundError(id)
	}
	return obj, err
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

func (s *Store) BatchCreate(ctx context.Context, objs []*core.Object) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.clock.Now()
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
		if err := writeObject(ctx, tx, stored); err != nil {
			return nil, err
		}
		ids[i] = stored.ID
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.emitSnapshot(ctx)
	return ids, nil
}

func (s *Store) BatchUpdate(ctx context.Context, updates []core.ObjectUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.clock.Now()
	for _, u := range updates {
		row := tx.QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", u.ID)
		obj, err := scanObject(row)
		if err == sql.ErrNoRows {
			return core.NotFoundError(u.ID)
		}
		if err != nil {
			return err
		}
		if err := core.ApplyFields(obj, u.Fields); err != nil {
			return fmt.Errorf("update %s: %w", u.ID, err)
		}
		obj.LastUpdatedBy = s.userID
		obj.UpdatedAt = now
		if err := writeObject(ctx, tx, obj); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.emitSnapshot(ctx)
	return nil
}

func (s *Store) BatchDelete(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.emitSnapshot(ctx)
	return nil
}

// Transact runs fn against a read-your-writes view, then commits inside a
// SQL transaction that revalidates the revision of every row fn read. A row
// that changed in the meantime fails the whole commit with ErrTxConflict.
func (s *Store) Transact(ctx context.Context, fn func(tx core.Tx) error) error {
	t := &sqlTx{
		ctx:   ctx,
		store: s,
		reads: make(map[string]int64),
		over:  make(map[string]*core.Object),
	}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.order) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, rev := range t.reads {
		var current int64
		err := tx.QueryRowContext(ctx, "SELECT revision FROM objects WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			current = 0
		} else if err != nil {
			return err
		}
		if current != rev {
			return core.ErrTxConflict
		}
	}

	now := s.clock.Now()
	for _, u := range t.order {
		row := tx.QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", u.ID)
		obj, err := scanObject(row)
		if err == sql.ErrNoRows {
			return core.NotFoundError(u.ID)
		}
		if err != nil {
			return err
		}
		if err := core.ApplyFields(obj, u.Fields); err != nil {
			return err
		}
		obj.LastUpdatedBy = s.userID
		obj.UpdatedAt = now
		if err := writeObject(ctx, tx, obj); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.emitSnapshot(ctx)
	return nil
}

type sqlTx struct {
	ctx   context.Context
	store *Store
	reads map[string]int64
	over  map[string]*core.Object
	order []core.ObjectUpdate
}

func (t *sqlTx) Get(id string) (*core.Object, error) {
	if obj, ok := t.over[id]; ok {
		return obj.Clone(), nil
	}

	var rev int64
	row := t.store.db.QueryRowContext(t.ctx,
		"SELECT "+objectColumns+", revision FROM objects WHERE id = ?", id)
	obj := &core.Object{}
	var lockedAt sql.NullTime
	err := row.Scan(
		&obj.ID, &obj.Type, &obj.X, &obj.Y, &obj.Width, &obj.Height, &obj.Rotation,
		&obj.Color, &obj.StrokeColor, &obj.StrokeWidth, &obj.Opacity,
		&obj.Text, &obj.FontSize, &obj.FontWeight, &obj.FontStyle,
		&obj.ZIndex, &obj.LockedBy, &lockedAt, &obj.LastUpdatedBy, &obj.CreatedAt, &obj.UpdatedAt,
		&rev,
	)
	if err == sql.ErrNoRows {
		if _, seen := t.reads[id]; !seen {
			t.reads[id] = 0
		}
		return nil, core.NotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	if lockedAt.Valid {
		lt := lockedAt.Time
		obj.LockedAt = &lt
	}
	if _, seen := t.reads[id]; !seen {
		t.reads[id] = rev
	}
	return obj, nil
}

func (t *sqlTx) Update(id string, fields core.Fields) error {
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

// Subscribe registers an in-process snapshot listener. Fan-out across
// processes is the websocket layer's job; the store only promises that every
// committed revision produces one full-set snapshot.
func (s *Store) Subscribe(onSnapshot func([]core.Object), onError func(error)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{onSnapshot: onSnapshot, onError: onError}
	s.subs[id] = sub
	s.subMu.Unlock()

	objects, err := s.loadAll(context.Background())
	if err != nil {
		if onError != nil {
			onError(err)
		}
	} else {
		s.subMu.Lock()
		seq := s.emitSeq
		s.subMu.Unlock()
		sub.deliver(objects, seq)
	}

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) loadAll(ctx context.Context) ([]core.Object, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+objectColumns+" FROM objects")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []core.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, *obj)
	}
	return objects, rows.Err()
}

func (s *Store) emitSnapshot(ctx context.Context) {
	s.subMu.Lock()
	empty := len(s.subs) == 0
	s.subMu.Unlock()
	if empty {
		return
	}

	objects, err := s.loadAll(ctx)

	// The sequence number is taken after the load so that sequence order
	// matches snapshot content order; deliver then drops anything stale.
	s.subMu.Lock()
	s.emitSeq++
	seq := s.emitSeq
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	if err != nil {
		logrus.WithError(err).Error("Failed to load snapshot for subscribers")
		for _, sub := range subs {
			if sub.onError != nil {
				sub.onError(err)
			}
		}
		return
	}
	for _, sub := range subs {
		sub.deliver(objects, seq)
	}
}

// ArchiveStore implementation.

func (s *Store) List(ctx context.Context) ([]*core.BoardSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, thumbnail, created_at, updated_at FROM board_snapshots")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*core.BoardSnapshot
	for rows.Next() {
		var snap core.BoardSnapshot
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Thumbnail, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.BoardSnapshot, error) {
	var snap core.BoardSnapshot
	snap.ID = id
	err := s.db.QueryRowContext(ctx,
		"SELECT name, thumbnail, data, created_at, updated_at FROM board_snapshots WHERE id = ?", id).
		Scan(&snap.Name, &snap.Thumbnail, &snap.Data, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot with id %s not found", id)
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) Save(ctx context.Context, snapshot *core.BoardSnapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot ID cannot be empty for save operation")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM board_snapshots WHERE id = ?", snapshot.ID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	if exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE board_snapshots SET name = ?, thumbnail = ?, data = ?, updated_at = ? WHERE id = ?",
			snapshot.Name, snapshot.Thumbnail, snapshot.Data, now, snapshot.ID)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO board_snapshots (id, name, thumbnail, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			snapshot.ID, snapshot.Name, snapshot.Thumbnail, snapshot.Data, now, now)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM board_snapshots WHERE id = ?", id)
	return err
}

var _ core.ObjectStore = (*Store)(nil)
var _ core.ArchiveStore = (*Store)(nil)
