package core

import (
	"context"
	"time"
)

// ObjectType is the closed set of shape kinds a board can hold.
type ObjectType string

const (
	TypeRectangle ObjectType = "rectangle"
	TypeEllipse   ObjectType = "ellipse"
	TypeText      ObjectType = "text"
)

type (
	// Object is one shape on the shared board. Lease state lives on the
	// object itself (LockedBy/LockedAt) rather than in a separate
	// collection; a non-empty LockedBy is only meaningful while the lease
	// is younger than the configured lease timeout.
	Object struct {
		ID   string     `json:"id"`
		Type ObjectType `json:"type"`

		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
		Rotation float64 `json:"rotation"` // degrees, 0-360

		Color       string  `json:"color"`
		StrokeColor string  `json:"strokeColor"`
		StrokeWidth float64 `json:"strokeWidth"`
		Opacity     float64 `json:"opacity"` // [0,1]

		Text       string  `json:"text,omitempty"`
		FontSize   float64 `json:"fontSize,omitempty"`
		FontWeight string  `json:"fontWeight,omitempty"`
		FontStyle  string  `json:"fontStyle,omitempty"`

		// ZIndex defines paint and selection order. It is a real number
		// and is not required to be contiguous; reordering inserts
		// midpoints between neighbors.
		ZIndex float64 `json:"zIndex"`

		LockedBy string     `json:"lockedBy,omitempty"`
		LockedAt *time.Time `json:"lockedAt,omitempty"`

		LastUpdatedBy string    `json:"lastUpdatedBy,omitempty"`
		CreatedAt     time.Time `json:"createdAt"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}

	// Fields is a partial update: field name to new value. Only populated
	// fields are ever transmitted; the store treats "present but empty"
	// differently from "absent", so callers must never put a key in the
	// map unless they mean to write it.
	Fields map[string]any

	// ObjectUpdate pairs an object id with the fields to patch on it.
	ObjectUpdate struct {
		ID     string
		Fields Fields
	}

	// Tx is the read-your-writes handle passed to Transact callbacks.
	// Reads are revalidated at commit time; if any object read through
	// the Tx changed since, the commit fails with ErrTxConflict.
	Tx interface {
		Get(id string) (*Object, error)
		Update(id string, fields Fields) error
	}

	// ObjectStore is the adapter contract against the shared document
	// store. Every write stamps lastUpdatedBy and updatedAt with the
	// identity the adapter handle was opened with. Batch operations
	// commit as a single revision: no subscriber ever observes a state
	// in which only part of the batch has applied. The adapter does not
	// retry internally except for whatever the caller does inside
	// Transact.
	ObjectStore interface {
		Get(ctx context.Context, id string) (*Object, error)

		// Create persists the object and returns its id. If obj.ID is
		// non-empty it is kept (history replay re-creates deleted
		// objects under their original ids); otherwise a new ULID is
		// assigned.
		Create(ctx context.Context, obj *Object) (string, error)

		Update(ctx context.Context, id string, fields Fields) error
		Delete(ctx context.Context, id string) error

		BatchCreate(ctx context.Context, objs []*Object) ([]string, error)
		BatchUpdate(ctx context.Context, updates []ObjectUpdate) error
		BatchDelete(ctx context.Context, ids []string) error

		// Transact runs fn with a read-your-writes Tx and commits its
		// writes atomically. The store rejects the commit with
		// ErrTxConflict if any value read inside fn changed between
		// read and commit; retrying is the caller's responsibility.
		Transact(ctx context.Context, fn func(tx Tx) error) error

		// Subscribe streams the full current object set on every
		// committed revision. The returned function cancels the
		// subscription.
		Subscribe(onSnapshot func([]Object), onError func(error)) (unsubscribe func())
	}
)

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	c := *o
	if o.LockedAt != nil {
		t := *o.LockedAt
		c.LockedAt = &t
	}
	return &c
}

// Clone returns an independent copy of the field map.
func (f Fields) Clone() Fields {
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}
