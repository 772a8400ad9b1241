package core

import (
	"context"
	"time"
)

type (
	// BoardSnapshot is a saved export of the full board: the serialized
	// object set plus display metadata.
	BoardSnapshot struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Thumbnail string    `json:"thumbnail,omitempty"`
		Data      []byte    `json:"data,omitempty"` // The full serialized object set, not included in list views.
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// ArchiveStore defines the persistence layer for saved board snapshots.
	// Method names carry the Snapshot suffix where they would otherwise
	// collide with ObjectStore on a combined store implementation.
	ArchiveStore interface {
		// List returns metadata for all saved snapshots.
		// The returned snapshots should not contain the `Data` field to keep the response light.
		List(ctx context.Context) ([]*BoardSnapshot, error)

		// GetSnapshot returns a single snapshot by its ID.
		GetSnapshot(ctx context.Context, id string) (*BoardSnapshot, error)

		// Save creates or updates a snapshot.
		Save(ctx context.Context, snapshot *BoardSnapshot) error

		// DeleteSnapshot removes a snapshot.
		DeleteSnapshot(ctx context.Context, id string) error
	}
)
