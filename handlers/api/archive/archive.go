// Package archive exposes the board snapshot archive over REST: saved
// exports of the full object set that can be listed, fetched, and deleted.
package archive

import (
	"boardsync/core"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type (
	SaveSnapshotRequest struct {
		Name      string `json:"name"`
		Thumbnail string `json:"thumbnail"`
		Data      string `json:"data"`
	}

	SaveSnapshotResponse struct {
		ID string `json:"id"`
	}
)

// HandleList lists snapshot metadata.
func HandleList(store core.ArchiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots, err := store.List(r.Context())
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list snapshots")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list snapshots"})
			return
		}

		if snapshots == nil {
			snapshots = []*core.BoardSnapshot{}
		}
		render.JSON(w, r, snapshots)
	}
}

// HandleGet retrieves a snapshot including its payload.
func HandleGet(store core.ArchiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		snapshot, err := store.GetSnapshot(r.Context(), id)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "snapshot_id": id}).Warn("Failed to get snapshot")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Snapshot not found"})
			return
		}

		render.JSON(w, r, snapshot)
	}
}

// HandleCreate saves a new snapshot under a fresh id.
func HandleCreate(store core.ArchiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		snapshot := &core.BoardSnapshot{
			ID:        ulid.Make().String(),
			Name:      req.Name,
			Thumbnail: req.Thumbnail,
			Data:      []byte(req.Data),
		}
		if err := store.Save(r.Context(), snapshot); err != nil {
			logrus.WithField("error", err).Error("Failed to save snapshot")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save snapshot"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, SaveSnapshotResponse{ID: snapshot.ID})
	}
}

// HandleUpdate overwrites an existing snapshot.
func HandleUpdate(store core.ArchiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req SaveSnapshotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		snapshot := &core.BoardSnapshot{
			ID:        id,
			Name:      req.Name,
			Thumbnail: req.Thumbnail,
			Data:      []byte(req.Data),
		}
		if err := store.Save(r.Context(), snapshot); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "snapshot_id": id}).Error("Failed to save snapshot")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save snapshot"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleDelete removes a snapshot.
func HandleDelete(store core.ArchiveStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := store.DeleteSnapshot(r.Context(), id); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "snapshot_id": id}).Error("Failed to delete snapshot")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete snapshot"})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
