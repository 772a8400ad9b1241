// Package objects is the elevated-trust write surface used by server-side
// automation (the tool-orchestration layer). It writes through the object
// store directly and does not consult the lock manager: trusted automation
// must not deadlock on a lease abandoned by a human client. Every
// write still stamps lastUpdatedBy, so clients can see who overrode them.
package objects

import (
	"boardsync/cache"
	"boardsync/core"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// mutableFields are the object fields automation may patch. Lease and audit
// fields are managed by the lock manager and the store respectively.
var mutableFields = map[string]bool{
	core.FieldX:           true,
	core.FieldY:           true,
	core.FieldWidth:       true,
	core.FieldHeight:      true,
	core.FieldRotation:    true,
	core.FieldColor:       true,
	core.FieldStrokeColor: true,
	core.FieldStrokeWidth: true,
	core.FieldOpacity:     true,
	core.FieldText:        true,
	core.FieldFontSize:    true,
	core.FieldFontWeight:  true,
	core.FieldFontStyle:   true,
	core.FieldZIndex:      true,
}

func decodeFields(r *http.Request) (core.Fields, error) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	fields := make(core.Fields, len(raw))
	for name, value := range raw {
		if !mutableFields[name] {
			return nil, fmt.Errorf("field %q is not writable", name)
		}
		fields[name] = value
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	return fields, nil
}

// HandleList returns the current object set in paint order.
func HandleList(local *cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, local.GetAll())
	}
}

// HandleGet returns a single object.
func HandleGet(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		obj, err := store.Get(r.Context(), id)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "object_id": id}).Warn("Failed to get object")
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Object not found"})
			return
		}
		render.JSON(w, r, obj)
	}
}

// CreateRequest shadows the opacity field with a pointer so an absent value
// can be defaulted without rewriting an explicit 0 (a fully transparent
// object is a valid request).
type CreateRequest struct {
	core.Object
	Opacity *float64 `json:"opacity"`
}

// HandleCreate inserts a new object.
func HandleCreate(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		obj := req.Object
		obj.ID = "" // ids are store-assigned
		obj.LockedBy = ""
		obj.LockedAt = nil
		if req.Opacity != nil {
			obj.Opacity = *req.Opacity
		} else {
			obj.Opacity = 1
		}

		id, err := store.Create(r.Context(), &obj)
		if err != nil {
			logrus.WithField("error", err).Error("Failed to create object")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create object"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]string{"id": id})
	}
}

// HandlePatch applies a partial update, ignoring any edit lease on the object.
func HandlePatch(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		fields, err := decodeFields(r)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		if err := store.Update(r.Context(), id, fields); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "object_id": id}).Error("Failed to update object")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to update object"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleDelete removes an object.
func HandleDelete(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(r.Context(), id); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "object_id": id}).Error("Failed to delete object")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete object"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type (
	BatchRequest struct {
		Creates []core.Object      `json:"creates,omitempty"`
		Updates []BatchUpdateEntry `json:"updates,omitempty"`
		Deletes []string           `json:"deletes,omitempty"`
	}

	BatchUpdateEntry struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}

	BatchResponse struct {
		CreatedIDs []string `json:"createdIds,omitempty"`
	}
)

// HandleBatch applies creates, updates, and deletes; each group commits as a
// single revision.
func HandleBatch(store core.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("error", err).Error("Failed to decode request")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		var resp BatchResponse
		if len(req.Creates) > 0 {
			objs := make([]*core.Object, len(req.Creates))
			for i := range req.Creates {
				obj := req.Creates[i]
				obj.ID = ""
				obj.LockedBy = ""
				obj.LockedAt = nil
				objs[i] = &obj
			}
			ids, err := store.BatchCreate(r.Context(), objs)
			if err != nil {
				logrus.WithField("error", err).Error("Failed to batch-create objects")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to create objects"})
				return
			}
			resp.CreatedIDs = ids
		}

		if len(req.Updates) > 0 {
			updates := make([]core.ObjectUpdate, 0, len(req.Updates))
			for _, u := range req.Updates {
				fields := make(core.Fields, len(u.Fields))
				for name, value := range u.Fields {
					if !mutableFields[name] {
						render.Status(r, http.StatusBadRequest)
						render.JSON(w, r, map[string]string{"error": fmt.Sprintf("field %q is not writable", name)})
						return
					}
					fields[name] = value
				}
				updates = append(updates, core.ObjectUpdate{ID: u.ID, Fields: fields})
			}
			if err := store.BatchUpdate(r.Context(), updates); err != nil {
				logrus.WithField("error", err).Error("Failed to batch-update objects")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to update objects"})
				return
			}
		}

		if len(req.Deletes) > 0 {
			if err := store.BatchDelete(r.Context(), req.Deletes); err != nil {
				logrus.WithField("error", err).Error("Failed to batch-delete objects")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to delete objects"})
				return
			}
		}

		render.JSON(w, r, resp)
	}
}

type ArrangeRequest struct {
	Position string `json:"position"` // "front" | "back" | "forward" | "backward"
}

// HandleArrange changes an object's stacking position using the same
// midpoint rule as client-side z-order commands.
func HandleArrange(store core.ObjectStore, local *cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ArrangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		all := local.GetAll()
		idx := -1
		for i := range all {
			if all[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Object not found"})
			return
		}

		z, moved := arrangeZ(all, idx, req.Position)
		if !moved {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if err := store.Update(r.Context(), id, core.Fields{core.FieldZIndex: z}); err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "object_id": id}).Error("Failed to arrange object")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to arrange object"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// arrangeZ computes the new zIndex for an object at idx in paint order, or
// reports that it already sits at the requested extreme.
func arrangeZ(all []core.Object, idx int, position string) (float64, bool) {
	switch position {
	case "front":
		if idx == len(all)-1 {
			return 0, false
		}
		return all[len(all)-1].ZIndex + 1, true
	case "back":
		if idx == 0 {
			return 0, false
		}
		return all[0].ZIndex - 1, true
	case "forward":
		if idx == len(all)-1 {
			return 0, false
		}
		if idx+2 < len(all) {
			return (all[idx+1].ZIndex + all[idx+2].ZIndex) / 2, true
		}
		return all[idx+1].ZIndex + 1, true
	case "backward":
		if idx == 0 {
			return 0, false
		}
		if idx-2 >= 0 {
			return (all[idx-1].ZIndex + all[idx-2].ZIndex) / 2, true
		}
		return all[idx-1].ZIndex - 1, true
	default:
		return 0, false
	}
}
