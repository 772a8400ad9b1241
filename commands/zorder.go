package commands

import (
	"boardsync/core"
	"boardsync/locks"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Z-order moves compute the moved object's new zIndex as the midpoint
// between its two new neighbors in paint order, or one unit beyond the
// extreme when there is no neighbor on that side. zIndex values are real
// numbers and never required to be contiguous.

// BringToFront moves the object above everything else.
func (s *Service) BringToFront(ctx context.Context, id string) error {
	all := s.local.GetAll()
	idx := indexOf(all, id)
	if idx < 0 {
		logrus.WithField("object_id", id).Warn("Bring-to-front target no longer exists")
		return nil
	}
	if idx == len(all)-1 {
		return nil // already on top
	}
	return s.setZ(ctx, "bring-to-front", id, all[len(all)-1].ZIndex+1)
}

// SendToBack moves the object below everything else.
func (s *Service) SendToBack(ctx context.Context, id string) error {
	all := s.local.GetAll()
	idx := indexOf(all, id)
	if idx < 0 {
		logrus.WithField("object_id", id).Warn("Send-to-back target no longer exists")
		return nil
	}
	if idx == 0 {
		return nil // already at the back
	}
	return s.setZ(ctx, "send-to-back", id, all[0].ZIndex-1)
}

// BringForward swaps the object one step up in paint order.
func (s *Service) BringForward(ctx context.Context, id string) error {
	all := s.local.GetAll()
	idx := indexOf(all, id)
	if idx < 0 {
		logrus.WithField("object_id", id).Warn("Bring-forward target no longer exists")
		return nil
	}
	if idx == len(all)-1 {
		return nil
	}
	// New neighbors: the object currently above (ends up below) and the
	// one above that, if any.
	below := all[idx+1].ZIndex
	var z float64
	if idx+2 < len(all) {
		z = (below + all[idx+2].ZIndex) / 2
	} else {
		z = below + 1
	}
	return s.setZ(ctx, "bring-forward", id, z)
}

// SendBackward swaps the object one step down in paint order.
func (s *Service) SendBackward(ctx context.Context, id string) error {
	all := s.local.GetAll()
	idx := indexOf(all, id)
	if idx < 0 {
		logrus.WithField("object_id", id).Warn("Send-backward target no longer exists")
		return nil
	}
	if idx == 0 {
		return nil
	}
	above := all[idx-1].ZIndex
	var z float64
	if idx-2 >= 0 {
		z = (above + all[idx-2].ZIndex) / 2
	} else {
		z = above - 1
	}
	return s.setZ(ctx, "send-backward", id, z)
}

func (s *Service) setZ(ctx context.Context, op, id string, z float64) error {
	_, err := s.mutate(ctx, op, "Change stacking order", map[string]core.Fields{
		id: {core.FieldZIndex: z},
	})
	return err
}

// ZOrder assigns an explicit zIndex to one object in a Reorder command.
type ZOrder struct {
	ObjectID string
	ZIndex   float64
}

// Reorder applies an explicit new z-index list in one batch.
func (s *Service) Reorder(ctx context.Context, orders []ZOrder) ([]locks.AcquireResult, error) {
	fields := make(map[string]core.Fields, len(orders))
	for _, o := range orders {
		fields[o.ObjectID] = core.Fields{core.FieldZIndex: o.ZIndex}
	}
	return s.mutate(ctx, "reorder", fmt.Sprintf("Reorder %d object(s)", len(orders)), fields)
}

func indexOf(objects []core.Object, id string) int {
	for i := range objects {
		if objects[i].ID == id {
			return i
		}
	}
	return -1
}
