package commands

import (
	"boardsync/core"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PasteOffset is the fixed pixel delta applied on paste so pasted copies
// land visibly apart from their sources.
const PasteOffset = 10.0

// Copy stores clones of the selected objects on the service's clipboard.
// Copying does not touch the board and needs no leases.
func (s *Service) Copy(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clipboard = s.clipboard[:0]
	for _, id := range ids {
		obj, ok := s.local.Get(id)
		if !ok {
			logrus.WithField("object_id", id).Warn("Copy target no longer exists")
			continue
		}
		s.clipboard = append(s.clipboard, obj)
	}
	return len(s.clipboard)
}

// Paste creates offset copies of the clipboard contents on top of the stack.
// Repeated pastes of the same clipboard produce independent objects.
func (s *Service) Paste(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	clipboard := make([]*core.Object, len(s.clipboard))
	copy(clipboard, s.clipboard)
	s.mu.Unlock()

	if len(clipboard) == 0 {
		return nil, nil
	}

	top := s.topZ()
	copies := make([]*core.Object, 0, len(clipboard))
	for i, obj := range clipboard {
		dup := obj.Clone()
		dup.ID = ""
		dup.X += PasteOffset
		dup.Y += PasteOffset
		dup.ZIndex = top + float64(i) + 1
		dup.LockedBy = ""
		dup.LockedAt = nil
		copies = append(copies, dup)
	}
	return s.createCopies(ctx, "paste", fmt.Sprintf("Paste %d object(s)", len(copies)), copies)
}
