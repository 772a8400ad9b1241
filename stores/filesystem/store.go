package filesystem

import (
	"boardsync/core"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is a filesystem-backed archive of board snapshots, one JSON file per
// snapshot.
type Store struct {
	basePath string
}

// NewStore creates a new filesystem-based archive store.
func NewStore(basePath string) *Store {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &Store{basePath: basePath}
}

func (s *Store) snapshotPath(id string) (string, error) {
	filePath := filepath.Join(s.basePath, id)

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase) {
		return "", fmt.Errorf("invalid snapshot id: access denied")
	}
	return absFile, nil
}

func (s *Store) List(ctx context.Context) ([]*core.BoardSnapshot, error) {
	log := logrus.WithField("path", s.basePath)

	files, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.BoardSnapshot{}, nil
		}
		log.WithError(err).Error("Failed to read archive directory")
		return nil, err
	}

	snapshots := make([]*core.BoardSnapshot, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		filePath := filepath.Join(s.basePath, file.Name())
		info, err := file.Info()
		if err != nil {
			log.WithError(err).Warnf("Failed to get file info for %s, skipping", file.Name())
			continue
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			log.WithError(err).Warnf("Failed to read snapshot file %s, skipping", file.Name())
			continue
		}

		var snap core.BoardSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal snapshot file %s, skipping", file.Name())
			continue
		}

		// List views omit the heavy payload; mtime stands in for updatedAt.
		snap.Data = nil
		snap.UpdatedAt = info.ModTime()
		snapshots = append(snapshots, &snap)
	}

	log.Infof("Listed %d snapshots", len(snapshots))
	return snapshots, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.BoardSnapshot, error) {
	filePath, err := s.snapshotPath(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"snapshot_id": id, "path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Snapshot file not found")
			return nil, fmt.Errorf("snapshot with id %s not found", id)
		}
		log.WithError(err).Error("Failed to read snapshot file")
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	var snap core.BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).Error("Failed to unmarshal snapshot data")
		return nil, err
	}
	snap.UpdatedAt = info.ModTime()
	return &snap, nil
}

func (s *Store) Save(ctx context.Context, snapshot *core.BoardSnapshot) error {
	if snapshot.ID == "" {
		return fmt.Errorf("snapshot ID cannot be empty for save operation")
	}
	filePath, err := s.snapshotPath(snapshot.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"snapshot_id": snapshot.ID, "path": filePath})

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		snapshot.CreatedAt = time.Now()
	} else if err == nil {
		// The filesystem does not keep creation time; the previous mtime
		// is the closest available substitute.
		snapshot.CreatedAt = info.ModTime()
	}
	snapshot.UpdatedAt = time.Now()

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.WithError(err).Error("Failed to marshal snapshot for saving")
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write snapshot file")
		return err
	}
	return nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	filePath, err := s.snapshotPath(id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"snapshot_id": id, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Snapshot file not found for deletion, considered successful.")
			return nil
		}
		log.WithError(err).Error("Failed to delete snapshot file")
		return err
	}
	return nil
}

var _ core.ArchiveStore = (*Store)(nil)
