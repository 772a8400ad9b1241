package aws

import (
	"boardsync/core"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store is an S3-backed archive of board snapshots, one JSON object per
// snapshot key.
type Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based archive store.
func NewStore(bucketName string) *Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func snapshotKey(id string) (string, error) {
	// Snapshot ids must be simple names, not paths.
	if path.Base(id) != id {
		return "", fmt.Errorf("invalid snapshot id: must not be a path")
	}
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("invalid snapshot id: must not be empty or a dot directory")
	}
	return path.Join("snapshots", id), nil
}

func (s *Store) List(ctx context.Context) ([]*core.BoardSnapshot, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("snapshots/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %v", err)
	}

	snapshots := make([]*core.BoardSnapshot, 0, len(output.Contents))
	for _, object := range output.Contents {
		resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    object.Key,
		})
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.Printf("warn: failed to read object body %s: %v", *object.Key, err)
			continue
		}

		var snap core.BoardSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Printf("warn: failed to unmarshal snapshot %s: %v", *object.Key, err)
			continue
		}

		// List views omit the heavy payload.
		snap.Data = nil
		snapshots = append(snapshots, &snap)
	}

	return snapshots, nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*core.BoardSnapshot, error) {
	key, err := snapshotKey(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("snapshot with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get snapshot %s: %v", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot data: %v", err)
	}

	var snap core.BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot data: %v", err)
	}
	return &snap, nil
}

func (s *Store) Save(ctx context.Context, snapshot *core.BoardSnapshot) error {
	key, err := snapshotKey(snapshot.ID)
	if err != nil {
		return err
	}

	// Preserve CreatedAt on update.
	if snapshot.CreatedAt.IsZero() {
		existing, err := s.GetSnapshot(ctx, snapshot.ID)
		if err == nil && existing != nil {
			snapshot.CreatedAt = existing.CreatedAt
		} else {
			snapshot.CreatedAt = time.Now()
		}
	}
	snapshot.UpdatedAt = time.Now()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %v", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %v", snapshot.ID, err)
	}
	return nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	key, err := snapshotKey(id)
	if err != nil {
		return err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %v", id, err)
	}
	return nil
}

var _ core.ArchiveStore = (*Store)(nil)
