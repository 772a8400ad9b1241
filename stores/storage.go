package stores

import (
	"boardsync/core"
	"boardsync/stores/aws"
	"boardsync/stores/filesystem"
	"boardsync/stores/memory"
	"boardsync/stores/sqlite"
	"os"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes the object store and the
// snapshot archive.
type Store interface {
	core.ObjectStore
	core.ArchiveStore
}

// GetStore builds the object store from the environment. Writes through the
// returned handle are stamped with userID.
func GetStore(userID string) Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "boardsync.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName, userID)
	default:
		store = memory.NewStore(userID)
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

// GetArchiveStore builds the snapshot archive from the environment, falling
// back to the object store's own archive when no dedicated backend is
// configured.
func GetArchiveStore(fallback core.ArchiveStore) core.ArchiveStore {
	archiveType := os.Getenv("ARCHIVE_TYPE")

	archiveField := logrus.Fields{
		"archiveType": archiveType,
	}

	var archive core.ArchiveStore
	switch archiveType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_ARCHIVE_PATH")
		if basePath == "" {
			basePath = "./archive" // Default path
		}
		archiveField["basePath"] = basePath
		archive = filesystem.NewStore(basePath)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 archive type")
		}
		archiveField["bucketName"] = bucketName
		archive = aws.NewStore(bucketName)
	default:
		archive = fallback
		archiveField["archiveType"] = "store-backed"
	}
	logrus.WithFields(archiveField).Info("Use archive")
	return archive
}
