// Package storage moves chunk files between the local filesystem and object
// storage. Chunk files are immutable once written, so the interface is plain
// whole-object put/get.
package storage

import "context"

// ObjectStorage abstracts the object store holding persisted chunk files.
// Implementations: S3 for production, the local filesystem for tests and
// single-node deployments.
type ObjectStorage interface {
	// Upload copies a local file to objectPath in the store.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies the object at objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
