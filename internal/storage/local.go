package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tephradb/tephra/internal/errors"
)

// LocalStorage implements ObjectStorage on the local filesystem. Used by
// tests and single-node deployments.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a filesystem-backed object store rooted at
// basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to create storage root %s", basePath), err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Upload copies a local file into the store.
func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to create directories for %s", objectPath), err)
	}
	if err := copyFile(localPath, destPath); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s", objectPath), err)
	}
	return nil
}

// Download copies an object out of the store.
func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcPath := l.fullPath(objectPath)
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return errors.New(errors.ErrCategoryStorage, errors.CodeObjectNotFound,
			fmt.Sprintf("object %s not found", objectPath))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to create directories for %s", localPath), err)
	}
	if err := copyFile(srcPath, localPath); err != nil {
		return errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to download %s", objectPath), err)
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(l.fullPath(objectPath))
	if err != nil && !os.IsNotExist(err) {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to delete %s", objectPath), err)
	}
	return nil
}

// Exists reports whether an object is present.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.fullPath(objectPath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to stat %s", objectPath), err)
	}
	return true, nil
}

// ListObjects returns all object paths under the given prefix.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects []string
	err := filepath.Walk(l.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			objects = append(objects, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to list objects under %q", prefix), err)
	}
	return objects, nil
}

func (l *LocalStorage) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
