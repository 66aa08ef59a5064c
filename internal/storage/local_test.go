package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tephraerrors "github.com/tephradb/tephra/internal/errors"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	src := writeTempFile(t, "chunk-bytes")
	if err := store.Upload(ctx, src, "chunks/weather/c1.sqlite"); err != nil {
		t.Fatal(err)
	}

	exists, err := store.Exists(ctx, "chunks/weather/c1.sqlite")
	if err != nil || !exists {
		t.Fatalf("uploaded object should exist: exists=%v err=%v", exists, err)
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := store.Download(ctx, "chunks/weather/c1.sqlite", dest); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "chunk-bytes" {
		t.Errorf("round trip corrupted content: %q", data)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	err = store.Download(context.Background(), "chunks/none.sqlite", filepath.Join(t.TempDir(), "out"))
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if !errors.Is(err, tephraerrors.New(tephraerrors.ErrCategoryStorage, tephraerrors.CodeObjectNotFound, "")) {
		t.Errorf("expected OBJECT_NOT_FOUND, got %v", err)
	}
}

func TestLocalStorage_DeleteIsIdempotent(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	src := writeTempFile(t, "x")
	if err := store.Upload(ctx, src, "obj"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "obj"); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	src := writeTempFile(t, "x")
	for _, path := range []string{"chunks/weather/a", "chunks/weather/b", "chunks/metrics/c"} {
		if err := store.Upload(ctx, src, path); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := store.ListObjects(ctx, "chunks/weather/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects, got %v", objects)
	}
}
