package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenFilesystemRequiresExistingRoot(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Options{Driver: DriverFilesystem, Root: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected error for missing bank root")
	}
	file := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(ctx, Options{Root: file}); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "n01"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "n01", "n01_1.JPEG"), []byte("img"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fsStore, err := Open(ctx, Options{Root: root})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", fsStore.Driver())
	}
	_, rc, err := fsStore.Get(ctx, "n01/n01_1.JPEG")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "img" {
		t.Fatalf("unexpected payload %q", b)
	}

	for _, driver := range []Driver{"ftp", "memory"} {
		if _, err := Open(ctx, Options{Driver: driver}); err == nil {
			t.Fatalf("expected unknown driver error for %s", driver)
		}
	}
	if _, err := Open(ctx, Options{Driver: DriverS3}); err == nil {
		t.Fatalf("expected bucket required error")
	}
}

func TestFilesystemWriterSemantics(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if _, _, err := store.Get(ctx, "n02/n02_1.JPEG"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: want ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "n02/n02_1.JPEG", bytes.NewReader([]byte("a")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "n02/n02_1.JPEG", bytes.NewReader([]byte("b")), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("second put: want ErrExists, got %v", err)
	}
	if _, err := store.Put(ctx, "n02/n02_1.JPEG", bytes.NewReader([]byte("bb")), PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite put: %v", err)
	}
	info, err := store.Head(ctx, "n02/n02_1.JPEG")
	if err != nil || info.Size != 2 {
		t.Fatalf("head: %+v %v", info, err)
	}
	list, err := store.List(ctx, "n02/")
	if err != nil || len(list) != 1 || list[0].Key != "n02/n02_1.JPEG" {
		t.Fatalf("list: %+v %v", list, err)
	}
}
