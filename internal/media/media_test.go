package media_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldsync/internal/logging"
	"fieldsync/internal/media"
	"fieldsync/internal/testsupport"
)

func newMover(t *testing.T) (*media.Mover, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "media")
	return media.NewMover(root, logging.NewNop()), root
}

func TestEnsureDurableCopiesCaptureFile(t *testing.T) {
	mover, root := newMover(t)
	capture := filepath.Join(t.TempDir(), "cache", "IMG_0001.jpg")
	testsupport.WriteFile(t, capture, 2048)

	durable := mover.EnsureDurable(capture, "IMG_0001.jpg")
	if durable == capture {
		t.Fatal("expected file copied into durable root")
	}
	if !strings.HasPrefix(durable, root) {
		t.Fatalf("durable path %s not under root %s", durable, root)
	}
	if _, err := os.Stat(durable); err != nil {
		t.Fatalf("durable file missing: %v", err)
	}
}

func TestEnsureDurableIdempotent(t *testing.T) {
	mover, _ := newMover(t)
	capture := filepath.Join(t.TempDir(), "a.m4a")
	testsupport.WriteFile(t, capture, 128)

	first := mover.EnsureDurable(capture, "a.m4a")
	second := mover.EnsureDurable(first, "a.m4a")
	if second != first {
		t.Fatalf("expected already-durable path returned unchanged, got %s", second)
	}

	entries, err := os.ReadDir(mover.Root())
	if err != nil {
		t.Fatalf("read durable root: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one durable file, got %d", len(entries))
	}
}

func TestEnsureDurableSyntheticURI(t *testing.T) {
	mover, _ := newMover(t)
	if got := mover.EnsureDurable("test://fixture/audio", ""); got != "test://fixture/audio" {
		t.Fatalf("synthetic URI must pass through, got %s", got)
	}
}

func TestEnsureDurableCopyFailureKeepsOriginal(t *testing.T) {
	mover, _ := newMover(t)
	missing := filepath.Join(t.TempDir(), "gone.jpg")
	if got := mover.EnsureDurable(missing, "gone.jpg"); got != missing {
		t.Fatalf("expected original reference kept on copy failure, got %s", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	mover, _ := newMover(t)
	capture := filepath.Join(t.TempDir(), "b.jpg")
	testsupport.WriteFile(t, capture, 16)
	durable := mover.EnsureDurable(capture, "b.jpg")

	if err := mover.Delete(durable); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := mover.Delete(durable); err != nil {
		t.Fatalf("second Delete must succeed: %v", err)
	}
}

func TestDeleteNeverTouchesOutsideRoot(t *testing.T) {
	mover, _ := newMover(t)
	outside := filepath.Join(t.TempDir(), "keep.txt")
	testsupport.WriteFile(t, outside, 16)

	if err := mover.Delete(outside); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("file outside durable root must not be removed")
	}
}
