package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
)

func TestStagePublishOpenRoundTrip(t *testing.T) {
	store := NewStore(memfs.New())
	ownerID := uuid.New()

	staged, err := store.Stage(context.Background(), ownerID, "docs", "notes.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	if staged.Size != int64(len("hello world")) {
		t.Fatalf("expected staged size %d, got %d", len("hello world"), staged.Size)
	}

	// Not visible before publish.
	if ok, _ := store.Exists(context.Background(), staged.Location()); ok {
		t.Fatalf("staged blob must not be visible before publish")
	}

	location, err := store.Publish(context.Background(), staged)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if location != Location(ownerID, "docs", "notes.txt") {
		t.Fatalf("unexpected location %s", location)
	}

	rc, err := store.Open(context.Background(), location)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(content, []byte("hello world")) {
		t.Fatalf("content mismatch: %q", content)
	}
}

func TestPublishRefusesOccupiedLocation(t *testing.T) {
	store := NewStore(memfs.New())
	ownerID := uuid.New()

	first, err := store.Stage(context.Background(), ownerID, "docs", "same.txt", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	if _, err := store.Publish(context.Background(), first); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	second, err := store.Stage(context.Background(), ownerID, "docs", "same.txt", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	if _, err := store.Publish(context.Background(), second); err != ErrBlobExists {
		t.Fatalf("expected ErrBlobExists, got %v", err)
	}

	// The winner's content is untouched.
	rc, err := store.Open(context.Background(), first.Location())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "one" {
		t.Fatalf("expected original content, got %q", content)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := NewStore(memfs.New())
	ownerID := uuid.New()

	staged, err := store.Stage(context.Background(), ownerID, "docs", "gone.txt", strings.NewReader("bye"))
	if err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	location, err := store.Publish(context.Background(), staged)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if err := store.Remove(context.Background(), location); err != nil {
		t.Fatalf("first Remove returned error: %v", err)
	}
	if err := store.Remove(context.Background(), location); err != nil {
		t.Fatalf("second Remove must be a no-op, got %v", err)
	}
	if ok, _ := store.Exists(context.Background(), location); ok {
		t.Fatalf("blob still present after remove")
	}
}

func TestRemoveBucketDeletesSubtree(t *testing.T) {
	store := NewStore(memfs.New())
	ownerID := uuid.New()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		staged, err := store.Stage(context.Background(), ownerID, "archive", name, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("Stage returned error: %v", err)
		}
		if _, err := store.Publish(context.Background(), staged); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	if err := store.RemoveBucket(context.Background(), ownerID, "archive"); err != nil {
		t.Fatalf("RemoveBucket returned error: %v", err)
	}

	var seen int
	if err := store.Walk(context.Background(), func(location string, size int64, _ time.Time) error {
		seen++
		return nil
	}); err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}
	if seen != 0 {
		t.Fatalf("expected empty store after RemoveBucket, saw %d blobs", seen)
	}
}

func TestWalkSkipsStagingArea(t *testing.T) {
	store := NewStore(memfs.New())
	ownerID := uuid.New()

	// One staged-only blob, one published.
	if _, err := store.Stage(context.Background(), ownerID, "docs", "pending.txt", strings.NewReader("pending")); err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	staged, err := store.Stage(context.Background(), ownerID, "docs", "live.txt", strings.NewReader("live"))
	if err != nil {
		t.Fatalf("Stage returned error: %v", err)
	}
	location, err := store.Publish(context.Background(), staged)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	var locations []string
	if err := store.Walk(context.Background(), func(loc string, size int64, _ time.Time) error {
		locations = append(locations, loc)
		return nil
	}); err != nil {
		t.Fatalf("Walk returned error: %v", err)
	}
	if len(locations) != 1 || locations[0] != location {
		t.Fatalf("expected only the published blob, got %v", locations)
	}
}
