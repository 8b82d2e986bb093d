package local

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"docverify/internal/shared/storage/object"
)

func TestPutThenReadAll(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	n, err := s.Put(ctx, "drafts/d-1/rg.jpg", "image/jpeg", bytes.NewReader([]byte("jpeg-bytes")))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	data, err := object.ReadAll(ctx, s, "drafts/d-1/rg.jpg", 1024)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
	if _, err := object.ReadAll(ctx, s, "drafts/d-1/rg.jpg", 4); !errors.Is(err, object.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestOpenMissingAndInvalidKeys(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Open(context.Background(), "nope.jpg"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, key := range []string{"../escape", "/abs/path", ""} {
		if _, err := s.Open(context.Background(), key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
