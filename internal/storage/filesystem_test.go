package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "uploads/a.png", want: "uploads/a.png"},
		{in: "/uploads//b.png", want: "uploads/b.png"},
		{in: "./x\\y.png", want: "x/y.png"},
		{in: "../etc/passwd", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	key, err := store.Put(ctx, []byte("hello"), time.Hour, PutHint{Scope: "results", Owner: "job-1", MIME: "image/png"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(key, "results/images/job-1/") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected key %q", key)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreHonoursTTL(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	key, err := store.Put(ctx, []byte("x"), time.Minute, PutHint{Scope: "uploads", MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreTTLAndDelete(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()
	key, err := store.Put(ctx, []byte("abc"), time.Second, PutHint{Scope: "results", MIME: "video/mp4"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(key, "/videos/") {
		t.Fatalf("video key %q not categorised", key)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired Get = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Has(key) {
		t.Fatalf("object still present after delete")
	}
}
