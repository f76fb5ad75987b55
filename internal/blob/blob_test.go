package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":           "report.pdf",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\cert.pdf`: "cert.pdf",
		"my cert (1).pdf":      "my_cert_1_.pdf",
		"...":                  "file",
		"":                     "file",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutOpen(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC) }
	s.suffix = func() string { return "0a1b2c3d" }
	ctx := context.Background()

	key, err := s.Put(ctx, "certs/eng-1", "safety cert.pdf", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "certs/eng-1/20240305T140709Z-0a1b2c3d_safety_cert.pdf" {
		t.Errorf("unexpected key %q", key)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestStore_SameSecondUploadsKeepBoth(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC) }
	ctx := context.Background()

	first, err := s.Put(ctx, "docs/lab-1", "sop.pdf", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := s.Put(ctx, "docs/lab-1", "sop.pdf", strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct keys, both %q", first)
	}

	rc, err := s.Open(ctx, first)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "v1" {
		t.Errorf("first upload was overwritten, got %q", data)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.Put(ctx, "certs/eng-2", "cert.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestStore_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "docs/lab-1", "empty.txt", strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := s.Open(ctx, "docs/lab-1/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Open(ctx, "../outside"); err == nil {
		t.Error("expected error for key escaping the root")
	}
}
