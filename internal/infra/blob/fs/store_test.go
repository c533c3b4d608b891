package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cruiseline/internal/blob/core"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "snapshots")
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %s %s", s.Driver(), s.Root())
	}

	info, err := s.Put(ctx, "nightly/2026/projects.json", strings.NewReader(`[{"id":"p1"}]`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"rows": "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 13 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "nightly", "2026", "projects.json.meta")); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
	if _, err := s.Put(ctx, "nightly/2026/projects.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "nightly/2026/projects.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `[{"id":"p1"}]` || got.ContentType != "application/json" || got.Metadata["rows"] != "1" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	head, err := s.Head(ctx, "nightly/2026/projects.json")
	if err != nil || head.ETag != info.ETag {
		t.Fatalf("head: %+v %v", head, err)
	}

	if _, err := s.Put(ctx, "nightly/2027/records.json", strings.NewReader(`[]`), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.List(ctx, "nightly/2026")
	if err != nil || len(list) != 1 || list[0].Key != "nightly/2026/projects.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected two blobs, got %+v", all)
	}

	if ok, err := s.Delete(ctx, "nightly/2026/projects.json"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "nightly/2026/projects.json"); ok {
		t.Fatalf("second delete should report missing")
	}
	if _, err := s.Head(ctx, "nightly/2026/projects.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemRejectsBadKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}
