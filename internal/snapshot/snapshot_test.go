package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"testing"
	"time"

	"cruiseline/internal/blob"
	blobcore "cruiseline/internal/blob/core"
	"cruiseline/internal/config"
	"cruiseline/internal/core"
	"cruiseline/internal/infra/persistence/memory"
	"cruiseline/internal/seed"

	"github.com/google/go-cmp/cmp"
)

func fixedClock() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.FixedZone("X", 3600)) }

func newService(t *testing.T) *core.Service {
	t.Helper()
	name := "snapshot-" + strings.ReplaceAll(t.Name(), "/", "-")
	t.Cleanup(func() { memory.Drop(name) })
	return core.NewService(core.DatastoreSettings{URL: "memory://" + name, ServiceKey: "snap"}.Opener())
}

func newBlobStore(t *testing.T) blob.Store {
	t.Helper()
	store, err := blob.Open(context.Background(), config.Blob{Driver: "memory"})
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return store
}

func TestRunWritesCollectionsAndManifest(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	if _, err := seed.Apply(ctx, svc, "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := newBlobStore(t)
	manifest, err := NewExporter(svc, store, WithClock(fixedClock), WithLogger(nil)).Run(ctx, "nightly")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantObjects := []string{"nightly/20261019T073000Z/projects.json", "nightly/20261019T073000Z/records.json"}
	if diff := cmp.Diff(wantObjects, manifest.Objects); diff != "" {
		t.Fatalf("objects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"projects": 3, "records": 11}, manifest.RowCounts); diff != "" {
		t.Fatalf("row counts mismatch (-want +got):\n%s", diff)
	}

	info, rc, err := store.Get(ctx, "nightly/20261019T073000Z/records.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	var rows []map[string]any
	if err := json.NewDecoder(rc).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 11 || rows[0]["id"] != "GC-R-000" || info.Metadata["rows"] != "11" {
		t.Fatalf("unexpected records export: %d rows, meta %v", len(rows), info.Metadata)
	}

	_, mrc, err := store.Get(ctx, "nightly/20261019T073000Z/manifest.json")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	raw, _ := io.ReadAll(mrc)
	_ = mrc.Close()
	if !strings.Contains(string(raw), `"blob_driver": "memory"`) {
		t.Fatalf("unexpected manifest %s", raw)
	}

	if _, err := NewExporter(svc, store, WithClock(fixedClock)).Run(ctx, "nightly"); !errors.Is(err, blobcore.ErrExists) {
		t.Fatalf("expected rerun at same instant to collide, got %v", err)
	}
}

func TestRunPropagatesListFailure(t *testing.T) {
	broken := core.NewService(core.DatastoreSettings{}.Opener())
	store := newBlobStore(t)
	if _, err := NewExporter(broken, store).Run(context.Background(), "x"); err == nil {
		t.Fatalf("expected list failure")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("nothing should be written on failure, got %v", list)
	}
}

type failingStore struct {
	blob.Store
	failOn string
}

func (f failingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if path.Base(key) == f.failOn {
		return blob.Info{}, errors.New("disk full")
	}
	return f.Store.Put(ctx, key, r, opts)
}

func TestRunDiscardsPartialExport(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	if _, err := seed.Apply(ctx, svc, "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, failOn := range []string{"records.json", "manifest.json"} {
		store := newBlobStore(t)
		if _, err := NewExporter(svc, failingStore{Store: store, failOn: failOn}, WithClock(fixedClock)).Run(ctx, "nightly"); err == nil {
			t.Fatalf("%s: expected write failure", failOn)
		}
		if list, _ := store.List(ctx, ""); len(list) != 0 {
			t.Fatalf("%s: partial export left behind: %v", failOn, list)
		}
	}
}

func TestListReturnsManifestsInOrder(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	if _, err := seed.Apply(ctx, svc, "projects", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := newBlobStore(t)
	clock := fixedClock()
	for i := 0; i < 2; i++ {
		at := clock.Add(time.Duration(i) * time.Hour)
		if _, err := NewExporter(svc, store, WithClock(func() time.Time { return at })).Run(ctx, "nightly"); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if _, err := NewExporter(svc, store, WithClock(fixedClock)).Run(ctx, "weekly"); err != nil {
		t.Fatalf("Run weekly: %v", err)
	}

	manifests, err := List(ctx, store, "nightly/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var prefixes []string
	for _, m := range manifests {
		prefixes = append(prefixes, m.Prefix)
	}
	if diff := cmp.Diff([]string{"nightly/20261019T073000Z", "nightly/20261019T083000Z"}, prefixes); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}
	if manifests[0].RowCounts["projects"] != 3 || manifests[0].RowCounts["records"] != 0 {
		t.Fatalf("unexpected row counts %v", manifests[0].RowCounts)
	}
	if none, err := List(ctx, store, "monthly/"); err != nil || len(none) != 0 {
		t.Fatalf("expected no manifests, got %v %v", none, err)
	}
}

func TestRestoreLoadsSnapshotIntoEmptyDatastore(t *testing.T) {
	ctx := context.Background()
	source := newService(t)
	if _, err := seed.Apply(ctx, source, "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := newBlobStore(t)
	manifest, err := NewExporter(source, store, WithClock(fixedClock)).Run(ctx, "nightly")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	name := "snapshot-restore-target"
	t.Cleanup(func() { memory.Drop(name) })
	target := core.NewService(core.DatastoreSettings{URL: "memory://" + name, ServiceKey: "snap"}.Opener())
	reports, err := Restore(ctx, target, store, manifest.Prefix+"/", nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	want := []seed.Report{{Collection: "projects", Inserted: 3}, {Collection: "records", Inserted: 11}}
	if diff := cmp.Diff(want, reports); diff != "" {
		t.Fatalf("reports mismatch (-want +got):\n%s", diff)
	}
	row, err := target.Get(ctx, core.Records, "GC-R-004")
	if err != nil || row["archival"].(map[string]any)["state"] != "archived" {
		t.Fatalf("restored record mismatch: %v %v", row, err)
	}

	again, err := Restore(ctx, target, store, manifest.Prefix, nil)
	if err != nil || again[1].Skipped != 11 || again[1].Inserted != 0 {
		t.Fatalf("expected second restore to skip existing rows, got %+v %v", again, err)
	}
}

func TestRestoreMissingOrCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	store := newBlobStore(t)
	if _, err := Restore(ctx, svc, store, "nightly/19990101T000000Z", nil); !errors.Is(err, blobcore.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	manifest := `{"prefix":"bad","row_counts":{"projects":2}}`
	if _, err := store.Put(ctx, "bad/manifest.json", strings.NewReader(manifest), blob.PutOptions{}); err != nil {
		t.Fatalf("put manifest: %v", err)
	}
	if _, err := store.Put(ctx, "bad/projects.json", strings.NewReader(`[{"id":"p1","name":"n","status":"s"}]`), blob.PutOptions{}); err != nil {
		t.Fatalf("put projects: %v", err)
	}
	if _, err := Restore(ctx, svc, store, "bad", nil); err == nil || !strings.Contains(err.Error(), "manifest says 2") {
		t.Fatalf("expected row count mismatch, got %v", err)
	}
	if rows, _ := svc.List(ctx, core.Projects); len(rows) != 0 {
		t.Fatalf("nothing should load from a corrupt snapshot, got %v", rows)
	}
}
