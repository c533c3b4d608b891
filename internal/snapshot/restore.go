package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	blobcore "cruiseline/internal/blob/core"
	"cruiseline/internal/core"
	"cruiseline/internal/datastore"
	"cruiseline/internal/seed"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const manifestName = "manifest.json"

// List returns the manifests of every snapshot stored under prefix, oldest first.
func List(ctx context.Context, store blobcore.Store, prefix string) ([]Manifest, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	var keys []string
	for _, info := range infos {
		if path.Base(info.Key) == manifestName {
			keys = append(keys, info.Key)
		}
	}
	manifests := make([]Manifest, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			return readJSON(gctx, store, key, &manifests[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifests, nil
}

// Restore loads the snapshot written to dir back through svc. Rows whose id
// already exists are skipped, so restoring twice is harmless.
func Restore(ctx context.Context, svc *core.Service, store blobcore.Store, dir string, logger *zap.Logger) ([]seed.Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir = strings.TrimSuffix(dir, "/")
	manifestKey := path.Join(dir, manifestName)
	if _, err := store.Head(ctx, manifestKey); err != nil {
		if errors.Is(err, blobcore.ErrNotFound) {
			return nil, fmt.Errorf("no snapshot at %q: %w", dir, err)
		}
		return nil, err
	}
	var manifest Manifest
	if err := readJSON(ctx, store, manifestKey, &manifest); err != nil {
		return nil, err
	}

	var datasets []seed.Dataset
	for _, res := range core.Resources() {
		want, ok := manifest.RowCounts[res.Collection]
		if !ok {
			continue
		}
		var rows []datastore.Row
		if err := readJSON(ctx, store, path.Join(dir, res.Collection+".json"), &rows); err != nil {
			return nil, err
		}
		if len(rows) != want {
			return nil, fmt.Errorf("snapshot %s: %s has %d rows, manifest says %d", dir, res.Collection, len(rows), want)
		}
		datasets = append(datasets, seed.Dataset{Resource: res, Rows: rows})
	}
	logger.Info("restoring snapshot", zap.String("prefix", dir), zap.Time("taken_at", manifest.Taken))
	return seed.Load(ctx, svc, datasets, logger)
}

func readJSON(ctx context.Context, store blobcore.Store, key string, v any) error {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
