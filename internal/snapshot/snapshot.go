// Package snapshot exports every collection to blob storage as JSON.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	blobcore "cruiseline/internal/blob/core"
	"cruiseline/internal/core"
	"cruiseline/internal/datastore"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const timestampLayout = "20060102T150405Z"

// Manifest describes one completed export.
type Manifest struct {
	Prefix    string         `json:"prefix"`
	Taken     time.Time      `json:"taken_at"`
	Driver    string         `json:"blob_driver"`
	Objects   []string       `json:"objects"`
	RowCounts map[string]int `json:"row_counts"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the exporter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Exporter reads collections through the service and writes them to a blob store.
type Exporter struct {
	service *core.Service
	store   blobcore.Store
	logger  *zap.Logger
	now     func() time.Time
}

// NewExporter constructs an exporter.
func NewExporter(svc *core.Service, store blobcore.Store, opts ...Option) *Exporter {
	e := &Exporter{service: svc, store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run lists every collection concurrently, then writes
// <prefix>/<UTC timestamp>/<collection>.json and a manifest.json.
func (e *Exporter) Run(ctx context.Context, prefix string) (Manifest, error) {
	resources := core.Resources()
	rows := make([][]datastore.Row, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, res := range resources {
		i, res := i, res
		g.Go(func() error {
			list, err := e.service.List(gctx, res)
			if err != nil {
				return fmt.Errorf("list %s: %w", res.Collection, err)
			}
			rows[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	taken := e.now().UTC()
	dir := path.Join(prefix, taken.Format(timestampLayout))
	manifest := Manifest{
		Prefix:    dir,
		Taken:     taken,
		Driver:    string(e.store.Driver()),
		RowCounts: make(map[string]int, len(resources)),
	}
	for i, res := range resources {
		key := path.Join(dir, res.Collection+".json")
		meta := map[string]string{"collection": res.Collection, "rows": strconv.Itoa(len(rows[i]))}
		if err := e.put(ctx, key, rows[i], meta); err != nil {
			e.discard(ctx, manifest.Objects)
			return Manifest{}, err
		}
		manifest.Objects = append(manifest.Objects, key)
		manifest.RowCounts[res.Collection] = len(rows[i])
	}
	if err := e.put(ctx, path.Join(dir, manifestName), manifest, nil); err != nil {
		e.discard(ctx, manifest.Objects)
		return Manifest{}, err
	}
	e.logger.Info("snapshot written",
		zap.String("prefix", dir),
		zap.String("driver", manifest.Driver),
		zap.Any("rows", manifest.RowCounts))
	return manifest, nil
}

// discard removes the objects of an export that did not complete, so a
// partial snapshot never sits next to finished ones.
func (e *Exporter) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if _, err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn("discard partial snapshot object", zap.String("key", key), zap.Error(err))
		}
	}
}

func (e *Exporter) put(ctx context.Context, key string, v any, meta map[string]string) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := e.store.Put(ctx, key, bytes.NewReader(raw), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata:    meta,
	}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
