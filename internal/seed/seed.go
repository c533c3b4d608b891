// Package seed ships the archive's initial projects and records and loads
// them through the CRUD service.
package seed

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"cruiseline/internal/core"
	"cruiseline/internal/datastore"

	"go.uber.org/zap"
)

//go:embed data/*.json
var files embed.FS

// Dataset pairs a resource with its seed rows.
type Dataset struct {
	Resource core.Resource
	Rows     []datastore.Row
}

// Report summarises one collection's load.
type Report struct {
	Collection string `json:"collection"`
	Inserted   int    `json:"inserted"`
	Skipped    int    `json:"skipped"`
}

// Datasets decodes the embedded seed files in load order (projects first).
func Datasets() ([]Dataset, error) {
	out := make([]Dataset, 0, len(core.Resources()))
	for _, res := range core.Resources() {
		raw, err := files.ReadFile("data/" + res.Collection + ".json")
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", res.Collection, err)
		}
		var rows []datastore.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode seed %s: %w", res.Collection, err)
		}
		out = append(out, Dataset{Resource: res, Rows: rows})
	}
	return out, nil
}

// Apply inserts every seed row through svc. Rows whose id already exists are
// counted as skipped. A non-empty only restricts the load to one collection.
func Apply(ctx context.Context, svc *core.Service, only string, logger *zap.Logger) ([]Report, error) {
	datasets, err := Datasets()
	if err != nil {
		return nil, err
	}
	if only != "" {
		var picked []Dataset
		for _, ds := range datasets {
			if ds.Resource.Collection == only {
				picked = append(picked, ds)
			}
		}
		if len(picked) == 0 {
			return nil, fmt.Errorf("unknown collection %q", only)
		}
		datasets = picked
	}
	return Load(ctx, svc, datasets, logger)
}

// Load inserts the rows of each dataset in order. Existing ids are skipped;
// any other failure stops the load and returns the reports so far.
func Load(ctx context.Context, svc *core.Service, datasets []Dataset, logger *zap.Logger) ([]Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reports := make([]Report, 0, len(datasets))
	for _, ds := range datasets {
		report := Report{Collection: ds.Resource.Collection}
		for _, row := range ds.Rows {
			_, err := svc.Create(ctx, ds.Resource, row)
			var conflict *core.ConflictError
			switch {
			case err == nil:
				report.Inserted++
			case errors.As(err, &conflict):
				report.Skipped++
				logger.Debug("row exists", zap.String("collection", report.Collection), zap.Any("id", row["id"]))
			default:
				return reports, fmt.Errorf("load %s %v: %w", report.Collection, row["id"], err)
			}
		}
		logger.Info("loaded collection",
			zap.String("collection", report.Collection),
			zap.Int("inserted", report.Inserted),
			zap.Int("skipped", report.Skipped))
		reports = append(reports, report)
	}
	return reports, nil
}
