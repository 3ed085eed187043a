// Package ingest drives the ingestion pipeline: folder reconciliation,
// watermark-driven fetching, chunked transactional processing, and the
// per-run orchestration across sources and folders.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/store"
)

// Reconciler maps remote folders onto durable tracking records.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(st store.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, logger: logger}
}

// Reconcile lists the remote folders and returns the tracking record for each
// one, creating records with null watermarks where none exists for the
// (source, folder, UIDVALIDITY) triple. A folder whose UIDVALIDITY changed
// since the last run therefore gets a brand-new record; the old record and
// its watermarks are left untouched. Calling this twice against an unchanged
// remote is a pure lookup both times.
func (r *Reconciler) Reconcile(ctx context.Context, source *models.Source, ms email.Source) ([]int64, error) {
	folders, err := ms.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders for source %d: %w", source.ID, err)
	}

	ids := make([]int64, 0, len(folders))
	for _, f := range folders {
		existing, err := r.store.FindFolder(ctx, source.ID, f.Name, f.UIDValidity)
		if err == nil {
			ids = append(ids, existing.ID)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up folder %s: %w", f.Name, err)
		}

		created, err := r.store.CreateFolder(ctx, source.ID, f.Name, f.UIDValidity)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracking record for %s: %w", f.Name, err)
		}
		r.logger.Info("new tracking record",
			"source_id", source.ID,
			"folder", f.Name,
			"uid_validity", f.UIDValidity,
			"source_folder_id", created.ID,
		)
		ids = append(ids, created.ID)
	}

	return ids, nil
}
