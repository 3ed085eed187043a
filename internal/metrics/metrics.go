// Package metrics persists run summaries as JSON files, one per ingestion
// pass, so operators can inspect what a run did after the fact.
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/recibo/invoicer/internal/models"
)

// Writer writes run summaries to a directory on disk.
type Writer struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewWriter creates the metrics directory if it does not exist.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// WriteSummary stores one run summary. The filename carries the start time
// and run id so files sort chronologically.
func (w *Writer) WriteSummary(summary *models.RunSummary) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := fmt.Sprintf("run_%s_%s.json",
		summary.StartedAt.UTC().Format("2006-01-02T15-04-05"),
		summary.RunID)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}

	w.logger.Debug("run summary written",
		"path", path,
		"run_id", summary.RunID,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	return nil
}
