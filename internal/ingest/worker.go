package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/store"
)

// Worker drains one source folder: it re-reads the tracking record, fetches
// the next batch according to the watermarks, and pushes the batch through
// the chunk processor in fetch order. Workers for different folders never
// share state, so one folder failing leaves the others untouched.
type Worker struct {
	store     store.Store
	processor *Processor
	batchSize int
	chunkSize int
	logger    *slog.Logger
}

func NewWorker(st store.Store, processor *Processor, batchSize, chunkSize int, logger *slog.Logger) *Worker {
	return &Worker{
		store:     st,
		processor: processor,
		batchSize: batchSize,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Run processes one folder to completion and reports the outcome. A chunk
// that fails wholesale is charged against the error count and the worker
// moves on; later chunks still commit. Run never returns an error: failures
// that kill the whole folder land in FolderResult.Err.
func (w *Worker) Run(ctx context.Context, source *models.Source, ms email.Source, folderID int64, workerID string) (result models.FolderResult) {
	result.SourceFolderID = folderID

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Sprintf("worker panic: %v", r)
			w.logger.Error("worker panicked",
				slog.String("worker_id", workerID),
				slog.Int64("source_folder_id", folderID),
				slog.Any("panic", r))
		}
	}()

	folder, err := w.store.GetFolder(ctx, folderID)
	if err != nil {
		result.Err = fmt.Sprintf("load folder: %v", err)
		return result
	}
	result.FolderName = folder.FolderName

	msgs, err := ms.Fetch(ctx, folder.FolderName, folder.HighWaterMark, folder.LowWaterMark, w.batchSize)
	if err != nil {
		result.Err = fmt.Sprintf("fetch: %v", err)
		return result
	}
	result.Fetched = len(msgs)

	if len(msgs) == 0 {
		w.logger.Info("folder up to date",
			slog.String("worker_id", workerID),
			slog.String("folder", folder.FolderName))
		return result
	}

	w.logger.Info("processing batch",
		slog.String("worker_id", workerID),
		slog.String("folder", folder.FolderName),
		slog.Int("messages", len(msgs)),
		slog.Int("chunk_size", w.chunkSize))

	chunkNum := 0
	for start := 0; start < len(msgs); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunkNum++
		chunk := msgs[start:end]

		metrics, err := w.processor.ProcessChunk(ctx, source, folder, chunk, workerID, chunkNum)
		if err != nil {
			// The chunk's transaction rolled back: nothing was
			// recorded, every message in it counts as an error.
			result.Errors += len(chunk)
			w.logger.Error("chunk failed",
				slog.String("worker_id", workerID),
				slog.String("folder", folder.FolderName),
				slog.Int("chunk", chunkNum),
				slog.Any("error", err))
			continue
		}

		result.Chunks = append(result.Chunks, *metrics)
		result.InvoicesFound += metrics.InvoicesFound
		result.NonInvoices += metrics.NonInvoices
		result.Errors += len(metrics.Errors)
	}

	return result
}
