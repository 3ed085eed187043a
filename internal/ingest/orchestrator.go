package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/store"
)

// TokenProvider yields a currently valid access token for a source. The
// token lives only for the duration of one run; it is never written back to
// the source record.
type TokenProvider interface {
	EnsureValid(ctx context.Context, source *models.Source) (string, error)
}

// MailSourceFactory opens a fresh mailbox connection for a source. The
// orchestrator calls it once per worker because connections are not safe for
// concurrent use.
type MailSourceFactory func(source *models.Source, accessToken string) (email.Source, error)

// Orchestrator drives one ingestion pass: list sources, refresh their
// tokens, reconcile folder tracking records, then fan a bounded pool of
// workers out over the folders and gather their results. Any number of
// sources, folders or workers may fail without taking the run down; the only
// fatal error is not being able to list the sources at all.
type Orchestrator struct {
	store         store.Store
	tokens        TokenProvider
	openMailbox   MailSourceFactory
	reconciler    *Reconciler
	processor     *Processor
	batchSize     int
	chunkSize     int
	maxWorkers    int
	workerTimeout time.Duration
	logger        *slog.Logger
}

// OrchestratorOptions bundles the tuning knobs; zero values fall back to the
// defaults below.
type OrchestratorOptions struct {
	BatchSize     int
	ChunkSize     int
	MaxWorkers    int
	WorkerTimeout time.Duration
}

const (
	defaultBatchSize     = 2000
	defaultChunkSize     = 200
	defaultMaxWorkers    = 4
	defaultWorkerTimeout = 30 * time.Minute
)

func NewOrchestrator(st store.Store, tokens TokenProvider, openMailbox MailSourceFactory, processor *Processor, opts OrchestratorOptions, logger *slog.Logger) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = defaultWorkerTimeout
	}
	return &Orchestrator{
		store:         st,
		tokens:        tokens,
		openMailbox:   openMailbox,
		reconciler:    NewReconciler(st, logger),
		processor:     processor,
		batchSize:     opts.BatchSize,
		chunkSize:     opts.ChunkSize,
		maxWorkers:    opts.MaxWorkers,
		workerTimeout: opts.WorkerTimeout,
		logger:        logger,
	}
}

// job is one unit of worker dispatch: a folder plus the source and token it
// belongs to.
type job struct {
	source *models.Source
	token  string
	folder int64
}

// Run executes one full pass and always returns a summary when it got past
// source listing. Per-source and per-folder failures are recorded in the
// summary, not returned.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := o.logger.With(slog.String("run_id", summary.RunID))
	log.Info("ingestion run starting")

	sources, err := o.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	var jobs []job
	for _, src := range sources {
		token, err := o.tokens.EnsureValid(ctx, src)
		if err != nil {
			summary.SourcesSkipped++
			log.Error("token refresh failed, skipping source",
				slog.Int64("source_id", src.ID),
				slog.String("email", src.EmailAddress),
				slog.Any("error", err))
			continue
		}

		folderIDs, err := o.reconcileSource(ctx, src, token)
		if err != nil {
			summary.SourcesSkipped++
			log.Error("folder reconciliation failed, skipping source",
				slog.Int64("source_id", src.ID),
				slog.Any("error", err))
			continue
		}

		summary.SourcesProcessed++
		summary.FoldersReconciled += len(folderIDs)
		for _, id := range folderIDs {
			jobs = append(jobs, job{source: src, token: token, folder: id})
		}
	}

	results := o.dispatch(ctx, jobs)

	summary.WorkersSpawned = len(jobs)
	for _, res := range results {
		if res.Err == "" {
			summary.WorkersCompleted++
		}
		summary.TotalFetched += res.Fetched
		summary.TotalInvoices += res.InvoicesFound
		summary.TotalNonInvoices += res.NonInvoices
		summary.TotalErrors += res.Errors
	}
	summary.Results = results
	summary.FinishedAt = time.Now()

	log.Info("ingestion run finished",
		slog.Int("sources_processed", summary.SourcesProcessed),
		slog.Int("sources_skipped", summary.SourcesSkipped),
		slog.Int("workers_spawned", summary.WorkersSpawned),
		slog.Int("workers_completed", summary.WorkersCompleted),
		slog.Int("invoices_found", summary.TotalInvoices),
		slog.Int("errors", summary.TotalErrors),
		slog.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary, nil
}

// reconcileSource opens a short-lived connection just to list folders and
// bring the tracking records in line with the mailbox.
func (o *Orchestrator) reconcileSource(ctx context.Context, src *models.Source, token string) ([]int64, error) {
	ms, err := o.openMailbox(src, token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer ms.Close()

	return o.reconciler.Reconcile(ctx, src, ms)
}

// dispatch runs one worker per folder, at most maxWorkers at a time. Each
// worker gets its own mailbox connection and its own deadline.
func (o *Orchestrator) dispatch(ctx context.Context, jobs []job) []models.FolderResult {
	if len(jobs) == 0 {
		return nil
	}

	results := make([]models.FolderResult, len(jobs))
	sem := make(chan struct{}, o.maxWorkers)
	var wg sync.WaitGroup

	for i, jb := range jobs {
		wg.Add(1)
		go func(i int, jb job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = o.runWorker(ctx, jb, fmt.Sprintf("worker-%d", i+1))
		}(i, jb)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) runWorker(ctx context.Context, jb job, workerID string) models.FolderResult {
	ctx, cancel := context.WithTimeout(ctx, o.workerTimeout)
	defer cancel()

	ms, err := o.openMailbox(jb.source, jb.token)
	if err != nil {
		return models.FolderResult{
			SourceFolderID: jb.folder,
			Err:            fmt.Sprintf("connect: %v", err),
		}
	}
	defer ms.Close()

	w := NewWorker(o.store, o.processor, o.batchSize, o.chunkSize, o.logger)
	return w.Run(ctx, jb.source, ms, jb.folder, workerID)
}
