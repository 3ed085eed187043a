package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recibo/invoicer/internal/artifact"
	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/email/parser"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/semantic"
	"github.com/recibo/invoicer/internal/store"
)

// Processor turns one chunk of fetched messages into committed invoices.
// A chunk is the transaction boundary: its invoice inserts and watermark
// update land atomically or not at all.
type Processor struct {
	store     store.Store
	artifacts artifact.Store
	engine    semantic.Engine
	logger    *slog.Logger
}

// NewProcessor wires a chunk processor.
func NewProcessor(st store.Store, artifacts artifact.Store, engine semantic.Engine, logger *slog.Logger) *Processor {
	return &Processor{store: st, artifacts: artifacts, engine: engine, logger: logger}
}

// ProcessChunk runs every message in the chunk through parse, classify,
// extract and attachment upload, then commits the results together with the
// expanded watermarks in a single transaction.
//
// Message-level failures (parse, classify, extract) are recorded in the
// metrics and the message is skipped; it still advances the watermark because
// it was genuinely seen. Artifact-store failures are different: a committed
// invoice referencing a half-uploaded artifact set would be unrecoverable, so
// they abort the whole chunk. On any returned error nothing from this chunk
// is visible and the folder keeps its pre-chunk watermarks.
func (p *Processor) ProcessChunk(ctx context.Context, source *models.Source, folder *models.SourceFolder, msgs []email.Message, workerID string, chunkNum int) (*models.ChunkMetrics, error) {
	start := time.Now()

	metrics := &models.ChunkMetrics{
		WorkerID:       workerID,
		SourceFolderID: folder.ID,
		ChunkNum:       chunkNum,
		Fetched:        len(msgs),
	}

	var toInsert []*models.Invoice

	for _, msg := range msgs {
		errsBefore := len(metrics.Errors)
		invoice, err := p.processMessage(ctx, source, folder, msg, metrics)
		if err != nil {
			// Upload failures propagate; everything else was already
			// absorbed into metrics by processMessage.
			return nil, err
		}
		if invoice != nil {
			toInsert = append(toInsert, invoice)
			metrics.InvoicesFound++
		}
		// Messages that landed in Errors still advance the watermark but
		// do not count as processed.
		if len(metrics.Errors) == errsBefore {
			metrics.Processed++
		}
	}

	attempted := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		attempted = append(attempted, msg.UID)
	}

	commitStart := time.Now()
	if err := p.store.CommitChunk(ctx, folder.ID, toInsert, attempted); err != nil {
		return nil, fmt.Errorf("chunk %d commit failed: %w", chunkNum, err)
	}
	metrics.CommitTime = time.Since(commitStart)
	metrics.Duration = time.Since(start)

	p.logger.Info("chunk committed",
		"source_folder_id", folder.ID,
		"chunk", chunkNum,
		"invoices", metrics.InvoicesFound,
		"non_invoices", metrics.NonInvoices,
		"errors", len(metrics.Errors),
	)
	return metrics, nil
}

// processMessage handles one message. The returned invoice is nil when the
// message produced nothing to insert (non-invoice, or a recorded message
// error). A non-nil error means the chunk must abort.
func (p *Processor) processMessage(ctx context.Context, source *models.Source, folder *models.SourceFolder, msg email.Message, metrics *models.ChunkMetrics) (*models.Invoice, error) {
	recordErr := func(stage string, err error) {
		p.logger.Warn("message skipped",
			"source_folder_id", folder.ID,
			"uid", msg.UID,
			"stage", stage,
			"error", err,
		)
		metrics.Errors = append(metrics.Errors, models.MessageError{
			UID:   msg.UID,
			Error: fmt.Sprintf("%s: %v", stage, err),
		})
	}

	parsed, err := parser.Parse(msg.Raw, p.logger)
	if err != nil {
		recordErr("parse", err)
		return nil, nil
	}

	classifyStart := time.Now()
	classification, err := p.engine.Classify(ctx, parsed)
	metrics.ClassifyTime += time.Since(classifyStart)
	if err != nil {
		recordErr("classify", err)
		return nil, nil
	}
	if !classification.IsInvoice {
		metrics.NonInvoices++
		return nil, nil
	}

	extractStart := time.Now()
	fields, err := p.engine.Extract(ctx, parsed)
	metrics.ExtractTime += time.Since(extractStart)
	if err != nil {
		recordErr("extract", err)
		return nil, nil
	}
	if fields == nil {
		recordErr("extract", fmt.Errorf("extraction returned no invoice"))
		return nil, nil
	}

	invoice := buildInvoice(source, msg.UID, parsed, fields)

	uploadStart := time.Now()
	attached, err := p.uploadAttachments(ctx, source, folder, msg.UID, parsed.Attachments)
	metrics.UploadTime += time.Since(uploadStart)
	if err != nil {
		return nil, fmt.Errorf("attachment upload failed for uid %d: %w", msg.UID, err)
	}
	invoice.AttachedFiles = attached

	return invoice, nil
}

// uploadAttachments stores each attachment under its deterministic key,
// skipping the upload when an identical key already exists. Reruns over the
// same messages therefore never re-upload.
func (p *Processor) uploadAttachments(ctx context.Context, source *models.Source, folder *models.SourceFolder, uid int64, attachments []models.Attachment) ([]models.AttachedFile, error) {
	var attached []models.AttachedFile
	for _, a := range attachments {
		key := artifact.Key(source.UserID, source.ID, folder.FolderName, folder.UIDValidity, uid, a.Filename)

		exists, err := p.artifacts.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := p.artifacts.Put(ctx, key, a.Data, a.ContentType); err != nil {
				return nil, err
			}
		}
		attached = append(attached, models.AttachedFile{FileName: a.Filename, FileKey: key})
	}
	return attached, nil
}

func buildInvoice(source *models.Source, uid int64, parsed *models.ParsedEmail, fields *semantic.InvoiceFields) *models.Invoice {
	inv := &models.Invoice{
		UserID:        source.UserID,
		SourceID:      source.ID,
		UID:           uid,
		MessageID:     parsed.MessageID,
		InvoiceNumber: fields.InvoiceNumber,
		VendorName:    fields.VendorName,
		TotalAmount:   fields.TotalAmount,
		Currency:      fields.Currency,
		PaymentStatus: fields.PaymentStatus,
		LineItems:     fields.LineItems,
	}
	if fields.DueDate != "" {
		if t, err := time.Parse("2006-01-02", fields.DueDate); err == nil {
			inv.DueDate = &t
		}
	}
	return inv
}
