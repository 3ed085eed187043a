// Package app wires the service together: database, OAuth2 token managers,
// mailbox connections, the inference client, artifact storage and the
// ingestion orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/recibo/invoicer/internal/artifact"
	"github.com/recibo/invoicer/internal/config"
	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/ingest"
	"github.com/recibo/invoicer/internal/metrics"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/oauth2"
	"github.com/recibo/invoicer/internal/semantic"
	"github.com/recibo/invoicer/internal/store"
)

// App holds the long-lived pieces of the service.
type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Postgres
	orchestrator *ingest.Orchestrator
	metrics      *metrics.Writer
}

// New builds the full service from configuration. Migrations run here when
// enabled so the schema is in place before the first run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.Migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	tokens, err := newTokenProvider(cfg.OAuth, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	artifacts, err := newArtifactStore(ctx, cfg.Artifacts, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := semantic.NewClient(cfg.Inference, logger)
	processor := ingest.NewProcessor(st, artifacts, engine, logger)

	factory := newMailSourceFactory(cfg.IMAP, logger)

	orch := ingest.NewOrchestrator(st, tokens, factory, processor, ingest.OrchestratorOptions{
		BatchSize:     cfg.Ingestion.BatchSize,
		ChunkSize:     cfg.Ingestion.ChunkSize,
		MaxWorkers:    cfg.Ingestion.MaxWorkers,
		WorkerTimeout: time.Duration(cfg.Ingestion.WorkerTimeout) * time.Minute,
	}, logger)

	app := &App{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		orchestrator: orch,
	}

	if cfg.Metrics.Enabled {
		writer, err := metrics.NewWriter(cfg.Metrics.Dir, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		app.metrics = writer
	}

	return app, nil
}

// RunOnce executes a single ingestion pass and records the summary.
func (a *App) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	summary, err := a.orchestrator.Run(ctx)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		if werr := a.metrics.WriteSummary(summary); werr != nil {
			a.logger.Error("failed to write run summary", "error", werr)
		}
	}
	return summary, nil
}

// Close releases the database connections.
func (a *App) Close() error {
	return a.store.Close()
}

// newTokenProvider builds one OAuth2 manager per configured provider and
// routes sources to them by source type.
func newTokenProvider(cfg config.OAuthConfig, logger *slog.Logger) (*tokenProvider, error) {
	managers := make(map[string]*oauth2.Manager)

	if cfg.Google.ClientID != "" {
		m, err := oauth2.NewManager("google", cfg.Google.ClientID, cfg.Google.ClientSecret, logger)
		if err != nil {
			return nil, err
		}
		managers["gmail"] = m
		managers["google"] = m
	}
	if cfg.Microsoft.ClientID != "" {
		m, err := oauth2.NewManager("microsoft", cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, logger)
		if err != nil {
			return nil, err
		}
		managers["outlook"] = m
		managers["microsoft"] = m
	}

	return &tokenProvider{managers: managers}, nil
}

type tokenProvider struct {
	managers map[string]*oauth2.Manager
}

func (t *tokenProvider) EnsureValid(ctx context.Context, src *models.Source) (string, error) {
	m, ok := t.managers[strings.ToLower(src.SourceType)]
	if !ok {
		return "", fmt.Errorf("no OAuth2 client configured for source type %q", src.SourceType)
	}
	return m.EnsureValid(ctx, src.AccessToken, src.RefreshToken, src.AccessTokenExpiresAt)
}

func newMailSourceFactory(providers config.IMAPProviders, logger *slog.Logger) ingest.MailSourceFactory {
	return func(src *models.Source, accessToken string) (email.Source, error) {
		imapCfg, ok := providers[strings.ToLower(src.SourceType)]
		if !ok {
			return nil, fmt.Errorf("no IMAP settings for source type %q", src.SourceType)
		}
		return email.NewIMAPSource(imapCfg, src.EmailAddress, accessToken, logger), nil
	}
}

func newArtifactStore(ctx context.Context, cfg config.ArtifactsConfig, logger *slog.Logger) (artifact.Store, error) {
	switch cfg.Backend {
	case "s3":
		return artifact.NewS3Store(ctx, cfg.S3, logger)
	case "gdrive":
		return artifact.NewGDriveStore(ctx, cfg.GDrive, logger)
	case "file":
		return artifact.NewFileStore(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
