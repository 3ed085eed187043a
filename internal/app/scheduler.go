package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/recibo/invoicer/internal/config"
)

// Scheduler runs ingestion passes on a fixed cadence. One run executes at a
// time; gocron skips a tick when the previous run is still going, so two
// passes never race over the same watermarks.
type Scheduler struct {
	scheduler *gocron.Scheduler
	app       *App
	logger    *slog.Logger
}

func NewScheduler(app *App, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		app:       app,
		logger:    logger,
	}
}

// Start schedules the recurring run and begins executing. Calling Start
// again (after a config reload) replaces the previous schedule.
func (s *Scheduler) Start(ctx context.Context, cfg config.SchedulingConfig) error {
	s.scheduler.Clear()
	job := s.scheduler.Every(int(cfg.FrequencyAmount))

	switch cfg.FrequencyEvery {
	case "minute":
		job = job.Minutes()
	case "hour":
		job = job.Hours()
	case "day":
		job = job.Days()
	default:
		return fmt.Errorf("unsupported schedule frequency %q", cfg.FrequencyEvery)
	}

	if cfg.StartNow {
		job = job.StartImmediately()
	} else {
		job = job.WaitForSchedule()
	}

	if _, err := job.Do(func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule ingestion job: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started",
		"every", cfg.FrequencyEvery,
		"amount", cfg.FrequencyAmount,
		"start_now", cfg.StartNow)
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	summary, err := s.app.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled ingestion run failed", "error", err)
		return
	}
	s.logger.Info("scheduled ingestion run complete",
		"run_id", summary.RunID,
		"invoices_found", summary.TotalInvoices,
		"errors", summary.TotalErrors)
}

// Stop blocks until a running job finishes, then stops the scheduler.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
