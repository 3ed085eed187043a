package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/recibo/invoicer/internal/app"
	"github.com/recibo/invoicer/internal/config"
	"github.com/recibo/invoicer/internal/logger"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "invoicer",
	Short: "Incremental invoice ingestion from email accounts",
	Long: `A service that incrementally fetches email from configured mailbox accounts,
classifies messages, extracts invoice data and stores invoices with their
attachments. Fetch progress is tracked per folder so runs resume where the
previous one stopped.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single ingestion pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, err := setup()
		if err != nil {
			return err
		}

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.RunOnce(ctx)
		if err != nil {
			return err
		}

		log.Info("run complete",
			slog.String("run_id", summary.RunID),
			slog.Int("sources_processed", summary.SourcesProcessed),
			slog.Int("invoices_found", summary.TotalInvoices),
			slog.Int("errors", summary.TotalErrors))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion passes on a schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if !cfg.Scheduling.Enabled {
			return fmt.Errorf("scheduling.enabled must be true for serve")
		}

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		sched := app.NewScheduler(a, log)
		if err := sched.Start(ctx, cfg.Scheduling); err != nil {
			return err
		}
		defer sched.Stop()

		watcher, err := config.StartWatcher(cfgFile, log)
		if err != nil {
			log.Warn("config watcher unavailable, changes require a restart", "error", err)
		} else {
			defer watcher.Stop()
			go watchSchedule(ctx, watcher, sched, log)
		}

		<-ctx.Done()
		log.Info("shutting down")
		return nil
	},
}

// watchSchedule restarts the schedule when the config file changes. Only the
// scheduling knobs take effect without a restart; everything else is wired
// at startup.
func watchSchedule(ctx context.Context, watcher *config.Watcher, sched *app.Scheduler, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-watcher.ReloadChan():
			if !ok {
				return
			}
			log.Info("configuration reloaded, rescheduling")
			sched.Stop()
			if err := sched.Start(ctx, cfg.Scheduling); err != nil {
				log.Error("failed to reschedule, scheduler stopped", "error", err)
				return
			}
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (text, json, pretty)")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.SetEnvPrefix("INVOICER")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, serveCmd)
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	// Flags and INVOICER_* env vars win over the file.
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = v
	}

	log := logger.Setup(logger.Options{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		IncludeCaller: cfg.Logging.IncludeCaller,
	})
	slog.SetDefault(log)
	return cfg, log, nil
}
