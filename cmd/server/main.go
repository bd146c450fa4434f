package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashen-peak/logtide/internal/alerting"
	"github.com/ashen-peak/logtide/internal/analysis"
	"github.com/ashen-peak/logtide/internal/api"
	"github.com/ashen-peak/logtide/internal/broadcast"
	"github.com/ashen-peak/logtide/internal/bus"
	"github.com/ashen-peak/logtide/internal/ingest"
	"github.com/ashen-peak/logtide/internal/llm/claude"
	"github.com/ashen-peak/logtide/internal/notifier"
	"github.com/ashen-peak/logtide/internal/storage"
	"github.com/ashen-peak/logtide/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "logtide-server",
	Short: "LogTide Server - Log observability pipeline",
	Long: `LogTide Server polls configured log providers, triages and enriches
new entries, raises deduplicated alerts, and streams everything live to
project viewers.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logtide-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// credentialFromEnv resolves a connection's credential reference as an
// environment variable name.
func credentialFromEnv(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	value := os.Getenv(ref)
	if value == "" {
		return "", fmt.Errorf("credential environment variable %s is not set", ref)
	}
	return value, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	jwtSecret := os.Getenv("LOGTIDE_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("LOGTIDE_JWT_SECRET environment variable is required")
	}

	logger := log.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	// Storage and bus are paired: Postgres carries events across
	// processes via LISTEN/NOTIFY; the embedded backends use the
	// in-process bus.
	var (
		store    storage.Store
		eventBus bus.Bus
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		pgBus := bus.NewPGBus(pgStore.Pool(), logger)
		pgBus.Start(ctx)
		store, eventBus = pgStore, pgBus

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		sqliteStore := storage.NewSQLiteStore(cfg.Storage.Path)
		if err := sqliteStore.Open(); err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		store, eventBus = sqliteStore, bus.NewMemBus(0)

	case "memory":
		store, eventBus = storage.NewMemStore(), bus.NewMemBus(0)

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	defer store.Close()
	defer eventBus.Close()

	logger.Printf("storage initialized (driver=%s)", cfg.Storage.Driver)

	registry := broadcast.NewRegistry(0)
	hub := broadcast.NewHub(eventBus, registry, broadcast.HubOptions{Logger: logger})

	var summarizer analysis.Summarizer
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		summarizer = claude.New(apiKey, claude.Options{
			Model:     cfg.Analysis.Enrichment.Model,
			MaxTokens: cfg.Analysis.Enrichment.MaxSummaryLen,
			Timeout:   cfg.Analysis.Enrichment.Timeout,
		})
		logger.Printf("enrichment enabled (model=%s)", cfg.Analysis.Enrichment.Model)
	} else {
		logger.Printf("ANTHROPIC_API_KEY not set, enrichment disabled")
	}

	deep := analysis.NewDeepAnalyzer(summarizer, analysis.DeepOptions{
		Timeout:       cfg.Analysis.Enrichment.Timeout,
		RatePerMinute: cfg.Analysis.Enrichment.RatePerMinute,
		MaxSummaryLen: cfg.Analysis.Enrichment.MaxSummaryLen,
		Logger:        logger,
	})
	engine := alerting.NewEngine(store.Alerts(), alerting.Options{
		Window: cfg.Alerting.DedupWindow,
		Logger: logger,
	})

	var dispatcher *notifier.Dispatcher
	if cfg.Alerting.WebhookURL != "" {
		webhook, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{URL: cfg.Alerting.WebhookURL})
		if err != nil {
			return fmt.Errorf("configure webhook notifier: %w", err)
		}
		dispatcher = notifier.NewDispatcher(notifier.RateLimitConfig{
			MaxPerWindow: cfg.Alerting.NotifyMaxPerMin,
			Window:       time.Minute,
			Enabled:      true,
		}, logger)
		dispatcher.Register(webhook)
		defer dispatcher.Close()
		logger.Printf("alert notifications enabled (webhook)")
	}

	processor := analysis.NewProcessor(store, deep, engine, eventBus, analysis.ProcessorOptions{
		BatchSize: cfg.Analysis.BatchSize,
		Interval:  cfg.Analysis.Interval,
		Notify:    dispatcher,
		Logger:    logger,
	})
	scheduler := ingest.NewScheduler(store, eventBus, credentialFromEnv, ingest.SchedulerOptions{
		Interval:      cfg.Ingest.Interval,
		MaxAttempts:   cfg.Ingest.MaxAttempts,
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		Logger:        logger,
	})
	apiServer := api.New(&api.Config{
		Address:           cfg.Server.Address,
		JWTSecret:         []byte(jwtSecret),
		AccessTokenTTL:    cfg.Server.AccessTokenTTL,
		StreamMaxDuration: cfg.Server.StreamMaxDuration,
	}, store, registry, scheduler, processor, logger)

	logger.Printf("starting logtide-server %s", config.Version)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(hub.Run(runCtx)) })
	g.Go(func() error { return ignoreCancel(scheduler.Run(runCtx)) })
	g.Go(func() error { return ignoreCancel(processor.Run(runCtx)) })
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Printf("server stopped")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
