package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/internal/httpapi"
	"github.com/MarkoPoloResearchLab/reviv/internal/imaging"
	"github.com/MarkoPoloResearchLab/reviv/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const callbackPath = "/api/webhooks/enhancer"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "revivd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	serve := func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
	preRun := func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd, cfg)
	}

	root := &cobra.Command{
		Use:           "revivd",
		Short:         "Photo restoration service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       preRun,
		RunE:          serve,
	}
	registerFlags(root)

	root.AddCommand(
		&cobra.Command{
			Use:     "serve",
			Short:   "Run the HTTP API, background workers and scheduled sweeps",
			PreRunE: preRun,
			RunE:    serve,
		},
		&cobra.Command{
			Use:     "sweep",
			Short:   "Purge expired and stale failed jobs once and exit",
			PreRunE: preRun,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:     "seed-packs",
			Short:   "Insert the default credit packs when missing",
			PreRunE: preRun,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSeedPacks(cmd.Context(), cfg)
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg *runtimeConfig) error {
	if err := cfg.validateServe(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := enhancer.NewClient(enhancer.Config{
		BaseURL:     cfg.EnhancerBaseURL,
		APIKey:      cfg.EnhancerAPIKey,
		Model:       cfg.EnhancerModel,
		CallbackURL: callbackURL(cfg),
	}, nil, logger.Named("enhancer"))
	if err != nil {
		return err
	}
	poller := enhancer.NewPoller(client,
		enhancer.WithPollCeiling(cfg.PollCeiling),
		enhancer.WithPollLogger(logger.Named("poller")),
	)
	dispatcher := orchestrator.NewDispatcher(cfg.Workers, cfg.QueueSize, logger.Named("dispatcher"))
	finalizer, err := orchestrator.NewFinalizer(app.jobs, client, poller, orchestrator.NewHTTPFetcher(nil),
		imaging.NewProcessor(), app.blobs, logger.Named("finalizer"))
	if err != nil {
		return err
	}
	restorations, err := orchestrator.New(app.jobs, client, finalizer, dispatcher, orchestrator.Config{
		PublicBaseURL: cfg.HTTP.PublicAPIURL,
	}, logger.Named("orchestrator"))
	if err != nil {
		return err
	}

	scheduler := cron.New(cron.WithLogger(cronLogger{logger: logger.Named("cron").Sugar()}))
	if err := app.sweeper.Schedule(ctx, scheduler, cfg.ExpiredSchedule, cfg.FailedSchedule); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	deps := httpapi.Dependencies{
		Jobs:         app.jobs,
		Ledger:       app.ledger,
		Orchestrator: restorations,
		Blobs:        app.blobs,
		Purger:       app.sweeper,
		Health:       app.healthChecks(),
		Logger:       logger.Named("http"),
	}
	if app.media != nil {
		deps.LocalMedia = app.media
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.HTTP, deps)
	})
	return group.Wait()
}

func runSweep(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.sweeper.SweepExpired(ctx); err != nil {
		return err
	}
	_, err = app.sweeper.SweepFailed(ctx)
	return err
}

func runSeedPacks(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	created, err := app.ledger.SeedCreditPacks(ctx, ledger.DefaultCreditPacks())
	if err != nil {
		return err
	}
	logger.Info("credit packs seeded", zap.Int("created", created))
	return nil
}

// callbackURL is empty when the provider should be polled instead.
func callbackURL(cfg *runtimeConfig) string {
	if !cfg.EnhancerCallback {
		return ""
	}
	target := strings.TrimRight(cfg.HTTP.PublicAPIURL, "/") + callbackPath
	if cfg.HTTP.CallbackToken == "" {
		return target
	}
	values := url.Values{}
	values.Set("token", cfg.HTTP.CallbackToken)
	return target + "?" + values.Encode()
}

// cronLogger routes cron's scheduler events to zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (adapter cronLogger) Info(msg string, keysAndValues ...interface{}) {
	adapter.logger.Debugw(msg, keysAndValues...)
}

func (adapter cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	adapter.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
