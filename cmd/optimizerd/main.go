package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/loopworks/flywheel/internal/config"
	"github.com/loopworks/flywheel/internal/economy"
	"github.com/loopworks/flywheel/internal/experiment"
	"github.com/loopworks/flywheel/internal/optimizer"
	"github.com/loopworks/flywheel/internal/privacy"
	"github.com/loopworks/flywheel/internal/virality"
	"github.com/loopworks/flywheel/pkg/journal"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("optimizerd failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load environment variables
	instanceName := os.Getenv("FLYWHEEL_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")
	if instanceName == "" || redisURL == "" {
		return fmt.Errorf("FLYWHEEL_INSTANCE_NAME and REDIS_URL must be set")
	}

	configPath := os.Getenv("FLYWHEEL_CONFIG")
	if configPath == "" {
		configPath = "flywheel.yml"
	}

	// 2. Load and validate configuration; insane targets fail here, never
	// at runtime.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	safetyInterval, err := cfg.SafetyInterval()
	if err != nil {
		return err
	}
	adjustmentInterval, err := cfg.AdjustmentInterval()
	if err != nil {
		return err
	}

	// 3. Create journal client and verify Redis connectivity
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	journalClient, err := journal.NewClient(redisOpts, instanceName)
	if err != nil {
		return fmt.Errorf("failed to create journal client: %w", err)
	}
	defer journalClient.Close()

	ctx := context.Background()
	if err := journalClient.Ping(ctx); err != nil {
		return fmt.Errorf("redis not accessible: %w", err)
	}

	// 4. Build the privacy engine and metrics calculator
	ledger, err := privacy.NewBudgetLedger(cfg.Privacy.EpsilonBudget)
	if err != nil {
		return err
	}
	engine, err := privacy.NewEngine(ledger, privacy.WithNoiseMultiplier(cfg.Privacy.NoiseMultiplier))
	if err != nil {
		return err
	}
	calculator, err := virality.NewCalculator(engine)
	if err != nil {
		return err
	}

	// 5. Build the economy tracker and controller from configured targets
	targets := make(map[string]economy.IndicatorTarget, len(cfg.Economy.Indicators))
	for name, ind := range cfg.Economy.Indicators {
		targets[name] = economy.IndicatorTarget{Target: ind.Target, Tolerance: ind.Tolerance}
	}
	tracker, err := economy.NewTracker(targets)
	if err != nil {
		return err
	}
	controller, err := economy.NewController(tracker)
	if err != nil {
		return err
	}

	// 6. Resume persisted multipliers, if any
	faucet, sink, err := journalClient.GetMultipliers(ctx)
	switch {
	case journal.IsNotFound(err):
		// fresh instance, both start at 1.0
	case err != nil:
		return err
	default:
		controller.SetMultipliers(economy.Multipliers{Faucet: faucet, Sink: sink})
		logger.Info("resumed stability multipliers", "faucet", faucet, "sink", sink)
	}

	// 7. Create the optimizer
	opt, err := optimizer.New(optimizer.Options{
		Logger:            logger,
		Journal:           journalClient,
		Calculator:        calculator,
		Ledger:            ledger,
		Tracker:           tracker,
		Controller:        controller,
		MinSafetyInterval: safetyInterval,
		DefaultThresholds: experiment.SafetyThresholds{
			TrustScoreFloor:      cfg.Experiments.TrustScoreFloor,
			EducationShareTarget: cfg.Experiments.EducationShareTarget,
			MaxRolloutPercent:    cfg.Experiments.MaxRolloutPercent,
		},
	})
	if err != nil {
		return err
	}

	logger.Info("optimizerd starting",
		"instance", instanceName,
		"epsilon_budget", cfg.Privacy.EpsilonBudget,
		"safety_interval", safetyInterval,
		"adjustment_interval", adjustmentInterval)

	// 8. Run with graceful shutdown on SIGINT/SIGTERM
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- opt.Run(runCtx, optimizer.RunOptions{
			SafetyInterval:     safetyInterval,
			AdjustmentInterval: adjustmentInterval,
			HealthAddr:         cfg.Health.Addr,
		})
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
