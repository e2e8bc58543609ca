// Package main is the entry point for the walk-forward trading agent trainer.
//
// It loads one closing-price CSV per instrument, splits the history into
// expanding-window folds and trains (or evaluates) a single agent across them.
// Configuration comes from environment variables and an optional .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/qtrader/internal/config"
	"github.com/aristath/qtrader/internal/metrics"
	"github.com/aristath/qtrader/internal/modules/agent"
	"github.com/aristath/qtrader/internal/modules/environment"
	"github.com/aristath/qtrader/internal/modules/marketdata"
	"github.com/aristath/qtrader/internal/modules/runs"
	"github.com/aristath/qtrader/internal/modules/training"
	"github.com/aristath/qtrader/internal/reliability"
	"github.com/aristath/qtrader/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("Training interrupted")
			stop()
			os.Exit(130)
		}
		stop()
		log.Fatal().Err(err).Msg("Training failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("mode", cfg.Mode).
		Strs("price_files", cfg.PriceFiles).
		Msg("Starting trainer")

	prices, err := marketdata.NewLoader(marketdata.LoaderConfig{
		Dir:    cfg.DataDir,
		Files:  cfg.PriceFiles,
		Column: cfg.PriceColumn,
		Round:  cfg.RoundPrices,
	}, log).Load()
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}

	n := prices.Instruments()
	agentCfg := agent.DefaultConfig(3*n+1, environment.ActionSpaceSize(n))
	agentCfg.MemoryCapacity = cfg.MemoryCapacity
	agentCfg.HiddenLayers = cfg.HiddenLayers
	agentCfg.HiddenUnits = cfg.HiddenUnits
	agentCfg.LearningRate = cfg.LearningRate
	agentCfg.Seed = cfg.Seed

	trader, err := agent.New(agentCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	mirror, err := reliability.NewCheckpointMirror(ctx, reliability.MirrorConfig{
		Bucket:    cfg.Mirror.Bucket,
		Endpoint:  cfg.Mirror.Endpoint,
		Region:    cfg.Mirror.Region,
		AccessKey: cfg.Mirror.AccessKey,
		SecretKey: cfg.Mirror.SecretKey,
		Prefix:    cfg.Mirror.Prefix,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint mirror: %w", err)
	}

	ledger, err := runs.OpenLedger(ctx, cfg.RunsDBPath, log)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if cfg.ResumeCheckpoint != "" {
		checkpoint, err := ledger.ResolveResume(ctx, cfg.ResumeCheckpoint)
		if err != nil {
			return fmt.Errorf("failed to resolve resume checkpoint %q: %w", cfg.ResumeCheckpoint, err)
		}
		if err := resume(ctx, trader, mirror, checkpoint, log); err != nil {
			return err
		}
	}

	svc, err := training.NewService(training.Config{
		Mode:            cfg.Mode,
		Episodes:        cfg.Episodes,
		BatchSize:       cfg.BatchSize,
		Splits:          cfg.Splits,
		InitialInvest:   cfg.InitialInvest,
		CheckpointEvery: cfg.CheckpointEvery,
		WeightsDir:      cfg.WeightsDir,
		PortfolioDir:    cfg.PortfolioDir,
		MetricsTextfile: cfg.MetricsTextfile,
	}, trader, ledger, mirror, metrics.New(), log)
	if err != nil {
		return fmt.Errorf("failed to create training service: %w", err)
	}

	summary, err := svc.Run(ctx, prices)
	if err != nil {
		return err
	}

	for _, r := range summary.Rounds {
		log.Info().
			Int("round", r.Round).
			Float64("mean_end_value", r.MeanValue).
			Str("report", r.ReportPath).
			Msg("Round summary")
	}

	report, err := ledger.Report(ctx, summary.RunID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read run back from ledger")
	} else {
		event := log.Info().
			Str("run_id", summary.RunID).
			Int("episodes", report.Episodes).
			Int("checkpoints", report.Checkpoints).
			Float64("best_end_value", report.BestEndValue)
		if report.LastCheckpoint != nil {
			event = event.Str("last_checkpoint", report.LastCheckpoint.Path)
		}
		event.Msg("Training complete")
	}

	return nil
}

// resume loads starting weights, fetching them from the mirror when the file
// is not on disk.
func resume(ctx context.Context, trader *agent.Agent, mirror *reliability.CheckpointMirror, checkpoint *runs.Checkpoint, log zerolog.Logger) error {
	path := checkpoint.Path
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && mirror.Enabled() {
		key := checkpoint.RemoteKey
		if key == "" {
			key = mirror.RemoteKey(path)
		}
		log.Info().Str("key", key).Msg("Checkpoint not found locally, downloading")
		if err := mirror.Download(ctx, key, path); err != nil {
			return fmt.Errorf("failed to fetch resume checkpoint: %w", err)
		}
	}

	if err := trader.Load(path); err != nil {
		return fmt.Errorf("failed to load resume checkpoint: %w", err)
	}
	log.Info().Str("path", path).Msg("Resumed from checkpoint")
	return nil
}
