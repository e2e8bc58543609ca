// Package training drives walk-forward training: for every fold it builds a
// fresh environment and scaler, plays the configured number of episodes with
// the shared agent, checkpoints the estimator and writes a value report.
package training

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/qtrader/internal/metrics"
	"github.com/aristath/qtrader/internal/modules/agent"
	"github.com/aristath/qtrader/internal/modules/environment"
	"github.com/aristath/qtrader/internal/modules/marketdata"
	"github.com/aristath/qtrader/internal/modules/runs"
	"github.com/aristath/qtrader/internal/modules/scaling"
	"github.com/aristath/qtrader/internal/utils"
	"github.com/aristath/qtrader/pkg/formulas"
	"github.com/rs/zerolog"
)

// Modes
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// Config holds the driver settings.
type Config struct {
	Mode            string
	Episodes        int
	BatchSize       int
	Splits          int
	InitialInvest   float64
	CheckpointEvery int
	WeightsDir      string
	PortfolioDir    string
	MetricsTextfile string
}

// RoundResult summarises one walk-forward round.
type RoundResult struct {
	Round       int
	Timestamp   string
	Steps       int
	EndValues   []float64
	MeanValue   float64
	ReportPath  string
	Checkpoints []string
}

// Summary is the outcome of a full run.
type Summary struct {
	RunID  string
	Rounds []RoundResult
}

// Service runs training or evaluation over walk-forward folds.
type Service struct {
	cfg      Config
	learner  Learner
	recorder RunRecorder
	mirror   CheckpointMirror
	metrics  *metrics.Training
	now      func() time.Time
	log      zerolog.Logger
}

// NewService creates a training service. recorder and mirror may be nil.
func NewService(
	cfg Config,
	learner Learner,
	recorder RunRecorder,
	mirror CheckpointMirror,
	m *metrics.Training,
	log zerolog.Logger,
) (*Service, error) {
	if cfg.Mode != ModeTrain && cfg.Mode != ModeTest {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Episodes < 1 || cfg.BatchSize < 1 || cfg.CheckpointEvery < 1 {
		return nil, fmt.Errorf("episodes, batch size and checkpoint interval must be positive")
	}
	if learner == nil {
		return nil, fmt.Errorf("learner is required")
	}
	if m == nil {
		m = metrics.New()
	}

	return &Service{
		cfg:      cfg,
		learner:  learner,
		recorder: recorder,
		mirror:   mirror,
		metrics:  m,
		now:      time.Now,
		log:      log.With().Str("service", "training").Logger(),
	}, nil
}

// Run executes every walk-forward round over prices. It stops between
// episodes when ctx is cancelled and returns the context error.
func (s *Service) Run(ctx context.Context, prices environment.PriceMatrix) (summary *Summary, err error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}

	folds, err := marketdata.WalkForwardSplits(prices.Steps(), s.cfg.Splits)
	if err != nil {
		return nil, fmt.Errorf("failed to split price history: %w", err)
	}

	summary = &Summary{}
	if s.recorder != nil {
		id, startErr := s.recorder.StartRun(ctx, runs.Run{
			Mode:          s.cfg.Mode,
			Instruments:   prices.Instruments(),
			Steps:         prices.Steps(),
			Splits:        s.cfg.Splits,
			Episodes:      s.cfg.Episodes,
			InitialInvest: s.cfg.InitialInvest,
		})
		if startErr != nil {
			return nil, fmt.Errorf("failed to record run start: %w", startErr)
		}
		summary.RunID = id

		defer func() {
			// The run is over either way; record it even if ctx is done
			if finishErr := s.recorder.FinishRun(context.WithoutCancel(ctx), id, err); finishErr != nil {
				s.log.Error().Err(finishErr).Str("run_id", id).Msg("Failed to record run end")
			}
		}()
	}

	if s.cfg.Mode == ModeTest {
		s.learner.SetEpsilon(s.learner.EpsilonMin())
	}

	s.log.Info().
		Str("run_id", summary.RunID).
		Str("mode", s.cfg.Mode).
		Int("rounds", len(folds)).
		Int("episodes", s.cfg.Episodes).
		Msg("Starting walk-forward run")

	for _, fold := range folds {
		window := fold.Train(prices)
		if s.cfg.Mode == ModeTest {
			window = fold.Test(prices)
		}

		result, err := s.runRound(ctx, summary.RunID, fold.Round, window)
		if err != nil {
			return summary, fmt.Errorf("round %d: %w", fold.Round, err)
		}
		summary.Rounds = append(summary.Rounds, *result)
	}

	if err := s.metrics.WriteTextfile(s.cfg.MetricsTextfile); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write metrics")
	}

	return summary, nil
}

func (s *Service) runRound(ctx context.Context, runID string, round int, window environment.PriceMatrix) (*RoundResult, error) {
	env, err := environment.NewTradingEnvironment(window, s.cfg.InitialInvest)
	if err != nil {
		return nil, fmt.Errorf("failed to build environment: %w", err)
	}
	scaler, err := scaling.ForEnvironment(env)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}

	result := &RoundResult{
		Round:     round,
		Timestamp: fmt.Sprintf("round-%d-%s", round, s.now().Format("200601021504")),
		Steps:     env.Steps(),
	}

	s.metrics.SetRound(round)
	s.logHost(ctx, round)
	s.log.Info().
		Int("round", round).
		Int("steps", env.Steps()).
		Float64("epsilon", s.learner.Epsilon()).
		Msg("Round started")

	episodeTimes := utils.DurationStats{OperationName: "episode"}
	for e := 1; e <= s.cfg.Episodes; e++ {
		if err := ctx.Err(); err != nil {
			s.log.Warn().Int("round", round).Int("episode", e).Msg("Run cancelled")
			return nil, err
		}

		timer := utils.NewTimer("episode", time.Minute, s.log)
		endValue, err := s.runEpisode(env, scaler)
		if err != nil {
			return nil, fmt.Errorf("episode %d: %w", e, err)
		}
		episodeTimes.Add(timer.Stop())

		result.EndValues = append(result.EndValues, endValue)
		s.metrics.ObserveEpisode(s.cfg.Mode, endValue, s.learner.Epsilon())
		s.log.Info().
			Int("round", round).
			Float64("epsilon", s.learner.Epsilon()).
			Msgf("episode: %d/%d, episode end value: %.2f", e, s.cfg.Episodes, endValue)

		if s.recorder != nil {
			if err := s.recorder.RecordEpisode(ctx, runID, runs.EpisodeValue{
				Round:    round,
				Episode:  e,
				EndValue: endValue,
				Epsilon:  s.learner.Epsilon(),
			}); err != nil {
				return nil, err
			}
		}

		if s.cfg.Mode == ModeTrain && e%s.cfg.CheckpointEvery == 0 {
			path, err := s.checkpoint(ctx, runID, round, e, result.Timestamp)
			if err != nil {
				return nil, err
			}
			result.Checkpoints = append(result.Checkpoints, path)
		}
	}

	reportPath, err := s.writeReport(result.Timestamp, result.EndValues)
	if err != nil {
		return nil, err
	}
	result.ReportPath = reportPath
	result.MeanValue = formulas.Mean(result.EndValues)

	episodeTimes.LogSummary(s.log)
	s.log.Info().
		Int("round", round).
		Float64("mean_end_value", result.MeanValue).
		Float64("min_end_value", formulas.Min(result.EndValues)).
		Float64("max_end_value", formulas.Max(result.EndValues)).
		Float64("initial_invest", s.cfg.InitialInvest).
		Str("report", reportPath).
		Msg("Round finished")

	if err := s.metrics.WriteTextfile(s.cfg.MetricsTextfile); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write metrics")
	}

	return result, nil
}

// runEpisode plays one episode from reset to the final step and returns the
// end portfolio value. In train mode every transition is remembered and the
// learner replays once memory holds more than a batch, except on the final
// step.
func (s *Service) runEpisode(env *environment.TradingEnvironment, scaler *scaling.Scaler) (float64, error) {
	train := s.cfg.Mode == ModeTrain

	state, err := scaler.Transform(env.Reset())
	if err != nil {
		return 0, err
	}

	for {
		action := s.learner.Act(state)
		res, err := env.Step(action)
		if err != nil {
			return 0, err
		}
		next, err := scaler.Transform(res.Observation)
		if err != nil {
			return 0, err
		}

		if train {
			s.learner.Remember(agent.Transition{
				Observation:     state,
				Action:          action,
				Reward:          res.Reward,
				NextObservation: next,
				Done:            res.Done,
			})
		}
		state = next

		if res.Done {
			return res.Info.CurrentValue, nil
		}

		if train && s.learner.MemoryLen() > s.cfg.BatchSize {
			loss, err := s.learner.Replay(s.cfg.BatchSize)
			if err != nil {
				return 0, err
			}
			s.metrics.ObserveReplay(loss, s.learner.Epsilon())
		}
	}
}

// checkpoint saves the estimator, mirrors it when configured and records it.
// Save failures abort the run; mirror failures are logged.
func (s *Service) checkpoint(ctx context.Context, runID string, round, episode int, timestamp string) (string, error) {
	path := filepath.Join(s.cfg.WeightsDir, fmt.Sprintf("%s-%d-dqn.msgpack", timestamp, episode))
	if err := s.learner.Save(path); err != nil {
		return "", err
	}
	s.metrics.ObserveCheckpoint("saved")

	var remoteKey string
	if s.mirror != nil && s.mirror.Enabled() {
		key, err := s.mirror.Upload(ctx, path)
		if err != nil {
			s.metrics.ObserveCheckpoint("mirror_failed")
			s.log.Error().Err(err).Str("path", path).Msg("Failed to mirror checkpoint")
		} else {
			s.metrics.ObserveCheckpoint("mirrored")
			remoteKey = key
		}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordCheckpoint(ctx, runID, runs.Checkpoint{
			Round:     round,
			Episode:   episode,
			Path:      path,
			RemoteKey: remoteKey,
			SavedAt:   s.now().UTC(),
		}); err != nil {
			return "", err
		}
	}

	return path, nil
}

// writeReport writes one end value per line under a portfolio_value header.
func (s *Service) writeReport(timestamp string, values []float64) (string, error) {
	if err := os.MkdirAll(s.cfg.PortfolioDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(s.cfg.PortfolioDir, fmt.Sprintf("%s-%s.csv", timestamp, s.cfg.Mode))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"portfolio_value"})
	for _, v := range values {
		_ = w.Write([]string{strconv.FormatFloat(v, 'f', -1, 64)})
	}
	w.Flush()

	if err := errors.Join(w.Error(), f.Close()); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return path, nil
}

func (s *Service) logHost(ctx context.Context, round int) {
	stats, err := utils.SampleHost(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("Host stats unavailable")
		return
	}
	s.metrics.SetHostUsage(stats.CPUPercent, stats.MemoryPercent)
	stats.Log(s.log.With().Int("round", round).Logger(), "Host resources")
}
