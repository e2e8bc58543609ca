// Package metrics exposes training progress as Prometheus metrics:
//
//   - trainer_episodes_total{mode}        episodes completed
//   - trainer_episode_end_value{mode}     portfolio value at the last episode end
//   - trainer_replay_updates_total        estimator updates
//   - trainer_replay_loss                 loss of the last update
//   - trainer_epsilon                     current exploration rate
//   - trainer_checkpoints_total{result}   checkpoint writes (saved|mirrored|mirror_failed)
//   - trainer_round                       walk-forward round in progress
//   - trainer_host_cpu_percent, trainer_host_memory_percent
//
// The trainer is a batch job, so the registry is written to a node-exporter
// textfile instead of being served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Training holds the trainer's metrics on a private registry.
type Training struct {
	registry *prometheus.Registry

	episodes    *prometheus.CounterVec
	endValue    *prometheus.GaugeVec
	replays     prometheus.Counter
	replayLoss  prometheus.Gauge
	epsilon     prometheus.Gauge
	checkpoints *prometheus.CounterVec
	round       prometheus.Gauge
	hostCPU     prometheus.Gauge
	hostMemory  prometheus.Gauge
}

// New registers the training metrics on a fresh registry.
func New() *Training {
	m := &Training{
		registry: prometheus.NewRegistry(),
		episodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainer_episodes_total",
				Help: "Episodes completed",
			},
			[]string{"mode"},
		),
		endValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trainer_episode_end_value",
				Help: "Portfolio value at the end of the last episode",
			},
			[]string{"mode"},
		),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_replay_updates_total",
			Help: "Estimator updates from replayed experience",
		}),
		replayLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_replay_loss",
			Help: "Minibatch loss of the last estimator update",
		}),
		epsilon: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_epsilon",
			Help: "Current exploration rate",
		}),
		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trainer_checkpoints_total",
				Help: "Checkpoint writes by result",
			},
			[]string{"result"},
		),
		round: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_round",
			Help: "Walk-forward round in progress (1-based)",
		}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_host_cpu_percent",
			Help: "Host CPU utilisation at the last sample",
		}),
		hostMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_host_memory_percent",
			Help: "Host memory utilisation at the last sample",
		}),
	}

	m.registry.MustRegister(
		m.episodes, m.endValue,
		m.replays, m.replayLoss, m.epsilon,
		m.checkpoints, m.round,
		m.hostCPU, m.hostMemory,
	)
	return m
}

// Registry returns the registry backing these metrics.
func (m *Training) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEpisode records a completed episode.
func (m *Training) ObserveEpisode(mode string, endValue, epsilon float64) {
	m.episodes.WithLabelValues(mode).Inc()
	m.endValue.WithLabelValues(mode).Set(endValue)
	m.epsilon.Set(epsilon)
}

// ObserveReplay records an estimator update.
func (m *Training) ObserveReplay(loss, epsilon float64) {
	m.replays.Inc()
	m.replayLoss.Set(loss)
	m.epsilon.Set(epsilon)
}

// ObserveCheckpoint counts a checkpoint event; result is saved, mirrored or mirror_failed.
func (m *Training) ObserveCheckpoint(result string) {
	m.checkpoints.WithLabelValues(result).Inc()
}

// SetRound records the walk-forward round in progress.
func (m *Training) SetRound(round int) {
	m.round.Set(float64(round))
}

// SetHostUsage records host utilisation percentages.
func (m *Training) SetHostUsage(cpuPercent, memoryPercent float64) {
	m.hostCPU.Set(cpuPercent)
	m.hostMemory.Set(memoryPercent)
}

// WriteTextfile writes the registry in the text exposition format. An empty
// path is a no-op.
func (m *Training) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
