package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venus_restart",
			Name:      "runs_total",
			Help:      "Number of restart runs by final outcome.",
		}, []string{"service", "outcome"},
	)
	forceKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venus_restart",
			Name:      "force_kills_total",
			Help:      "Number of SIGKILL escalations after a graceful stop timed out.",
		}, []string{"service"},
	)
	fatal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venus_restart",
			Name:      "fatal_total",
			Help:      "Number of runs aborted because the process survived SIGKILL.",
		}, []string{"service"},
	)
	rotatorMissing = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "venus_restart",
			Name:      "rotator_missing_total",
			Help:      "Number of runs that found no log rotator to signal.",
		}, []string{"service"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "venus_restart",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of restart runs.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13},
		}, []string{"service"},
	)
	matched = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "venus_restart",
			Name:      "matched_processes",
			Help:      "Service processes counted at the end of the last run.",
		}, []string{"service"},
	)
)

// Register registers all metrics with the provided registerer.
// Registering the same collectors twice with one registerer is a no-op.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{runs, forceKills, fatal, rotatorMissing, runDuration, matched}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes everything g gathers to path in the node-exporter
// textfile format. The write is atomic.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by the CLI to record a run.
// They no-op if Register hasn't been called.

func ObserveRun(service, outcome string, seconds float64) {
	if regOK.Load() {
		runs.WithLabelValues(service, outcome).Inc()
		runDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncForceKill(service string) {
	if regOK.Load() {
		forceKills.WithLabelValues(service).Inc()
	}
}

func IncFatal(service string) {
	if regOK.Load() {
		fatal.WithLabelValues(service).Inc()
	}
}

func IncRotatorMissing(service string) {
	if regOK.Load() {
		rotatorMissing.WithLabelValues(service).Inc()
	}
}

func SetMatchedProcesses(service string, n int) {
	if regOK.Load() {
		matched.WithLabelValues(service).Set(float64(n))
	}
}
