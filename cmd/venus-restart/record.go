package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/venus-restart/internal/config"
	"github.com/loykin/venus-restart/internal/history"
	"github.com/loykin/venus-restart/internal/history/factory"
	"github.com/loykin/venus-restart/internal/metrics"
	"github.com/loykin/venus-restart/internal/restart"
)

func outcomeLabel(rep restart.Report) string {
	if rep.Outcome == "" {
		return "aborted"
	}
	return string(rep.Outcome)
}

// recordMetrics writes the run's metrics to the configured textfile.
// Failures are logged only.
func recordMetrics(cfg *config.Config, rep restart.Report, log *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.Warn("metrics registration failed", "error", err)
		return
	}
	metrics.ObserveRun(rep.Service, outcomeLabel(rep), rep.Duration().Seconds())
	if rep.ForceKilled {
		metrics.IncForceKill(rep.Service)
	}
	if rep.Outcome == restart.OutcomeFatal {
		metrics.IncFatal(rep.Service)
	}
	if rep.RotatorPID == 0 && rep.Outcome != restart.OutcomeFatal && rep.Error == "" {
		metrics.IncRotatorMissing(rep.Service)
	}
	metrics.SetMatchedProcesses(rep.Service, rep.Count)

	if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
		log.Warn("metrics textfile write failed", "path", cfg.Metrics.Textfile, "error", err)
		return
	}
	log.Debug("metrics written", "path", cfg.Metrics.Textfile)
}

func toRecord(rep restart.Report) history.Record {
	return history.Record{
		Service:          rep.Service,
		Outcome:          outcomeLabel(rep),
		PID:              rep.PID,
		Count:            rep.Count,
		InitialPID:       rep.InitialPID,
		ForceKilled:      rep.ForceKilled,
		RotatorSignalled: rep.RotatorSignalled,
		AutoRestarted:    rep.AutoRestarted,
		UpIssued:         rep.UpIssued,
		StartedAt:        rep.StartedAt,
		FinishedAt:       rep.FinishedAt,
		Error:            rep.Error,
	}
}

// recordHistory sends the run to the configured sink. Failures are logged only.
func recordHistory(ctx context.Context, cfg *config.Config, rep restart.Report, log *slog.Logger) {
	if !cfg.History.Enabled {
		return
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		log.Warn("history sink unavailable", "error", err)
		return
	}
	if c, ok := sink.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}
	if err := sink.Send(ctx, history.NewEvent(toRecord(rep))); err != nil {
		log.Warn("history send failed", "error", err)
	}
}
