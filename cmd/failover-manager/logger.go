package main

import (
	"context"
	"log/slog"

	failover "github.com/getpup/failover-manager"
	"github.com/getpup/pupsourcing/es"
)

// slogLogger adapts log/slog to es.Logger.
type slogLogger struct {
	logger *slog.Logger
}

var _ es.Logger = slogLogger{}

func (l slogLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.DebugContext(ctx, msg, keyvals...)
}

func (l slogLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.InfoContext(ctx, msg, keyvals...)
}

func (l slogLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.ErrorContext(ctx, msg, keyvals...)
}

// parseLevel maps a flag value to a slog level, defaulting to info.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// healthLogger reports health actions to the log.
type healthLogger struct {
	logger es.Logger
}

func (h healthLogger) ReportQuorumLost(ctx context.Context, ft *failover.FailoverUnit, _ failover.Action) {
	h.logger.Error(ctx, "health: quorum lost", "failoverUnitID", ft.ID, "serviceName", ft.ServiceName)
}

func (h healthLogger) ReportDataLoss(ctx context.Context, ft *failover.FailoverUnit, action failover.Action) {
	h.logger.Error(ctx, "health: data loss", "failoverUnitID", ft.ID, "serviceName", ft.ServiceName,
		"survivor", action.Replica, "epoch", action.CurrentEpoch)
}

func (h healthLogger) ReportServiceDeleted(ctx context.Context, ft *failover.FailoverUnit, _ failover.Action) {
	h.logger.Info(ctx, "health: service deleted", "failoverUnitID", ft.ID, "serviceName", ft.ServiceName)
}
