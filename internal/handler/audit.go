package handler

import (
	"context"
	"log/slog"
)

// AuditEvent is the outcome of one operator-facing backup operation.
type AuditEvent struct {
	Action    string
	BackupID  string
	ActorID   *int64
	RequestID string
	Err       error
	Details   map[string]any
}

// Auditor records operation outcomes. Persistence belongs to the
// implementation.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// AuditLogger writes audit events as structured log lines.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With("component", "audit")}
}

func (a *AuditLogger) Record(ctx context.Context, ev AuditEvent) {
	attrs := []slog.Attr{slog.String("action", ev.Action)}
	if ev.BackupID != "" {
		attrs = append(attrs, slog.String("backup_id", ev.BackupID))
	}
	if ev.ActorID != nil {
		attrs = append(attrs, slog.Int64("actor_id", *ev.ActorID))
	} else {
		attrs = append(attrs, slog.String("actor", "system"))
	}
	if ev.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", ev.RequestID))
	}
	if len(ev.Details) > 0 {
		attrs = append(attrs, slog.Any("details", ev.Details))
	}

	if ev.Err != nil {
		attrs = append(attrs, slog.String("outcome", "failure"), slog.String("error", ev.Err.Error()))
		a.logger.LogAttrs(ctx, slog.LevelWarn, "backup operation", attrs...)
		return
	}
	attrs = append(attrs, slog.String("outcome", "success"))
	a.logger.LogAttrs(ctx, slog.LevelInfo, "backup operation", attrs...)
}
