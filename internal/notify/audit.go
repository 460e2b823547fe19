package notify

import (
	"context"

	"go.uber.org/zap"
)

// AuditLogger writes every event as a structured AUDIT line.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) Publish(ctx context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_type", string(e.Type)),
		zap.Time("event_time", e.OccurredAt),
	}
	if e.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", e.TransactionID))
	}
	if e.AccountID != "" {
		fields = append(fields, zap.String("account_id", e.AccountID))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", string(e.Status)))
	}
	if e.PreviousStatus != "" {
		fields = append(fields, zap.String("previous_status", string(e.PreviousStatus)))
	}
	if e.Amount != "" {
		fields = append(fields, zap.String("amount", e.Amount))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	a.logger.Info("AUDIT", fields...)
	return nil
}
