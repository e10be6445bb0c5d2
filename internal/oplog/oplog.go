// Package oplog forwards domain operation logs to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const statusError = "error"

// Logger implements ledger.OperationLogger; Restoration adapts it for the job service.
type Logger struct {
	logger *zap.Logger
}

// New wraps logger; a nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

var (
	_ ledger.OperationLogger      = (*Logger)(nil)
	_ restoration.OperationLogger = restorationLogger{}
)

// Restoration adapts the logger to the job service.
func (logger *Logger) Restoration() restoration.OperationLogger {
	return restorationLogger{logger: logger}
}

// LogOperation records a ledger operation.
func (logger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("owner_id", entry.OwnerID.String()),
	}
	if jobID := entry.JobID.String(); jobID != "" {
		fields = append(fields, zap.String("job_id", jobID))
	}
	if !entry.PaymentRef.IsZero() {
		fields = append(fields, zap.String("payment_ref", entry.PaymentRef.String()))
	}
	if entry.AmountCredits != 0 {
		fields = append(fields, zap.Int64("amount_credits", entry.AmountCredits))
	}
	logger.write("ledger operation", entry.Status, entry.Error, fields)
}

type restorationLogger struct {
	logger *Logger
}

func (adapter restorationLogger) LogOperation(_ context.Context, entry restoration.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("job_id", entry.JobID.String()),
	}
	if ownerID := entry.OwnerID.String(); ownerID != "" {
		fields = append(fields, zap.String("owner_id", ownerID))
	}
	if !entry.TaskID.IsZero() {
		fields = append(fields, zap.String("task_id", entry.TaskID.String()))
	}
	if entry.JobStatus != "" {
		fields = append(fields, zap.String("job_status", entry.JobStatus.String()))
	}
	adapter.logger.write("job operation", entry.Status, entry.Error, fields)
}

func (logger *Logger) write(message string, status string, err error, fields []zap.Field) {
	level := zapcore.InfoLevel
	if status == statusError {
		level = zapcore.WarnLevel
		fields = append(fields, zap.Error(err))
	}
	logger.logger.Log(level, message, fields...)
}
