// Package oplog adapts the engine's operation callbacks to zap and
// Prometheus.
package oplog

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

// Metrics holds the Prometheus counters for approval operations.
type Metrics struct {
	Operations *prometheus.CounterVec
}

// NewMetrics creates and registers operation metrics. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	metrics := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stampd",
			Subsystem: "approval",
			Name:      "operations_total",
			Help:      "Total approval engine operations by operation, kind, and status.",
		}, []string{"operation", "kind", "status"}),
	}
	reg.MustRegister(metrics.Operations)
	return metrics
}

// Logger implements approval.OperationLogger over zap plus optional metrics.
type Logger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// New wires a Logger. A nil zap logger falls back to a no-op logger.
func New(logger *zap.Logger, metrics *Metrics) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, metrics: metrics}
}

// LogOperation records one engine operation.
func (operationLogger *Logger) LogOperation(_ context.Context, entry approval.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("kind", entry.Kind.String()),
		zap.String("status", entry.Status),
	}
	if entry.RequestID.String() != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID.String()))
	}
	if entry.WalletID.String() != "" {
		fields = append(fields, zap.String("wallet_id", entry.WalletID.String()))
	}
	if entry.StoreID.String() != "" {
		fields = append(fields, zap.String("store_id", entry.StoreID.String()))
	}
	if entry.Delta != 0 {
		fields = append(fields, zap.Int64("delta", entry.Delta))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("approval operation failed", fields...)
	} else {
		operationLogger.logger.Info("approval operation", fields...)
	}
	if operationLogger.metrics != nil {
		operationLogger.metrics.Operations.WithLabelValues(entry.Operation, entry.Kind.String(), entry.Status).Inc()
	}
}
