// Package reconciler proactively flips long-stale pending requests to
// expired on a cron schedule. It is an optimization only: every read and
// approval path re-checks staleness, so correctness never depends on the
// sweep running.
package reconciler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const defaultSchedule = "@every 1m"

// Reconciler runs the expiry sweep in a background goroutine.
type Reconciler struct {
	engine   *approval.Engine
	logger   *zap.Logger
	schedule string
	runner   *cron.Cron
}

// New wires a Reconciler. An empty schedule falls back to one sweep per minute.
func New(engine *approval.Engine, logger *zap.Logger, schedule string) (*Reconciler, error) {
	if engine == nil {
		return nil, fmt.Errorf("reconciler: engine dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Reconciler{engine: engine, logger: logger, schedule: schedule}, nil
}

// Start registers the sweep and begins the cron loop. The loop stops when
// ctx is cancelled.
func (reconciler *Reconciler) Start(ctx context.Context) error {
	runner := cron.New()
	_, err := runner.AddFunc(reconciler.schedule, func() {
		reconciler.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("reconciler schedule %q: %w", reconciler.schedule, err)
	}
	reconciler.runner = runner
	runner.Start()
	go func() {
		<-ctx.Done()
		<-runner.Stop().Done()
	}()
	reconciler.logger.Info("expiry reconciler started", zap.String("schedule", reconciler.schedule))
	return nil
}

func (reconciler *Reconciler) sweep(ctx context.Context) {
	flipped, err := reconciler.engine.ExpireOverdue(ctx)
	if err != nil {
		reconciler.logger.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if flipped > 0 {
		reconciler.logger.Info("expiry sweep flipped requests", zap.Int64("count", flipped))
	}
}
