package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Step is one named stage of graceful shutdown.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Shutdown sets the shutdown flag, then runs steps in order under ctx.
// A failing step is logged and does not stop later steps; all failures are joined.
func Shutdown(ctx context.Context, logger *zap.Logger, steps ...Step) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetShuttingDown(true)
	var errs []error
	for _, s := range steps {
		if s.Run == nil {
			continue
		}
		start := time.Now()
		if err := s.Run(ctx); err != nil {
			logger.Warn("shutdown step failed", zap.String("step", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logger.Debug("shutdown step done", zap.String("step", s.Name), zap.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}
