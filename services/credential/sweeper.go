package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"go.uber.org/zap"
)

// sweepTimeout bounds one retention sweep
const sweepTimeout = 2 * time.Minute

// Sweeper runs Store.Sweep on a crontab schedule
type Sweeper struct {
	ctab     *crontab.Crontab
	store    *Store
	schedule string
	logger   *zap.Logger
}

// NewSweeper creates a sweeper for the given crontab expression
func NewSweeper(store *Store, schedule string, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		ctab:     crontab.New(),
		store:    store,
		schedule: schedule,
		logger:   logger,
	}
}

// Run schedules the sweep and blocks until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.ctab.AddJob(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("failed to schedule credential sweep %q: %w", s.schedule, err)
	}
	s.logger.Info("credential sweep scheduled", zap.String("schedule", s.schedule))

	<-ctx.Done()
	s.ctab.Shutdown()
	return nil
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Error("credential sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("credential sweep finished", zap.Int64("deleted", n))
}
