package activity

import (
	"context"
	"strings"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// Sweeper periodically scans stored activities and fires the timeout check
// on each. It is the backstop for activities whose quote collection stalls:
// the per-activity check decides whether the inactivity window has elapsed,
// the sweeper only decides how often anyone looks.
type Sweeper struct {
	service   *Service
	scheduler quartz.Scheduler
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper builds the sweep job on a standard quartz scheduler.
func NewSweeper(service *Service, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	scheduler, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		service:   service,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Start schedules the recurring sweep and runs until Stop.
func (w *Sweeper) Start(ctx context.Context) error {
	w.scheduler.Start(ctx)
	sweep := job.NewFunctionJob[int](func(ctx context.Context) (int, error) {
		return w.SweepOnce(ctx)
	})
	detail := quartz.NewJobDetail(sweep, quartz.NewJobKey("activity-timeout-sweep"))
	return w.scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(w.interval))
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop(ctx context.Context) {
	w.scheduler.Stop()
	w.scheduler.Wait(ctx)
}

// SweepOnce walks every stored activity and applies the timeout check,
// returning how many activities were forced to failed. Per-activity errors
// are logged and skipped so one bad record cannot stall the sweep.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	keys, err := w.service.store.ListKeys(ctx, storeKeyPrefix)
	if err != nil {
		return 0, err
	}
	timedOut := 0
	for _, key := range keys {
		activityID := strings.TrimPrefix(key, storeKeyPrefix)
		fired, err := w.service.CheckTimeout(ctx, activityID)
		if err != nil {
			w.logger.Warn("timeout check failed",
				zap.String("activity_id", activityID),
				zap.Error(err))
			continue
		}
		if fired {
			w.logger.Info("activity timed out awaiting quotes",
				zap.String("activity_id", activityID))
			timedOut++
		}
	}
	return timedOut, nil
}
