// Package task runs periodic maintenance jobs in the background.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Minute

// Job is one unit of periodic work.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(context.Context) error

// Run calls the wrapped function.
func (jobFunc JobFunc) Run(ctx context.Context) error {
	return jobFunc(ctx)
}

// Scheduler runs a Job every interval and whenever Trigger is called.
// Runs never overlap.
type Scheduler struct {
	name         string
	interval     time.Duration
	job          Job
	logger       *zap.Logger
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewScheduler builds a Scheduler. A non-positive interval defaults to one minute.
func NewScheduler(name string, interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the run loop. Calling Start on a running scheduler does nothing.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	scheduler.logger.Info("scheduler_started", zap.String("job", scheduler.name), zap.Duration("interval", scheduler.interval))
	go scheduler.loop(runtimeCtx, done)
}

// Trigger requests an immediate run. Requests made while one is pending coalesce.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight run to return.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.run(ctx)
			ticker.Reset(scheduler.interval)
		case <-ticker.C:
			scheduler.run(ctx)
		}
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.job == nil {
		return
	}
	startedAt := time.Now()
	if err := scheduler.job.Run(ctx); err != nil {
		scheduler.logger.Warn("scheduled_job_failed",
			zap.String("job", scheduler.name),
			zap.Duration("duration", time.Since(startedAt)),
			zap.Error(err),
		)
		return
	}
	scheduler.logger.Debug("scheduled_job_completed",
		zap.String("job", scheduler.name),
		zap.Duration("duration", time.Since(startedAt)),
	)
}
