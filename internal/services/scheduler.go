package services

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepFunc runs one sweep and reports how many comments it matched.
type SweepFunc func(ctx context.Context) (int, error)

// Drainer 反复执行补发任务直到没有遗留评论为止，然后自行停止
type Drainer struct {
	sweep        SweepFunc
	interval     time.Duration
	initialDelay time.Duration
	running      atomic.Bool
	log          *zap.SugaredLogger
}

func NewDrainer(sweep SweepFunc, interval, initialDelay time.Duration, log *zap.SugaredLogger) *Drainer {
	return &Drainer{
		sweep:        sweep,
		interval:     interval,
		initialDelay: initialDelay,
		log:          log.Named("drainer"),
	}
}

// Start schedules the first drain after the initial delay.
func (d *Drainer) Start(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	go d.drain(ctx, d.initialDelay)
}

// Trigger starts a drain right away. It returns false when one is already running.
func (d *Drainer) Trigger(ctx context.Context) bool {
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	go d.drain(ctx, 0)
	return true
}

// Running reports whether a drain is in progress.
func (d *Drainer) Running() bool {
	return d.running.Load()
}

// Drain runs synchronously: sweep after delay, then every interval while the last sweep matched something.
// It returns the number of sweeps issued, or 0 if another drain was in progress.
func (d *Drainer) Drain(ctx context.Context, delay time.Duration) int {
	if !d.running.CompareAndSwap(false, true) {
		return 0
	}
	return d.drain(ctx, delay)
}

func (d *Drainer) drain(ctx context.Context, delay time.Duration) int {
	defer d.running.Store(false)

	sweeps := 0
	wait := delay
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return sweeps
			case <-timer.C:
			}
		}

		n, err := d.sweep(ctx)
		sweeps++
		if err != nil {
			d.log.Errorw("Sweep failed, drain stopped", "sweeps", sweeps, "error", err)
			return sweeps
		}
		if n == 0 {
			d.log.Debugw("Backlog drained", "sweeps", sweeps)
			return sweeps
		}
		wait = d.interval
	}
}

// Scheduler wraps the cron instance that triggers periodic jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.SugaredLogger
}

func NewScheduler(log *zap.SugaredLogger) *Scheduler {
	log = log.Named("cron")
	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	return &Scheduler{cron: c, log: log}
}

// AddFunc registers fn under spec with a per-execution id in its logs.
func (s *Scheduler) AddFunc(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		jobLog := s.log.With("job", name, "execution_id", uuid.NewString())
		jobLog.Debug("Job execution started")
		fn(context.Background())
		jobLog.Debugw("Job execution finished", "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("add cron job %s (%s): %w", name, spec, err)
	}
	s.log.Infow("Registered periodic job", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.log.Info("Cron scheduler started")
	s.cron.Start()
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Cron scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Cron scheduler stop timed out")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// SelfWake 定时访问站点地址，防止托管平台休眠实例
func SelfWake(client *http.Client, url string, log *zap.SugaredLogger) func(ctx context.Context) {
	return func(ctx context.Context) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			log.Errorw("Self wake failed", "url", url, "error", err)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Errorw("Self wake failed", "url", url, "error", err)
			return
		}
		_ = resp.Body.Close()
		log.Infow("Self wake done", "url", url, "status", resp.StatusCode)
	}
}
