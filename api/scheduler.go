/*
scheduler.go - Periodic repair sweep

PURPOSE:
  Runs the repair tool over the whole book on an interval. Catches anything
  the event-driven path missed: fan-out jobs dropped on a full queue,
  collaborators that wrote rows without calling the engine, or rate
  entries deleted out of band.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Stop cancels an in-flight pass; it is recorded as interrupted and the
    next sweep finishes the job
  - Every pass is recorded in repair_runs with trigger "schedule"

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRepairScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRepair endpoint (manual repair)
  - commission/repair.go: Repairer
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/premium-engine/commission"
)

// RepairScheduler runs the scheduled repair sweep.
type RepairScheduler struct {
	Engine   *commission.Engine
	Logger   *zap.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRepairScheduler creates a new scheduler.
func NewRepairScheduler(engine *commission.Engine, logger *zap.Logger) *RepairScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepairScheduler{
		Engine:   engine,
		Logger:   logger,
		Interval: 1 * time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (rs *RepairScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("repair scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	var ctx context.Context
	ctx, rs.cancel = context.WithCancel(context.Background())
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Logger.Info("repair scheduler started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for an in-flight pass to return.
func (rs *RepairScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("repair scheduler stopped")
}

func (rs *RepairScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *RepairScheduler) sweep(ctx context.Context) {
	if _, err := rs.RunNow(ctx); err != nil && ctx.Err() == nil {
		rs.Logger.Error("scheduled repair failed", zap.Error(err))
	}
}

// RunNow runs one sweep immediately (for testing/admin).
func (rs *RepairScheduler) RunNow(ctx context.Context) (commission.Report, error) {
	start := time.Now()
	report, err := rs.Engine.RunScheduledRepair(ctx)
	if err != nil {
		return report, err
	}
	if report.Corrected > 0 || report.PremiumsCorrected > 0 {
		rs.Logger.Warn("scheduled repair corrected drift",
			zap.Int("corrected", report.Corrected),
			zap.Int("premiums_corrected", report.PremiumsCorrected),
			zap.Duration("took", time.Since(start)))
	}
	return report, nil
}

// NextRunTime returns when the next scheduled sweep will occur.
func (rs *RepairScheduler) NextRunTime() time.Time {
	return time.Now().Add(rs.Interval)
}
