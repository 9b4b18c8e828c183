/*
scheduler.go - Automated investment settlement

PURPOSE:
  Periodically runs investment.Controller.ProcessBatch so that income is
  credited without an external cron. Every run, scheduled or manual, is
  recorded as a SettlementRun for audit and the admin dashboard.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Overlapping runs are harmless (settlement is idempotent per marker)
    but are still serialized so run records read cleanly
  - A failed run is recorded with its error; the next tick tries again

CONFIGURATION:
  - Interval: How often to run (default: 5 minutes, must be positive)
  - Enabled:  Whether the ticker runs at all (manual runs always work)

USAGE:
  scheduler := NewSettlementScheduler(store, controller, log)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessInvestments endpoint (manual trigger)
  - investment/controller.go: ProcessBatch
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/referral-ledger/generic"
	"github.com/warp/referral-ledger/investment"
)

// SettlementScheduler runs ProcessBatch on a ticker.
type SettlementScheduler struct {
	Store      generic.RunStore
	Controller *investment.Controller
	Interval   time.Duration
	Enabled    bool
	Log        *zap.Logger
	Now        func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewSettlementScheduler creates a scheduler.
func NewSettlementScheduler(store generic.RunStore, c *investment.Controller, log *zap.Logger) *SettlementScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementScheduler{
		Store:      store,
		Controller: c,
		Interval:   5 * time.Minute,
		Enabled:    true,
		Log:        log.Named("scheduler"),
		Now:        time.Now,
	}
}

// Start begins the scheduler. It refuses a non-positive Interval.
func (ss *SettlementScheduler) Start() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		ss.Log.Info("scheduler disabled, not starting")
		return nil
	}
	if ss.ticker != nil {
		return nil
	}
	if ss.Interval <= 0 {
		ss.Log.Error("scheduler not started", zap.Duration("interval", ss.Interval))
		return fmt.Errorf("settlement interval must be positive, got %s", ss.Interval)
	}

	ss.ticker = time.NewTicker(ss.Interval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)
	go ss.run(ss.ticker, ss.stop)

	ss.Log.Info("scheduler started", zap.Duration("interval", ss.Interval))
	return nil
}

// Stop stops the ticker and waits for an in-flight run to finish.
func (ss *SettlementScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker == nil {
		return
	}
	ss.ticker.Stop()
	close(ss.stop)
	ss.wg.Wait()
	ss.ticker = nil
	ss.Log.Info("scheduler stopped")
}

func (ss *SettlementScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ss.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ss.RunNow(ctx, generic.TriggerSchedule)
	for {
		select {
		case <-ticker.C:
			ss.RunNow(ctx, generic.TriggerSchedule)
		case <-stop:
			return
		}
	}
}

// RunNow runs one batch and records it. The returned run is always set,
// even when the batch failed.
func (ss *SettlementScheduler) RunNow(ctx context.Context, trigger generic.RunTrigger) (generic.SettlementRun, *investment.BatchResult, error) {
	ss.runMu.Lock()
	defer ss.runMu.Unlock()

	run := generic.SettlementRun{
		ID:                 uuid.NewString(),
		Trigger:            trigger,
		Status:             "running",
		EarningsAdded:      generic.Zero,
		PrincipalsReturned: generic.Zero,
		StartedAt:          ss.Now().UTC(),
	}
	if err := ss.Store.SaveSettlementRun(ctx, run); err != nil {
		ss.Log.Error("failed to record settlement run", zap.Error(err))
		return run, nil, generic.Persist("save settlement run", err)
	}

	res, err := ss.Controller.ProcessBatch(ctx, ss.Now())
	done := ss.Now().UTC()
	run.CompletedAt = &done
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
	} else {
		run.Status = "completed"
		run.Processed = res.Processed
		run.TotalInvestments = res.TotalInvestments
		run.EarningsAdded = res.EarningsAdded
		run.PrincipalsReturned = res.PrincipalsReturned
		run.Failures = res.Failed
	}

	// The batch already moved money; record the outcome even if ctx ended.
	if saveErr := ss.Store.SaveSettlementRun(context.WithoutCancel(ctx), run); saveErr != nil {
		ss.Log.Error("failed to update settlement run", zap.String("run_id", run.ID), zap.Error(saveErr))
	}

	if err != nil {
		ss.Log.Error("settlement run failed", zap.String("run_id", run.ID), zap.Error(err))
		return run, nil, err
	}
	if res.Processed > 0 || res.Failed > 0 {
		ss.Log.Info("settlement run completed",
			zap.String("run_id", run.ID),
			zap.String("trigger", string(trigger)),
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.String("earnings_added", res.EarningsAdded.String()),
			zap.String("principals_returned", res.PrincipalsReturned.String()))
	}
	return run, res, nil
}

// NextRunTime returns when the next scheduled run will occur.
func (ss *SettlementScheduler) NextRunTime() time.Time {
	return ss.Now().Add(ss.Interval)
}
