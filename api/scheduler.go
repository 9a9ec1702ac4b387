/*
scheduler.go - Automated ledger reconciliation

PURPOSE:
  Periodically recomputes the trailing window of ledger rows from the entry
  store and repairs any that drifted. Drift comes from mutations that failed
  between the entry write and the ledger increment (best-effort mode), or
  from concurrent update/delete races on one entry.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass covers the last WindowDays dates ending today (service zone)
  - Runs once immediately on Start
  - Repairs are logged and counted; a failed pass is logged and retried on
    the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - WindowDays:    Dates per pass (default: 7)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconcileScheduler(reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual reconciliation)
  - intake/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/intake-ledger/intake"
)

// ReconcileScheduler runs ledger reconciliation on a ticker.
type ReconcileScheduler struct {
	Reconciler    *intake.Reconciler
	CheckInterval time.Duration
	WindowDays    int
	Enabled       bool

	// Clock and Location define "today". Default: time.Now, time.Local.
	Clock    func() time.Time
	Location *time.Location

	// Repairs, when set, is told how many rows each pass corrected.
	Repairs RepairObserver

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconcileScheduler creates a new scheduler.
func NewReconcileScheduler(rc *intake.Reconciler) *ReconcileScheduler {
	return &ReconcileScheduler{
		Reconciler:    rc,
		CheckInterval: 1 * time.Hour,
		WindowDays:    7,
		Enabled:       true,
		Clock:         time.Now,
		Location:      time.Local,
	}
}

// Start begins the scheduler.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	log.Printf("[Scheduler] Started with check interval: %v, window: %d days", rs.CheckInterval, rs.WindowDays)
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReconcileScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndRepair()

	for {
		select {
		case <-ticker.C:
			rs.checkAndRepair()
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass synchronously (for testing/admin).
func (rs *ReconcileScheduler) RunNow(ctx context.Context) (intake.ReconcileReport, error) {
	return rs.pass(ctx)
}

func (rs *ReconcileScheduler) checkAndRepair() {
	rep, err := rs.pass(context.Background())
	if err != nil {
		log.Printf("[Scheduler] Reconciliation of %s failed: %v", rep.Range, err)
		return
	}
	if len(rep.Repairs) > 0 {
		for _, r := range rep.Repairs {
			log.Printf("[Scheduler] Repaired %s: ledger=%s actual=%s delta=%s",
				r.Date, r.Ledger.StringFixed(intake.Scale), r.Actual.StringFixed(intake.Scale), r.Delta.StringFixed(intake.Scale))
		}
		log.Printf("[Scheduler] Completed %s: %d repaired, %d checked", rep.Range, len(rep.Repairs), rep.Checked)
	}
}

func (rs *ReconcileScheduler) pass(ctx context.Context) (intake.ReconcileReport, error) {
	clock := rs.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := rs.Location
	if loc == nil {
		loc = time.Local
	}
	window := rs.WindowDays
	if window < 1 {
		window = 1
	}

	r := intake.TrailingRange(intake.Today(clock, loc), window)
	rep, err := rs.Reconciler.ReconcileRange(ctx, r)
	if err != nil {
		rep.Range = r
		return rep, err
	}
	if rs.Repairs != nil {
		rs.Repairs.ObserveRepairs(len(rep.Repairs))
	}
	return rep, nil
}
