// services/payout_listener.go
package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"rps-arena/models"
	"rps-arena/workers"
)

// Listener driver modes.
const (
	ModePoll   = "poll"
	ModeBlocks = "blocks"
)

// ListenerStatus is the snapshot returned by Status.
type ListenerStatus struct {
	Running   bool   `json:"isRunning"`
	Mode      string `json:"mode,omitempty"`
	Watermark uint64 `json:"lastProcessedTimestamp"`
}

// PayoutListener drives payout reconciliation from either an interval
// scheduler or a new-block subscription. One driver is active at a time;
// starting while running is a no-op. The watermark lives in memory only, so
// a restart reprocesses the backlog — safe because ExecutePayout is
// idempotent through the receipt check.
type PayoutListener struct {
	Payouts *PayoutService

	// Interval is the poll period, also used by the fallback after a failed
	// block subscription.
	Interval time.Duration

	// ItemDelay is the courtesy pause between payouts within one pass.
	ItemDelay time.Duration

	// WSURL is the websocket endpoint for the block-driven mode.
	WSURL string

	clock clockwork.Clock

	mu        sync.Mutex
	running   bool
	mode      string
	watermark uint64
	sched     gocron.Scheduler
	cancel    context.CancelFunc

	// passMu serializes passes so driver callbacks never overlap.
	passMu sync.Mutex
}

// NewPayoutListener builds a stopped listener. A nil clock means wall time.
func NewPayoutListener(payouts *PayoutService, clock clockwork.Clock) *PayoutListener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PayoutListener{
		Payouts:   payouts,
		Interval:  10 * time.Second,
		ItemDelay: 2 * time.Second,
		clock:     clock,
	}
}

// SetInterval changes the poll period under the listener's lock, so it is
// safe against a concurrent fallback from the block driver. Non-positive
// values are ignored. Takes effect on the next Start.
func (l *PayoutListener) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.Interval = d
	l.mu.Unlock()
}

// Start activates the interval driver: an immediate pass, then one per
// Interval. No-op when already running.
func (l *PayoutListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startPollLocked()
}

func (l *PayoutListener) startPollLocked() error {
	if l.running {
		log.Printf("[Payout Listener] already running (%s mode)", l.mode)
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(l.clock))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err = sched.NewJob(
		gocron.DurationJob(l.Interval),
		gocron.NewTask(func() {
			l.ProcessNewGameEnds(ctx)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return err
	}
	sched.Start()

	l.sched = sched
	l.cancel = cancel
	l.running = true
	l.mode = ModePoll
	log.Printf("[Payout Listener] started, polling every %s", l.Interval)
	return nil
}

// StartBlockDriven activates the chain-tip driver. On any subscription error
// the subscription is torn down and the listener falls back to polling.
// No-op when already running.
func (l *PayoutListener) StartBlockDriven() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		log.Printf("[Payout Listener] already running (%s mode)", l.mode)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	watcher := &workers.BlockWatcher{
		URL: l.WSURL,
		OnBlock: func() {
			l.ProcessNewGameEnds(ctx)
		},
		OnError: func(err error) {
			log.Printf("[Payout Listener] block subscription failed: %v — falling back to polling", err)
			l.fallbackToPolling()
		},
	}

	l.cancel = cancel
	l.running = true
	l.mode = ModeBlocks
	log.Printf("[Payout Listener] started in block-driven mode (%s)", l.WSURL)

	// Immediate pass, then one per head.
	go l.ProcessNewGameEnds(ctx)
	go func() { _ = watcher.Run(ctx) }()
	return nil
}

// fallbackToPolling is called from the watcher goroutine after a
// subscription error.
func (l *PayoutListener) fallbackToPolling() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.mode != ModeBlocks {
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.running = false
	l.mode = ""
	if err := l.startPollLocked(); err != nil {
		log.Printf("[Payout Listener] ❌ fallback to polling failed: %v", err)
	}
}

// Stop cancels the active driver. Cancellation is cooperative: an in-flight
// pass finishes its current payout. The watermark is retained.
func (l *PayoutListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		log.Printf("[Payout Listener] not running")
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.sched != nil {
		if err := l.sched.Shutdown(); err != nil {
			log.Printf("[Payout Listener] scheduler shutdown error: %v", err)
		}
		l.sched = nil
	}
	l.running = false
	l.mode = ""
	log.Printf("[Payout Listener] stopped")
}

// Status reports the current lifecycle state and watermark.
func (l *PayoutListener) Status() ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ListenerStatus{Running: l.running, Mode: l.mode, Watermark: l.watermark}
}

// ResetWatermark rewinds the watermark to zero so the next pass reprocesses
// the whole unpaid backlog.
func (l *PayoutListener) ResetWatermark() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermark = 0
	log.Printf("[Payout Listener] watermark reset — next pass drains the full backlog")
}

func (l *PayoutListener) currentWatermark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark
}

func (l *PayoutListener) advanceWatermark(ts uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts > l.watermark {
		l.watermark = ts
	}
}

// ProcessNewGameEnds runs one reconciliation pass: unpaid conclusions newer
// than the watermark, receipt-checked again right before each transfer. The
// watermark only advances on success, so failures are retried next pass.
func (l *PayoutListener) ProcessNewGameEnds(ctx context.Context) []*models.PayoutResult {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	unpaid, err := l.Payouts.UnpaidGameEnds(ctx)
	if err != nil {
		log.Printf("[Payout Listener] failed to list unpaid conclusions: %v", err)
		return nil
	}

	watermark := l.currentWatermark()
	var pending []*models.GameEnd
	for _, end := range unpaid {
		if watermark == 0 || end.Timestamp > watermark {
			pending = append(pending, end)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	log.Printf("[Payout Listener] Found %d new game end(s) to process", len(pending))

	var results []*models.PayoutResult
	for i, end := range pending {
		if ctx.Err() != nil {
			return results
		}

		// Double-check right before the transfer: a manual trigger may have
		// paid this game since the listing.
		paid, err := l.Payouts.IsPayoutExecuted(ctx, end.GameID)
		if err != nil {
			results = append(results, failure(end.GameID, end.Winner, end.Payout, err.Error()))
			continue
		}
		if paid {
			log.Printf("[Payout Listener] payout already executed for game %s", end.GameID)
			continue
		}

		log.Printf("[Payout Listener] Executing payout for game %s, winner %s, payout %s",
			end.GameID, end.Winner, end.Payout)
		result := l.Payouts.ExecutePayout(ctx, end.GameID)
		results = append(results, result)

		if result.Success {
			l.advanceWatermark(end.Timestamp)
		} else {
			log.Printf("[Payout Listener] ❌ payout failed for game %s: %s", end.GameID, result.Error)
		}

		if i < len(pending)-1 && l.ItemDelay > 0 {
			l.clock.Sleep(l.ItemDelay)
		}
	}

	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	log.Printf("[Payout Listener] Processed %d payout(s): %d succeeded, %d failed",
		len(results), success, len(results)-success)
	return results
}
