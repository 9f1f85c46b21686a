// workers/mirror_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rps-arena/models"
)

// ConclusionSource is the slice of the payout service the mirror needs.
type ConclusionSource interface {
	ListConclusions(ctx context.Context) ([]*models.GameEnd, error)
	ListReceipts(ctx context.Context) ([]*models.PayoutReceipt, error)
}

// MirrorWorker periodically copies game conclusions and payout receipts from
// the ledger into the local conclusion_mirror table. The ledger stays
// authoritative; the mirror only serves history queries, so the sync is a
// blind upsert and a missed cycle heals on the next one.
type MirrorWorker struct {
	DB       *gorm.DB
	Payouts  ConclusionSource
	Interval time.Duration
}

func NewMirrorWorker(db *gorm.DB, payouts ConclusionSource) *MirrorWorker {
	return &MirrorWorker{
		DB:       db,
		Payouts:  payouts,
		Interval: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, syncing once immediately and then once
// per Interval.
func (w *MirrorWorker) Run(ctx context.Context) {
	log.Printf("[Mirror Worker] started, syncing every %s", w.Interval)

	if err := w.SyncOnce(ctx); err != nil {
		log.Printf("[Mirror Worker] ❌ sync failed: %v", err)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Mirror Worker] stopped")
			return
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				log.Printf("[Mirror Worker] ❌ sync failed: %v", err)
			}
		}
	}
}

// SyncOnce pulls every conclusion and receipt from the ledger and upserts the
// joined rows.
func (w *MirrorWorker) SyncOnce(ctx context.Context) error {
	ends, err := w.Payouts.ListConclusions(ctx)
	if err != nil {
		return err
	}
	receipts, err := w.Payouts.ListReceipts(ctx)
	if err != nil {
		return err
	}

	receiptByGame := make(map[string]*models.PayoutReceipt, len(receipts))
	for _, r := range receipts {
		receiptByGame[r.GameID.String()] = r
	}

	synced := 0
	for _, end := range ends {
		row := models.ConclusionMirror{
			GameID:  end.GameID.String(),
			Winner:  end.Winner,
			Payout:  end.Payout.String(),
			Score1:  end.FinalScores[0],
			Score2:  end.FinalScores[1],
			EndedAt: end.Timestamp,
		}
		if r, ok := receiptByGame[row.GameID]; ok {
			row.Paid = true
			row.PayoutTxRef = r.TxRef
		}

		err := w.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "game_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"winner", "payout", "score1", "score2", "ended_at", "paid", "payout_tx_ref", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			log.Printf("[Mirror Worker] ❌ upsert failed for game %s: %v", row.GameID, err)
			continue
		}
		synced++
	}

	if synced > 0 {
		log.Printf("[Mirror Worker] ✅ synced %d conclusion(s)", synced)
	}
	return nil
}

// History returns mirrored conclusions, newest first. onlyPaid narrows the
// result to conclusions with an executed payout.
func (w *MirrorWorker) History(ctx context.Context, onlyPaid bool, limit int) ([]models.ConclusionMirror, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := w.DB.WithContext(ctx).Order("ended_at DESC").Limit(limit)
	if onlyPaid {
		q = q.Where("paid = ?", true)
	}
	var rows []models.ConclusionMirror
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
