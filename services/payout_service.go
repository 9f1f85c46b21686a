package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"rps-arena/ledger"
	"rps-arena/models"
	"rps-arena/utils"
)

// PayoutService executes at most one value transfer per concluded game. The
// durable PayoutReceipt record is the only marker of "already paid"; every
// execution re-checks it immediately before submitting the transfer.
type PayoutService struct {
	Ledger    ledger.Client
	Signer    ledger.Signer
	Publisher string

	// Now is injectable for tests.
	Now func() time.Time

	// BatchDelay is the courtesy pause between items in ProcessAllUnpaid.
	BatchDelay time.Duration

	games *GameService
}

func NewPayoutService(games *GameService) *PayoutService {
	return &PayoutService{
		Ledger:     games.Ledger,
		Signer:     games.Signer,
		Publisher:  games.Publisher,
		Now:        time.Now,
		BatchDelay: time.Second,
		games:      games,
	}
}

func (p *PayoutService) nowMillis() uint64 {
	return uint64(p.Now().UnixMilli())
}

// GameEndData loads the conclusion record for one game, or nil when the game
// has not concluded.
func (p *PayoutService) GameEndData(ctx context.Context, gameID *big.Int) (*models.GameEnd, error) {
	schemaID, err := p.games.schemaID(ctx, GameEndSchema)
	if err != nil {
		return nil, err
	}

	var row ledger.Row
	err = utils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		var readErr error
		row, readErr = p.Ledger.GetByKey(ctx, schemaID, p.Publisher, gameEndKey(gameID))
		return readErr
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return models.DecodeGameEndRecord(row)
}

// IsPayoutExecuted reports whether a receipt exists for the game.
func (p *PayoutService) IsPayoutExecuted(ctx context.Context, gameID *big.Int) (bool, error) {
	schemaID, err := p.games.schemaID(ctx, PayoutExecutedSchema)
	if err != nil {
		return false, err
	}
	row, err := p.Ledger.GetByKey(ctx, schemaID, p.Publisher, payoutKey(gameID))
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// ListConclusions returns every GameEnd record, newest last.
func (p *PayoutService) ListConclusions(ctx context.Context) ([]*models.GameEnd, error) {
	schemaID, err := p.games.schemaID(ctx, GameEndSchema)
	if err != nil {
		return nil, err
	}
	rows, err := p.Ledger.GetAllForSchema(ctx, schemaID, p.Publisher)
	if err != nil {
		return nil, err
	}

	ends := make([]*models.GameEnd, 0, len(rows))
	for _, row := range rows {
		end, err := models.DecodeGameEndRecord(row)
		if err != nil {
			continue
		}
		ends = append(ends, end)
	}
	sort.Slice(ends, func(i, j int) bool { return ends[i].Timestamp < ends[j].Timestamp })
	return ends, nil
}

// ListReceipts returns every payout receipt.
func (p *PayoutService) ListReceipts(ctx context.Context) ([]*models.PayoutReceipt, error) {
	schemaID, err := p.games.schemaID(ctx, PayoutExecutedSchema)
	if err != nil {
		return nil, err
	}
	rows, err := p.Ledger.GetAllForSchema(ctx, schemaID, p.Publisher)
	if err != nil {
		return nil, err
	}

	receipts := make([]*models.PayoutReceipt, 0, len(rows))
	for _, row := range rows {
		r, err := models.DecodePayoutReceiptRecord(row)
		if err != nil {
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// UnpaidGameEnds lists concluded games still owed a transfer: conclusions
// with a strict winner and positive payout, minus receipted ones.
func (p *PayoutService) UnpaidGameEnds(ctx context.Context) ([]*models.GameEnd, error) {
	ends, err := p.ListConclusions(ctx)
	if err != nil {
		return nil, err
	}

	var unpaid []*models.GameEnd
	for _, end := range ends {
		if !end.HasWinner() {
			continue
		}
		paid, err := p.IsPayoutExecuted(ctx, end.GameID)
		if err != nil {
			return nil, err
		}
		if paid {
			continue
		}
		unpaid = append(unpaid, end)
	}
	return unpaid, nil
}

func failure(gameID *big.Int, winner string, payout *big.Int, reason string) *models.PayoutResult {
	if winner == "" {
		winner = models.ZeroAddress
	}
	if payout == nil {
		payout = big.NewInt(0)
	}
	return &models.PayoutResult{
		GameID: gameID,
		Winner: winner,
		Payout: payout,
		Error:  reason,
	}
}

// ExecutePayout performs the at-most-once transfer for one concluded game.
// It never returns an error across its boundary: every failure path is a
// tagged result so batch drivers keep going.
func (p *PayoutService) ExecutePayout(ctx context.Context, gameID *big.Int) *models.PayoutResult {
	if p.Signer == nil {
		return failure(gameID, "", nil, ledger.ErrSignerUnavailable.Error())
	}

	// Race guard: re-check the receipt immediately before any work.
	paid, err := p.IsPayoutExecuted(ctx, gameID)
	if err != nil {
		return failure(gameID, "", nil, err.Error())
	}
	if paid {
		return failure(gameID, "", nil, "payout already executed for this game")
	}

	end, err := p.GameEndData(ctx, gameID)
	if err != nil {
		return failure(gameID, "", nil, err.Error())
	}
	if end == nil {
		return failure(gameID, "", nil, "game end data not found")
	}
	if !end.HasWinner() {
		return failure(gameID, end.Winner, end.Payout, "no winner or zero payout")
	}

	balance, err := p.Signer.Balance(ctx)
	if err != nil {
		return failure(gameID, end.Winner, end.Payout, err.Error())
	}
	if balance.Cmp(end.Payout) < 0 {
		return failure(gameID, end.Winner, end.Payout,
			fmt.Sprintf("%s: required %s, available %s", ErrInsufficientFunds, end.Payout, balance))
	}

	txRef, err := p.Signer.Transfer(ctx, end.Winner, end.Payout)
	if err != nil {
		return failure(gameID, end.Winner, end.Payout, err.Error())
	}
	if _, err := p.Ledger.WaitForConfirmation(ctx, txRef); err != nil {
		return failure(gameID, end.Winner, end.Payout, err.Error())
	}

	if err := p.writeReceipt(ctx, gameID, end, txRef); err != nil {
		// The transfer happened; a missing receipt would cause a double pay
		// on the next pass, so surface this loudly.
		log.Printf("[Payout Service] ❌ transfer %s confirmed but receipt write failed: %v", txRef, err)
		return failure(gameID, end.Winner, end.Payout,
			fmt.Sprintf("transfer %s confirmed but receipt write failed: %v", txRef, err))
	}

	log.Printf("[Payout Service] ✅ Paid out game %s: %s to %s (tx %s)", gameID, end.Payout, end.Winner, txRef)
	return &models.PayoutResult{
		Success: true,
		GameID:  gameID,
		Winner:  end.Winner,
		Payout:  end.Payout,
		TxRef:   txRef,
	}
}

// writeReceipt registers the receipt schema on first use, then records the
// transfer. The receipt is written once and never rewritten.
func (p *PayoutService) writeReceipt(ctx context.Context, gameID *big.Int, end *models.GameEnd, txRef string) error {
	schemaID, err := p.games.schemaID(ctx, PayoutExecutedSchema)
	if err != nil {
		return err
	}
	registered, err := p.Ledger.IsSchemaRegistered(ctx, schemaID)
	if err != nil {
		return err
	}
	if !registered {
		regTx, err := p.Ledger.RegisterSchemas(ctx, []ledger.SchemaDef{
			{ID: "payoutExecuted", Schema: PayoutExecutedSchema},
		})
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			log.Printf("[Payout Service] receipt schema already registered, continuing")
		} else if err != nil {
			return err
		} else if regTx != "" {
			if _, err := p.Ledger.WaitForConfirmation(ctx, regTx); err != nil {
				return err
			}
		}
	}

	receipt := &models.PayoutReceipt{
		Timestamp: p.nowMillis(),
		GameID:    gameID,
		Winner:    end.Winner,
		Payout:    end.Payout,
		TxRef:     txRef,
	}
	recordTx, err := p.Ledger.Set(ctx, []ledger.Record{
		{Key: payoutKey(gameID), SchemaID: schemaID,
			Fields: models.EncodePayoutReceiptRecord(receipt)},
	})
	if err != nil {
		return err
	}
	_, err = p.Ledger.WaitForConfirmation(ctx, recordTx)
	return err
}

// ProcessAllUnpaid pays every unpaid conclusion sequentially, pausing
// BatchDelay between items. Per-item failures are captured, never raised.
// When R2 archival is configured the aggregated report is stored as JSON.
func (p *PayoutService) ProcessAllUnpaid(ctx context.Context) []*models.PayoutResult {
	unpaid, err := p.UnpaidGameEnds(ctx)
	if err != nil {
		log.Printf("[Payout Service] failed to list unpaid conclusions: %v", err)
		return nil
	}

	results := make([]*models.PayoutResult, 0, len(unpaid))
	for i, end := range unpaid {
		results = append(results, p.ExecutePayout(ctx, end.GameID))
		if i < len(unpaid)-1 && p.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(p.BatchDelay):
			}
		}
	}

	if len(results) > 0 && utils.R2Enabled() {
		key := fmt.Sprintf("reports/payout-run-%s.json", uuid.NewString())
		if err := utils.UploadJSONToR2(ctx, key, results); err != nil {
			log.Printf("[Payout Service] failed to archive payout report: %v", err)
		} else {
			log.Printf("[Payout Service] archived payout report %s", key)
		}
	}
	return results
}
