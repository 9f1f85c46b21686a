package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rps-arena/ledger"
	"rps-arena/models"
)

func newTestPayoutService(t *testing.T) (*PayoutService, *GameService, *ledger.Mock, *ledger.MockSigner) {
	t.Helper()
	games, mock, signer := newTestGameService(t)
	payouts := NewPayoutService(games)
	payouts.BatchDelay = 0
	return payouts, games, mock, signer
}

// concludeWin plays one single-round game to conclusion with alice winning.
func concludeWin(t *testing.T, games *GameService) *big.Int {
	t.Helper()
	ctx := context.Background()
	gameID := mustCreate(t, games, models.SingleRound, oneEther(1))
	_, err := games.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)
	_, err = games.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	_, err = games.SubmitMove(ctx, gameID, bob, models.Scissors)
	require.NoError(t, err)
	return gameID
}

// concludeTie plays one single-round game to a draw.
func concludeTie(t *testing.T, games *GameService) *big.Int {
	t.Helper()
	ctx := context.Background()
	gameID := mustCreate(t, games, models.SingleRound, oneEther(1))
	_, err := games.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)
	_, err = games.SubmitMove(ctx, gameID, alice, models.Paper)
	require.NoError(t, err)
	_, err = games.SubmitMove(ctx, gameID, bob, models.Paper)
	require.NoError(t, err)
	return gameID
}

func TestExecutePayout(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	gameID := concludeWin(t, games)

	result := payouts.ExecutePayout(ctx, gameID)
	require.True(t, result.Success, "payout failed: %s", result.Error)
	assert.Equal(t, alice, result.Winner)
	want, _ := new(big.Int).SetString("1900000000000000000", 10)
	assert.Equal(t, want, result.Payout)
	assert.NotEmpty(t, result.TxRef)

	// Exactly one transfer, to the winner, for the fee-adjusted amount.
	require.Len(t, signer.Transfers, 1)
	assert.Equal(t, alice, signer.Transfers[0].To)
	assert.Equal(t, want, signer.Transfers[0].Amount)

	paid, err := payouts.IsPayoutExecuted(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, paid)

	receipts, err := payouts.ListReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, 0, receipts[0].GameID.Cmp(gameID))
	assert.Equal(t, result.TxRef, receipts[0].TxRef)
}

func TestExecutePayout_Idempotent(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	gameID := concludeWin(t, games)

	first := payouts.ExecutePayout(ctx, gameID)
	require.True(t, first.Success)

	second := payouts.ExecutePayout(ctx, gameID)
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "already executed")

	// The winner was paid exactly once.
	assert.Len(t, signer.Transfers, 1)
}

func TestExecutePayout_NoConclusion(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	// Game exists but has not concluded.
	gameID := mustCreate(t, games, models.SingleRound, oneEther(1))

	result := payouts.ExecutePayout(ctx, gameID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "game end data not found")
	assert.Empty(t, signer.Transfers)
}

func TestExecutePayout_NoWinner(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	gameID := concludeTie(t, games)

	result := payouts.ExecutePayout(ctx, gameID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no winner or zero payout")
	assert.Empty(t, signer.Transfers)

	// A tied conclusion is not owed anything, so it never shows as unpaid.
	unpaid, err := payouts.UnpaidGameEnds(ctx)
	require.NoError(t, err)
	assert.Empty(t, unpaid)
}

func TestExecutePayout_InsufficientFunds(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	gameID := concludeWin(t, games)
	signer.Funds = big.NewInt(5) // far below the owed 1.9 ether

	result := payouts.ExecutePayout(ctx, gameID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ErrInsufficientFunds.Error())
	assert.Empty(t, signer.Transfers)

	// The debt survives the failure and clears once the float is topped up.
	unpaid, err := payouts.UnpaidGameEnds(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)

	signer.Funds = oneEther(5)
	retry := payouts.ExecutePayout(ctx, gameID)
	assert.True(t, retry.Success)
}

func TestExecutePayout_TransferFailure(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	gameID := concludeWin(t, games)
	signer.TransferErr = ledger.ErrLedger

	result := payouts.ExecutePayout(ctx, gameID)
	assert.False(t, result.Success)

	// No receipt was written, so the payout stays owed.
	paid, err := payouts.IsPayoutExecuted(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, paid)

	retry := payouts.ExecutePayout(ctx, gameID)
	assert.True(t, retry.Success)
	assert.Len(t, signer.Transfers, 1)
}

func TestExecutePayout_NoSigner(t *testing.T) {
	payouts, _, _, _ := newTestPayoutService(t)
	payouts.Signer = nil

	result := payouts.ExecutePayout(context.Background(), big.NewInt(42))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ledger.ErrSignerUnavailable.Error())
}

func TestUnpaidGameEnds(t *testing.T) {
	payouts, games, _, _ := newTestPayoutService(t)
	ctx := context.Background()

	winA := concludeWin(t, games)
	concludeTie(t, games)
	winB := concludeWin(t, games)

	unpaid, err := payouts.UnpaidGameEnds(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 2)
	assert.Equal(t, 0, unpaid[0].GameID.Cmp(winA))
	assert.Equal(t, 0, unpaid[1].GameID.Cmp(winB))

	// Paying one removes it from the listing.
	require.True(t, payouts.ExecutePayout(ctx, winA).Success)
	unpaid, err = payouts.UnpaidGameEnds(ctx)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, 0, unpaid[0].GameID.Cmp(winB))
}

func TestProcessAllUnpaid(t *testing.T) {
	payouts, games, _, signer := newTestPayoutService(t)
	ctx := context.Background()

	concludeWin(t, games)
	concludeWin(t, games)
	concludeTie(t, games)

	results := payouts.ProcessAllUnpaid(ctx)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, "payout failed: %s", r.Error)
	}
	assert.Len(t, signer.Transfers, 2)

	// Nothing left on the second run.
	assert.Empty(t, payouts.ProcessAllUnpaid(ctx))
}

func TestListConclusionsOrdering(t *testing.T) {
	payouts, games, _, _ := newTestPayoutService(t)
	ctx := context.Background()

	first := concludeWin(t, games)
	second := concludeWin(t, games)

	ends, err := payouts.ListConclusions(ctx)
	require.NoError(t, err)
	require.Len(t, ends, 2)
	assert.Equal(t, 0, ends[0].GameID.Cmp(first))
	assert.Equal(t, 0, ends[1].GameID.Cmp(second))
	assert.Less(t, ends[0].Timestamp, ends[1].Timestamp)
}
