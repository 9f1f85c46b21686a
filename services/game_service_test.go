package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rps-arena/ledger"
	"rps-arena/models"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

// fakeClock hands out strictly increasing millisecond timestamps so
// timestamp-derived game ids and move keys never collide in tests.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func newFakeClock() *fakeClock {
	return &fakeClock{ms: 1700000000000}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms++
	return time.UnixMilli(c.ms)
}

func newTestGameService(t *testing.T) (*GameService, *ledger.Mock, *ledger.MockSigner) {
	t.Helper()
	mock := ledger.NewMock()
	signer := ledger.NewMockSigner("0x00000000000000000000000000000000000000aa", oneEther(10))
	svc := NewGameService(mock, signer, mock.Publisher)
	svc.Now = newFakeClock().Now
	return svc, mock, signer
}

func oneEther(n int64) *big.Int {
	e, _ := new(big.Int).SetString("1000000000000000000", 10)
	return e.Mul(e, big.NewInt(n))
}

func mustCreate(t *testing.T, svc *GameService, gameType models.GameType, stake *big.Int) *big.Int {
	t.Helper()
	result, err := svc.CreateGame(context.Background(), gameType, stake, alice)
	require.NoError(t, err)
	require.NotNil(t, result.GameID)
	require.NotEmpty(t, result.TxRef)
	return result.GameID
}

func TestCreateGame(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, alice, game.Players[0])
	assert.Equal(t, models.ZeroAddress, game.Players[1])
	assert.Equal(t, oneEther(1), game.Stake)
	assert.True(t, game.IsActive)
	assert.Equal(t, uint8(0), game.RoundsPlayed)
	assert.Equal(t, models.ZeroAddress, game.LastMover)

	// Creation announces itself.
	require.NotEmpty(t, mock.Events)
	assert.Equal(t, GameCreatedEvent, mock.Events[0].ID)
	assert.Equal(t, []string{gameID.String()}, mock.Events[0].Topics)
}

func TestCreateGame_Validation(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	_, err := svc.CreateGame(ctx, models.GameType(7), oneEther(1), alice)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateGame(ctx, models.SingleRound, big.NewInt(0), alice)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateGame(ctx, models.SingleRound, nil, alice)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateGame(ctx, models.SingleRound, oneEther(1), "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateGame(ctx, models.SingleRound, oneEther(1), models.ZeroAddress)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateGame_NoSigner(t *testing.T) {
	mock := ledger.NewMock()
	svc := NewGameService(mock, nil, mock.Publisher)

	_, err := svc.CreateGame(context.Background(), models.SingleRound, oneEther(1), alice)
	assert.ErrorIs(t, err, ledger.ErrSignerUnavailable)
}

func TestJoinGame(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.BestOfThree, oneEther(2))

	txRef, err := svc.JoinGame(ctx, gameID, bob, oneEther(2))
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, bob, game.Players[1])
	assert.True(t, game.IsActive)
}

func TestJoinGame_Conflicts(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))

	// Unknown game.
	_, err := svc.JoinGame(ctx, big.NewInt(42), bob, oneEther(1))
	assert.ErrorIs(t, err, ErrNotFound)

	// Creator joining their own game, case-insensitively.
	_, err = svc.JoinGame(ctx, gameID, alice, oneEther(1))
	assert.ErrorIs(t, err, ErrStateConflict)
	_, err = svc.JoinGame(ctx, gameID, "0X1111111111111111111111111111111111111111", oneEther(1))
	assert.ErrorIs(t, err, ErrStateConflict)

	// Wrong stake.
	_, err = svc.JoinGame(ctx, gameID, bob, oneEther(2))
	assert.ErrorIs(t, err, ErrStateConflict)

	// Full game.
	_, err = svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)
	_, err = svc.JoinGame(ctx, gameID, carol, oneEther(1))
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestSubmitMove_Validation(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Choice(9))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.ChoiceNone)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.SubmitMove(ctx, big.NewInt(42), alice, models.Rock)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SubmitMove(ctx, gameID, carol, models.Rock)
	assert.ErrorIs(t, err, ErrValidation)

	// Same player, twice in a row.
	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	_, err = svc.SubmitMove(ctx, gameID, alice, models.Paper)
	assert.ErrorIs(t, err, ErrStateConflict)
}

// Full single-round lifecycle: create, join, two moves, automatic
// resolution, conclusion record with the fee-adjusted payout.
func TestSingleRoundLifecycle(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	_, err = svc.SubmitMove(ctx, gameID, bob, models.Scissors)
	require.NoError(t, err)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, game.IsActive)
	assert.Equal(t, uint8(1), game.RoundsPlayed)
	assert.Equal(t, [2]uint8{1, 0}, game.Scores)
	assert.Equal(t, [2]models.Choice{models.ChoiceNone, models.ChoiceNone}, game.Choices)
	assert.Equal(t, []models.Choice{models.Rock}, game.Player1Moves)
	assert.Equal(t, []models.Choice{models.Scissors}, game.Player2Moves)

	payouts := NewPayoutService(svc)
	end, err := payouts.GameEndData(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, alice, end.Winner)
	want, _ := new(big.Int).SetString("1900000000000000000", 10)
	assert.Equal(t, want, end.Payout)
	assert.Equal(t, [2]uint8{1, 0}, end.FinalScores)
	assert.True(t, end.HasWinner())

	// Resolution and conclusion were announced.
	var ids []string
	for _, ev := range mock.Events {
		ids = append(ids, ev.ID)
	}
	assert.Contains(t, ids, RoundPlayedEvent)
	assert.Contains(t, ids, GameEndedEvent)

	// Terminal game rejects further moves.
	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	assert.ErrorIs(t, err, ErrStateConflict)
	_, err = svc.JoinGame(ctx, gameID, carol, oneEther(1))
	assert.ErrorIs(t, err, ErrStateConflict)
}

// A drawn single round concludes with the no-winner sentinel and zero payout.
func TestSingleRoundTie(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)
	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	_, err = svc.SubmitMove(ctx, gameID, bob, models.Rock)
	require.NoError(t, err)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, game.IsActive)
	assert.Equal(t, [2]uint8{0, 0}, game.Scores)

	payouts := NewPayoutService(svc)
	end, err := payouts.GameEndData(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, models.ZeroAddress, end.Winner)
	assert.Equal(t, big.NewInt(0).String(), end.Payout.String())
	assert.False(t, end.HasWinner())
}

// Best-of-three with an intervening tie: the series keeps going until a
// player reaches two wins.
func TestBestOfThreeWithTiedRound(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.BestOfThree, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	play := func(a, b models.Choice) {
		t.Helper()
		_, err := svc.SubmitMove(ctx, gameID, alice, a)
		require.NoError(t, err)
		_, err = svc.SubmitMove(ctx, gameID, bob, b)
		require.NoError(t, err)
	}

	play(models.Rock, models.Scissors) // 1-0
	play(models.Paper, models.Paper)   // tie, still 1-0
	play(models.Rock, models.Paper)    // 1-1
	play(models.Scissors, models.Paper)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, game.IsActive)
	assert.Equal(t, uint8(4), game.RoundsPlayed)
	assert.Equal(t, [2]uint8{2, 1}, game.Scores)

	payouts := NewPayoutService(svc)
	end, err := payouts.GameEndData(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, alice, end.Winner)
}

// Choices reset between rounds, so either player may open the next round,
// including the one who closed the previous round.
func TestMoveOrderResetsBetweenRounds(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.BestOfFive, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	_, err = svc.SubmitMove(ctx, gameID, bob, models.Scissors)
	require.NoError(t, err)

	// Bob closed round one but may open round two.
	_, err = svc.SubmitMove(ctx, gameID, bob, models.Rock)
	require.NoError(t, err)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, game.IsActive)
	assert.Equal(t, []models.Choice{models.Scissors, models.Rock}, game.Player2Moves)
}

func TestGetGameByID_NotFound(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	_, err := svc.GetGameByID(context.Background(), big.NewInt(42))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserGames(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	g1 := mustCreate(t, svc, models.SingleRound, oneEther(1))
	g2 := mustCreate(t, svc, models.BestOfThree, oneEther(1))
	_, err := svc.JoinGame(ctx, g1, bob, oneEther(1))
	require.NoError(t, err)

	aliceGames, err := svc.GetUserGames(ctx, alice)
	require.NoError(t, err)
	require.Len(t, aliceGames, 2)
	assert.Equal(t, 0, aliceGames[0].Cmp(g1))
	assert.Equal(t, 0, aliceGames[1].Cmp(g2))

	bobGames, err := svc.GetUserGames(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bobGames, 1)
	assert.Equal(t, 0, bobGames[0].Cmp(g1))

	carolGames, err := svc.GetUserGames(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, carolGames)
}

// Transient read failures are retried, not surfaced.
func TestReadRetriesTransientFailure(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))

	mock.ReadErr = ledger.ErrLedger // fails once, then clears
	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, alice, game.Players[0])
}

// The first-move race: both players read an empty round and commit
// concurrently. Last write wins at the store, so either the round resolved
// or exactly one choice survived; the record never corrupts.
func TestSubmitMove_ConcurrentFirstMovesLastWriteWins(t *testing.T) {
	svc, _, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.SubmitMove(ctx, gameID, bob, models.Scissors)
	}()
	wg.Wait()

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)

	if game.IsActive {
		// Lost update: one commit overwrote the other. Exactly one choice
		// slot survives and the round is still open.
		set := 0
		for _, c := range game.Choices {
			if c != models.ChoiceNone {
				set++
			}
		}
		assert.Equal(t, 1, set)
		assert.Equal(t, uint8(0), game.RoundsPlayed)
	} else {
		// Both commits landed in order and the round resolved.
		assert.Equal(t, uint8(1), game.RoundsPlayed)
	}
}

// commitSecondMoveWithoutResolution reproduces a crash between the second
// choice commit and the resolution commit: the move and state records land
// durably, the resolution never does.
func commitSecondMoveWithoutResolution(t *testing.T, svc *GameService, mock *ledger.Mock, gameID *big.Int, player string, choice models.Choice) {
	t.Helper()
	ctx := context.Background()

	game, err := svc.readGame(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, game)

	idx := game.PlayerIndex(player)
	require.GreaterOrEqual(t, idx, 0)

	ts := game.Timestamp + 1
	game.Timestamp = ts
	game.Choices[idx] = choice
	game.LastMover = player

	moveSchemaID, err := svc.schemaID(ctx, MoveSchema)
	require.NoError(t, err)
	gameSchemaID, err := svc.schemaID(ctx, GameSchema)
	require.NoError(t, err)

	_, err = mock.SetAndEmit(ctx,
		[]ledger.Record{
			{Key: moveKey(gameID, player, ts), SchemaID: moveSchemaID,
				Fields: models.EncodeMoveRecord(ts, gameID, player, choice, game.RoundsPlayed+1)},
			{Key: gameStateKey(gameID), SchemaID: gameSchemaID,
				Fields: models.EncodeGameRecord(game)},
		},
		[]ledger.Event{{ID: PlayerMovedEvent, Topics: []string{gameID.String()}}},
	)
	require.NoError(t, err)
}

// A round left unresolved by a crash is settled by the next move on the
// session instead of wedging it on the already-made-choice check.
func TestSubmitMove_SettlesPendingRoundAfterCrash(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.BestOfThree, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	commitSecondMoveWithoutResolution(t, svc, mock, gameID, bob, models.Scissors)

	// Both choices are durable but the round never resolved.
	game, err := svc.readGame(ctx, gameID)
	require.NoError(t, err)
	require.Equal(t, [2]models.Choice{models.Rock, models.Scissors}, game.Choices)
	require.Equal(t, uint8(0), game.RoundsPlayed)

	// Bob's next move settles the stranded round, then lands as the opener
	// of round two.
	_, err = svc.SubmitMove(ctx, gameID, bob, models.Paper)
	require.NoError(t, err)

	game, err = svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.True(t, game.IsActive)
	assert.Equal(t, uint8(1), game.RoundsPlayed)
	assert.Equal(t, [2]uint8{1, 0}, game.Scores)
	assert.Equal(t, [2]models.Choice{models.ChoiceNone, models.Paper}, game.Choices)
	assert.Equal(t, bob, game.LastMover)
}

// When settling the stranded round concludes the game, the move that
// triggered the settlement is rejected but the conclusion is durable.
func TestSubmitMove_SettlementConcludesSingleRound(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	gameID := mustCreate(t, svc, models.SingleRound, oneEther(1))
	_, err := svc.JoinGame(ctx, gameID, bob, oneEther(1))
	require.NoError(t, err)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Rock)
	require.NoError(t, err)
	commitSecondMoveWithoutResolution(t, svc, mock, gameID, bob, models.Scissors)

	_, err = svc.SubmitMove(ctx, gameID, alice, models.Paper)
	assert.ErrorIs(t, err, ErrStateConflict)

	game, err := svc.GetGameByID(ctx, gameID)
	require.NoError(t, err)
	assert.False(t, game.IsActive)
	assert.Equal(t, [2]uint8{1, 0}, game.Scores)

	payouts := NewPayoutService(svc)
	end, err := payouts.GameEndData(ctx, gameID)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, alice, end.Winner)
}

// Bootstrap races where another instance registered the event schemas first
// are swallowed, not surfaced.
func TestBootstrapAlreadyRegistered(t *testing.T) {
	svc, mock, _ := newTestGameService(t)
	ctx := context.Background()

	other := NewGameService(mock, ledger.NewMockSigner(carol, oneEther(1)), mock.Publisher)
	other.Now = newFakeClock().Now
	_, err := other.CreateGame(ctx, models.SingleRound, oneEther(1), carol)
	require.NoError(t, err)

	// Second instance hits "event schema already registered".
	_, err = svc.CreateGame(ctx, models.SingleRound, oneEther(1), alice)
	require.NoError(t, err)
}
