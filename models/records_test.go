package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rps-arena/ledger"
)

func TestParseBigInt(t *testing.T) {
	v, err := ParseBigInt("0")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	// Values beyond 64 bits must survive the string round-trip exactly.
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	v, err = ParseBigInt(huge)
	require.NoError(t, err)
	assert.Equal(t, huge, FormatBigInt(v))

	for _, bad := range []string{"", "-1", "1.5", "0x10", "1e18", "ten"} {
		_, err := ParseBigInt(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestGameRecordRoundTrip(t *testing.T) {
	stake, _ := new(big.Int).SetString("2500000000000000000", 10)
	game := &Game{
		Timestamp:    1700000000123,
		GameID:       big.NewInt(1700000000001),
		Players:      [2]string{"0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222"},
		Stake:        stake,
		GameType:     BestOfFive,
		RoundsPlayed: 3,
		Scores:       [2]uint8{2, 1},
		Choices:      [2]Choice{Rock, ChoiceNone},
		IsActive:     true,
		LastMover:    "0x1111111111111111111111111111111111111111",
	}

	decoded, err := DecodeGameRecord(EncodeGameRecord(game))
	require.NoError(t, err)
	assert.Equal(t, game, decoded)
}

func TestGameEndRecordRoundTrip(t *testing.T) {
	end := &GameEnd{
		Timestamp:   1700000000456,
		GameID:      big.NewInt(1700000000001),
		Winner:      "0x2222222222222222222222222222222222222222",
		Payout:      big.NewInt(1900),
		FinalScores: [2]uint8{1, 2},
	}
	decoded, err := DecodeGameEndRecord(EncodeGameEndRecord(end))
	require.NoError(t, err)
	assert.Equal(t, end, decoded)
	assert.True(t, decoded.HasWinner())

	// Tie conclusion carries the sentinel and no payout.
	tie := &GameEnd{
		Timestamp: 1700000000789,
		GameID:    big.NewInt(7),
		Winner:    ZeroAddress,
		Payout:    big.NewInt(0),
	}
	decoded, err = DecodeGameEndRecord(EncodeGameEndRecord(tie))
	require.NoError(t, err)
	assert.False(t, decoded.HasWinner())
}

func TestPayoutReceiptRecordRoundTrip(t *testing.T) {
	receipt := &PayoutReceipt{
		Timestamp: 1700000001000,
		GameID:    big.NewInt(1700000000001),
		Winner:    "0x1111111111111111111111111111111111111111",
		Payout:    big.NewInt(1900),
		TxRef:     "0xabc123",
	}
	decoded, err := DecodePayoutReceiptRecord(EncodePayoutReceiptRecord(receipt))
	require.NoError(t, err)
	assert.Equal(t, receipt, decoded)
}

func TestMoveRecordRoundTrip(t *testing.T) {
	row := EncodeMoveRecord(1700000000200, big.NewInt(9), "0x1111111111111111111111111111111111111111", Scissors, 2)
	m, err := DecodeMoveRecord(row)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000200), m.Timestamp)
	assert.Equal(t, 0, m.GameID.Cmp(big.NewInt(9)))
	assert.Equal(t, Scissors, m.Choice)
	assert.Equal(t, uint8(2), m.Round)
}

func TestDecodeRejectsMalformedRows(t *testing.T) {
	// Wrong arity.
	_, err := DecodeGameRecord(ledger.Row{"1", "2"})
	assert.Error(t, err)
	_, err = DecodeGameEndRecord(ledger.Row{"1", "2", "3", "4", "5", "6", "7"})
	assert.Error(t, err)

	// Field-level garbage.
	game := &Game{GameID: big.NewInt(1), Stake: big.NewInt(1)}
	row := EncodeGameRecord(game)
	row[11] = "maybe" // isActive
	_, err = DecodeGameRecord(row)
	assert.Error(t, err)

	row = EncodeGameRecord(game)
	row[4] = "-5" // stake
	_, err = DecodeGameRecord(row)
	assert.Error(t, err)
}

func TestParticipantExtraction(t *testing.T) {
	created := EncodeGameCreatedRecord(1700000000300, big.NewInt(12), "0x1111111111111111111111111111111111111111", big.NewInt(100), BestOfThree)
	id, player, err := ParticipantOfCreated(created)
	require.NoError(t, err)
	assert.Equal(t, 0, id.Cmp(big.NewInt(12)))
	assert.Equal(t, "0x1111111111111111111111111111111111111111", player)

	joined := EncodeGameJoinedRecord(1700000000400, big.NewInt(12), "0x2222222222222222222222222222222222222222")
	id, player, err = ParticipantOfJoined(joined)
	require.NoError(t, err)
	assert.Equal(t, 0, id.Cmp(big.NewInt(12)))
	assert.Equal(t, "0x2222222222222222222222222222222222222222", player)
}

func TestEqualAddress(t *testing.T) {
	assert.True(t, EqualAddress("0xAbC1", "0xabc1"))
	assert.False(t, EqualAddress("0xAbC1", "0xabc2"))
}
