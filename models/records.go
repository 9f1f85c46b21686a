// models/records.go — positional wire codecs for ledger rows
//
// Field order is the wire contract. Big integers travel as decimal strings
// and must round-trip exactly; fixed-size pairs (scores, choices) occupy two
// consecutive cells.
package models

import (
	"fmt"
	"math/big"
	"strconv"

	"rps-arena/ledger"
)

// GameRecord layout:
// [timestamp, gameId, player1, player2, stake, gameType, roundsPlayed,
//  score0, score1, choice0, choice1, isActive, lastMover]
const gameRecordLen = 13

// GameEndRecord layout: [timestamp, gameId, winner, payout, score0, score1]
const gameEndRecordLen = 6

// PayoutReceiptRecord layout: [timestamp, gameId, winner, payout, txRef]
const payoutReceiptRecordLen = 5

// MoveRecord layout: [timestamp, gameId, player, choice, roundNumber]
const moveRecordLen = 5

// GameCreatedRecord layout: [timestamp, gameId, player1, stake, gameType]
const gameCreatedRecordLen = 5

// GameJoinedRecord layout: [timestamp, gameId, player2]
const gameJoinedRecordLen = 3

// ParseBigInt parses a non-negative decimal string into a big.Int. It is the
// single entry point for every large-integer field crossing a boundary, so
// the round-trip with FormatBigInt is exact.
func ParseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty big integer")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed decimal integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %q not allowed", s)
	}
	return v, nil
}

func FormatBigInt(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseUint8(s, field string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", field, err)
	}
	return uint8(v), nil
}

func parseUint64(s, field string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", field, err)
	}
	return v, nil
}

func parseBool(s, field string) (bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("field %s: %v", field, err)
	}
	return v, nil
}

func EncodeGameRecord(g *Game) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(g.Timestamp, 10),
		FormatBigInt(g.GameID),
		g.Players[0],
		g.Players[1],
		FormatBigInt(g.Stake),
		strconv.FormatUint(uint64(g.GameType), 10),
		strconv.FormatUint(uint64(g.RoundsPlayed), 10),
		strconv.FormatUint(uint64(g.Scores[0]), 10),
		strconv.FormatUint(uint64(g.Scores[1]), 10),
		strconv.FormatUint(uint64(g.Choices[0]), 10),
		strconv.FormatUint(uint64(g.Choices[1]), 10),
		strconv.FormatBool(g.IsActive),
		g.LastMover,
	}
}

func DecodeGameRecord(row ledger.Row) (*Game, error) {
	if len(row) != gameRecordLen {
		return nil, fmt.Errorf("game record has %d fields, want %d", len(row), gameRecordLen)
	}
	ts, err := parseUint64(row[0], "timestamp")
	if err != nil {
		return nil, err
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, fmt.Errorf("field gameId: %v", err)
	}
	stake, err := ParseBigInt(row[4])
	if err != nil {
		return nil, fmt.Errorf("field stake: %v", err)
	}
	gameType, err := parseUint8(row[5], "gameType")
	if err != nil {
		return nil, err
	}
	rounds, err := parseUint8(row[6], "roundsPlayed")
	if err != nil {
		return nil, err
	}
	score0, err := parseUint8(row[7], "scores[0]")
	if err != nil {
		return nil, err
	}
	score1, err := parseUint8(row[8], "scores[1]")
	if err != nil {
		return nil, err
	}
	choice0, err := parseUint8(row[9], "choices[0]")
	if err != nil {
		return nil, err
	}
	choice1, err := parseUint8(row[10], "choices[1]")
	if err != nil {
		return nil, err
	}
	active, err := parseBool(row[11], "isActive")
	if err != nil {
		return nil, err
	}

	return &Game{
		Timestamp:    ts,
		GameID:       id,
		Players:      [2]string{row[2], row[3]},
		Stake:        stake,
		GameType:     GameType(gameType),
		RoundsPlayed: rounds,
		Scores:       [2]uint8{score0, score1},
		Choices:      [2]Choice{Choice(choice0), Choice(choice1)},
		IsActive:     active,
		LastMover:    row[12],
	}, nil
}

func EncodeGameEndRecord(e *GameEnd) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(e.Timestamp, 10),
		FormatBigInt(e.GameID),
		e.Winner,
		FormatBigInt(e.Payout),
		strconv.FormatUint(uint64(e.FinalScores[0]), 10),
		strconv.FormatUint(uint64(e.FinalScores[1]), 10),
	}
}

func DecodeGameEndRecord(row ledger.Row) (*GameEnd, error) {
	if len(row) != gameEndRecordLen {
		return nil, fmt.Errorf("game end record has %d fields, want %d", len(row), gameEndRecordLen)
	}
	ts, err := parseUint64(row[0], "timestamp")
	if err != nil {
		return nil, err
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, fmt.Errorf("field gameId: %v", err)
	}
	payout, err := ParseBigInt(row[3])
	if err != nil {
		return nil, fmt.Errorf("field payout: %v", err)
	}
	score0, err := parseUint8(row[4], "finalScores[0]")
	if err != nil {
		return nil, err
	}
	score1, err := parseUint8(row[5], "finalScores[1]")
	if err != nil {
		return nil, err
	}
	return &GameEnd{
		Timestamp:   ts,
		GameID:      id,
		Winner:      row[2],
		Payout:      payout,
		FinalScores: [2]uint8{score0, score1},
	}, nil
}

func EncodePayoutReceiptRecord(r *PayoutReceipt) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(r.Timestamp, 10),
		FormatBigInt(r.GameID),
		r.Winner,
		FormatBigInt(r.Payout),
		r.TxRef,
	}
}

func DecodePayoutReceiptRecord(row ledger.Row) (*PayoutReceipt, error) {
	if len(row) != payoutReceiptRecordLen {
		return nil, fmt.Errorf("payout receipt record has %d fields, want %d", len(row), payoutReceiptRecordLen)
	}
	ts, err := parseUint64(row[0], "timestamp")
	if err != nil {
		return nil, err
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, fmt.Errorf("field gameId: %v", err)
	}
	payout, err := ParseBigInt(row[3])
	if err != nil {
		return nil, fmt.Errorf("field payout: %v", err)
	}
	return &PayoutReceipt{
		Timestamp: ts,
		GameID:    id,
		Winner:    row[2],
		Payout:    payout,
		TxRef:     row[4],
	}, nil
}

func EncodeMoveRecord(ts uint64, gameID *big.Int, player string, choice Choice, round uint8) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(ts, 10),
		FormatBigInt(gameID),
		player,
		strconv.FormatUint(uint64(choice), 10),
		strconv.FormatUint(uint64(round), 10),
	}
}

// DecodedMove is one row of the move schema.
type DecodedMove struct {
	Timestamp uint64
	GameID    *big.Int
	Player    string
	Choice    Choice
	Round     uint8
}

func DecodeMoveRecord(row ledger.Row) (*DecodedMove, error) {
	if len(row) != moveRecordLen {
		return nil, fmt.Errorf("move record has %d fields, want %d", len(row), moveRecordLen)
	}
	ts, err := parseUint64(row[0], "timestamp")
	if err != nil {
		return nil, err
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, fmt.Errorf("field gameId: %v", err)
	}
	choice, err := parseUint8(row[3], "choice")
	if err != nil {
		return nil, err
	}
	round, err := parseUint8(row[4], "roundNumber")
	if err != nil {
		return nil, err
	}
	return &DecodedMove{
		Timestamp: ts,
		GameID:    id,
		Player:    row[2],
		Choice:    Choice(choice),
		Round:     round,
	}, nil
}

func EncodeGameCreatedRecord(ts uint64, gameID *big.Int, player1 string, stake *big.Int, gameType GameType) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(ts, 10),
		FormatBigInt(gameID),
		player1,
		FormatBigInt(stake),
		strconv.FormatUint(uint64(gameType), 10),
	}
}

func EncodeGameJoinedRecord(ts uint64, gameID *big.Int, player2 string) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(ts, 10),
		FormatBigInt(gameID),
		player2,
	}
}

func EncodeRoundResultRecord(r *RoundResult) ledger.Row {
	return ledger.Row{
		strconv.FormatUint(r.Timestamp, 10),
		FormatBigInt(r.GameID),
		strconv.FormatUint(uint64(r.RoundNumber), 10),
		strconv.FormatUint(uint64(r.Choices[0]), 10),
		strconv.FormatUint(uint64(r.Choices[1]), 10),
		strconv.FormatUint(uint64(r.WinnerIndex), 10),
	}
}

// ParticipantOfCreated extracts (gameId, player) from a created record row.
func ParticipantOfCreated(row ledger.Row) (*big.Int, string, error) {
	if len(row) != gameCreatedRecordLen {
		return nil, "", fmt.Errorf("game created record has %d fields, want %d", len(row), gameCreatedRecordLen)
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, "", fmt.Errorf("field gameId: %v", err)
	}
	return id, row[2], nil
}

// ParticipantOfJoined extracts (gameId, player) from a joined record row.
func ParticipantOfJoined(row ledger.Row) (*big.Int, string, error) {
	if len(row) != gameJoinedRecordLen {
		return nil, "", fmt.Errorf("game joined record has %d fields, want %d", len(row), gameJoinedRecordLen)
	}
	id, err := ParseBigInt(row[1])
	if err != nil {
		return nil, "", fmt.Errorf("field gameId: %v", err)
	}
	return id, row[2], nil
}
