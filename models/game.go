// models/game.go
package models

import (
	"math/big"
	"strings"
)

// GameType selects the completion rule of a session.
type GameType uint8

const (
	SingleRound GameType = 0
	BestOfThree GameType = 1
	BestOfFive  GameType = 2
)

func (t GameType) Valid() bool {
	return t <= BestOfFive
}

// Choice is a player's move for one round. 0 means not yet chosen.
type Choice uint8

const (
	ChoiceNone Choice = 0
	Rock       Choice = 1
	Paper      Choice = 2
	Scissors   Choice = 3
)

func (c Choice) Valid() bool {
	return c >= Rock && c <= Scissors
}

// ZeroAddress doubles as the empty-player-slot sentinel and the no-winner
// sentinel of a tied GameEnd. Disambiguate by context, never by comparing a
// winner field against a player slot.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TieRound is the winnerIndex sentinel for a drawn round.
const TieRound uint8 = 255

// Game is the authoritative session record. Terminal once IsActive is false.
type Game struct {
	Timestamp    uint64    `json:"timestamp"`
	GameID       *big.Int  `json:"gameId"`
	Players      [2]string `json:"players"`
	Stake        *big.Int  `json:"stake"`
	GameType     GameType  `json:"gameType"`
	RoundsPlayed uint8     `json:"roundsPlayed"`
	Scores       [2]uint8  `json:"scores"`
	Choices      [2]Choice `json:"choices"`
	IsActive     bool      `json:"isActive"`
	LastMover    string    `json:"lastPlayerMove"`

	// Per-player move history, reconstructed from move records on reads.
	Player1Moves []Choice `json:"player1Moves,omitempty"`
	Player2Moves []Choice `json:"player2Moves,omitempty"`
}

// HasOpponent reports whether the second slot has been filled.
func (g *Game) HasOpponent() bool {
	return g.Players[1] != ZeroAddress
}

// PlayerIndex returns the slot of the given address, or -1.
func (g *Game) PlayerIndex(addr string) int {
	for i, p := range g.Players {
		if EqualAddress(p, addr) {
			return i
		}
	}
	return -1
}

// RoundResult is the immutable outcome of one resolved round.
type RoundResult struct {
	Timestamp   uint64    `json:"timestamp"`
	GameID      *big.Int  `json:"gameId"`
	RoundNumber uint8     `json:"roundNumber"`
	Choices     [2]Choice `json:"choices"`
	WinnerIndex uint8     `json:"winnerIndex"` // 0, 1 or TieRound
}

// GameEnd is written once when a session concludes; never mutated.
type GameEnd struct {
	Timestamp   uint64   `json:"timestamp"`
	GameID      *big.Int `json:"gameId"`
	Winner      string   `json:"winner"`
	Payout      *big.Int `json:"payout"`
	FinalScores [2]uint8 `json:"finalScores"`
}

// HasWinner is the only sanctioned disambiguation of the winner sentinel.
func (e *GameEnd) HasWinner() bool {
	return e.Winner != ZeroAddress && e.Payout != nil && e.Payout.Sign() > 0
}

// PayoutReceipt marks a payout as executed. Its existence is the sole source
// of truth for "already paid"; once written it is never rewritten.
type PayoutReceipt struct {
	Timestamp uint64   `json:"timestamp"`
	GameID    *big.Int `json:"gameId"`
	Winner    string   `json:"winner"`
	Payout    *big.Int `json:"payout"`
	TxRef     string   `json:"txRef"`
}

// PayoutResult is the per-item outcome of a payout attempt. Failures carry a
// reason instead of an error so batch drivers keep going.
type PayoutResult struct {
	Success bool     `json:"success"`
	GameID  *big.Int `json:"gameId"`
	Winner  string   `json:"winner"`
	Payout  *big.Int `json:"payout"`
	TxRef   string   `json:"txHash,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// EqualAddress compares addresses case-insensitively; the store returns
// checksummed casing while request payloads may not.
func EqualAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
