// services/round.go — pure round resolution and payout math
package services

import (
	"math/big"

	"rps-arena/models"
)

// RoundWinner returns 0 or 1 for the winning slot, or models.TieRound when
// both players chose the same move.
func RoundWinner(c1, c2 models.Choice) uint8 {
	if c1 == c2 {
		return models.TieRound
	}
	switch {
	case c1 == models.Rock && c2 == models.Scissors,
		c1 == models.Paper && c2 == models.Rock,
		c1 == models.Scissors && c2 == models.Paper:
		return 0
	default:
		return 1
	}
}

// GameOver applies the completion rule for the game type.
func GameOver(t models.GameType, scores [2]uint8, roundsPlayed uint8) bool {
	switch t {
	case models.SingleRound:
		return roundsPlayed >= 1
	case models.BestOfThree:
		return scores[0] >= 2 || scores[1] >= 2
	default: // BestOfFive
		return scores[0] >= 3 || scores[1] >= 3
	}
}

// WinnerByScore picks the player with the strictly greater final score, or
// the no-winner sentinel on a tie.
func WinnerByScore(players [2]string, scores [2]uint8) string {
	if scores[0] > scores[1] {
		return players[0]
	}
	if scores[1] > scores[0] {
		return players[1]
	}
	return models.ZeroAddress
}

var (
	payoutNumerator   = big.NewInt(2 * 9500)
	payoutDenominator = big.NewInt(10000)
)

// PayoutAmount is the winner's share of the doubled stake after the 5% fee:
// floor(stake * 2 * 9500 / 10000).
func PayoutAmount(stake *big.Int) *big.Int {
	out := new(big.Int).Mul(stake, payoutNumerator)
	return out.Quo(out, payoutDenominator)
}
