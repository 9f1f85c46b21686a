// services/schemas.go — data-stream schemas and record keys
package services

import (
	"fmt"
	"math/big"
)

// Schema strings registered with the store. The declared field order is the
// wire contract the codecs in models/records.go implement.
const (
	GameSchema = "uint64 timestamp, uint256 gameId, address player1, address player2, uint256 stake, uint8 gameType, uint8 roundsPlayed, uint8[2] scores, uint8[2] currentChoices, bool isActive, address lastPlayerMove"

	GameCreatedSchema = "uint64 timestamp, uint256 gameId, address player1, uint256 stake, uint8 gameType"

	GameJoinedSchema = "uint64 timestamp, uint256 gameId, address player2"

	MoveSchema = "uint64 timestamp, uint256 gameId, address player, uint8 choice, uint8 roundNumber"

	RoundResultSchema = "uint64 timestamp, uint256 gameId, uint8 roundNumber, uint8 player1Choice, uint8 player2Choice, uint8 winnerIndex"

	GameEndSchema = "uint64 timestamp, uint256 gameId, address winner, uint256 payout, uint8[2] finalScores"

	PayoutExecutedSchema = "uint64 timestamp, uint256 gameId, address winner, uint256 payout, bytes32 txHash"
)

// Event schema ids emitted alongside record writes.
const (
	GameCreatedEvent = "GameCreated"
	GameJoinedEvent  = "GameJoined"
	PlayerMovedEvent = "PlayerMoved"
	RoundPlayedEvent = "RoundPlayed"
	GameEndedEvent   = "GameEnded"
)

func gameStateKey(gameID *big.Int) string {
	return fmt.Sprintf("game-%s", gameID)
}

func gameCreatedKey(gameID *big.Int) string {
	return fmt.Sprintf("created-%s", gameID)
}

func gameJoinedKey(gameID *big.Int) string {
	return fmt.Sprintf("joined-%s", gameID)
}

func moveKey(gameID *big.Int, player string, ts uint64) string {
	return fmt.Sprintf("move-%s-%s-%d", gameID, player, ts)
}

func roundResultKey(gameID *big.Int, round uint8) string {
	return fmt.Sprintf("round-%s-%d", gameID, round)
}

func gameEndKey(gameID *big.Int) string {
	return fmt.Sprintf("end-%s", gameID)
}

func payoutKey(gameID *big.Int) string {
	return fmt.Sprintf("payout-%s", gameID)
}
