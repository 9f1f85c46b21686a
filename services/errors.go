// services/errors.go
package services

import "errors"

// Session and payout failures the request surface translates to statuses.
// Ledger transport failures use the ledger package's own sentinels.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("game not found")
	ErrStateConflict     = errors.New("conflicting game state")
	ErrInsufficientFunds = errors.New("insufficient treasury balance")
)
