// models/mirror.go
package models

import (
	"time"
)

// ConclusionMirror is a local read-model row for a GameEnd record. The ledger
// stays authoritative; this table only serves history queries.
// Table name: conclusion_mirror
type ConclusionMirror struct {
	GameID      string    `gorm:"primaryKey;type:varchar(80)" json:"game_id"`
	Winner      string    `gorm:"type:varchar(64);not null;index" json:"winner"`
	Payout      string    `gorm:"type:varchar(80);not null" json:"payout"` // decimal string
	Score1      uint8     `gorm:"not null" json:"score1"`
	Score2      uint8     `gorm:"not null" json:"score2"`
	EndedAt     uint64    `gorm:"not null;index" json:"ended_at"` // ledger timestamp, ms
	Paid        bool      `gorm:"not null;index" json:"paid"`
	PayoutTxRef string    `gorm:"type:varchar(128)" json:"payout_tx_ref"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ConclusionMirror) TableName() string { return "conclusion_mirror" }
