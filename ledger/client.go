// ledger/client.go — contracts for the append-only data-stream store
package ledger

import (
	"context"
	"errors"
	"math/big"
)

// Row is one decoded record: ordered fields, big integers as decimal strings.
type Row []string

// Record is one keyed write targeting a registered schema.
type Record struct {
	Key      string `json:"key"`
	SchemaID string `json:"schema_id"`
	Fields   Row    `json:"fields"`
}

// Event is emitted atomically with the records of a SetAndEmit call.
type Event struct {
	ID     string   `json:"id"`
	Topics []string `json:"topics"`
}

type SchemaDef struct {
	ID     string `json:"id"`
	Schema string `json:"schema"`
}

type EventDef struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// Receipt is the finality proof for a submitted transaction.
type Receipt struct {
	TxRef       string `json:"tx_ref"`
	BlockNumber uint64 `json:"block_number"`
	Status      string `json:"status"`
}

var (
	ErrLedger            = errors.New("ledger transaction failed")
	ErrTimeout           = errors.New("confirmation wait timed out")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrSignerUnavailable = errors.New("signing key not configured")
)

// Client is the data-stream store the engine runs against. Writes return a
// transaction reference; nothing is durable until WaitForConfirmation
// succeeds for that reference. Reads are eventually consistent.
type Client interface {
	ComputeSchemaID(ctx context.Context, schema string) (string, error)
	IsSchemaRegistered(ctx context.Context, schemaID string) (bool, error)
	// RegisterSchemas returns the registration txRef, or "" when nothing
	// needed registering. ErrAlreadyRegistered is a per-schema condition the
	// caller may swallow.
	RegisterSchemas(ctx context.Context, defs []SchemaDef) (string, error)
	RegisterEventSchemas(ctx context.Context, defs []EventDef) error
	// GetByKey returns nil with no error when the key has never been written.
	GetByKey(ctx context.Context, schemaID, publisher, key string) (Row, error)
	GetAllForSchema(ctx context.Context, schemaID, publisher string) ([]Row, error)
	SetAndEmit(ctx context.Context, records []Record, events []Event) (string, error)
	Set(ctx context.Context, records []Record) (string, error)
	WaitForConfirmation(ctx context.Context, txRef string) (*Receipt, error)
}

// Signer is the funded identity that publishes records and pays winners.
type Signer interface {
	Address() string
	Balance(ctx context.Context) (*big.Int, error)
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}
