// ledger/mock.go — in-memory store + signer used by tests
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// Mock is an in-memory Client with last-write-wins key semantics, matching
// the store the engine runs against. Zero value is not usable; call NewMock.
type Mock struct {
	mu sync.Mutex

	// Publisher is the address writes are attributed to; reads for any other
	// publisher see nothing.
	Publisher string

	schemas      map[string]bool // registered data schema ids
	eventSchemas map[string]bool
	records      map[string]Row // schemaID|publisher|key -> fields
	txSeq        int

	// Writes and events in submission order, for assertions.
	Events []Event

	// Error knobs. When set, the corresponding call fails once and the knob
	// is cleared.
	SetErr      error
	ReadErr     error
	ConfirmErr  error
	RegisterErr error
}

func NewMock() *Mock {
	return &Mock{
		Publisher:    "0x00000000000000000000000000000000000000aa",
		schemas:      make(map[string]bool),
		eventSchemas: make(map[string]bool),
		records:      make(map[string]Row),
	}
}

func recordKey(schemaID, publisher, key string) string {
	return schemaID + "|" + publisher + "|" + key
}

func (m *Mock) ComputeSchemaID(_ context.Context, schema string) (string, error) {
	sum := sha256.Sum256([]byte(schema))
	return "0x" + hex.EncodeToString(sum[:8]), nil
}

func (m *Mock) IsSchemaRegistered(_ context.Context, schemaID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemas[schemaID], nil
}

func (m *Mock) RegisterSchemas(ctx context.Context, defs []SchemaDef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RegisterErr != nil {
		err := m.RegisterErr
		m.RegisterErr = nil
		return "", err
	}
	for _, d := range defs {
		id, _ := m.ComputeSchemaID(ctx, d.Schema)
		m.schemas[id] = true
	}
	return m.nextTxLocked(), nil
}

func (m *Mock) RegisterEventSchemas(_ context.Context, defs []EventDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range defs {
		if m.eventSchemas[d.ID] {
			return fmt.Errorf("%w: event schema %s", ErrAlreadyRegistered, d.ID)
		}
	}
	for _, d := range defs {
		m.eventSchemas[d.ID] = true
	}
	return nil
}

func (m *Mock) GetByKey(_ context.Context, schemaID, publisher, key string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		err := m.ReadErr
		m.ReadErr = nil
		return nil, err
	}
	row, ok := m.records[recordKey(schemaID, publisher, key)]
	if !ok {
		return nil, nil
	}
	out := make(Row, len(row))
	copy(out, row)
	return out, nil
}

func (m *Mock) GetAllForSchema(_ context.Context, schemaID, publisher string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		err := m.ReadErr
		m.ReadErr = nil
		return nil, err
	}
	prefix := schemaID + "|" + publisher + "|"
	var rows []Row
	for k, row := range m.records {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out := make(Row, len(row))
			copy(out, row)
			rows = append(rows, out)
		}
	}
	return rows, nil
}

func (m *Mock) SetAndEmit(_ context.Context, records []Record, events []Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		err := m.SetErr
		m.SetErr = nil
		return "", err
	}
	for _, r := range records {
		m.records[recordKey(r.SchemaID, m.Publisher, r.Key)] = r.Fields
	}
	m.Events = append(m.Events, events...)
	return m.nextTxLocked(), nil
}

func (m *Mock) Set(ctx context.Context, records []Record) (string, error) {
	return m.SetAndEmit(ctx, records, nil)
}

func (m *Mock) WaitForConfirmation(_ context.Context, txRef string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConfirmErr != nil {
		err := m.ConfirmErr
		m.ConfirmErr = nil
		return nil, err
	}
	return &Receipt{TxRef: txRef, Status: "confirmed"}, nil
}

func (m *Mock) nextTxLocked() string {
	m.txSeq++
	return fmt.Sprintf("0xmocktx%04d", m.txSeq)
}

// MockTransfer is one value transfer issued through MockSigner.
type MockTransfer struct {
	To     string
	Amount *big.Int
}

// MockSigner is an in-memory Signer with a fixed balance.
type MockSigner struct {
	mu sync.Mutex

	Addr        string
	Funds       *big.Int
	Transfers   []MockTransfer
	TransferErr error
}

func NewMockSigner(address string, funds *big.Int) *MockSigner {
	return &MockSigner{Addr: address, Funds: new(big.Int).Set(funds)}
}

func (s *MockSigner) Address() string { return s.Addr }

func (s *MockSigner) Balance(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.Funds), nil
}

func (s *MockSigner) Transfer(_ context.Context, to string, amount *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TransferErr != nil {
		err := s.TransferErr
		s.TransferErr = nil
		return "", err
	}
	s.Funds.Sub(s.Funds, amount)
	s.Transfers = append(s.Transfers, MockTransfer{To: to, Amount: new(big.Int).Set(amount)})
	return fmt.Sprintf("0xmockpay%04d", len(s.Transfers)), nil
}
