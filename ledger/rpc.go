// ledger/rpc.go — HTTP client for the streams gateway and its wallet service
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RPCClient talks to a streams gateway node over HTTP. It implements Client.
type RPCClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// ConfirmPollInterval is how often WaitForConfirmation re-checks a
	// pending transaction. The overall bound comes from the caller's context.
	ConfirmPollInterval time.Duration
}

func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		ConfirmPollInterval: 2 * time.Second,
	}
}

func (c *RPCClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrLedger, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrLedger, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedger, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyRegistered
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: gateway returned status %d: %s", ErrLedger, resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrLedger, err)
		}
	}
	return nil
}

// errNotFound is internal to the transport: callers see nil rows instead.
var errNotFound = fmt.Errorf("record not found")

func (c *RPCClient) ComputeSchemaID(ctx context.Context, schema string) (string, error) {
	var out struct {
		SchemaID string `json:"schema_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/schemas/id", map[string]string{"schema": schema}, &out)
	if err != nil {
		return "", err
	}
	return out.SchemaID, nil
}

func (c *RPCClient) IsSchemaRegistered(ctx context.Context, schemaID string) (bool, error) {
	var out struct {
		Registered bool `json:"registered"`
	}
	path := "/v1/schemas/" + url.PathEscape(schemaID) + "/registered"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

func (c *RPCClient) RegisterSchemas(ctx context.Context, defs []SchemaDef) (string, error) {
	var out struct {
		TxRef string `json:"tx_ref"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/schemas/register", map[string]any{"schemas": defs}, &out)
	if err != nil {
		return "", err
	}
	return out.TxRef, nil
}

func (c *RPCClient) RegisterEventSchemas(ctx context.Context, defs []EventDef) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/events/register", map[string]any{"events": defs}, nil)
}

func (c *RPCClient) GetByKey(ctx context.Context, schemaID, publisher, key string) (Row, error) {
	var out struct {
		Fields Row `json:"fields"`
	}
	path := fmt.Sprintf("/v1/records/%s/%s/%s",
		url.PathEscape(schemaID), url.PathEscape(publisher), url.PathEscape(key))
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Fields, nil
}

func (c *RPCClient) GetAllForSchema(ctx context.Context, schemaID, publisher string) ([]Row, error) {
	var out struct {
		Rows []Row `json:"rows"`
	}
	path := fmt.Sprintf("/v1/records/%s/%s", url.PathEscape(schemaID), url.PathEscape(publisher))
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

func (c *RPCClient) SetAndEmit(ctx context.Context, records []Record, events []Event) (string, error) {
	var out struct {
		TxRef string `json:"tx_ref"`
	}
	in := map[string]any{"records": records, "events": events}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/records/set-and-emit", in, &out); err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: gateway accepted write without a tx ref", ErrLedger)
	}
	return out.TxRef, nil
}

func (c *RPCClient) Set(ctx context.Context, records []Record) (string, error) {
	var out struct {
		TxRef string `json:"tx_ref"`
	}
	in := map[string]any{"records": records}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/records/set", in, &out); err != nil {
		return "", err
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("%w: gateway accepted write without a tx ref", ErrLedger)
	}
	return out.TxRef, nil
}

// WaitForConfirmation polls the gateway until the transaction reaches
// finality or ctx expires. Callers bound the wait with their context.
func (c *RPCClient) WaitForConfirmation(ctx context.Context, txRef string) (*Receipt, error) {
	path := "/v1/tx/" + url.PathEscape(txRef) + "/receipt"
	for {
		var out Receipt
		err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
		if err == nil && out.Status == "confirmed" {
			return &out, nil
		}
		if err == nil && out.Status == "failed" {
			return nil, fmt.Errorf("%w: tx %s reverted", ErrLedger, txRef)
		}
		if err != nil && err != errNotFound {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: tx %s", ErrTimeout, txRef)
		case <-time.After(c.ConfirmPollInterval):
		}
	}
}

// RPCSigner drives a node-managed account over the same gateway: it exposes
// the publisher address and submits native value transfers.
type RPCSigner struct {
	BaseURL    string
	Addr       string
	HTTPClient *http.Client
}

func NewRPCSigner(baseURL, address string) *RPCSigner {
	return &RPCSigner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Addr:    address,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *RPCSigner) Address() string { return s.Addr }

func (s *RPCSigner) Balance(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.BaseURL+"/v1/wallet/"+url.PathEscape(s.Addr)+"/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrLedger, err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: balance query returned status %d", ErrLedger, resp.StatusCode)
	}

	var out struct {
		Balance string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode balance: %v", ErrLedger, err)
	}
	bal, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed balance %q", ErrLedger, out.Balance)
	}
	return bal, nil
}

func (s *RPCSigner) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"from":   s.Addr,
		"to":     to,
		"amount": amount.String(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode transfer: %v", ErrLedger, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.BaseURL+"/v1/wallet/transfer", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrLedger, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLedger, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: transfer returned status %d: %s", ErrLedger, resp.StatusCode, string(body))
	}

	var out struct {
		TxRef string `json:"tx_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode transfer response: %v", ErrLedger, err)
	}
	return out.TxRef, nil
}
