// Package registry records policies on the ONCE policy contract.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/util"
)

// Registry writes policies to the on-chain registry
type Registry interface {
	CreatePolicy(ctx context.Context, r PolicyRecord) (string, error)
}

// PolicyRecord is what the contract stores for a policy. Amounts are whole
// MXNB and are scaled to token units when encoded.
type PolicyRecord struct {
	Insured     string
	Beneficiary string
	Name        string
	Age         int
	GenderCode  uint8
	Region      string
	SumAssured  int64
	Premium     int64
}

// GenderCode maps a gender to the contract's encoding
func GenderCode(g model.Gender) uint8 {
	if g == model.GenderMale {
		return 1
	}
	return 0
}

// NewRegistry selects the live or mock adapter
func NewRegistry(cfg model.Config, logger logrus.FieldLogger) (Registry, error) {
	mode := strings.ToLower(cfg.CollaboratorMode(cfg.Registry.Mode))

	switch mode {
	case "mock":
		return NewMock(cfg.Registry.Latency), nil

	case "live":
		rpc, err := NewRPC(cfg.Registry.RPCURL, cfg.Registry.ContractAddress, cfg.Registry.FromAddress,
			util.NewHTTPClient(cfg.Registry.Timeout, cfg.Proxy), logger)
		if err != nil {
			return nil, err
		}
		return rpc, nil

	default:
		return nil, fmt.Errorf("unknown registry mode: %s (supported: mock, live)", cfg.Registry.Mode)
	}
}

// RPC submits transactions through a node's eth_sendTransaction
type RPC struct {
	url        string
	contract   string
	from       string
	httpClient *http.Client
	logger     logrus.FieldLogger
	nextID     atomic.Int64
}

// NewRPC creates the live adapter. The node (or a signing proxy in front
// of it) must hold the key for from.
func NewRPC(url, contract, from string, httpClient *http.Client, logger logrus.FieldLogger) (*RPC, error) {
	if url == "" {
		return nil, fmt.Errorf("invalid registry configuration: rpc url is required")
	}
	if _, err := ParseAddress(contract); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: contract: %w", err)
	}
	if _, err := ParseAddress(from); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: from: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RPC{url: url, contract: contract, from: from, httpClient: httpClient, logger: logger}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CreatePolicy sends the createPolicy transaction and returns its hash
func (r *RPC) CreatePolicy(ctx context.Context, rec PolicyRecord) (string, error) {
	data, err := EncodeCreatePolicy(rec)
	if err != nil {
		return "", fmt.Errorf("encode createPolicy: %w", err)
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      r.nextID.Add(1),
		Method:  "eth_sendTransaction",
		Params: []interface{}{map[string]string{
			"from": r.from,
			"to":   r.contract,
			"data": "0x" + hex.EncodeToString(data),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send rpc request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rpc HTTP %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("unmarshal rpc response: %w", err)
	}
	if out.Error != nil {
		return "", out.Error
	}

	var hash string
	if err := json.Unmarshal(out.Result, &hash); err != nil || !strings.HasPrefix(hash, "0x") {
		return "", fmt.Errorf("unexpected rpc result: %s", string(out.Result))
	}

	r.logger.WithFields(logrus.Fields{"tx": hash, "name": rec.Name}).Info("policy registered on-chain")
	return hash, nil
}

// Mock returns a hash derived from the record after a fixed delay
type Mock struct {
	latency time.Duration
}

// NewMock creates the mock registry
func NewMock(latency time.Duration) *Mock {
	return &Mock{latency: latency}
}

// CreatePolicy returns 0x + sha256 of the record
func (m *Mock) CreatePolicy(ctx context.Context, rec PolicyRecord) (string, error) {
	if m.latency > 0 {
		t := time.NewTimer(m.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d|%s|%d|%d",
		rec.Insured, rec.Beneficiary, rec.Name, rec.Age, rec.GenderCode, rec.Region, rec.SumAssured, rec.Premium)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}
