package juno

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/worker"
)

// ClientConfig configures the live gateway client
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	RateLimit float64 // requests per second
}

// Client is the live gateway adapter
type Client struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
	limiter    *worker.Limiter
	logger     logrus.FieldLogger
}

// envelope is the gateway's response wrapper
type envelope struct {
	Success *bool           `json:"success"`
	Payload json.RawMessage `json:"payload"`
	Error   *APIError       `json:"error"`
}

// NewClient creates a live client
func NewClient(cfg ClientConfig, httpClient *http.Client, clk clock.Clock, logger logrus.FieldLogger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid juno configuration: api key, api secret and base url are required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		signer:     NewSigner(cfg.APIKey, cfg.APISecret, clk),
		httpClient: httpClient,
		limiter:    worker.NewLimiter(rps, int(rps)+1),
		logger:     logger,
	}, nil
}

// do sends a signed request and decodes the payload into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if err := c.limiter.WaitURL(ctx, fullURL); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.signer.Sign(req, path, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("juno request")

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (env.Success != nil && !*env.Success) {
		apiErr := &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		if env.Error != nil {
			if env.Error.Code != "" {
				apiErr.Code = env.Error.Code
			}
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	data := raw
	if len(env.Payload) > 0 {
		data = env.Payload
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// decodeList accepts a bare array or an object holding the array under key
func decodeList(raw json.RawMessage, key string, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("unmarshal list: %w", err)
	}
	inner, ok := obj[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(inner, out)
}

// CreateDepositAccount opens a CLABE
func (c *Client) CreateDepositAccount(ctx context.Context, alias string) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodPost, "/clabes", map[string]string{"alias": alias}, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListDeposits lists deposits, optionally for one account
func (c *Client) ListDeposits(ctx context.Context, accountID string) ([]Deposit, error) {
	path := "/deposits"
	if accountID != "" {
		path += "?clabe_id=" + url.QueryEscape(accountID)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	deposits := []Deposit{}
	if err := decodeList(raw, "deposits", &deposits); err != nil {
		return nil, err
	}
	return deposits, nil
}

// CreateMockDeposit asks the sandbox to simulate a deposit
func (c *Client) CreateMockDeposit(ctx context.Context, accountID string, amount float64) (*Deposit, error) {
	req := map[string]string{
		"clabe_id": accountID,
		"amount":   FormatAmount(amount),
		"currency": "MXN",
	}
	var dep Deposit
	if err := c.do(ctx, http.MethodPost, "/deposits/mock", req, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// TriggerIssuance mints MXNB for a completed deposit
func (c *Client) TriggerIssuance(ctx context.Context, depositID, destinationAddress, network string) (*Issuance, error) {
	req := map[string]string{
		"deposit_id":          depositID,
		"destination_address": destinationAddress,
		"network":             strings.ToLower(network),
	}
	var iss Issuance
	if err := c.do(ctx, http.MethodPost, "/issuances", req, &iss); err != nil {
		return nil, err
	}
	return &iss, nil
}

// RedeemTokens burns MXNB and pays out MXN to a CLABE
func (c *Client) RedeemTokens(ctx context.Context, amount float64, tokenAddress, network, destinationAccount string) (*Redemption, error) {
	req := map[string]string{
		"amount":        FormatAmount(amount),
		"token_address": tokenAddress,
		"network":       strings.ToLower(network),
	}
	if destinationAccount != "" {
		req["destination_clabe"] = destinationAccount
	}
	var red Redemption
	if err := c.do(ctx, http.MethodPost, "/redemptions", req, &red); err != nil {
		return nil, err
	}
	return &red, nil
}

// ListTransactions lists account movements
func (c *Client) ListTransactions(ctx context.Context) ([]Transaction, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/transactions", nil, &raw); err != nil {
		return nil, err
	}
	txs := []Transaction{}
	if err := decodeList(raw, "transactions", &txs); err != nil {
		return nil, err
	}
	return txs, nil
}
