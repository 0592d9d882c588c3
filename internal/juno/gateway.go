// Package juno talks to the Juno (Bitso) MXN/MXNB payment gateway.
package juno

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/util"
)

// Gateway is the set of gateway capabilities the service uses
type Gateway interface {
	CreateDepositAccount(ctx context.Context, alias string) (*Account, error)
	ListDeposits(ctx context.Context, accountID string) ([]Deposit, error)
	// CreateMockDeposit simulates an incoming SPEI transfer (sandbox only)
	CreateMockDeposit(ctx context.Context, accountID string, amount float64) (*Deposit, error)
	TriggerIssuance(ctx context.Context, depositID, destinationAddress, network string) (*Issuance, error)
	RedeemTokens(ctx context.Context, amount float64, tokenAddress, network, destinationAccount string) (*Redemption, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
}

// Account is a CLABE deposit account
type Account struct {
	ID        string `json:"id"`
	Clabe     string `json:"clabe"`
	Alias     string `json:"alias,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Deposit is an incoming MXN transfer
type Deposit struct {
	ID            string `json:"id"`
	ClabeID       string `json:"clabe_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	Reference     string `json:"reference,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	SenderAccount string `json:"sender_account,omitempty"`
}

// Issuance mints MXNB for a deposit
type Issuance struct {
	ID                 string `json:"id"`
	DepositID          string `json:"deposit_id"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	DestinationAddress string `json:"destination_address"`
	Network            string `json:"network"`
	Status             string `json:"status"`
	TransactionHash    string `json:"transaction_hash,omitempty"`
	CreatedAt          string `json:"created_at"`
	CompletedAt        string `json:"completed_at,omitempty"`
}

// Redemption burns MXNB and pays MXN to a CLABE
type Redemption struct {
	ID               string `json:"id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	TokenAddress     string `json:"token_address"`
	Network          string `json:"network"`
	DestinationClabe string `json:"destination_clabe,omitempty"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// Transaction is any movement on the account
type Transaction struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// APIError is a non-2xx gateway response
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("juno %d %s: %s", e.Status, e.Code, e.Message)
}

// FormatAmount renders an amount the way the gateway expects it
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// NewGateway selects the live client or the in-process mock
func NewGateway(cfg model.Config, clk clock.Clock, logger logrus.FieldLogger) (Gateway, error) {
	mode := strings.ToLower(cfg.CollaboratorMode(cfg.Juno.Mode))

	switch mode {
	case "mock":
		return NewMock(clk, cfg.Juno.Latency), nil

	case "live":
		client, err := NewClient(ClientConfig{
			BaseURL:   cfg.Juno.BaseURL,
			APIKey:    cfg.Juno.APIKey,
			APISecret: cfg.Juno.APISecret,
			RateLimit: cfg.Juno.RateLimit,
		}, util.NewHTTPClient(cfg.Juno.Timeout, cfg.Proxy), clk, logger)
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown juno mode: %s (supported: mock, live)", cfg.Juno.Mode)
	}
}
