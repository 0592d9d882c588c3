package juno

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/extralife/internal/clock"
)

// MockClabe is the account number every mock deposit account gets
const MockClabe = "646180111234567890"

// Mock is an in-process gateway with fixed latency and deterministic-shaped
// responses. It remembers what it created so list calls reflect earlier calls.
type Mock struct {
	clock   clock.Clock
	latency time.Duration

	mu           sync.Mutex
	seq          int
	deposits     []Deposit
	transactions []Transaction
}

// NewMock creates a mock gateway. latency may be zero.
func NewMock(clk clock.Clock, latency time.Duration) *Mock {
	return &Mock{clock: clk, latency: latency}
}

func (m *Mock) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nextID must be called with mu held
func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d_%d", prefix, m.clock.Now().UnixMilli(), m.seq)
}

func (m *Mock) now() string {
	return m.clock.Now().UTC().Format(time.RFC3339)
}

func txHash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return "0x" + hex.EncodeToString(sum[:])
}

// CreateDepositAccount returns an active account with MockClabe
func (m *Mock) CreateDepositAccount(ctx context.Context, alias string) (*Account, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if alias == "" {
		alias = "Insurance CLABE"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &Account{
		ID:        m.nextID("clabe"),
		Clabe:     MockClabe,
		Alias:     alias,
		Status:    "active",
		CreatedAt: m.now(),
	}, nil
}

// ListDeposits returns mock deposits made earlier, filtered by account
func (m *Mock) ListDeposits(ctx context.Context, accountID string) ([]Deposit, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Deposit{}
	for _, d := range m.deposits {
		if accountID == "" || d.ClabeID == accountID {
			out = append(out, d)
		}
	}
	return out, nil
}

// CreateMockDeposit records a completed deposit
func (m *Mock) CreateMockDeposit(ctx context.Context, accountID string, amount float64) (*Deposit, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, &APIError{Status: 400, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	d := Deposit{
		ID:          m.nextID("deposit"),
		ClabeID:     accountID,
		Amount:      FormatAmount(amount),
		Currency:    "MXN",
		Status:      "completed",
		CreatedAt:   now,
		CompletedAt: now,
		Reference:   "MOCK_DEPOSIT",
		SenderName:  "Mock Sender",
	}
	m.deposits = append(m.deposits, d)
	m.transactions = append(m.transactions, Transaction{
		ID: d.ID, Type: "deposit", Amount: d.Amount, Currency: "MXN", Status: d.Status, CreatedAt: now, CompletedAt: now,
	})
	return &d, nil
}

// TriggerIssuance mints against a deposit
func (m *Mock) TriggerIssuance(ctx context.Context, depositID, destinationAddress, network string) (*Issuance, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if network == "" {
		network = "arbitrum"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	amount := "1000.00"
	for _, d := range m.deposits {
		if d.ID == depositID {
			amount = d.Amount
		}
	}
	now := m.now()
	iss := Issuance{
		ID:                 m.nextID("issuance"),
		DepositID:          depositID,
		Amount:             amount,
		Currency:           "MXNB",
		DestinationAddress: destinationAddress,
		Network:            strings.ToLower(network),
		Status:             "completed",
		CreatedAt:          now,
		CompletedAt:        now,
	}
	iss.TransactionHash = txHash(iss.ID)
	m.transactions = append(m.transactions, Transaction{
		ID: iss.ID, Type: "issuance", Amount: amount, Currency: "MXNB", Status: iss.Status, CreatedAt: now, CompletedAt: now,
	})
	return &iss, nil
}

// RedeemTokens records a completed redemption
func (m *Mock) RedeemTokens(ctx context.Context, amount float64, tokenAddress, network, destinationAccount string) (*Redemption, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, &APIError{Status: 400, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	red := Redemption{
		ID:               m.nextID("redemption"),
		Amount:           FormatAmount(amount),
		Currency:         "MXN",
		TokenAddress:     tokenAddress,
		Network:          strings.ToLower(network),
		DestinationClabe: destinationAccount,
		Status:           "completed",
		CreatedAt:        now,
		CompletedAt:      now,
	}
	m.transactions = append(m.transactions, Transaction{
		ID: red.ID, Type: "redemption", Amount: red.Amount, Currency: "MXN", Status: red.Status, CreatedAt: now, CompletedAt: now,
	})
	return &red, nil
}

// ListTransactions returns every movement the mock has recorded
func (m *Mock) ListTransactions(ctx context.Context) ([]Transaction, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, len(m.transactions))
	copy(out, m.transactions)
	return out, nil
}
