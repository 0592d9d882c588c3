package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/logging"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const (
	clabeA = "646180111234567896"
	clabeB = "002010077777777771"
)

// flakyGateway fails redemptions to the listed destinations
type flakyGateway struct {
	*juno.Mock

	mu       sync.Mutex
	failTo   map[string]bool
	redeemed []string
}

func (g *flakyGateway) RedeemTokens(ctx context.Context, amount float64, token, network, dest string) (*juno.Redemption, error) {
	g.mu.Lock()
	fail := g.failTo[dest]
	if !fail {
		g.redeemed = append(g.redeemed, dest)
	}
	g.mu.Unlock()
	if fail {
		return nil, &juno.APIError{Status: 503, Code: "NETWORK_ERROR", Message: "gateway unavailable"}
	}
	return g.Mock.RedeemTokens(ctx, amount, token, network, dest)
}

func (g *flakyGateway) setFail(dest string, fail bool) {
	g.mu.Lock()
	g.failTo[dest] = fail
	g.mu.Unlock()
}

type fixture struct {
	m    *Manager
	docs *store.Documents
	gw   *flakyGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(epoch)
	docs := store.NewDocuments(store.NewMemoryStore())
	gw := &flakyGateway{Mock: juno.NewMock(clk, 0), failTo: map[string]bool{}}
	m := NewManager(docs, clk, gw, model.PayoutConfig{Workers: 2, Network: "ARBITRUM", TokenAddress: "0xtoken"}, logging.Discard())
	return &fixture{m: m, docs: docs, gw: gw}
}

// seedPolicy inserts a policy with the given status and beneficiaries
func (f *fixture) seedPolicy(t *testing.T, id string, status model.PolicyStatus, bens ...model.Beneficiary) {
	t.Helper()
	err := f.docs.Update(context.Background(), func(db *model.Database) error {
		db.Policies = append(db.Policies, model.Policy{
			ID:           id,
			PolicyNumber: "EL-" + id,
			Status:       status,
			CreatedAt:    epoch,
		})
		for _, b := range bens {
			b.PolicyID = id
			db.Beneficiaries = append(db.Beneficiaries, b)
		}
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) transactions(t *testing.T, claimID string) []model.JunoTransaction {
	t.Helper()
	var out []model.JunoTransaction
	_ = f.docs.View(context.Background(), func(db *model.Database) error {
		for _, tx := range db.JunoTransactions {
			if tx.ClaimID == claimID {
				out = append(out, tx)
			}
		}
		return nil
	})
	return out
}

func (f *fixture) logs(t *testing.T, action string) []model.SystemLog {
	t.Helper()
	var out []model.SystemLog
	_ = f.docs.View(context.Background(), func(db *model.Database) error {
		for _, l := range db.SystemLogs {
			if l.Action == action {
				out = append(out, l)
			}
		}
		return nil
	})
	return out
}

func TestCreateClaim_RequiresActivePolicy(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "pending", model.PolicyPending)
	f.seedPolicy(t, "expired", model.PolicyExpired)
	f.seedPolicy(t, "active", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})

	tests := []struct {
		policyID string
		wantKind apperr.Kind
	}{
		{"pending", apperr.KindPolicyNotActive},
		{"expired", apperr.KindPolicyNotActive},
		{"missing", apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.policyID, func(t *testing.T) {
			c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: tt.policyID, Amount: 100})
			assert.Nil(t, c)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}

	claims, err := f.m.ListClaims(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, claims, "rejected claims must not be persisted")

	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "active", Amount: 100, EvidenceRef: "verification://v1"})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimSubmitted, c.Status)
	assert.Equal(t, model.ClaimTypeDeath, c.ClaimType)
	assert.Regexp(t, `^CL-\d{8}-[0-9A-Z]{4}$`, c.ClaimNumber)
	assert.Len(t, f.logs(t, audit.ActionClaimCreated), 1)
}

func TestCreateClaim_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})

	_, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 1, ClaimType: "theft"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})
	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 10})
	require.NoError(t, err)

	byID, err := f.m.GetClaimByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ClaimNumber, byID.ClaimNumber)

	byNumber, err := f.m.GetClaimByNumber(context.Background(), c.ClaimNumber)
	require.NoError(t, err)
	assert.Equal(t, c.ID, byNumber.ID)

	missing, err := f.m.GetClaimByID(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	list, _ := f.m.ListClaims(context.Background(), ListFilter{Status: model.ClaimPaid})
	assert.Empty(t, list)
}

func TestUpdateClaim(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})
	c, _ := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 10})

	notes := "looks fine"
	updated, err := f.m.UpdateClaim(context.Background(), c.ID, Update{ReviewNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.ReviewNotes)
	assert.Equal(t, model.ClaimSubmitted, updated.Status)

	bad := model.ClaimStatus("lost")
	_, err = f.m.UpdateClaim(context.Background(), c.ID, Update{Status: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.m.UpdateClaim(context.Background(), "nope", Update{ReviewNotes: &notes})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.ClaimStatus
		want     bool
	}{
		{model.ClaimSubmitted, model.ClaimUnderReview, true},
		{model.ClaimSubmitted, model.ClaimRejected, true},
		{model.ClaimSubmitted, model.ClaimApproved, false},
		{model.ClaimUnderReview, model.ClaimApproved, true},
		{model.ClaimApproved, model.ClaimPaid, true},
		{model.ClaimApproved, model.ClaimRejected, false},
		{model.ClaimRejected, model.ClaimUnderReview, false},
		{model.ClaimPaid, model.ClaimApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s → %s", tt.from, tt.to)
	}
}

func TestTransition_ApprovalPaysBeneficiaries(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive,
		model.Beneficiary{ID: "b1", Percentage: 60, Clabe: clabeA},
		model.Beneficiary{ID: "b2", Percentage: 40, Clabe: clabeB},
	)
	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 1000.01})
	require.NoError(t, err)

	_, err = f.m.Transition(context.Background(), c.ID, model.ClaimApproved, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "submitted cannot jump to approved")

	reviewed, err := f.m.Transition(context.Background(), c.ID, model.ClaimUnderReview, "checking")
	require.NoError(t, err)
	assert.NotNil(t, reviewed.ReviewedAt)
	assert.Equal(t, "checking", reviewed.ReviewNotes)

	paid, err := f.m.Transition(context.Background(), c.ID, model.ClaimApproved, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	assert.NotEmpty(t, paid.TransactionID)
	assert.Equal(t, PaymentMethod, paid.PaymentMethod)

	txs := f.transactions(t, c.ID)
	require.Len(t, txs, 2)
	amounts := map[string]float64{}
	for _, tx := range txs {
		assert.Equal(t, model.TxRedemption, tx.TransactionType)
		amounts[tx.Metadata["destination"]] = tx.Amount
	}
	assert.Equal(t, 600.01, amounts[clabeA])
	assert.Equal(t, 400.0, amounts[clabeB])

	var policyStatus model.PolicyStatus
	_ = f.docs.View(context.Background(), func(db *model.Database) error {
		policyStatus = db.Policies[db.PolicyIndex("p1")].Status
		return nil
	})
	assert.Equal(t, model.PolicyClaimed, policyStatus)
	assert.Len(t, f.logs(t, audit.ActionPayoutCompleted), 1)
}

func TestPayout_OverrideDestination(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100})
	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 250, AutoApprove: true, Destination: clabeA})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, c.Status)

	_, err = f.m.Payout(context.Background(), c.ID, "123")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	res, err := f.m.Payout(context.Background(), c.ID, clabeA)
	require.NoError(t, err)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, 250.0, res.Transfers[0].Amount)
	assert.Equal(t, model.ClaimPaid, res.Claim.Status)

	_, err = f.m.Payout(context.Background(), c.ID, clabeA)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "a paid claim cannot be paid again")
}

func TestPayout_FailureKeepsClaimApprovedAndRetries(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive,
		model.Beneficiary{ID: "b1", Percentage: 50, Clabe: clabeA},
		model.Beneficiary{ID: "b2", Percentage: 50, Clabe: clabeB},
	)
	f.gw.setFail(clabeB, true)

	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 100, AutoApprove: true})
	require.NoError(t, err)

	res, err := f.m.Payout(context.Background(), c.ID, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCollaborator))
	require.NotNil(t, res)
	assert.Equal(t, model.ClaimApproved, res.Claim.Status)

	stored, _ := f.m.GetClaimByID(context.Background(), c.ID)
	assert.Equal(t, model.ClaimApproved, stored.Status)
	assert.Nil(t, stored.PaidAt)

	failed := f.logs(t, audit.ActionPayoutFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, model.LogError, failed[0].Level)
	assert.Len(t, f.transactions(t, c.ID), 1, "the successful transfer is recorded")

	// retry pays only the destination that failed
	f.gw.setFail(clabeB, false)
	res, err = f.m.Payout(context.Background(), c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimPaid, res.Claim.Status)

	statuses := map[string]string{}
	for _, tr := range res.Transfers {
		statuses[tr.Destination] = tr.Status
	}
	assert.Equal(t, TransferPrevious, statuses[clabeA])
	assert.Equal(t, TransferCompleted, statuses[clabeB])
	assert.Equal(t, []string{clabeA, clabeB}, f.gw.redeemed)
}

func TestPayout_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100})
	ctx := context.Background()

	_, err := f.m.Payout(ctx, "nope", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	c, err := f.m.CreateClaim(ctx, NewClaim{PolicyID: "p1", Amount: 10})
	require.NoError(t, err)
	_, err = f.m.Payout(ctx, c.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	// approved by review, but the beneficiary has no payout account
	_, err = f.m.Transition(ctx, c.ID, model.ClaimUnderReview, "")
	require.NoError(t, err)
	approved, err := f.m.Transition(ctx, c.ID, model.ClaimApproved, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, approved.Status)

	_, err = f.m.Payout(ctx, c.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, f.gw.redeemed)
}

func TestCreateClaim_RequiresPayableBeneficiaries(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "none", model.PolicyActive)
	f.seedPolicy(t, "noclabe", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100})
	ctx := context.Background()

	tests := []struct {
		name string
		nc   NewClaim
	}{
		{"no beneficiaries", NewClaim{PolicyID: "none", Amount: 10}},
		{"no beneficiaries auto-approved", NewClaim{PolicyID: "none", Amount: 10, AutoApprove: true, Destination: clabeA}},
		{"beneficiary without clabe", NewClaim{PolicyID: "noclabe", Amount: 10, AutoApprove: true}},
		{"bad destination", NewClaim{PolicyID: "noclabe", Amount: 10, AutoApprove: true, Destination: "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.m.CreateClaim(ctx, tt.nc)
			assert.Nil(t, c)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	claims, err := f.m.ListClaims(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, claims, "no claim may be left behind a rejected request")

	// left for review, the missing account can be fixed before approval
	c, err := f.m.CreateClaim(ctx, NewClaim{PolicyID: "noclabe", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimSubmitted, c.Status)

	c, err = f.m.CreateClaim(ctx, NewClaim{PolicyID: "noclabe", Amount: 10, AutoApprove: true, Destination: clabeA})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, c.Status)
}

// cancellingGateway completes each redemption and then cancels the caller
type cancellingGateway struct {
	*juno.Mock

	mu       sync.Mutex
	cancel   context.CancelFunc
	redeemed []string
}

func (g *cancellingGateway) RedeemTokens(ctx context.Context, amount float64, token, network, dest string) (*juno.Redemption, error) {
	red, err := g.Mock.RedeemTokens(ctx, amount, token, network, dest)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.redeemed = append(g.redeemed, dest)
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()
	return red, nil
}

func TestPayout_RecordsTransfersAfterCallerCancels(t *testing.T) {
	clk := clock.NewFake(epoch)
	docs := store.NewDocuments(store.NewMemoryStore())
	gw := &cancellingGateway{Mock: juno.NewMock(clk, 0)}
	f := &fixture{
		m:    NewManager(docs, clk, gw, model.PayoutConfig{Workers: 1}, logging.Discard()),
		docs: docs,
	}
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})

	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 100, AutoApprove: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.cancel = cancel
	res, err := f.m.Payout(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimPaid, res.Claim.Status)
	require.Len(t, f.transactions(t, c.ID), 1, "the transfer is recorded despite the cancelled request")

	gw.cancel = nil
	_, err = f.m.Payout(context.Background(), c.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.Equal(t, []string{clabeA}, gw.redeemed, "the beneficiary is paid once")
}

// rejectingGateway rejects the claim while its transfer is in flight
type rejectingGateway struct {
	*juno.Mock
	m       *Manager
	claimID string
}

func (g *rejectingGateway) RedeemTokens(ctx context.Context, amount float64, token, network, dest string) (*juno.Redemption, error) {
	rejected := model.ClaimRejected
	if _, err := g.m.UpdateClaim(ctx, g.claimID, Update{Status: &rejected}); err != nil {
		return nil, err
	}
	return g.Mock.RedeemTokens(ctx, amount, token, network, dest)
}

func TestPayout_ClaimChangedDuringTransfers(t *testing.T) {
	clk := clock.NewFake(epoch)
	docs := store.NewDocuments(store.NewMemoryStore())
	gw := &rejectingGateway{Mock: juno.NewMock(clk, 0)}
	f := &fixture{
		m:    NewManager(docs, clk, gw, model.PayoutConfig{Workers: 1}, logging.Discard()),
		docs: docs,
	}
	gw.m = f.m
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})

	c, err := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 100, AutoApprove: true})
	require.NoError(t, err)
	gw.claimID = c.ID

	res, err := f.m.Payout(context.Background(), c.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "got %v", err)
	require.NotNil(t, res)

	stored, _ := f.m.GetClaimByID(context.Background(), c.ID)
	assert.Equal(t, model.ClaimRejected, stored.Status)
	assert.Nil(t, stored.PaidAt)
	assert.Len(t, f.transactions(t, c.ID), 1, "money that moved is still recorded")

	conflicts := f.logs(t, audit.ActionPayoutConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.LogWarning, conflicts[0].Level)
	assert.Empty(t, f.logs(t, audit.ActionPayoutCompleted))
}

func TestTransition_FailedPayoutIsNotReturned(t *testing.T) {
	f := newFixture(t)
	f.seedPolicy(t, "p1", model.PolicyActive, model.Beneficiary{ID: "b1", Percentage: 100, Clabe: clabeA})
	f.gw.setFail(clabeA, true)

	c, _ := f.m.CreateClaim(context.Background(), NewClaim{PolicyID: "p1", Amount: 10})
	_, err := f.m.Transition(context.Background(), c.ID, model.ClaimUnderReview, "")
	require.NoError(t, err)

	approved, err := f.m.Transition(context.Background(), c.ID, model.ClaimApproved, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, approved.Status)
}

func TestRoundCents(t *testing.T) {
	assert.Equal(t, 0.01, roundCents(0.005))
	assert.Equal(t, 33.33, roundCents(100.0/3))
}
