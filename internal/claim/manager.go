// Package claim manages claims against active policies and their payout.
package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
	"github.com/ppiankov/extralife/internal/validate"
)

// NewClaim is a claim to file
type NewClaim struct {
	PolicyID            string          `json:"policyId" validate:"required"`
	ClaimType           model.ClaimType `json:"claimType" validate:"omitempty,oneof=death other"`
	Amount              float64         `json:"amount" validate:"gt=0"`
	EvidenceRef         string          `json:"evidenceRef,omitempty"`
	AdditionalDocuments []string        `json:"additionalDocuments,omitempty"`
	// AutoApprove files the claim as approved, for evidence that was
	// verified before submission
	AutoApprove bool `json:"-"`
	// Destination receives the whole payout instead of the beneficiaries
	Destination string `json:"-"`
}

// Update carries raw claim fields to merge
type Update struct {
	Status         *model.ClaimStatus `json:"status,omitempty"`
	ReviewNotes    *string            `json:"reviewNotes,omitempty"`
	PaymentMethod  *string            `json:"paymentMethod,omitempty"`
	PaymentDetails map[string]string  `json:"paymentDetails,omitempty"`
	PaidAt         *time.Time         `json:"paidAt,omitempty"`
	TransactionID  *string            `json:"transactionId,omitempty"`
	ReviewedAt     *time.Time         `json:"reviewedAt,omitempty"`
}

// ListFilter narrows ListClaims
type ListFilter struct {
	PolicyID string
	Status   model.ClaimStatus
}

// transitions lists the statuses reachable from each status
var transitions = map[model.ClaimStatus][]model.ClaimStatus{
	model.ClaimSubmitted:   {model.ClaimUnderReview, model.ClaimRejected},
	model.ClaimUnderReview: {model.ClaimApproved, model.ClaimRejected},
	model.ClaimApproved:    {model.ClaimPaid},
}

// CanTransition reports whether from → to is allowed
func CanTransition(from, to model.ClaimStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager owns claims and triggers payouts
type Manager struct {
	docs    *store.Documents
	clock   clock.Clock
	gateway juno.Gateway
	payout  model.PayoutConfig
	logger  logrus.FieldLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewManager creates a claim manager paying out through gw
func NewManager(docs *store.Documents, clk clock.Clock, gw juno.Gateway, payout model.PayoutConfig, logger logrus.FieldLogger) *Manager {
	if payout.Workers <= 0 {
		payout.Workers = 1
	}
	return &Manager{
		docs:     docs,
		clock:    clk,
		gateway:  gw,
		payout:   payout,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// CreateClaim files a claim. The policy must exist, be active and have at
// least one beneficiary. An auto-approved claim must also be payable: every
// beneficiary needs a CLABE unless a Destination is given.
func (m *Manager) CreateClaim(ctx context.Context, nc NewClaim) (*model.Claim, error) {
	if err := validate.Struct(nc); err != nil {
		return nil, err
	}
	if nc.ClaimType == "" {
		nc.ClaimType = model.ClaimTypeDeath
	}

	now := m.clock.Now()
	c := model.Claim{
		ID:                  ids.New(),
		PolicyID:            nc.PolicyID,
		ClaimType:           nc.ClaimType,
		ClaimAmount:         nc.Amount,
		Status:              model.ClaimSubmitted,
		DeathCertificateURL: nc.EvidenceRef,
		AdditionalDocuments: nc.AdditionalDocuments,
		CreatedAt:           now,
	}
	if nc.AutoApprove {
		c.Status = model.ClaimApproved
		c.ReviewNotes = "auto-approved: evidence verified before submission"
		c.ReviewedAt = &now
	}

	err := m.docs.Update(ctx, func(db *model.Database) error {
		i := db.PolicyIndex(nc.PolicyID)
		if i < 0 {
			return apperr.NotFound("policy", nc.PolicyID)
		}
		if p := db.Policies[i]; p.Status != model.PolicyActive {
			return apperr.PolicyNotActive(p.ID, string(p.Status))
		}
		if len(db.BeneficiariesOf(nc.PolicyID)) == 0 {
			return apperr.Validation("no beneficiaries found for this policy", nil)
		}
		if nc.AutoApprove {
			if _, err := planTransfers(db, c, nc.Destination); err != nil {
				return err
			}
		}

		number, err := ids.Unique(ids.ClaimPrefix, now, func(n string) bool {
			return db.ClaimNumberIndex(n) >= 0
		})
		if err != nil {
			return apperr.Persistence("allocate claim number", err)
		}
		c.ClaimNumber = number

		db.Claims = append(db.Claims, c)
		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionClaimCreated,
			EntityType: model.EntityClaim,
			EntityID:   c.ID,
			Message:    fmt.Sprintf("Claim created: %s", c.ClaimNumber),
			Data: map[string]string{
				"policyId": c.PolicyID,
				"status":   string(c.Status),
				"amount":   juno.FormatAmount(c.ClaimAmount),
			},
		})
		return nil
	})
	if err != nil {
		m.logFailure(err, "create claim", nc.PolicyID)
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"claim_id":     c.ID,
		"claim_number": c.ClaimNumber,
		"status":       c.Status,
	}).Info("claim created")
	return &c, nil
}

// GetClaimByID returns nil, nil when the claim does not exist
func (m *Manager) GetClaimByID(ctx context.Context, id string) (*model.Claim, error) {
	var out *model.Claim
	err := m.docs.View(ctx, func(db *model.Database) error {
		if i := db.ClaimIndex(id); i >= 0 {
			c := db.Claims[i]
			out = &c
		}
		return nil
	})
	return out, err
}

// GetClaimByNumber returns nil, nil when the claim does not exist
func (m *Manager) GetClaimByNumber(ctx context.Context, number string) (*model.Claim, error) {
	var out *model.Claim
	err := m.docs.View(ctx, func(db *model.Database) error {
		if i := db.ClaimNumberIndex(number); i >= 0 {
			c := db.Claims[i]
			out = &c
		}
		return nil
	})
	return out, err
}

// ListClaims returns claims in creation order
func (m *Manager) ListClaims(ctx context.Context, f ListFilter) ([]model.Claim, error) {
	out := []model.Claim{}
	err := m.docs.View(ctx, func(db *model.Database) error {
		for _, c := range db.Claims {
			if f.PolicyID != "" && c.PolicyID != f.PolicyID {
				continue
			}
			if f.Status != "" && c.Status != f.Status {
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// UpdateClaim merges u without checking the transition table. It is how
// payout completion is recorded; operators should use Transition.
func (m *Manager) UpdateClaim(ctx context.Context, id string, u Update) (*model.Claim, error) {
	if u.Status != nil && !u.Status.Valid() {
		return nil, apperr.Validation("invalid request", map[string]string{
			"status": "must be one of: submitted under_review approved rejected paid",
		})
	}

	var out model.Claim
	now := m.clock.Now()
	err := m.docs.Update(ctx, func(db *model.Database) error {
		i := db.ClaimIndex(id)
		if i < 0 {
			return apperr.NotFound("claim", id)
		}
		c := &db.Claims[i]
		applyUpdate(c, u)

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionClaimUpdated,
			EntityType: model.EntityClaim,
			EntityID:   c.ID,
			Message:    fmt.Sprintf("Claim updated: %s", c.ClaimNumber),
			Data:       map[string]string{"status": string(c.Status)},
		})
		out = *c
		return nil
	})
	if err != nil {
		m.logFailure(err, "update claim", id)
		return nil, err
	}
	return &out, nil
}

func applyUpdate(c *model.Claim, u Update) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.ReviewNotes != nil {
		c.ReviewNotes = *u.ReviewNotes
	}
	if u.PaymentMethod != nil {
		c.PaymentMethod = *u.PaymentMethod
	}
	if u.PaymentDetails != nil {
		c.PaymentDetails = u.PaymentDetails
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		c.PaidAt = &t
	}
	if u.TransactionID != nil {
		c.TransactionID = *u.TransactionID
	}
	if u.ReviewedAt != nil {
		t := *u.ReviewedAt
		c.ReviewedAt = &t
	}
}

// Transition moves a claim along the review workflow and stamps reviewedAt.
// Approving a claim starts its payout; a failed payout leaves the claim
// approved and is logged, not returned.
func (m *Manager) Transition(ctx context.Context, id string, to model.ClaimStatus, notes string) (*model.Claim, error) {
	if !to.Valid() {
		return nil, apperr.Validation("invalid request", map[string]string{
			"status": "must be one of: submitted under_review approved rejected paid",
		})
	}

	var out model.Claim
	now := m.clock.Now()
	err := m.docs.Update(ctx, func(db *model.Database) error {
		i := db.ClaimIndex(id)
		if i < 0 {
			return apperr.NotFound("claim", id)
		}
		c := &db.Claims[i]
		if !CanTransition(c.Status, to) {
			return apperr.InvalidTransition("claim", string(c.Status), string(to))
		}

		from := c.Status
		c.Status = to
		c.ReviewedAt = &now
		if notes != "" {
			c.ReviewNotes = notes
		}
		if to == model.ClaimPaid && c.PaidAt == nil {
			c.PaidAt = &now
		}

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionClaimUpdated,
			EntityType: model.EntityClaim,
			EntityID:   c.ID,
			Message:    fmt.Sprintf("Claim %s: %s → %s", c.ClaimNumber, from, to),
			Data:       map[string]string{"from": string(from), "to": string(to)},
		})
		out = *c
		return nil
	})
	if err != nil {
		m.logFailure(err, "transition claim", id)
		return nil, err
	}

	if to != model.ClaimApproved {
		return &out, nil
	}

	res, err := m.Payout(ctx, id, "")
	if err != nil {
		m.logger.WithError(err).WithField("claim_id", id).Warn("payout after approval failed, claim stays approved")
		return &out, nil
	}
	return res.Claim, nil
}

func (m *Manager) logFailure(err error, action, id string) {
	entry := m.logger.WithError(err).WithFields(logrus.Fields{"action": action, "entity_id": id})
	if apperr.Is(err, apperr.KindPersistence) {
		entry.Error("claim operation failed")
		return
	}
	entry.Debug("claim operation rejected")
}
