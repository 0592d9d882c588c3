package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/pricing"
	"github.com/ppiankov/extralife/internal/store"
	"github.com/ppiankov/extralife/internal/validate"
)

// DefaultActivationDelay is how long a new policy stays pending
const DefaultActivationDelay = 40 * time.Second

// Profile is the input for a new policy
type Profile struct {
	FirstName  string       `json:"firstName" validate:"required"`
	LastName   string       `json:"lastName" validate:"required"`
	Email      string       `json:"email" validate:"required,email"`
	Phone      string       `json:"phone"`
	BirthDate  string       `json:"birthDate" validate:"required,date"`
	Gender     model.Gender `json:"gender" validate:"required,oneof=male female other"`
	Address    string       `json:"address"`
	City       string       `json:"city"`
	State      string       `json:"state"`
	PostalCode string       `json:"postalCode"`

	CoverageType   model.CoverageType `json:"coverageType" validate:"required,oneof=basic standard premium platinum"`
	CoverageAmount int64              `json:"coverageAmount" validate:"gte=0"`

	PaymentMethod string `json:"paymentMethod"`
	ClabeID       string `json:"clabeId"`
}

// PolicyUpdate carries the fields to merge. Nil fields are left untouched.
type PolicyUpdate struct {
	FirstName      *string             `json:"firstName,omitempty"`
	LastName       *string             `json:"lastName,omitempty"`
	Email          *string             `json:"email,omitempty" validate:"omitempty,email"`
	Phone          *string             `json:"phone,omitempty"`
	Address        *string             `json:"address,omitempty"`
	City           *string             `json:"city,omitempty"`
	State          *string             `json:"state,omitempty"`
	PostalCode     *string             `json:"postalCode,omitempty"`
	PaymentMethod  *string             `json:"paymentMethod,omitempty"`
	ClabeID        *string             `json:"clabeId,omitempty"`
	ContractTxHash *string             `json:"contractTxHash,omitempty"`
	Status         *model.PolicyStatus `json:"status,omitempty"`
	ExpiresAt      *time.Time          `json:"expiresAt,omitempty"`
}

// ListFilter narrows ListPolicies. Zero values match everything.
type ListFilter struct {
	Status model.PolicyStatus
	Email  string
}

// Manager owns policy records
type Manager struct {
	docs   *store.Documents
	clock  clock.Clock
	delay  time.Duration
	logger logrus.FieldLogger
}

// NewManager creates a policy manager. delay <= 0 uses DefaultActivationDelay.
func NewManager(docs *store.Documents, clk clock.Clock, delay time.Duration, logger logrus.FieldLogger) *Manager {
	if delay <= 0 {
		delay = DefaultActivationDelay
	}
	return &Manager{
		docs:   docs,
		clock:  clk,
		delay:  delay,
		logger: logger,
	}
}

// ActivationDelay returns the configured pending period
func (m *Manager) ActivationDelay() time.Duration {
	return m.delay
}

// AgeAt returns whole years between birth and now
func AgeAt(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// CreatePolicy prices and persists a new pending policy
func (m *Manager) CreatePolicy(ctx context.Context, p Profile) (*model.Policy, error) {
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	birth, _ := time.Parse("2006-01-02", p.BirthDate)
	if birth.After(now) {
		return nil, apperr.Validation("invalid request", map[string]string{"birthDate": "must be in the past"})
	}
	age := AgeAt(birth, now)

	coverage := p.CoverageAmount
	if canonical, ok := pricing.CoverageFor(p.CoverageType); ok {
		coverage = canonical
	}

	policy := model.Policy{
		ID:             ids.New(),
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Email:          p.Email,
		Phone:          p.Phone,
		BirthDate:      p.BirthDate,
		Gender:         p.Gender,
		Address:        p.Address,
		City:           p.City,
		State:          p.State,
		PostalCode:     p.PostalCode,
		CoverageType:   p.CoverageType,
		CoverageAmount: coverage,
		PremiumAmount:  pricing.CalculatePremium(p.CoverageType, p.CoverageAmount, age, p.Gender, p.State),
		PaymentMethod:  p.PaymentMethod,
		ClabeID:        p.ClabeID,
		Status:         model.PolicyPending,
		CreatedAt:      now,
	}

	err := m.docs.Update(ctx, func(db *model.Database) error {
		number, err := ids.Unique(ids.PolicyPrefix, now, func(n string) bool {
			return db.PolicyNumberIndex(n) >= 0
		})
		if err != nil {
			return apperr.Persistence("allocate policy number", err)
		}
		policy.PolicyNumber = number

		db.Policies = append(db.Policies, policy)
		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionPolicyCreated,
			EntityType: model.EntityPolicy,
			EntityID:   policy.ID,
			Message:    fmt.Sprintf("Policy created: %s", policy.PolicyNumber),
			Data: map[string]string{
				"policyNumber": policy.PolicyNumber,
				"coverageType": string(policy.CoverageType),
				"premium":      fmt.Sprintf("%d", policy.PremiumAmount),
			},
		})
		return nil
	})
	if err != nil {
		m.logger.WithError(err).WithField("email", p.Email).Error("create policy failed")
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"policy_id":     policy.ID,
		"policy_number": policy.PolicyNumber,
		"premium":       policy.PremiumAmount,
	}).Info("policy created")

	return &policy, nil
}

// GetPolicyByID returns nil, nil when the policy does not exist
func (m *Manager) GetPolicyByID(ctx context.Context, id string) (*model.Policy, error) {
	var out *model.Policy
	err := m.docs.View(ctx, func(db *model.Database) error {
		if i := db.PolicyIndex(id); i >= 0 {
			p := db.Policies[i]
			out = &p
		}
		return nil
	})
	return out, err
}

// GetPolicyByNumber returns nil, nil when the policy does not exist
func (m *Manager) GetPolicyByNumber(ctx context.Context, number string) (*model.Policy, error) {
	var out *model.Policy
	err := m.docs.View(ctx, func(db *model.Database) error {
		if i := db.PolicyNumberIndex(number); i >= 0 {
			p := db.Policies[i]
			out = &p
		}
		return nil
	})
	return out, err
}

// ListPolicies returns policies in creation order
func (m *Manager) ListPolicies(ctx context.Context, f ListFilter) ([]model.Policy, error) {
	out := []model.Policy{}
	err := m.docs.View(ctx, func(db *model.Database) error {
		for _, p := range db.Policies {
			if f.Status != "" && p.Status != f.Status {
				continue
			}
			if f.Email != "" && p.Email != f.Email {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// UpdatePolicy merges u into the policy. Returns nil, nil for an unknown id.
func (m *Manager) UpdatePolicy(ctx context.Context, id string, u PolicyUpdate) (*model.Policy, error) {
	if err := validate.Struct(u); err != nil {
		return nil, err
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, apperr.Validation("invalid request", map[string]string{"status": "must be one of: pending active expired claimed"})
	}

	var out *model.Policy
	now := m.clock.Now()
	err := m.docs.Update(ctx, func(db *model.Database) error {
		i := db.PolicyIndex(id)
		if i < 0 {
			return store.ErrSkipWrite
		}
		p := &db.Policies[i]
		applyUpdate(p, u, now)

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionPolicyUpdated,
			EntityType: model.EntityPolicy,
			EntityID:   p.ID,
			Message:    fmt.Sprintf("Policy updated: %s", p.PolicyNumber),
			Data:       map[string]string{"status": string(p.Status)},
		})
		cp := *p
		out = &cp
		return nil
	})
	if err != nil {
		m.logger.WithError(err).WithField("policy_id", id).Error("update policy failed")
		return nil, err
	}
	return out, nil
}

func applyUpdate(p *model.Policy, u PolicyUpdate, now time.Time) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.FirstName, u.FirstName)
	set(&p.LastName, u.LastName)
	set(&p.Email, u.Email)
	set(&p.Phone, u.Phone)
	set(&p.Address, u.Address)
	set(&p.City, u.City)
	set(&p.State, u.State)
	set(&p.PostalCode, u.PostalCode)
	set(&p.PaymentMethod, u.PaymentMethod)
	set(&p.ClabeID, u.ClabeID)
	set(&p.ContractTxHash, u.ContractTxHash)

	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		p.ExpiresAt = &t
	}
	if u.Status != nil && *u.Status != p.Status {
		if *u.Status == model.PolicyActive && p.ActivatedAt == nil {
			t := now
			p.ActivatedAt = &t
		}
		p.Status = *u.Status
	}
}

// SetContractHash records the registry transaction hash on the policy with
// the given number. The policy number stays the lookup key.
func (m *Manager) SetContractHash(ctx context.Context, number, hash string) (*model.Policy, error) {
	if hash == "" {
		return nil, apperr.Validation("invalid request", map[string]string{"contractTxHash": "is required"})
	}

	p, err := m.GetPolicyByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("policy", number)
	}
	return m.UpdatePolicy(ctx, p.ID, PolicyUpdate{ContractTxHash: &hash})
}

// ActivationTimeRemaining returns how long until the policy can be
// activated. Zero for active or unknown policies.
func (m *Manager) ActivationTimeRemaining(ctx context.Context, id string) (time.Duration, error) {
	p, err := m.GetPolicyByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	return m.remaining(*p, m.clock.Now()), nil
}

func (m *Manager) remaining(p model.Policy, now time.Time) time.Duration {
	if p.Status != model.PolicyPending {
		return 0
	}
	left := m.delay - now.Sub(p.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Status summarizes whether a policy can be used yet
type Status struct {
	PolicyNumber            string             `json:"policyNumber"`
	Status                  model.PolicyStatus `json:"status"`
	IsActive                bool               `json:"isActive"`
	ActivationTimeRemaining int64              `json:"activationTimeRemaining"` // seconds, rounded up
	CanFileClaims           bool               `json:"canFileClaims"`
	CreatedAt               time.Time          `json:"createdAt"`
	ActivatedAt             *time.Time         `json:"activatedAt,omitempty"`
}

// StatusOf reports the status of the policy with the given number
func (m *Manager) StatusOf(ctx context.Context, number string) (*Status, error) {
	p, err := m.GetPolicyByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("policy", number)
	}

	left := m.remaining(*p, m.clock.Now())
	secs := int64(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}

	active := p.Status == model.PolicyActive
	return &Status{
		PolicyNumber:            p.PolicyNumber,
		Status:                  p.Status,
		IsActive:                active,
		ActivationTimeRemaining: secs,
		CanFileClaims:           active,
		CreatedAt:               p.CreatedAt,
		ActivatedAt:             p.ActivatedAt,
	}, nil
}
