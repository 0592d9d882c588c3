// Package checkout turns a paid quote into a pending policy and keeps the
// gateway-side records (deposit accounts, deposits) in the document store.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/beneficiary"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/policy"
	"github.com/ppiankov/extralife/internal/pricing"
	"github.com/ppiankov/extralife/internal/registry"
	"github.com/ppiankov/extralife/internal/store"
	"github.com/ppiankov/extralife/internal/validate"
)

// Request is what the checkout form submits
type Request struct {
	Gender            model.Gender `json:"gender" validate:"required,oneof=male female other"`
	Age               int          `json:"age" validate:"min=18,max=99"`
	Region            string       `json:"region" validate:"required"`
	PolicyHolderName  string       `json:"policyHolderName" validate:"required"`
	BeneficiaryName   string       `json:"beneficiaryName" validate:"required"`
	PolicyHolderClabe string       `json:"policyHolderClabe" validate:"required,len=18,numeric"`
	BeneficiaryClabe  string       `json:"beneficiaryClabe" validate:"required,clabe"`
	DepositID         string       `json:"depositId" validate:"required"`
	Amount            float64      `json:"amount" validate:"gt=0"`
	Email             string       `json:"email,omitempty" validate:"omitempty,email"`
}

// Party is a named person with a CLABE
type Party struct {
	Name   string       `json:"name"`
	Clabe  string       `json:"clabe"`
	Gender model.Gender `json:"gender,omitempty"`
	Age    int          `json:"age,omitempty"`
	Region string       `json:"region,omitempty"`
}

// Result summarizes a completed checkout
type Result struct {
	PolicyID                string             `json:"policy_id"`
	PolicyNumber            string             `json:"policy_number"`
	Status                  model.PolicyStatus `json:"status"`
	ActivationTimeRemaining int64              `json:"activation_time_remaining"`
	CoverageType            model.CoverageType `json:"coverage_type"`
	CoverageAmount          int64              `json:"coverage_amount"`
	PremiumPaid             int64              `json:"premium_paid"`
	PolicyHolder            Party              `json:"policy_holder"`
	Beneficiary             Party              `json:"beneficiary"`
	ContractTxHash          string             `json:"contract_tx_hash,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
}

// Service runs checkouts and gateway bookkeeping
type Service struct {
	docs          *store.Documents
	policies      *policy.Manager
	beneficiaries *beneficiary.Allocator
	gateway       juno.Gateway
	registry      registry.Registry // nil when on-chain registration is off
	onChainParty  string
	clock         clock.Clock
	logger        logrus.FieldLogger
}

// Options wires a Service
type Options struct {
	Docs          *store.Documents
	Policies      *policy.Manager
	Beneficiaries *beneficiary.Allocator
	Gateway       juno.Gateway
	Registry      registry.Registry
	// OnChainParty is the address recorded as insured and beneficiary on
	// the registry contract (the server's signing account)
	OnChainParty string
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

// NewService creates a checkout service
func NewService(o Options) *Service {
	return &Service{
		docs:          o.Docs,
		policies:      o.Policies,
		beneficiaries: o.Beneficiaries,
		gateway:       o.Gateway,
		registry:      o.Registry,
		onChainParty:  o.OnChainParty,
		clock:         o.Clock,
		logger:        o.Logger,
	}
}

// splitName returns first name and the rest, with fallbacks for blanks
func splitName(full, fallbackLast string) (string, string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "Unknown", fallbackLast
	}
	if len(parts) == 1 {
		return parts[0], fallbackLast
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// Checkout creates a pending policy priced from the paid amount, a single
// 100% beneficiary and the deposit record. When a registry is configured the
// policy is also registered on-chain; that step never fails the checkout.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	tier := pricing.TierForPayment(req.Amount)
	holderFirst, holderLast := splitName(req.PolicyHolderName, "User")
	benFirst, benLast := splitName(req.BeneficiaryName, "Beneficiary")

	email := req.Email
	if email == "" {
		local := ids.Slug(holderFirst)
		if local == "" {
			local = "policyholder"
		}
		email = local + "@example.com"
	}

	p, err := s.policies.CreatePolicy(ctx, policy.Profile{
		FirstName:     holderFirst,
		LastName:      holderLast,
		Email:         email,
		BirthDate:     fmt.Sprintf("%04d-01-01", now.Year()-req.Age),
		Gender:        req.Gender,
		State:         req.Region,
		CoverageType:  tier,
		PaymentMethod: "clabe",
		ClabeID:       req.DepositID,
	})
	if err != nil {
		return nil, err
	}

	_, err = s.beneficiaries.CreateBeneficiary(ctx, p.ID, beneficiary.MaxAllocation, beneficiary.Profile{
		FirstName:    benFirst,
		LastName:     benLast,
		Relationship: "family",
		Clabe:        req.BeneficiaryClabe,
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordDeposit(ctx, p.ID, req.DepositID, req.PolicyHolderClabe, req.Amount); err != nil {
		return nil, err
	}

	res := &Result{
		PolicyID:       p.ID,
		PolicyNumber:   p.PolicyNumber,
		Status:         p.Status,
		CoverageType:   p.CoverageType,
		CoverageAmount: p.CoverageAmount,
		PremiumPaid:    p.PremiumAmount,
		PolicyHolder: Party{
			Name:   req.PolicyHolderName,
			Clabe:  req.PolicyHolderClabe,
			Gender: req.Gender,
			Age:    req.Age,
			Region: req.Region,
		},
		Beneficiary: Party{Name: req.BeneficiaryName, Clabe: req.BeneficiaryClabe},
		CreatedAt:   p.CreatedAt,
	}
	if remaining, err := s.policies.ActivationTimeRemaining(ctx, p.ID); err == nil {
		res.ActivationTimeRemaining = int64((remaining + time.Second - 1) / time.Second)
	}

	if s.registry != nil {
		res.ContractTxHash = s.register(ctx, *p, req.Age)
	}
	return res, nil
}

// register writes the policy to the on-chain registry and stores the hash.
// Failures are logged; the policy stays valid without a hash.
func (s *Service) register(ctx context.Context, p model.Policy, age int) string {
	log := s.logger.WithField("policy_number", p.PolicyNumber)

	hash, err := s.registry.CreatePolicy(ctx, registry.PolicyRecord{
		Insured:     s.onChainParty,
		Beneficiary: s.onChainParty,
		Name:        p.FullName(),
		Age:         age,
		GenderCode:  registry.GenderCode(p.Gender),
		Region:      p.State,
		SumAssured:  p.CoverageAmount,
		Premium:     p.PremiumAmount,
	})
	if err != nil {
		log.WithError(err).Warn("on-chain registration failed")
		return ""
	}
	if _, err := s.policies.SetContractHash(ctx, p.PolicyNumber, hash); err != nil {
		log.WithError(err).Warn("storing contract hash failed")
		return ""
	}
	return hash
}
