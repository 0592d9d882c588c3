package model

import "time"

// PolicyStatus is the lifecycle state of a policy
type PolicyStatus string

const (
	PolicyPending PolicyStatus = "pending"
	PolicyActive  PolicyStatus = "active"
	PolicyExpired PolicyStatus = "expired"
	PolicyClaimed PolicyStatus = "claimed"
)

// Valid reports whether s is a known policy status
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyPending, PolicyActive, PolicyExpired, PolicyClaimed:
		return true
	}
	return false
}

// CoverageType is one of the fixed insurance plans
type CoverageType string

const (
	CoverageBasic    CoverageType = "basic"
	CoverageStandard CoverageType = "standard"
	CoveragePremium  CoverageType = "premium"
	CoveragePlatinum CoverageType = "platinum"
)

// Gender of the insured, used only for pricing
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Policy is a life-insurance policy held by one person
type Policy struct {
	ID           string `json:"id"`
	PolicyNumber string `json:"policyNumber"`

	// Holder profile
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	BirthDate  string `json:"birthDate"` // YYYY-MM-DD
	Gender     Gender `json:"gender"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`

	// Coverage, amounts in MXN
	CoverageType   CoverageType `json:"coverageType"`
	CoverageAmount int64        `json:"coverageAmount"`
	PremiumAmount  int64        `json:"premiumAmount"`

	PaymentMethod string `json:"paymentMethod,omitempty"`
	ClabeID       string `json:"clabeId,omitempty"`

	// Hash of the on-chain createPolicy transaction. An attribute, never a lookup key.
	ContractTxHash string `json:"contractTxHash,omitempty"`

	Status PolicyStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// FullName joins first and last name
func (p Policy) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Beneficiary receives a percentage of a policy payout
type Beneficiary struct {
	ID           string `json:"id"`
	PolicyID     string `json:"policyId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Relationship string `json:"relationship"`
	Percentage   int    `json:"percentage"`

	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Clabe   string `json:"clabe,omitempty"` // payout destination

	IDType   string `json:"idType,omitempty"`
	IDNumber string `json:"idNumber,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// FullName joins first and last name
func (b Beneficiary) FullName() string {
	if b.LastName == "" {
		return b.FirstName
	}
	return b.FirstName + " " + b.LastName
}
