package model

import "time"

// ClaimStatus is the lifecycle state of a claim
type ClaimStatus string

const (
	ClaimSubmitted   ClaimStatus = "submitted"
	ClaimUnderReview ClaimStatus = "under_review"
	ClaimApproved    ClaimStatus = "approved"
	ClaimRejected    ClaimStatus = "rejected"
	ClaimPaid        ClaimStatus = "paid"
)

// Valid reports whether s is a known claim status
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimSubmitted, ClaimUnderReview, ClaimApproved, ClaimRejected, ClaimPaid:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRejected || s == ClaimPaid
}

// ClaimType categorizes the insured event
type ClaimType string

const (
	ClaimTypeDeath ClaimType = "death"
	ClaimTypeOther ClaimType = "other"
)

// Claim is a request to pay out a policy
type Claim struct {
	ID          string      `json:"id"`
	ClaimNumber string      `json:"claimNumber"`
	PolicyID    string      `json:"policyId"`
	ClaimType   ClaimType   `json:"claimType"`
	ClaimAmount float64     `json:"claimAmount"`
	Status      ClaimStatus `json:"status"`

	// Evidence reference, e.g. verification://<id>
	DeathCertificateURL string   `json:"deathCertificateUrl,omitempty"`
	AdditionalDocuments []string `json:"additionalDocuments,omitempty"`

	ReviewNotes string `json:"reviewNotes,omitempty"`

	PaymentMethod  string            `json:"paymentMethod,omitempty"`
	PaymentDetails map[string]string `json:"paymentDetails,omitempty"`
	PaidAt         *time.Time        `json:"paidAt,omitempty"`
	TransactionID  string            `json:"transactionId,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
}
