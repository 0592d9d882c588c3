package model

import "time"

// SchemaVersion is the document layout written by this build
const SchemaVersion = 1

// TransactionType classifies a gateway movement
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxIssuance   TransactionType = "issuance"
	TxRedemption TransactionType = "redemption"
	TxWithdrawal TransactionType = "withdrawal"
)

// JunoTransaction mirrors a movement recorded at the payment gateway
type JunoTransaction struct {
	ID              string          `json:"id"`
	PolicyID        string          `json:"policyId,omitempty"`
	ClaimID         string          `json:"claimId,omitempty"`
	TransactionType TransactionType `json:"transactionType"`
	Amount          float64         `json:"amount"`
	Currency        string          `json:"currency"` // MXN or MXNB

	JunoTransactionID string            `json:"junoTransactionId,omitempty"`
	JunoStatus        string            `json:"junoStatus,omitempty"` // pending, completed, failed
	ClabeID           string            `json:"clabeId,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clabe is a deposit account opened at the gateway
type Clabe struct {
	ID            string     `json:"id"`
	PolicyID      string     `json:"policyId,omitempty"`
	ClabeNumber   string     `json:"clabeNumber"`
	Alias         string     `json:"alias,omitempty"`
	JunoClabeID   string     `json:"junoClabeId,omitempty"`
	Status        string     `json:"status"` // active, inactive
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// LogLevel of an audit entry
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// EntityType names the entity an audit entry refers to
type EntityType string

const (
	EntityPolicy      EntityType = "policy"
	EntityClaim       EntityType = "claim"
	EntityTransaction EntityType = "transaction"
)

// SystemLog is an append-only audit entry
type SystemLog struct {
	ID         string            `json:"id"`
	Level      LogLevel          `json:"level"`
	Action     string            `json:"action"`
	EntityType EntityType        `json:"entityType,omitempty"`
	EntityID   string            `json:"entityId,omitempty"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Database is the whole persisted document
type Database struct {
	SchemaVersion    int               `json:"schemaVersion"`
	Policies         []Policy          `json:"policies"`
	Beneficiaries    []Beneficiary     `json:"beneficiaries"`
	Claims           []Claim           `json:"claims"`
	JunoTransactions []JunoTransaction `json:"junoTransactions"`
	Clabes           []Clabe           `json:"clabes"`
	SystemLogs       []SystemLog       `json:"systemLogs"`
}

// NewDatabase returns the default empty document
func NewDatabase() *Database {
	db := &Database{SchemaVersion: SchemaVersion}
	db.Normalize()
	return db
}

// Normalize replaces nil collections with empty ones so the document
// always serializes all six arrays
func (db *Database) Normalize() {
	if db.Policies == nil {
		db.Policies = []Policy{}
	}
	if db.Beneficiaries == nil {
		db.Beneficiaries = []Beneficiary{}
	}
	if db.Claims == nil {
		db.Claims = []Claim{}
	}
	if db.JunoTransactions == nil {
		db.JunoTransactions = []JunoTransaction{}
	}
	if db.Clabes == nil {
		db.Clabes = []Clabe{}
	}
	if db.SystemLogs == nil {
		db.SystemLogs = []SystemLog{}
	}
}

// PolicyIndex returns the index of the policy with id, or -1
func (db *Database) PolicyIndex(id string) int {
	for i := range db.Policies {
		if db.Policies[i].ID == id {
			return i
		}
	}
	return -1
}

// PolicyNumberIndex returns the index of the policy with number, or -1
func (db *Database) PolicyNumberIndex(number string) int {
	for i := range db.Policies {
		if db.Policies[i].PolicyNumber == number {
			return i
		}
	}
	return -1
}

// ClaimIndex returns the index of the claim with id, or -1
func (db *Database) ClaimIndex(id string) int {
	for i := range db.Claims {
		if db.Claims[i].ID == id {
			return i
		}
	}
	return -1
}

// ClaimNumberIndex returns the index of the claim with number, or -1
func (db *Database) ClaimNumberIndex(number string) int {
	for i := range db.Claims {
		if db.Claims[i].ClaimNumber == number {
			return i
		}
	}
	return -1
}

// BeneficiaryIndex returns the index of the beneficiary with id, or -1
func (db *Database) BeneficiaryIndex(id string) int {
	for i := range db.Beneficiaries {
		if db.Beneficiaries[i].ID == id {
			return i
		}
	}
	return -1
}

// BeneficiariesOf returns the beneficiaries of a policy in insertion order
func (db *Database) BeneficiariesOf(policyID string) []Beneficiary {
	out := []Beneficiary{}
	for _, b := range db.Beneficiaries {
		if b.PolicyID == policyID {
			out = append(out, b)
		}
	}
	return out
}
