package beneficiary

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
	"github.com/ppiankov/extralife/internal/validate"
)

// MaxAllocation is the cap on the sum of a policy's beneficiary percentages
const MaxAllocation = 100

// Profile describes a beneficiary
type Profile struct {
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName"`
	Relationship string `json:"relationship" validate:"required"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	Clabe        string `json:"clabe,omitempty" validate:"omitempty,clabe"`
	IDType       string `json:"idType,omitempty"`
	IDNumber     string `json:"idNumber,omitempty"`
}

// Update carries beneficiary fields to merge
type Update struct {
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	Relationship *string `json:"relationship,omitempty"`
	Percentage   *int    `json:"percentage,omitempty"`
	Email        *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone        *string `json:"phone,omitempty"`
	Address      *string `json:"address,omitempty"`
	Clabe        *string `json:"clabe,omitempty" validate:"omitempty,clabe"`
}

// Allocator manages beneficiaries and the 100% allocation cap
type Allocator struct {
	docs   *store.Documents
	clock  clock.Clock
	logger logrus.FieldLogger
}

// NewAllocator creates an allocator
func NewAllocator(docs *store.Documents, clk clock.Clock, logger logrus.FieldLogger) *Allocator {
	return &Allocator{docs: docs, clock: clk, logger: logger}
}

func checkPercentage(pct int) error {
	if pct < 1 || pct > MaxAllocation {
		return apperr.Validation("invalid request", map[string]string{
			"percentage": fmt.Sprintf("must be between 1 and %d", MaxAllocation),
		})
	}
	return nil
}

func allocated(db *model.Database, policyID, exceptID string) int {
	sum := 0
	for _, b := range db.Beneficiaries {
		if b.PolicyID == policyID && b.ID != exceptID {
			sum += b.Percentage
		}
	}
	return sum
}

// CreateBeneficiary attaches a beneficiary to a policy. The allocation check
// and the insert happen in the same store update.
func (a *Allocator) CreateBeneficiary(ctx context.Context, policyID string, percentage int, p Profile) (*model.Beneficiary, error) {
	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	b := model.Beneficiary{
		ID:           ids.New(),
		PolicyID:     policyID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Relationship: p.Relationship,
		Percentage:   percentage,
		Email:        p.Email,
		Phone:        p.Phone,
		Address:      p.Address,
		Clabe:        p.Clabe,
		IDType:       p.IDType,
		IDNumber:     p.IDNumber,
		CreatedAt:    now,
	}

	err := a.docs.Update(ctx, func(db *model.Database) error {
		if db.PolicyIndex(policyID) < 0 {
			return apperr.NotFound("policy", policyID)
		}
		current := allocated(db, policyID, "")
		if current+percentage > MaxAllocation {
			return apperr.AllocationExceeded(policyID, current, percentage)
		}

		db.Beneficiaries = append(db.Beneficiaries, b)
		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionBeneficiaryCreated,
			EntityType: model.EntityPolicy,
			EntityID:   policyID,
			Message:    fmt.Sprintf("Beneficiary added: %s (%d%%)", b.FullName(), percentage),
			Data:       map[string]string{"beneficiaryId": b.ID},
		})
		return nil
	})
	if err != nil {
		a.logFailure(err, "create beneficiary", policyID)
		return nil, err
	}
	return &b, nil
}

// GetBeneficiariesByPolicy returns beneficiaries in insertion order
func (a *Allocator) GetBeneficiariesByPolicy(ctx context.Context, policyID string) ([]model.Beneficiary, error) {
	var out []model.Beneficiary
	err := a.docs.View(ctx, func(db *model.Database) error {
		out = db.BeneficiariesOf(policyID)
		return nil
	})
	return out, err
}

// Allocated returns the current percentage sum of a policy
func (a *Allocator) Allocated(ctx context.Context, policyID string) (int, error) {
	var sum int
	err := a.docs.View(ctx, func(db *model.Database) error {
		sum = allocated(db, policyID, "")
		return nil
	})
	return sum, err
}

// UpdateBeneficiary merges u. A higher percentage is re-checked against the cap.
func (a *Allocator) UpdateBeneficiary(ctx context.Context, id string, u Update) (*model.Beneficiary, error) {
	if u.Percentage != nil {
		if err := checkPercentage(*u.Percentage); err != nil {
			return nil, err
		}
	}
	if err := validate.Struct(u); err != nil {
		return nil, err
	}

	var out model.Beneficiary
	now := a.clock.Now()
	err := a.docs.Update(ctx, func(db *model.Database) error {
		i := db.BeneficiaryIndex(id)
		if i < 0 {
			return apperr.NotFound("beneficiary", id)
		}
		b := &db.Beneficiaries[i]

		if u.Percentage != nil && *u.Percentage > b.Percentage {
			others := allocated(db, b.PolicyID, b.ID)
			if others+*u.Percentage > MaxAllocation {
				return apperr.AllocationExceeded(b.PolicyID, others, *u.Percentage)
			}
		}

		set := func(dst *string, src *string) {
			if src != nil {
				*dst = *src
			}
		}
		set(&b.FirstName, u.FirstName)
		set(&b.LastName, u.LastName)
		set(&b.Relationship, u.Relationship)
		set(&b.Email, u.Email)
		set(&b.Phone, u.Phone)
		set(&b.Address, u.Address)
		set(&b.Clabe, u.Clabe)
		if u.Percentage != nil {
			b.Percentage = *u.Percentage
		}

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionBeneficiaryUpdated,
			EntityType: model.EntityPolicy,
			EntityID:   b.PolicyID,
			Message:    fmt.Sprintf("Beneficiary updated: %s", b.FullName()),
			Data:       map[string]string{"beneficiaryId": b.ID},
		})
		out = *b
		return nil
	})
	if err != nil {
		a.logFailure(err, "update beneficiary", id)
		return nil, err
	}
	return &out, nil
}

// DeleteBeneficiary removes a beneficiary. Removal only lowers the sum, so
// nothing is re-validated.
func (a *Allocator) DeleteBeneficiary(ctx context.Context, id string) error {
	now := a.clock.Now()
	err := a.docs.Update(ctx, func(db *model.Database) error {
		i := db.BeneficiaryIndex(id)
		if i < 0 {
			return apperr.NotFound("beneficiary", id)
		}
		b := db.Beneficiaries[i]
		db.Beneficiaries = append(db.Beneficiaries[:i], db.Beneficiaries[i+1:]...)

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionBeneficiaryDeleted,
			EntityType: model.EntityPolicy,
			EntityID:   b.PolicyID,
			Message:    fmt.Sprintf("Beneficiary removed: %s", b.FullName()),
			Data:       map[string]string{"beneficiaryId": b.ID},
		})
		return nil
	})
	if err != nil {
		a.logFailure(err, "delete beneficiary", id)
	}
	return err
}

func (a *Allocator) logFailure(err error, action, id string) {
	entry := a.logger.WithError(err).WithFields(logrus.Fields{"action": action, "entity_id": id})
	if apperr.Is(err, apperr.KindPersistence) {
		entry.Error("beneficiary operation failed")
		return
	}
	entry.Debug("beneficiary operation rejected")
}
