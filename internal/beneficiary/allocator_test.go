package beneficiary

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/logging"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

func setup(t *testing.T) (*Allocator, string) {
	t.Helper()
	docs := store.NewDocuments(store.NewMemoryStore())
	err := docs.Update(context.Background(), func(db *model.Database) error {
		db.Policies = append(db.Policies, model.Policy{ID: "policy-1", PolicyNumber: "EL-00000001-AAAA", Status: model.PolicyPending})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewAllocator(docs, clk, logging.Discard()), "policy-1"
}

func person(name string) Profile {
	return Profile{FirstName: name, LastName: "Pérez", Relationship: "child"}
}

func TestAllocationCap(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	first, err := a.CreateBeneficiary(ctx, policyID, 60, person("Luis"))
	if err != nil {
		t.Fatalf("first beneficiary: %v", err)
	}

	_, err = a.CreateBeneficiary(ctx, policyID, 41, person("Eva"))
	if !apperr.Is(err, apperr.KindAllocationExceeded) {
		t.Fatalf("expected allocation exceeded, got %v", err)
	}

	list, err := a.GetBeneficiariesByPolicy(ctx, policyID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != first.ID || list[0].Percentage != 60 {
		t.Errorf("unexpected beneficiaries after rejection: %+v", list)
	}

	if _, err := a.CreateBeneficiary(ctx, policyID, 40, person("Eva")); err != nil {
		t.Errorf("filling to exactly 100 should succeed: %v", err)
	}
	sum, _ := a.Allocated(ctx, policyID)
	if sum != 100 {
		t.Errorf("Allocated() = %d, want 100", sum)
	}
}

func TestCreateBeneficiaryErrors(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		policyID string
		pct      int
		profile  Profile
		kind     apperr.Kind
	}{
		{"zero percent", policyID, 0, person("A"), apperr.KindValidation},
		{"over 100", policyID, 101, person("A"), apperr.KindValidation},
		{"missing policy", "nope", 10, person("A"), apperr.KindNotFound},
		{"missing name", policyID, 10, Profile{Relationship: "child"}, apperr.KindValidation},
		{"bad clabe", policyID, 10, Profile{FirstName: "A", Relationship: "child", Clabe: "123"}, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.CreateBeneficiary(ctx, tt.policyID, tt.pct, tt.profile)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestInsertionOrder(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	names := []string{"Uno", "Dos", "Tres"}
	for _, n := range names {
		if _, err := a.CreateBeneficiary(ctx, policyID, 20, person(n)); err != nil {
			t.Fatal(err)
		}
	}

	list, _ := a.GetBeneficiariesByPolicy(ctx, policyID)
	for i, n := range names {
		if list[i].FirstName != n {
			t.Errorf("position %d = %s, want %s", i, list[i].FirstName, n)
		}
	}
}

func TestUpdateBeneficiaryRechecksCap(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	b1, _ := a.CreateBeneficiary(ctx, policyID, 50, person("Luis"))
	_, _ = a.CreateBeneficiary(ctx, policyID, 30, person("Eva"))

	pct := 71
	if _, err := a.UpdateBeneficiary(ctx, b1.ID, Update{Percentage: &pct}); !apperr.Is(err, apperr.KindAllocationExceeded) {
		t.Errorf("expected allocation exceeded, got %v", err)
	}

	pct = 70
	got, err := a.UpdateBeneficiary(ctx, b1.ID, Update{Percentage: &pct})
	if err != nil {
		t.Fatalf("UpdateBeneficiary() error = %v", err)
	}
	if got.Percentage != 70 {
		t.Errorf("Percentage = %d", got.Percentage)
	}

	pct = 10
	if _, err := a.UpdateBeneficiary(ctx, b1.ID, Update{Percentage: &pct}); err != nil {
		t.Errorf("lowering should always succeed: %v", err)
	}

	if _, err := a.UpdateBeneficiary(ctx, "missing", Update{Percentage: &pct}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteBeneficiary(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	b, _ := a.CreateBeneficiary(ctx, policyID, 100, person("Luis"))
	if err := a.DeleteBeneficiary(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	sum, _ := a.Allocated(ctx, policyID)
	if sum != 0 {
		t.Errorf("Allocated() after delete = %d", sum)
	}
	if err := a.DeleteBeneficiary(ctx, b.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestConcurrentInsertsNeverExceedCap(t *testing.T) {
	a, policyID := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.CreateBeneficiary(ctx, policyID, 30, person("Racer"))
		}()
	}
	wg.Wait()

	sum, _ := a.Allocated(ctx, policyID)
	if sum != 90 {
		t.Errorf("Allocated() = %d, want 90 (three inserts fit)", sum)
	}
}
