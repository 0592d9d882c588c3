package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/logging"
	"github.com/ppiankov/extralife/internal/metrics"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *clock.Fake, *store.Documents) {
	t.Helper()
	clk := clock.NewFake(epoch)
	docs := store.NewDocuments(store.NewMemoryStore())
	return NewManager(docs, clk, 0, logging.Discard()), clk, docs
}

func profile() Profile {
	return Profile{
		FirstName:    "Ana",
		LastName:     "López",
		Email:        "ana@example.com",
		BirthDate:    "1995-01-01", // 30 at epoch
		Gender:       model.GenderMale,
		State:        "atlantis",
		CoverageType: model.CoverageStandard,
	}
}

func countLogs(t *testing.T, docs *store.Documents, action string) int {
	t.Helper()
	n := 0
	_ = docs.View(context.Background(), func(db *model.Database) error {
		for _, l := range db.SystemLogs {
			if l.Action == action {
				n++
			}
		}
		return nil
	})
	return n
}

func TestAgeAt(t *testing.T) {
	tests := []struct {
		birth string
		want  int
	}{
		{"1995-06-15", 30},
		{"1995-06-16", 29},
		{"1995-01-01", 30},
		{"2030-01-01", 0},
	}
	for _, tt := range tests {
		b, _ := time.Parse("2006-01-02", tt.birth)
		if got := AgeAt(b, epoch); got != tt.want {
			t.Errorf("AgeAt(%s) = %d, want %d", tt.birth, got, tt.want)
		}
	}
}

func TestCreatePolicy(t *testing.T) {
	m, _, docs := newTestManager(t)
	ctx := context.Background()

	p, err := m.CreatePolicy(ctx, profile())
	if err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}

	if p.Status != model.PolicyPending {
		t.Errorf("Status = %s, want pending", p.Status)
	}
	if p.PremiumAmount != 12375 {
		t.Errorf("PremiumAmount = %d, want 12375", p.PremiumAmount)
	}
	if p.CoverageAmount != 250000 {
		t.Errorf("CoverageAmount = %d, want canonical 250000", p.CoverageAmount)
	}
	if p.PolicyNumber == "" || p.ID == "" {
		t.Error("expected id and policy number")
	}
	if p.ActivatedAt != nil {
		t.Error("new policy should not be activated")
	}
	if n := countLogs(t, docs, audit.ActionPolicyCreated); n != 1 {
		t.Errorf("expected 1 policy_created log, got %d", n)
	}

	byNumber, err := m.GetPolicyByNumber(ctx, p.PolicyNumber)
	if err != nil || byNumber == nil || byNumber.ID != p.ID {
		t.Errorf("GetPolicyByNumber() = %v, %v", byNumber, err)
	}
}

func TestCreatePolicyValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	bad := profile()
	bad.Email = "not-an-email"
	bad.CoverageType = "gold"

	_, err := m.CreatePolicy(context.Background(), bad)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetPolicyAbsent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	p, err := m.GetPolicyByID(ctx, "missing")
	if err != nil || p != nil {
		t.Errorf("GetPolicyByID() = %v, %v; want nil, nil", p, err)
	}
	p, err = m.GetPolicyByNumber(ctx, "EL-00000000-XXXX")
	if err != nil || p != nil {
		t.Errorf("GetPolicyByNumber() = %v, %v; want nil, nil", p, err)
	}
}

func TestUpdatePolicy(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	p, _ := m.CreatePolicy(ctx, profile())

	city := "Mérida"
	got, err := m.UpdatePolicy(ctx, p.ID, PolicyUpdate{City: &city})
	if err != nil {
		t.Fatalf("UpdatePolicy() error = %v", err)
	}
	if got.City != city || got.FirstName != "Ana" {
		t.Errorf("merge failed: %+v", got)
	}

	missing, err := m.UpdatePolicy(ctx, "nope", PolicyUpdate{City: &city})
	if err != nil || missing != nil {
		t.Errorf("UpdatePolicy(unknown) = %v, %v; want nil, nil", missing, err)
	}

	bogus := model.PolicyStatus("frozen")
	if _, err := m.UpdatePolicy(ctx, p.ID, PolicyUpdate{Status: &bogus}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestSetContractHash(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	p, _ := m.CreatePolicy(ctx, profile())

	got, err := m.SetContractHash(ctx, p.PolicyNumber, "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContractTxHash != "0xabc" || got.PolicyNumber != p.PolicyNumber {
		t.Errorf("unexpected policy: %+v", got)
	}

	if _, err := m.SetContractHash(ctx, "EL-missing", "0xabc"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestActivationLifecycle(t *testing.T) {
	m, clk, docs := newTestManager(t)
	a := NewActivator(m, 0, logging.Discard())
	ctx := context.Background()

	p, _ := m.CreatePolicy(ctx, profile())

	st, err := m.StatusOf(ctx, p.PolicyNumber)
	if err != nil {
		t.Fatal(err)
	}
	if st.IsActive || st.CanFileClaims {
		t.Error("new policy should not be active")
	}
	if st.ActivationTimeRemaining != 40 {
		t.Errorf("ActivationTimeRemaining = %d, want 40", st.ActivationTimeRemaining)
	}

	// just before the delay: nothing happens
	clk.Advance(39*time.Second + 500*time.Millisecond)
	n, err := a.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("early Sweep() = %d, %v", n, err)
	}
	st, _ = m.StatusOf(ctx, p.PolicyNumber)
	if st.IsActive || st.ActivationTimeRemaining != 1 {
		t.Errorf("early status = %+v", st)
	}

	clk.Advance(time.Second)
	n, err = a.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v; want 1", n, err)
	}

	st, _ = m.StatusOf(ctx, p.PolicyNumber)
	if !st.IsActive || st.ActivationTimeRemaining != 0 || !st.CanFileClaims {
		t.Errorf("status after sweep = %+v", st)
	}
	remaining, _ := m.ActivationTimeRemaining(ctx, p.ID)
	if remaining != 0 {
		t.Errorf("ActivationTimeRemaining() = %v, want 0", remaining)
	}

	activated, _ := m.GetPolicyByID(ctx, p.ID)
	firstActivation := *activated.ActivatedAt
	if !firstActivation.Equal(clk.Now()) {
		t.Errorf("ActivatedAt = %v, want %v", firstActivation, clk.Now())
	}

	// idempotent
	clk.Advance(time.Minute)
	n, err = a.Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("repeat Sweep() = %d, %v", n, err)
	}
	again, _ := m.GetPolicyByID(ctx, p.ID)
	if !again.ActivatedAt.Equal(firstActivation) {
		t.Error("repeat sweep changed activatedAt")
	}
	if c := countLogs(t, docs, audit.ActionPolicyActivated); c != 1 {
		t.Errorf("expected 1 policy_activated log, got %d", c)
	}
}

func TestSweepEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := NewActivator(m, 0, logging.Discard())

	n, err := a.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Sweep() on empty store = %d, %v", n, err)
	}
}

// flakyStore fails the next failReads reads
type flakyStore struct {
	store.Store
	failReads int
}

func (s *flakyStore) Read(ctx context.Context) (*model.Database, error) {
	if s.failReads > 0 {
		s.failReads--
		return nil, errors.New("disk unavailable")
	}
	return s.Store.Read(ctx)
}

func sweepFailures(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "extralife_activation_sweep_errors_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("sweep error counter not registered")
	return 0
}

func TestTickRecoversAfterFailure(t *testing.T) {
	clk := clock.NewFake(epoch)
	fs := &flakyStore{Store: store.NewMemoryStore()}
	m := NewManager(store.NewDocuments(fs), clk, 0, logging.Discard())
	logger, hook := logtest.NewNullLogger()
	a := NewActivator(m, time.Second, logger)
	ctx := context.Background()

	p, err := m.CreatePolicy(ctx, profile())
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(DefaultActivationDelay)

	before := sweepFailures(t)
	fs.failReads = 1
	a.tick()

	if got := sweepFailures(t) - before; got != 1 {
		t.Errorf("sweep failures counted = %v, want 1", got)
	}
	failed := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "activation sweep failed" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected 1 failure log, got %d", failed)
	}
	if got, _ := m.GetPolicyByID(ctx, p.ID); got.Status != model.PolicyPending {
		t.Fatalf("failed tick changed status to %s", got.Status)
	}

	a.tick()
	if got, _ := m.GetPolicyByID(ctx, p.ID); got.Status != model.PolicyActive {
		t.Errorf("Status after next tick = %s, want active", got.Status)
	}
	if got := sweepFailures(t) - before; got != 1 {
		t.Errorf("successful tick counted as failure")
	}
}

func TestActivationTimeRemainingUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	d, err := m.ActivationTimeRemaining(context.Background(), "missing")
	if err != nil || d != 0 {
		t.Errorf("ActivationTimeRemaining(missing) = %v, %v", d, err)
	}
}

type fixedTerm struct{ d time.Duration }

func (f fixedTerm) ExpiresAt(p model.Policy) (time.Time, bool) {
	return p.ActivatedAt.Add(f.d), true
}

func TestSweepStampsExpiryWhenConfigured(t *testing.T) {
	m, clk, _ := newTestManager(t)
	a := NewActivator(m, 0, logging.Discard())
	a.SetExpiryPolicy(fixedTerm{d: 365 * 24 * time.Hour})
	ctx := context.Background()

	p, _ := m.CreatePolicy(ctx, profile())
	clk.Advance(DefaultActivationDelay)
	if _, err := a.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := m.GetPolicyByID(ctx, p.ID)
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(clk.Now().Add(365*24*time.Hour)) {
		t.Errorf("ExpiresAt = %v", got.ExpiresAt)
	}
	if got.Status != model.PolicyActive {
		t.Errorf("expiry must not change status, got %s", got.Status)
	}
}

func TestActivatorStartStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := NewActivator(m, time.Hour, logging.Discard())

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal("second Start should be a no-op")
	}
	if !a.Running() {
		t.Error("expected running")
	}

	a.Stop()
	a.Stop()
	if a.Running() {
		t.Error("expected stopped")
	}
}
