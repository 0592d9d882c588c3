package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/store"
)

// Actions recorded by the domain packages
const (
	ActionPolicyCreated      = "policy_created"
	ActionPolicyUpdated      = "policy_updated"
	ActionPolicyActivated    = "policy_activated"
	ActionBeneficiaryCreated = "beneficiary_created"
	ActionBeneficiaryUpdated = "beneficiary_updated"
	ActionBeneficiaryDeleted = "beneficiary_deleted"
	ActionClaimCreated       = "claim_created"
	ActionClaimUpdated       = "claim_updated"
	ActionPayoutCompleted    = "payout_completed"
	ActionPayoutFailed       = "payout_failed"
	ActionPayoutConflict     = "payout_conflict"
	ActionClabeCreated       = "clabe_created"
	ActionDepositRecorded    = "deposit_recorded"
)

// Entry is an audit record before it gets an id and timestamp
type Entry struct {
	Level      model.LogLevel
	Action     string
	EntityType model.EntityType
	EntityID   string
	Message    string
	Data       map[string]string
}

// Append adds an entry to db. Call it inside store.Documents.Update so the
// entity change and its log entry are written together.
func Append(db *model.Database, now time.Time, e Entry) model.SystemLog {
	level := e.Level
	if level == "" {
		level = model.LogInfo
	}
	entry := model.SystemLog{
		ID:         uuid.New().String(),
		Level:      level,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Message:    e.Message,
		Data:       e.Data,
		CreatedAt:  now,
	}
	db.SystemLogs = append(db.SystemLogs, entry)
	return entry
}

// Filter narrows an audit query. Zero values match everything.
type Filter struct {
	Level      model.LogLevel
	Action     string
	EntityType model.EntityType
	EntityID   string
	Limit      int
}

func (f Filter) match(l model.SystemLog) bool {
	if f.Level != "" && l.Level != f.Level {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	if f.EntityType != "" && l.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && l.EntityID != f.EntityID {
		return false
	}
	return true
}

// Service reads and writes the audit log outside of other updates
type Service struct {
	docs  *store.Documents
	clock clock.Clock
}

// NewService creates an audit service
func NewService(docs *store.Documents, clk clock.Clock) *Service {
	return &Service{docs: docs, clock: clk}
}

// Log appends a standalone entry
func (s *Service) Log(ctx context.Context, e Entry) error {
	return s.docs.Update(ctx, func(db *model.Database) error {
		Append(db, s.clock.Now(), e)
		return nil
	})
}

// Query returns matching entries, newest first
func (s *Service) Query(ctx context.Context, f Filter) ([]model.SystemLog, error) {
	out := []model.SystemLog{}
	err := s.docs.View(ctx, func(db *model.Database) error {
		for _, l := range db.SystemLogs {
			if f.match(l) {
				out = append(out, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// entries are appended in order, so reversing keeps ties stable
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
