package claim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/metrics"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/validate"
	"github.com/ppiankov/extralife/internal/worker"
)

// PaymentMethod recorded on claims paid through the gateway
const PaymentMethod = "juno_redemption"

// recordTimeout bounds the bookkeeping write that follows gateway transfers
const recordTimeout = 30 * time.Second

// Transfer is one redemption to one CLABE
type Transfer struct {
	Destination   string  `json:"destination"`
	BeneficiaryID string  `json:"beneficiaryId,omitempty"`
	Amount        float64 `json:"amount"`
	RedemptionID  string  `json:"redemptionId,omitempty"`
	Status        string  `json:"status"`
	Error         string  `json:"error,omitempty"`
}

// Transfer statuses
const (
	TransferCompleted = "completed"
	TransferPrevious  = "previously_completed"
	TransferFailed    = "failed"
)

// PayoutResult is the claim after a payout attempt and the individual transfers
type PayoutResult struct {
	Claim     *model.Claim `json:"claim"`
	Transfers []Transfer   `json:"transfers"`
}

// roundCents rounds half away from zero to two decimals
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// planTransfers splits the claim amount. An override destination receives
// the whole amount; otherwise every beneficiary gets its percentage.
func planTransfers(db *model.Database, c model.Claim, override string) ([]Transfer, error) {
	if override != "" {
		if !validate.CLABE(override) {
			return nil, apperr.Validation("invalid request", map[string]string{"destination": "must be a valid 18-digit CLABE"})
		}
		return []Transfer{{Destination: override, Amount: roundCents(c.ClaimAmount)}}, nil
	}

	beneficiaries := db.BeneficiariesOf(c.PolicyID)
	if len(beneficiaries) == 0 {
		return nil, apperr.Validation("no beneficiaries found for this policy", nil)
	}

	out := make([]Transfer, 0, len(beneficiaries))
	missing := map[string]string{}
	for _, b := range beneficiaries {
		if b.Clabe == "" {
			missing[b.ID] = "beneficiary has no CLABE"
			continue
		}
		out = append(out, Transfer{
			Destination:   b.Clabe,
			BeneficiaryID: b.ID,
			Amount:        roundCents(c.ClaimAmount * float64(b.Percentage) / 100),
		})
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("beneficiaries without payout account", missing)
	}
	return out, nil
}

// paidBefore reports whether an earlier attempt already redeemed to dest
func paidBefore(db *model.Database, claimID, dest string) (string, bool) {
	for _, tx := range db.JunoTransactions {
		if tx.ClaimID == claimID && tx.TransactionType == model.TxRedemption &&
			tx.Metadata["destination"] == dest && tx.JunoStatus != TransferFailed {
			return tx.JunoTransactionID, true
		}
	}
	return "", false
}

func (m *Manager) acquire(claimID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[claimID]; busy {
		return false
	}
	m.inflight[claimID] = struct{}{}
	return true
}

func (m *Manager) release(claimID string) {
	m.mu.Lock()
	delete(m.inflight, claimID)
	m.mu.Unlock()
}

// Payout redeems an approved claim to its beneficiaries (or to override)
// and marks it paid when every transfer succeeded. Destinations paid by an
// earlier attempt are skipped, so a failed payout can be retried. On any
// failure the claim stays approved and a Collaborator error is returned.
func (m *Manager) Payout(ctx context.Context, claimID, override string) (*PayoutResult, error) {
	if !m.acquire(claimID) {
		return nil, apperr.InvalidTransition("claim", "payout in progress", string(model.ClaimPaid))
	}
	defer m.release(claimID)

	var (
		c         model.Claim
		transfers []Transfer
	)
	err := m.docs.View(ctx, func(db *model.Database) error {
		i := db.ClaimIndex(claimID)
		if i < 0 {
			return apperr.NotFound("claim", claimID)
		}
		c = db.Claims[i]
		if c.Status != model.ClaimApproved {
			return apperr.InvalidTransition("claim", string(c.Status), string(model.ClaimPaid))
		}

		var err error
		transfers, err = planTransfers(db, c, override)
		if err != nil {
			return err
		}
		for i := range transfers {
			if id, ok := paidBefore(db, c.ID, transfers[i].Destination); ok {
				transfers[i].RedemptionID = id
				transfers[i].Status = TransferPrevious
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]worker.Job, 0, len(transfers))
	pending := make([]int, 0, len(transfers))
	for i := range transfers {
		if transfers[i].Status == TransferPrevious {
			continue
		}
		t := &transfers[i]
		pending = append(pending, i)
		jobs = append(jobs, worker.Func(func(ctx context.Context) error {
			red, err := m.gateway.RedeemTokens(ctx, t.Amount, m.payout.TokenAddress, m.payout.Network, t.Destination)
			if err != nil {
				return err
			}
			t.RedemptionID = red.ID
			return nil
		}))
	}

	results := worker.Run(ctx, m.payout.Workers, jobs)
	var failures []string
	for j, r := range results {
		t := &transfers[pending[j]]
		if err := r.GetError(); err != nil {
			t.Status = TransferFailed
			t.Error = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", t.Destination, err))
			continue
		}
		t.Status = TransferCompleted
	}

	// Completed transfers are recorded even after the caller has gone away
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	now := m.clock.Now()
	var (
		out      model.Claim
		conflict model.ClaimStatus
	)
	err = m.docs.Update(recordCtx, func(db *model.Database) error {
		for _, t := range transfers {
			if t.Status != TransferCompleted {
				continue
			}
			completed := now
			db.JunoTransactions = append(db.JunoTransactions, model.JunoTransaction{
				ID:                ids.New(),
				PolicyID:          c.PolicyID,
				ClaimID:           c.ID,
				TransactionType:   model.TxRedemption,
				Amount:            t.Amount,
				Currency:          "MXN",
				JunoTransactionID: t.RedemptionID,
				JunoStatus:        TransferCompleted,
				Metadata: map[string]string{
					"destination":   t.Destination,
					"beneficiaryId": t.BeneficiaryID,
				},
				CreatedAt:   now,
				CompletedAt: &completed,
			})
		}

		i := db.ClaimIndex(c.ID)
		if i < 0 {
			return apperr.NotFound("claim", c.ID)
		}
		cl := &db.Claims[i]

		// changed by someone else while the transfers ran
		if cl.Status != model.ClaimApproved {
			conflict = cl.Status
			audit.Append(db, now, audit.Entry{
				Level:      model.LogWarning,
				Action:     audit.ActionPayoutConflict,
				EntityType: model.EntityClaim,
				EntityID:   c.ID,
				Message:    fmt.Sprintf("Claim %s is %s, payout recorded without marking it paid", c.ClaimNumber, cl.Status),
				Data:       map[string]string{"status": string(cl.Status)},
			})
			out = *cl
			return nil
		}

		if len(failures) > 0 {
			audit.Append(db, now, audit.Entry{
				Level:      model.LogError,
				Action:     audit.ActionPayoutFailed,
				EntityType: model.EntityClaim,
				EntityID:   c.ID,
				Message:    fmt.Sprintf("Payout failed for claim %s", c.ClaimNumber),
				Data:       map[string]string{"errors": strings.Join(failures, "; ")},
			})
			out = *cl
			return nil
		}

		redemptions := make([]string, 0, len(transfers))
		details := make(map[string]string, len(transfers))
		for _, t := range transfers {
			redemptions = append(redemptions, t.RedemptionID)
			details[t.Destination] = fmt.Sprintf("%.2f", t.Amount)
		}
		cl.Status = model.ClaimPaid
		cl.PaidAt = &now
		cl.TransactionID = strings.Join(redemptions, ",")
		cl.PaymentMethod = PaymentMethod
		cl.PaymentDetails = details

		if cl.ClaimType == model.ClaimTypeDeath {
			if p := db.PolicyIndex(cl.PolicyID); p >= 0 && db.Policies[p].Status == model.PolicyActive {
				db.Policies[p].Status = model.PolicyClaimed
				audit.Append(db, now, audit.Entry{
					Action:     audit.ActionPolicyUpdated,
					EntityType: model.EntityPolicy,
					EntityID:   cl.PolicyID,
					Message:    fmt.Sprintf("Policy claimed: %s", db.Policies[p].PolicyNumber),
					Data:       map[string]string{"status": string(model.PolicyClaimed), "claimId": cl.ID},
				})
			}
		}

		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionPayoutCompleted,
			EntityType: model.EntityClaim,
			EntityID:   cl.ID,
			Message:    fmt.Sprintf("Claim paid: %s", cl.ClaimNumber),
			Data:       map[string]string{"transactionId": cl.TransactionID},
		})
		out = *cl
		return nil
	})
	if err != nil {
		metrics.Payout("error")
		m.logger.WithError(err).WithField("claim_id", claimID).Error("record payout failed")
		return nil, err
	}

	res := &PayoutResult{Claim: &out, Transfers: transfers}
	if conflict != "" {
		metrics.Payout("conflict")
		m.logger.WithFields(logrus.Fields{
			"claim_id": claimID,
			"status":   conflict,
		}).Error("claim changed during payout")
		return res, apperr.InvalidTransition("claim", string(conflict), string(model.ClaimPaid))
	}
	if len(failures) > 0 {
		metrics.Payout("failure")
		m.logger.WithFields(logrus.Fields{
			"claim_id": claimID,
			"failed":   len(failures),
			"total":    len(transfers),
		}).Error("payout failed")
		return res, apperr.Collaborator("juno", fmt.Errorf("%d of %d transfers failed: %s",
			len(failures), len(transfers), strings.Join(failures, "; ")))
	}

	metrics.Payout("success")
	m.logger.WithFields(logrus.Fields{
		"claim_id":       claimID,
		"transaction_id": out.TransactionID,
	}).Info("claim paid")
	return res, nil
}
