package checkout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/extralife/internal/apperr"
	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/ids"
	"github.com/ppiankov/extralife/internal/juno"
	"github.com/ppiankov/extralife/internal/model"
)

// OpenDepositAccount creates a CLABE at the gateway and stores it.
// policyID may be empty when the account is opened before checkout.
func (s *Service) OpenDepositAccount(ctx context.Context, alias, policyID string) (*model.Clabe, error) {
	acct, err := s.gateway.CreateDepositAccount(ctx, alias)
	if err != nil {
		s.logger.WithError(err).Error("create deposit account failed")
		return nil, apperr.Collaborator("juno", err)
	}

	now := s.clock.Now()
	c := model.Clabe{
		ID:          ids.New(),
		PolicyID:    policyID,
		ClabeNumber: acct.Clabe,
		Alias:       acct.Alias,
		JunoClabeID: acct.ID,
		Status:      "active",
		CreatedAt:   now,
	}
	err = s.docs.Update(ctx, func(db *model.Database) error {
		db.Clabes = append(db.Clabes, c)
		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionClabeCreated,
			EntityType: model.EntityTransaction,
			EntityID:   c.ID,
			Message:    fmt.Sprintf("CLABE created: %s", c.ClabeNumber),
			Data:       map[string]string{"junoClabeId": acct.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"clabe_id": acct.ID, "clabe": acct.Clabe}).Info("deposit account opened")
	return &c, nil
}

// ListDeposits returns gateway deposits for an account
func (s *Service) ListDeposits(ctx context.Context, accountID string) ([]juno.Deposit, error) {
	deps, err := s.gateway.ListDeposits(ctx, accountID)
	if err != nil {
		return nil, apperr.Collaborator("juno", err)
	}
	return deps, nil
}

// ListTransactions returns gateway-side movements
func (s *Service) ListTransactions(ctx context.Context) ([]juno.Transaction, error) {
	txs, err := s.gateway.ListTransactions(ctx)
	if err != nil {
		return nil, apperr.Collaborator("juno", err)
	}
	return txs, nil
}

// SimulateDeposit asks the gateway for a sandbox deposit and records it
func (s *Service) SimulateDeposit(ctx context.Context, accountID string, amount float64) (*juno.Deposit, error) {
	fields := map[string]string{}
	if accountID == "" {
		fields["clabe_id"] = "is required"
	}
	if amount <= 0 {
		fields["amount"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid request", fields)
	}

	dep, err := s.gateway.CreateMockDeposit(ctx, accountID, amount)
	if err != nil {
		s.logger.WithError(err).WithField("clabe_id", accountID).Error("mock deposit failed")
		return nil, apperr.Collaborator("juno", err)
	}
	if err := s.recordDeposit(ctx, "", dep.ID, accountID, amount); err != nil {
		return nil, err
	}
	return dep, nil
}

// recordDeposit stores a completed deposit movement
func (s *Service) recordDeposit(ctx context.Context, policyID, depositID, clabeID string, amount float64) error {
	now := s.clock.Now()
	tx := model.JunoTransaction{
		ID:                ids.New(),
		PolicyID:          policyID,
		TransactionType:   model.TxDeposit,
		Amount:            amount,
		Currency:          "MXN",
		JunoTransactionID: depositID,
		JunoStatus:        "completed",
		ClabeID:           clabeID,
		CreatedAt:         now,
		CompletedAt:       &now,
	}
	return s.docs.Update(ctx, func(db *model.Database) error {
		db.JunoTransactions = append(db.JunoTransactions, tx)
		entityType, entityID := model.EntityTransaction, tx.ID
		if policyID != "" {
			entityType, entityID = model.EntityPolicy, policyID
		}
		audit.Append(db, now, audit.Entry{
			Action:     audit.ActionDepositRecorded,
			EntityType: entityType,
			EntityID:   entityID,
			Message:    fmt.Sprintf("Deposit recorded: %s (%s MXN)", depositID, juno.FormatAmount(amount)),
			Data:       map[string]string{"depositId": depositID, "transactionId": tx.ID},
		})
		return nil
	})
}
