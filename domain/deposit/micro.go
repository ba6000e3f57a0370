package deposit

import (
	"context"
	"fmt"

	"github.com/vaultauth/core/infrastructure/database"
)

// CreateMicroDeposit registers a small deposit intent to be folded into a
// later batch credit rather than hitting the ledger on its own.
func (s *Service) CreateMicroDeposit(ctx context.Context, userID, fromAddress, mint string, amount int64) (*database.DepositRequest, error) {
	if _, err := s.repo.GetOrCreateLedgerAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("deposit: ensure ledger account: %w", err)
	}
	req := &database.DepositRequest{
		UserID:                userID,
		Kind:                  "micro",
		Amount:                amount,
		TokenMint:             mint,
		FromAddress:           fromAddress,
		Status:                "pending",
		RequiredConfirmations: 1,
	}
	if err := s.repo.CreateDepositRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("deposit: create micro deposit: %w", err)
	}
	return req, nil
}

// BatchMicroDeposits groups pending micro deposits by user and credits the
// ledger once per user for users with at least MicroDepositMinBatch deposits
// accumulated, confirming every deposit folded into the batch. Users below
// the threshold are left pending for a later run.
func (s *Service) BatchMicroDeposits(ctx context.Context, limit int) (batched int, err error) {
	pending, err := s.repo.GetPendingDeposits(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("deposit: list pending deposits: %w", err)
	}

	byUser := make(map[string][]database.DepositRequest)
	for _, d := range pending {
		if d.Kind != "micro" {
			continue
		}
		byUser[d.UserID] = append(byUser[d.UserID], d)
	}

	for userID, deposits := range byUser {
		if len(deposits) < s.cfg.MicroDepositMinBatch {
			continue
		}
		var total int64
		for _, d := range deposits {
			total += d.Amount
		}

		entry := &database.LedgerEntry{EntryType: "deposit_micro_batch"}
		if _, err := s.repo.CreditLedgerAtomic(ctx, userID, total, entry); err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to credit micro batch for user %s", userID))
			continue
		}
		for _, d := range deposits {
			if err := s.repo.UpdateDepositStatus(ctx, d.ID, "confirmed", d.RequiredConfirmations); err != nil {
				s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to mark micro deposit %s confirmed after batching", d.ID))
				continue
			}
			batched++
		}
	}
	return batched, nil
}
