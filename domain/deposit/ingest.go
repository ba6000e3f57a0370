package deposit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vaultauth/core/infrastructure/database"
)

// heliusWebhookPayload is the indexer's enhanced-transaction webhook shape:
// one entry per observed transaction, each carrying zero or more token and
// native transfers.
type heliusWebhookPayload struct {
	Signature       string                 `json:"signature"`
	Type            string                 `json:"type"`
	TokenTransfers  []heliusTokenTransfer  `json:"token_transfers"`
	NativeTransfers []heliusNativeTransfer `json:"native_transfers"`
}

type heliusTokenTransfer struct {
	Mint            string          `json:"mint"`
	TokenAmount     json.RawMessage `json:"token_amount"`
	FromUserAccount string          `json:"from_user_account"`
	ToUserAccount   string          `json:"to_user_account"`
}

type heliusNativeTransfer struct {
	Amount          int64  `json:"amount"`
	FromUserAccount string `json:"from_user_account"`
	ToUserAccount   string `json:"to_user_account"`
}

// tokenAmountAsString reads token_amount whether the upstream indexer
// encoded it as a JSON string or a bare JSON number.
func tokenAmountAsString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New("deposit: empty token_amount")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("deposit: decode token_amount string: %w", err)
		}
		return s, nil
	}
	return string(trimmed), nil
}

// MintConfig describes an accepted SPL token mint and its decimal precision.
type MintConfig struct {
	Mint     string
	Decimals int
}

// IngestResult summarizes one webhook delivery's processing outcome.
type IngestResult struct {
	Accepted int
	Skipped  int
}

// IngestTokenTransferWebhook verifies the inbound signature, parses a
// Helius-style token-transfer payload, and idempotently stages every
// transfer landing on a known custodial wallet and an allow-listed mint.
// Transfers to addresses this service doesn't custody, or in a mint not
// present in allowedMints, are skipped rather than rejecting the whole
// delivery.
func (s *Service) IngestTokenTransferWebhook(ctx context.Context, secret string, body []byte, signatureHex string, allowedMints map[string]MintConfig) (*IngestResult, error) {
	if !VerifyWebhookSignature(secret, body, signatureHex) {
		return nil, errors.New("deposit: webhook signature verification failed")
	}

	var payload heliusWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("deposit: decode webhook payload: %w", err)
	}

	result := &IngestResult{}
	for _, transfer := range payload.TokenTransfers {
		if transfer.ToUserAccount == "" {
			result.Skipped++
			continue
		}
		mint, ok := allowedMints[transfer.Mint]
		if !ok {
			result.Skipped++
			continue
		}

		amountStr, err := tokenAmountAsString(transfer.TokenAmount)
		if err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: malformed token_amount in webhook for tx %s", payload.Signature))
			result.Skipped++
			continue
		}
		amount, err := ParseDecimalToRawAmount(amountStr, mint.Decimals)
		if err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: invalid token amount %q in webhook for tx %s", amountStr, payload.Signature))
			result.Skipped++
			continue
		}

		if _, err := s.repo.GetUserIDByWalletAddress(ctx, transfer.ToUserAccount); err != nil {
			result.Skipped++
			continue
		}

		if err := s.repo.InsertPendingSplDeposit(ctx, &database.PendingSplDeposit{
			TxSignature: payload.Signature,
			TokenMint:   transfer.Mint,
			ToAddress:   transfer.ToUserAccount,
			Amount:      amount,
			Decimals:    mint.Decimals,
		}); err != nil {
			return nil, fmt.Errorf("deposit: stage pending spl deposit: %w", err)
		}
		result.Accepted++
	}
	return result, nil
}

// CreditPendingSplDeposits credits the ledger for every unprocessed staged
// SPL deposit belonging to a known wallet, marking each processed once
// credited. Intended to run on the same timer as the confirmation/
// reconciliation worker.
func (s *Service) CreditPendingSplDeposits(ctx context.Context, deposits []database.PendingSplDeposit) (credited int, err error) {
	for _, d := range deposits {
		if d.Processed {
			continue
		}
		userID, err := s.repo.GetUserIDByWalletAddress(ctx, d.ToAddress)
		if err != nil {
			continue
		}
		if _, err := s.repo.CreditLedgerAtomic(ctx, userID, d.Amount, &database.LedgerEntry{
			EntryType:   "deposit_spl",
			ReferenceID: d.TxSignature,
		}); err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to credit spl deposit %s", d.TxSignature))
			continue
		}
		if err := s.repo.MarkSplDepositProcessed(ctx, d.ID); err != nil {
			s.logger.WithError(err).Warn(fmt.Sprintf("deposit: failed to mark spl deposit %s processed", d.ID))
			continue
		}
		credited++
	}
	return credited, nil
}
