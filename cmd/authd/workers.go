package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultauth/core/infrastructure/database"
	"github.com/vaultauth/core/infrastructure/utils"
)

// startWorkers launches the background loops the deposit and audit
// pipelines depend on: outbox delivery, hold expiry, micro-deposit
// batching, and SPL deposit reconciliation. Each runs on its own ticker so
// a slow iteration of one never delays the others, wrapped in SafeGo so a
// panic in one pass logs and dies with that goroutine instead of the whole
// process, the same protection the HTTP handlers get from RecoveryMiddleware.
func (a *app) startWorkers(ctx context.Context) {
	a.goTicker(ctx, a.cfg.Deposit.WorkerInterval, a.deliverOutbox)
	a.goTicker(ctx, a.cfg.Deposit.HoldExpiryInterval, a.releaseExpiredHolds)
	a.goTicker(ctx, a.cfg.Deposit.WorkerInterval, a.batchMicroDeposits)
	a.goTicker(ctx, a.cfg.Deposit.WorkerInterval, a.reconcileSplDeposits)
	if a.cfg.Privacy.Enabled {
		a.goTicker(ctx, a.cfg.Privacy.WorkerInterval, a.processMaturedWithdrawals)
	}
	if a.redis != nil {
		utils.SafeGo(func() { a.settings.Subscribe(ctx, a.redis) }, a.logWorkerPanic("settings.Subscribe"))
	}
}

func (a *app) goTicker(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	utils.SafeGo(func() { a.runTicker(ctx, interval, tick) }, a.logWorkerPanic("runTicker"))
}

func (a *app) logWorkerPanic(name string) func(error) {
	return func(err error) {
		a.logger.WithError(err).Error("authd: background worker panicked: " + name)
	}
}

func (a *app) runTicker(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (a *app) deliverOutbox(ctx context.Context) {
	delivered, failed, err := a.audit.Deliver(ctx, 50, a.deliverOutboxEvent)
	if err != nil {
		a.logger.WithError(err).Warn("authd: outbox delivery pass failed")
		return
	}
	if delivered > 0 || failed > 0 {
		a.logger.Info(ctx, "authd: outbox delivery pass", map[string]interface{}{
			"delivered": delivered, "failed": failed,
		})
	}
}

// deliverOutboxEvent posts an outbox event to the configured downstream
// sink. With no sink configured there are no subscribers yet, so delivery
// is a no-op success rather than a retry-forever failure.
func (a *app) deliverOutboxEvent(ctx context.Context, event database.OutboxEvent) error {
	sinkURL := a.settings.GetString(ctx, "audit.outbox_sink_url", "")
	if sinkURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sinkURL, bytes.NewReader(event.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Outbox-Topic", event.Topic)

	client := &http.Client{Timeout: a.cfg.Sidecar.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("outbox sink responded %d", resp.StatusCode)
	}
	return nil
}

func (a *app) releaseExpiredHolds(ctx context.Context) {
	released, err := a.deposits.ReleaseExpiredHolds(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("authd: hold expiry pass failed")
		return
	}
	if released > 0 {
		a.logger.Info(ctx, "authd: released expired holds", map[string]interface{}{"released": released})
	}
}

func (a *app) batchMicroDeposits(ctx context.Context) {
	batched, err := a.deposits.BatchMicroDeposits(ctx, 500)
	if err != nil {
		a.logger.WithError(err).Warn("authd: micro-deposit batching pass failed")
		return
	}
	if batched > 0 {
		a.logger.Info(ctx, "authd: batched micro deposits", map[string]interface{}{"batched": batched})
	}
}

// processMaturedWithdrawals drains deposit sessions whose privacy period has
// elapsed. Settings are read here, not inside domain/deposit, matching
// deliverOutboxEvent's pattern of resolving tunables from the settings cache
// at the call site rather than threading a settings dependency into the
// domain service.
func (a *app) processMaturedWithdrawals(ctx context.Context) {
	batchSize := int(a.settings.GetU32(ctx, "privacy.withdrawal_batch_size", uint32(a.cfg.Privacy.WithdrawalBatchSize)))
	maxRetries := int(a.settings.GetU32(ctx, "privacy.withdrawal_max_retries", uint32(a.cfg.Privacy.WithdrawalMaxRetries)))
	companyCurrency := a.settings.GetString(ctx, "privacy.company_currency", a.cfg.Privacy.CompanyCurrency)
	companyWallet := a.settings.GetString(ctx, "privacy.company_wallet_address", a.cfg.Privacy.CompanyWalletAddress)
	if companyWallet == "" {
		a.logger.Warn(ctx, "authd: withdrawal worker skipped pass: no company wallet address configured", nil)
		return
	}

	withdrawn, failed, err := a.deposits.ProcessMaturedWithdrawals(ctx, batchSize, companyWallet, companyCurrency, maxRetries)
	if err != nil {
		a.logger.WithError(err).Warn("authd: withdrawal worker pass failed")
		return
	}
	if withdrawn > 0 || failed > 0 {
		a.logger.Info(ctx, "authd: withdrawal worker pass", map[string]interface{}{
			"withdrawn": withdrawn, "failed": failed,
		})
	}
}

func (a *app) reconcileSplDeposits(ctx context.Context) {
	unconfirmed, err := a.deposits.Unconfirmed(ctx, a.cfg.Deposit.ExpiryWindow)
	if err != nil {
		a.logger.WithError(err).Warn("authd: spl reconciliation lookup failed")
		return
	}
	if len(unconfirmed) == 0 {
		return
	}
	credited, err := a.deposits.CreditPendingSplDeposits(ctx, unconfirmed)
	if err != nil {
		a.logger.WithError(err).Warn("authd: spl reconciliation credit pass failed")
		return
	}
	if credited > 0 {
		a.logger.Info(ctx, "authd: credited spl deposits", map[string]interface{}{"credited": credited})
	}
}
