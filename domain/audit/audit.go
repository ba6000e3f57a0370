// Package audit records append-only audit log entries and drains a durable
// outbox of events bound for downstream consumers, retrying failed
// deliveries with capped exponential backoff.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/vaultauth/core/infrastructure/database"
	"github.com/vaultauth/core/infrastructure/logging"
)

// Repository is the subset of the database layer this service depends on.
type Repository interface {
	InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error
	EnqueueOutboxEvent(ctx context.Context, event *database.OutboxEvent) error
	ClaimDueOutboxEvents(ctx context.Context, limit int) ([]database.OutboxEvent, error)
	MarkOutboxDelivered(ctx context.Context, id string) error
	ScheduleOutboxRetry(ctx context.Context, id string, nextAttempt time.Time) error
}

// BackoffConfig bounds the retry schedule for failed outbox deliveries,
// shaped like infrastructure/resilience.RetryConfig but applied across
// persisted attempts rather than within a single in-process call.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
}

// DefaultBackoffConfig mirrors resilience.DefaultRetryConfig's shape,
// extended with a higher attempt ceiling appropriate for a background drain
// loop rather than a single request's retry budget.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 30 * time.Second,
		MaxDelay:     30 * time.Minute,
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxAttempts:  10,
	}
}

func (c BackoffConfig) delayFor(attempts int) time.Duration {
	delay := c.InitialDelay
	for i := 0; i < attempts; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay > c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if c.Jitter <= 0 {
		return delay
	}
	delta := float64(delay) * c.Jitter
	return delay + time.Duration(rand.Float64()*delta*2-delta)
}

// Service logs audit entries and drains the outbox.
type Service struct {
	repo    Repository
	backoff BackoffConfig
	logger  *logging.Logger
}

// New constructs a Service.
func New(repo Repository, backoff BackoffConfig, logger *logging.Logger) *Service {
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoffConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, backoff: backoff, logger: logger}
}

// Log records one append-only audit entry.
func (s *Service) Log(ctx context.Context, actor, action, resource, resourceID, result string, metadata map[string]interface{}) error {
	var raw json.RawMessage
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
		raw = encoded
	}
	entry := &database.AuditLogEntry{
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Result:     result,
		Metadata:   raw,
	}
	if err := s.repo.InsertAuditLog(ctx, entry); err != nil {
		return err
	}
	s.logger.LogAudit(ctx, action, resource, resourceID, result)
	return nil
}

// Publish enqueues a durable event for asynchronous delivery to topic.
func (s *Service) Publish(ctx context.Context, topic string, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: encode outbox payload: %w", err)
	}
	event := &database.OutboxEvent{
		Topic:       topic,
		Payload:     encoded,
		NextAttempt: time.Now(),
	}
	return s.repo.EnqueueOutboxEvent(ctx, event)
}

// Deliver attempts to hand each due outbox event to deliver, marking it
// delivered on success or rescheduling it with capped exponential backoff
// on failure. Events that have exhausted MaxAttempts are left claimed but
// undelivered for an operator to inspect rather than retried forever.
func (s *Service) Deliver(ctx context.Context, limit int, deliver func(ctx context.Context, event database.OutboxEvent) error) (delivered, failed int, err error) {
	events, err := s.repo.ClaimDueOutboxEvents(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, event := range events {
		if deliverErr := deliver(ctx, event); deliverErr != nil {
			failed++
			s.logger.WithError(deliverErr).Warn(fmt.Sprintf("outbox delivery failed for event %s (topic %s, attempt %d)", event.ID, event.Topic, event.Attempts+1))
			if event.Attempts+1 >= s.backoff.MaxAttempts {
				continue
			}
			next := time.Now().Add(s.backoff.delayFor(event.Attempts))
			if retryErr := s.repo.ScheduleOutboxRetry(ctx, event.ID, next); retryErr != nil {
				return delivered, failed, retryErr
			}
			continue
		}
		if markErr := s.repo.MarkOutboxDelivered(ctx, event.ID); markErr != nil {
			return delivered, failed, markErr
		}
		delivered++
	}
	return delivered, failed, nil
}
