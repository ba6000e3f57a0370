package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAuditLog appends an audit record. Callers treat this as best-effort:
// a failure here must never block the operation being audited.
func (r *Repository) InsertAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry cannot be nil", ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, resource, resource_id, result, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, now())`,
		entry.ID, entry.Actor, entry.Action, entry.Resource, entry.ResourceID, entry.Result, entry.Metadata)
	if err != nil {
		return fmt.Errorf("%w: insert audit log: %v", ErrDatabaseError, err)
	}
	return nil
}

// EnqueueOutboxEvent durably queues an event for later delivery.
func (r *Repository) EnqueueOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event cannot be nil", ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, topic, payload, attempts, next_attempt, delivered, created_at)
		VALUES ($1, $2, $3, 0, now(), false, now())`,
		event.ID, event.Topic, event.Payload)
	if err != nil {
		return fmt.Errorf("%w: enqueue outbox event: %v", ErrDatabaseError, err)
	}
	return nil
}

// ClaimDueOutboxEvents returns undelivered events whose next_attempt has
// passed, for the outbox drain loop to process.
func (r *Repository) ClaimDueOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	limit = ValidateLimit(limit, 50, 500)
	var events []OutboxEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM outbox_events
		WHERE delivered = false AND next_attempt <= now()
		ORDER BY next_attempt ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim due outbox events: %v", ErrDatabaseError, err)
	}
	return events, nil
}

// MarkOutboxDelivered marks an outbox event as successfully delivered.
func (r *Repository) MarkOutboxDelivered(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: mark outbox delivered: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "outbox_event", id)
}

// ScheduleOutboxRetry bumps the attempt counter and reschedules an outbox
// event's next_attempt, used by the capped-backoff drain loop.
func (r *Repository) ScheduleOutboxRetry(ctx context.Context, id string, nextAttempt time.Time) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, next_attempt = $1 WHERE id = $2`, nextAttempt, id)
	if err != nil {
		return fmt.Errorf("%w: schedule outbox retry: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "outbox_event", id)
}
