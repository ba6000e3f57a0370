package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vaultauth/core/infrastructure/database"
)

type fakeRepo struct {
	logs      []database.AuditLogEntry
	outbox    map[string]*database.OutboxEvent
	delivered []string
	retried   map[string]time.Time
	nextID    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{outbox: make(map[string]*database.OutboxEvent), retried: make(map[string]time.Time)}
}

func (f *fakeRepo) InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error {
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeRepo) EnqueueOutboxEvent(ctx context.Context, event *database.OutboxEvent) error {
	f.nextID++
	event.ID = string(rune('a' + f.nextID))
	f.outbox[event.ID] = event
	return nil
}

func (f *fakeRepo) ClaimDueOutboxEvents(ctx context.Context, limit int) ([]database.OutboxEvent, error) {
	var due []database.OutboxEvent
	now := time.Now()
	for _, e := range f.outbox {
		if !e.Delivered && !e.NextAttempt.After(now) {
			due = append(due, *e)
			if len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakeRepo) MarkOutboxDelivered(ctx context.Context, id string) error {
	f.delivered = append(f.delivered, id)
	if e, ok := f.outbox[id]; ok {
		e.Delivered = true
	}
	return nil
}

func (f *fakeRepo) ScheduleOutboxRetry(ctx context.Context, id string, nextAttempt time.Time) error {
	f.retried[id] = nextAttempt
	if e, ok := f.outbox[id]; ok {
		e.Attempts++
		e.NextAttempt = nextAttempt
	}
	return nil
}

func TestLog_RecordsEntry(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, DefaultBackoffConfig(), nil)

	err := svc.Log(context.Background(), "user-1", "wallet.rotate", "wallet", "w1", "success", map[string]interface{}{"reason": "scheduled"})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(repo.logs) != 1 || repo.logs[0].Action != "wallet.rotate" {
		t.Errorf("logs = %+v", repo.logs)
	}
}

func TestPublishAndDeliver_Success(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, DefaultBackoffConfig(), nil)

	if err := svc.Publish(context.Background(), "wallet.rotated", map[string]string{"user_id": "u1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	delivered, failed, err := svc.Deliver(context.Background(), 10, func(ctx context.Context, event database.OutboxEvent) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if delivered != 1 || failed != 0 {
		t.Fatalf("delivered=%d failed=%d, want 1,0", delivered, failed)
	}
	if len(repo.delivered) != 1 {
		t.Errorf("expected one delivered event")
	}
}

func TestDeliver_FailureReschedulesWithBackoff(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, DefaultBackoffConfig(), nil)
	svc.Publish(context.Background(), "topic", map[string]string{"k": "v"})

	_, failed, err := svc.Deliver(context.Background(), 10, func(ctx context.Context, event database.OutboxEvent) error {
		return errors.New("downstream unavailable")
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if len(repo.retried) != 1 {
		t.Fatal("expected the event to be rescheduled")
	}
	for _, next := range repo.retried {
		if !next.After(time.Now()) {
			t.Error("expected the rescheduled time to be in the future")
		}
	}
}

func TestDeliver_StopsRetryingAfterMaxAttempts(t *testing.T) {
	repo := newFakeRepo()
	cfg := DefaultBackoffConfig()
	cfg.MaxAttempts = 1
	svc := New(repo, cfg, nil)
	svc.Publish(context.Background(), "topic", map[string]string{"k": "v"})

	_, failed, err := svc.Deliver(context.Background(), 10, func(ctx context.Context, event database.OutboxEvent) error {
		return errors.New("still down")
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if len(repo.retried) != 0 {
		t.Error("expected no reschedule once MaxAttempts is exhausted")
	}
}

func TestBackoffConfig_DelayGrowsThenCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2, Jitter: 0, MaxAttempts: 10}

	d0 := cfg.delayFor(0)
	d1 := cfg.delayFor(1)
	d5 := cfg.delayFor(5)

	if d0 != time.Second {
		t.Errorf("delayFor(0) = %v, want 1s", d0)
	}
	if d1 != 2*time.Second {
		t.Errorf("delayFor(1) = %v, want 2s", d1)
	}
	if d5 != 4*time.Second {
		t.Errorf("delayFor(5) = %v, want capped at 4s", d5)
	}
}
