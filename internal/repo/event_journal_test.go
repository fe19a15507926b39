package repo

import (
	"context"
	"testing"
	"time"
)

func TestWebhookEventJournal_RoundTrip(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := GetWebhookEvent(ctx, db, "inst1", "messages.upsert", "EXT-1", now); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	rec, err := RecordWebhookEvent(ctx, db, "inst1", "messages.upsert", "EXT-1", "ok", time.Hour)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID == "" || rec.ExpiresAt.Before(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetWebhookEvent(ctx, db, "inst1", "messages.upsert", "EXT-1", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "ok" {
		t.Fatalf("status = %q", got.Status)
	}

	// Same tuple again is a duplicate.
	if _, err := RecordWebhookEvent(ctx, db, "inst1", "messages.upsert", "EXT-1", "ok", time.Hour); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Different event type for the same external id is a distinct entry.
	if _, err := RecordWebhookEvent(ctx, db, "inst1", "messages.delete", "EXT-1", "ok", time.Hour); err != nil {
		t.Fatalf("distinct event type rejected: %v", err)
	}
}

func TestGetWebhookEvent_EmptyExternalID(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetWebhookEvent(context.Background(), db, "inst1", "messages.upsert", " ", time.Now()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for blank id, got %v", err)
	}
}

func TestPurgeExpiredWebhookEvents(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if _, err := RecordWebhookEvent(ctx, db, "inst1", "messages.upsert", "OLD", "ok", -time.Minute); err != nil {
		t.Fatalf("record expired: %v", err)
	}
	if _, err := RecordWebhookEvent(ctx, db, "inst1", "messages.upsert", "FRESH", "ok", time.Hour); err != nil {
		t.Fatalf("record fresh: %v", err)
	}

	purged, err := PurgeExpiredWebhookEvents(ctx, db, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d; want 1", purged)
	}
	if _, err := GetWebhookEvent(ctx, db, "inst1", "messages.upsert", "FRESH", time.Now().UTC()); err != nil {
		t.Fatalf("fresh row lost: %v", err)
	}
}
