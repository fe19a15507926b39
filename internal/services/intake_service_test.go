package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/suppdesk/wasync/internal/domain"
	"gorm.io/gorm"
)

func newTestIntake(t *testing.T) (*IntakeService, *gorm.DB) {
	t.Helper()
	db := newSvcDB(t)
	sync := newTestSync(db, &fixtureSource{})
	return NewIntakeService(db, sync), db
}

func upsertPayload(id, jid, text string, ts int64) json.RawMessage {
	raw := map[string]any{
		"key": map[string]any{
			"remoteJid": jid,
			"fromMe":    false,
			"id":        id,
		},
		"pushName":         "Ana",
		"message":          map[string]any{"conversation": text},
		"messageTimestamp": ts,
	}
	b, _ := json.Marshal(raw)
	return b
}

func TestHandle_MessagesUpsertPersists(t *testing.T) {
	intake, db := newTestIntake(t)

	out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-1", "62811@s.whatsapp.net", "Hi", 100),
	})
	if out != OutcomeProcessed {
		t.Fatalf("outcome = %q; want processed", out)
	}

	var msg domain.ConversationMessage
	if err := db.Where("external_message_id = ?", "WH-1").First(&msg).Error; err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if msg.Content != "Hi" || msg.Direction != domain.DirectionInbound {
		t.Fatalf("unexpected row: %+v", msg)
	}
}

func TestHandle_WrappedMessagesArrayEnvelope(t *testing.T) {
	intake, db := newTestIntake(t)

	inner := upsertPayload("WH-W", "62811@s.whatsapp.net", "wrapped", 100)
	envelope, _ := json.Marshal(map[string]any{"messages": []json.RawMessage{inner}})

	out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       envelope,
	})
	if out != OutcomeProcessed {
		t.Fatalf("outcome = %q; want processed", out)
	}
	var n int64
	db.Model(&domain.ConversationMessage{}).Where("external_message_id = ?", "WH-W").Count(&n)
	if n != 1 {
		t.Fatalf("wrapped message not persisted")
	}
}

func TestHandle_ReplaySuppressedByJournal(t *testing.T) {
	intake, db := newTestIntake(t)

	evt := Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-R", "62811@s.whatsapp.net", "Hi", 100),
	}
	if out := intake.Handle(context.Background(), evt); out != OutcomeProcessed {
		t.Fatalf("first delivery = %q", out)
	}
	if out := intake.Handle(context.Background(), evt); out != OutcomeReplayed {
		t.Fatalf("redelivery = %q; want replayed", out)
	}

	var n int64
	db.Model(&domain.ConversationMessage{}).Count(&n)
	if n != 1 {
		t.Fatalf("replay duplicated rows: %d", n)
	}
}

func TestHandle_SecondEditAppliesDespiteJournal(t *testing.T) {
	intake, db := newTestIntake(t)

	first := Event{
		Type:       EventMessagesUpdate,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-U1", "62811@s.whatsapp.net", "first edit", 100),
	}
	if out := intake.Handle(context.Background(), first); out != OutcomeProcessed {
		t.Fatalf("first update = %q", out)
	}

	// A distinct second edit of the same message must not be mistaken for a
	// redelivery of the first.
	second := Event{
		Type:       EventMessagesUpdate,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-U1", "62811@s.whatsapp.net", "second edit", 200),
	}
	if out := intake.Handle(context.Background(), second); out != OutcomeProcessed {
		t.Fatalf("second update = %q; want processed", out)
	}

	var msg domain.ConversationMessage
	if err := db.Where("external_message_id = ?", "WH-U1").First(&msg).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if msg.Content != "second edit" {
		t.Fatalf("content = %q; want second edit", msg.Content)
	}

	var n int64
	db.Model(&domain.ConversationMessage{}).Count(&n)
	if n != 1 {
		t.Fatalf("edits duplicated rows: %d", n)
	}
}

func TestHandle_ExpiredJournalFallsBackToUpsert(t *testing.T) {
	intake, db := newTestIntake(t)
	intake.EventTTL = time.Millisecond

	evt := Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-E", "62811@s.whatsapp.net", "Hi", 100),
	}
	if out := intake.Handle(context.Background(), evt); out != OutcomeProcessed {
		t.Fatalf("first delivery = %q", out)
	}
	time.Sleep(5 * time.Millisecond)

	// Journal row expired: the event runs through ingestion again, and the
	// store's unique index keeps it a single row.
	if out := intake.Handle(context.Background(), evt); out != OutcomeProcessed {
		t.Fatalf("post-expiry delivery = %q; want processed", out)
	}
	var n int64
	db.Model(&domain.ConversationMessage{}).Count(&n)
	if n != 1 {
		t.Fatalf("expired-journal replay duplicated rows: %d", n)
	}
}

func TestHandle_MessagesDeleteSoftMarks(t *testing.T) {
	intake, db := newTestIntake(t)

	if out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-D", "62811@s.whatsapp.net", "bye", 100),
	}); out != OutcomeProcessed {
		t.Fatalf("setup upsert = %q", out)
	}

	out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesDelete,
		InstanceID: "inst1",
		Data:       upsertPayload("WH-D", "62811@s.whatsapp.net", "", 100),
	})
	if out != OutcomeProcessed {
		t.Fatalf("delete outcome = %q", out)
	}

	var msg domain.ConversationMessage
	if err := db.Where("external_message_id = ?", "WH-D").First(&msg).Error; err != nil {
		t.Fatalf("soft-deleted row must survive: %v", err)
	}
	if msg.Status != domain.MessageStatusDeleted {
		t.Fatalf("status = %q; want deleted", msg.Status)
	}

	var n int64
	db.Model(&domain.ConversationMessage{}).Count(&n)
	if n != 1 {
		t.Fatalf("delete removed the row: %d", n)
	}
}

func TestHandle_DeleteForUnknownMessageIgnored(t *testing.T) {
	intake, _ := newTestIntake(t)

	out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesDelete,
		InstanceID: "inst1",
		Data:       upsertPayload("NEVER-SEEN", "62811@s.whatsapp.net", "", 100),
	})
	if out != OutcomeIgnored {
		t.Fatalf("outcome = %q; want ignored", out)
	}
}

func TestHandle_AlwaysAcknowledges(t *testing.T) {
	intake, _ := newTestIntake(t)

	cases := []struct {
		name string
		evt  Event
		want string
	}{
		{"connection update", Event{Type: EventConnectionUpdate, InstanceID: "inst1"}, OutcomeIgnored},
		{"unknown kind", Event{Type: "chats.update", InstanceID: "inst1", Data: json.RawMessage(`{}`)}, OutcomeIgnored},
		{"missing instance", Event{Type: EventMessagesUpsert, Data: upsertPayload("X", "62811@s.whatsapp.net", "x", 1)}, OutcomeIgnored},
		{"undecodable payload", Event{Type: EventMessagesUpsert, InstanceID: "inst1", Data: json.RawMessage(`{"messages":[]}`)}, OutcomeError},
		{"message without id", Event{Type: EventMessagesUpsert, InstanceID: "inst1", Data: json.RawMessage(`{"messages":[{}]}`)}, OutcomeError},
		{"garbage payload", Event{Type: EventMessagesUpsert, InstanceID: "inst1", Data: json.RawMessage(`not json`)}, OutcomeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if out := intake.Handle(context.Background(), tc.evt); out != tc.want {
				t.Fatalf("outcome = %q; want %q", out, tc.want)
			}
		})
	}
}

func TestPurgeExpiredEvents_RemovesOnlyExpired(t *testing.T) {
	intake, db := newTestIntake(t)
	intake.EventTTL = time.Millisecond

	out := intake.Handle(context.Background(), Event{
		Type:       EventMessagesUpsert,
		InstanceID: "inst1",
		Data:       upsertPayload("PURGE-1", "62811@s.whatsapp.net", "hi", 100),
	})
	if out != OutcomeProcessed {
		t.Fatalf("outcome = %q; want processed", out)
	}

	time.Sleep(5 * time.Millisecond)
	n, err := intake.PurgeExpiredEvents(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d; want 1", n)
	}

	var left int64
	if err := db.Model(&domain.WebhookEvent{}).Count(&left).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Fatalf("journal rows left = %d; want 0", left)
	}
}
