// Package services – IntakeService
//
// This file implements the webhook intake: the thin, stateless mapping from
// one real-time gateway event onto the same reconcile path bulk sync uses.
// The intake never fails outward — the gateway disables delivery after
// repeated webhook errors, so every event is acknowledged and failures are
// recorded internally. A journal of processed event ids short-circuits
// redeliveries; the store's unique constraints remain the backstop once
// journal rows expire.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/suppdesk/wasync/internal/gateway"
	"github.com/suppdesk/wasync/internal/repo"
)

// Gateway webhook event kinds the intake understands. Anything else is
// acknowledged and ignored.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventMessagesDelete   = "messages.delete"
	EventConnectionUpdate = "connection.update"
)

// Intake outcomes, reported back to the HTTP layer for the response body.
// All outcomes map to HTTP success.
const (
	OutcomeProcessed = "processed"
	OutcomeReplayed  = "replayed"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

// Event is one decoded webhook delivery.
type Event struct {
	Type       string
	InstanceID string
	Data       json.RawMessage
}

// IntakeService maps webhook events onto reconciler operations.
type IntakeService struct {
	DB   *gorm.DB
	Sync *SyncService

	// EventTTL bounds how long a processed event id suppresses replays.
	EventTTL time.Duration
}

// NewIntakeService constructs an IntakeService with a default journal TTL.
func NewIntakeService(db *gorm.DB, sync *SyncService) *IntakeService {
	return &IntakeService{DB: db, Sync: sync, EventTTL: 24 * time.Hour}
}

// PurgeExpiredEvents drops journal rows whose replay window has passed.
// The scheduler calls this after each sync cycle so the journal stays
// bounded; upserts remain the correctness backstop for anything purged.
func (s *IntakeService) PurgeExpiredEvents(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredWebhookEvents(ctx, s.DB, time.Now().UTC())
}

// Handle processes one webhook event and returns an outcome string. It
// never returns an error for ingestion failures; only configuration-class
// problems (missing instance id) surface, and even those are mapped to an
// outcome by the handler.
func (s *IntakeService) Handle(ctx context.Context, evt Event) string {
	if strings.TrimSpace(evt.InstanceID) == "" {
		log.Warn().Str("event", evt.Type).Msg("webhook event without instance id")
		return OutcomeIgnored
	}

	switch evt.Type {
	case EventMessagesUpsert, EventMessagesUpdate:
		return s.handleMessage(ctx, evt)
	case EventMessagesDelete:
		return s.handleDelete(ctx, evt)
	case EventConnectionUpdate:
		log.Info().Str("instance_id", evt.InstanceID).Msg("connection state change acknowledged")
		return OutcomeIgnored
	default:
		// Unknown kinds must be accepted: rejecting them would make the
		// gateway disable delivery for everything.
		log.Debug().Str("event", evt.Type).Msg("unrecognized webhook event acknowledged")
		return OutcomeIgnored
	}
}

func (s *IntakeService) handleMessage(ctx context.Context, evt Event) string {
	raw, err := decodeRaw(evt.Data)
	if err == nil && raw.Key.ID == "" {
		err = ErrMissingMessageID
	}
	if err != nil {
		log.Warn().Str("event", evt.Type).Err(err).Msg("undecodable message event")
		return OutcomeError
	}

	// The journal is keyed by message id, which cannot tell a redelivered
	// update apart from a second genuine edit of the same message. Updates
	// therefore skip the journal entirely; the last-write-wins upsert makes
	// redeliveries harmless and keeps real edits flowing through.
	journaled := evt.Type == EventMessagesUpsert

	if journaled && s.seen(ctx, evt, raw.Key.ID) {
		return OutcomeReplayed
	}

	if err := s.Sync.IngestOne(ctx, evt.InstanceID, raw); err != nil {
		log.Error().
			Str("instance_id", evt.InstanceID).
			Str("external_id", raw.Key.ID).
			Err(err).
			Msg("webhook ingestion failed")
		if journaled {
			s.journal(ctx, evt, raw.Key.ID, OutcomeError)
		}
		return OutcomeError
	}

	if journaled {
		s.journal(ctx, evt, raw.Key.ID, OutcomeProcessed)
	}
	return OutcomeProcessed
}

func (s *IntakeService) handleDelete(ctx context.Context, evt Event) string {
	raw, err := decodeRaw(evt.Data)
	if err == nil && raw.Key.ID == "" {
		err = ErrMissingMessageID
	}
	if err != nil {
		log.Warn().Err(err).Msg("undecodable delete event")
		return OutcomeError
	}

	if s.seen(ctx, evt, raw.Key.ID) {
		return OutcomeReplayed
	}

	// Soft-mark: a replayed delete-then-recreate sequence must still treat
	// a later retransmission of this id as an update.
	err = repo.MarkMessageDeleted(ctx, s.DB, raw.Key.ID)
	switch {
	case err == nil:
		s.journal(ctx, evt, raw.Key.ID, OutcomeProcessed)
		return OutcomeProcessed
	case errors.Is(err, repo.ErrNotFound):
		// Delete for a message we never ingested; nothing to mark.
		s.journal(ctx, evt, raw.Key.ID, OutcomeIgnored)
		return OutcomeIgnored
	default:
		log.Error().Str("external_id", raw.Key.ID).Err(err).Msg("delete soft-mark failed")
		return OutcomeError
	}
}

// seen reports whether a non-expired journal row exists for this event.
func (s *IntakeService) seen(ctx context.Context, evt Event, externalID string) bool {
	rec, err := repo.GetWebhookEvent(ctx, s.DB, evt.InstanceID, evt.Type, externalID, time.Now().UTC())
	return err == nil && rec != nil
}

// journal records a processed event; duplicate races are harmless because
// the underlying writes are idempotent anyway.
func (s *IntakeService) journal(ctx context.Context, evt Event, externalID, status string) {
	ttl := s.EventTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := repo.RecordWebhookEvent(ctx, s.DB, evt.InstanceID, evt.Type, externalID, status, ttl); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Warn().Err(err).Msg("webhook journal write failed")
	}
}

// decodeRaw tolerates both envelope shapes the gateway emits: the message
// object directly, or wrapped in a one-element "messages" array.
func decodeRaw(data json.RawMessage) (gateway.RawMessage, error) {
	var direct gateway.RawMessage
	if err := json.Unmarshal(data, &direct); err == nil && direct.Key.ID != "" {
		return direct, nil
	}

	var wrapped struct {
		Messages []gateway.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return gateway.RawMessage{}, err
	}
	if len(wrapped.Messages) == 0 {
		return gateway.RawMessage{}, errors.New("event payload has no messages")
	}
	return wrapped.Messages[0], nil
}
