// Package services – SyncService
//
// This file implements the sync engine: the single code path that turns raw
// gateway messages into durable, de-duplicated conversation state. Bulk
// sync (SyncAll) and the webhook intake (IngestOne) both terminate in the
// same per-partition upsert routine, so the two paths cannot diverge for
// the same message.
//
// Correctness rests on the store, not on this process: conversation rows
// are written with an atomic upsert on the natural identity tuple, message
// rows with an atomic upsert on the gateway message id. The per-key mutex
// here only serializes writers inside one process; across processes the
// unique indexes are the source of truth.
//
// Observability: public methods are OpenTelemetry-instrumented, and
// ingestion counters are exported via Prometheus.
package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/suppdesk/wasync/internal/convkey"
	"github.com/suppdesk/wasync/internal/domain"
	"github.com/suppdesk/wasync/internal/gateway"
	"github.com/suppdesk/wasync/internal/normalize"
	"github.com/suppdesk/wasync/internal/repo"
)

var (
	messagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wasync_messages_ingested_total",
		Help: "Messages written through the idempotent upsert path.",
	}, []string{"mode"})

	syncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasync_sync_errors_total",
		Help: "Per-partition errors recorded during sync runs.",
	})
)

// MessageSource is the gateway contract consumed by the sync engine. The
// concrete client lives in the gateway package; tests substitute fixtures.
type MessageSource interface {
	// FetchMessages returns one page of raw messages for an instance, in
	// no guaranteed order. A page shorter than limit is the last page.
	FetchMessages(ctx context.Context, instanceID string, limit, offset int) ([]gateway.RawMessage, error)
}

// SyncError records one failed conversation partition or message.
type SyncError struct {
	ConversationKey string `json:"conversation_key"`
	ExternalID      string `json:"external_id,omitempty"`
	Reason          string `json:"reason"`
}

// SyncReport is the structured result of a bulk sync run. A run with
// partial failures still completes; callers distinguish "fully clean" from
// "completed with N skipped" by inspecting Errors.
type SyncReport struct {
	InstanceID             string      `json:"instance_id"`
	ProcessedMessages      int         `json:"processed_messages"`
	ProcessedConversations int         `json:"processed_conversations"`
	Errors                 []SyncError `json:"errors"`
}

// SyncService reconciles gateway message data into the store.
type SyncService struct {
	DB      *gorm.DB
	Gateway MessageSource

	// AccountID owns every conversation this service writes.
	AccountID string
	// OutboundSender classifies outbound traffic on this deployment:
	// domain.SenderAgent or domain.SenderBot.
	OutboundSender string
	// PageSize is the gateway fetch page size. Defaults to 100.
	PageSize int
	// MaxPages caps how many pages one run may pull. Defaults to 1000.
	MaxPages int

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// NewSyncService constructs a SyncService with defaults applied.
func NewSyncService(db *gorm.DB, gw MessageSource, accountID string) *SyncService {
	return &SyncService{
		DB:             db,
		Gateway:        gw,
		AccountID:      accountID,
		OutboundSender: domain.SenderAgent,
		PageSize:       100,
	}
}

// SyncAll ingests the full message set of one integration instance.
//
// Pages are fetched until the gateway returns a short page or a page
// containing only already-seen ids. Messages are partitioned by
// conversation key and each partition is reconciled independently:
// a failing partition is recorded in the report and the run continues.
// Cancellation is honored at partition boundaries; the partial report is
// returned alongside the context error.
func (s *SyncService) SyncAll(ctx context.Context, instanceID string) (*SyncReport, error) {
	if err := s.validate(instanceID); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("services").Start(ctx, "SyncService.SyncAll")
	defer span.End()
	span.SetAttributes(attribute.String("instance_id", instanceID))

	report := &SyncReport{InstanceID: instanceID}

	raws, fetchErrs := s.fetchAll(ctx, instanceID)
	for _, fe := range fetchErrs {
		syncErrors.Inc()
		report.Errors = append(report.Errors, fe)
	}

	partitions := s.partition(instanceID, raws)

	// Deterministic partition order keeps reports and tests stable.
	keys := make([]convkey.Key, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		// Checkpoint between partitions, never mid-partition.
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.syncPartition(ctx, key, partitions[key])
		if err != nil {
			syncErrors.Inc()
			report.Errors = append(report.Errors, SyncError{
				ConversationKey: key.String(),
				Reason:          err.Error(),
			})
			log.Warn().Str("conversation_key", key.String()).Err(err).Msg("partition sync failed")
			continue
		}
		report.ProcessedConversations++
		report.ProcessedMessages += n
		messagesIngested.WithLabelValues("bulk").Add(float64(n))
	}

	// fetchAll also aborts on cancellation; surface that here.
	if err := ctx.Err(); err != nil {
		return report, err
	}

	log.Info().
		Str("instance_id", instanceID).
		Int("conversations", report.ProcessedConversations).
		Int("messages", report.ProcessedMessages).
		Int("errors", len(report.Errors)).
		Msg("bulk sync finished")

	return report, nil
}

// IngestOne runs a single raw message through the same reconcile path as
// bulk mode. Used by the webhook intake.
func (s *SyncService) IngestOne(ctx context.Context, instanceID string, raw gateway.RawMessage) error {
	if err := s.validate(instanceID); err != nil {
		return err
	}

	ctx, span := otel.Tracer("services").Start(ctx, "SyncService.IngestOne")
	defer span.End()
	span.SetAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("external_id", raw.Key.ID),
	)

	cm := normalize.Normalize(raw, s.OutboundSender)
	key := convkey.Resolve(s.AccountID, convkey.IntegrationWhatsApp, instanceID, cm.RemoteJID)
	if _, err := s.syncPartition(ctx, key, []normalize.CanonicalMessage{cm}); err != nil {
		return err
	}
	messagesIngested.WithLabelValues("webhook").Inc()
	return nil
}

// defaultMaxPages bounds one fetch run when MaxPages is unset.
const defaultMaxPages = 1000

// fetchAll pulls every page for an instance, up to MaxPages. A gateway
// that keeps answering full pages of never-before-seen ids would otherwise
// loop forever and accumulate messages without bound. A page that fails
// after the client's own retries is recorded and skipped; the next offset
// is still attempted so one bad page cannot sink the run.
func (s *SyncService) fetchAll(ctx context.Context, instanceID string) ([]gateway.RawMessage, []SyncError) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var (
		out  []gateway.RawMessage
		errs []SyncError
		seen = make(map[string]struct{})
	)
	pages := 0
	for offset := 0; ; offset += pageSize {
		if pages++; pages > maxPages {
			errs = append(errs, SyncError{
				Reason: "page cap reached: gateway kept returning fresh pages",
			})
			return out, errs
		}
		if ctx.Err() != nil {
			return out, errs
		}
		page, err := s.Gateway.FetchMessages(ctx, instanceID, pageSize, offset)
		if err != nil {
			errs = append(errs, SyncError{
				ConversationKey: "",
				Reason:          "page fetch failed: " + err.Error(),
			})
			if len(errs) >= 3 {
				// Three failed pages in one run: treat the gateway as down.
				return out, errs
			}
			continue
		}

		fresh := 0
		for _, m := range page {
			id := m.Key.ID
			if id != "" {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			out = append(out, m)
			fresh++
		}

		// Stop on a short page, or when a page repeats only known ids —
		// some gateways loop their tail instead of returning empty.
		if len(page) < pageSize || fresh == 0 {
			return out, errs
		}
	}
}

// partition normalizes raw records and groups them by conversation key.
// Records without a remote JID cannot be attributed and are dropped.
func (s *SyncService) partition(instanceID string, raws []gateway.RawMessage) map[convkey.Key][]normalize.CanonicalMessage {
	parts := make(map[convkey.Key][]normalize.CanonicalMessage)
	for _, raw := range raws {
		if strings.TrimSpace(raw.Key.RemoteJID) == "" {
			log.Debug().Str("external_id", raw.Key.ID).Msg("skipping message without remote jid")
			continue
		}
		cm := normalize.Normalize(raw, s.OutboundSender)
		key := convkey.Resolve(s.AccountID, convkey.IntegrationWhatsApp, instanceID, cm.RemoteJID)
		parts[key] = append(parts[key], cm)
	}
	return parts
}

// syncPartition reconciles one conversation's messages: conversation upsert
// on the natural tuple, batch message upsert on external id, then a stats
// refresh derived from the store. Returns the number of messages written.
func (s *SyncService) syncPartition(ctx context.Context, key convkey.Key, msgs []normalize.CanonicalMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	// Ascending by occurredAt, ties by externalId, so "latest" is stable.
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].OccurredAt.Equal(msgs[j].OccurredAt) {
			return msgs[i].OccurredAt.Before(msgs[j].OccurredAt)
		}
		return msgs[i].ExternalID < msgs[j].ExternalID
	})

	unlock := s.lockKey(key)
	defer unlock()

	conv, err := repo.UpsertConversation(ctx, s.DB, key, displayName(key, msgs), partitionMetadata(key, msgs))
	if err != nil {
		return 0, err
	}

	rows := make([]domain.ConversationMessage, 0, len(msgs))
	for _, cm := range msgs {
		rows = append(rows, domain.ConversationMessage{
			ConversationID:    conv.ID,
			ExternalMessageID: cm.ExternalID,
			Content:           cm.Content,
			MessageType:       cm.MessageType,
			Direction:         cm.Direction,
			SenderType:        cm.SenderType,
			SenderName:        cm.SenderName,
			SenderIdentifier:  cm.SenderIdentifier,
			Status:            domain.MessageStatusReceived,
			RawPayload:        domain.JSONMap(cm.Raw),
			OccurredAt:        cm.OccurredAt,
		})
	}
	if err := repo.UpsertMessages(ctx, s.DB, rows); err != nil {
		_ = repo.MarkConversationSyncStatus(ctx, s.DB, conv.ID, domain.SyncStatusError)
		return 0, err
	}
	if err := repo.RefreshConversationStats(ctx, s.DB, conv.ID); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// lockKey serializes same-conversation writers within this process. The
// map of mutexes is small (one per active conversation) and never shrinks
// during a run.
func (s *SyncService) lockKey(key convkey.Key) func() {
	s.mu.Lock()
	if s.keys == nil {
		s.keys = make(map[string]*sync.Mutex)
	}
	m, ok := s.keys[key.String()]
	if !ok {
		m = &sync.Mutex{}
		s.keys[key.String()] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *SyncService) validate(instanceID string) error {
	switch {
	case strings.TrimSpace(instanceID) == "":
		return ErrMissingInstance
	case strings.TrimSpace(s.AccountID) == "":
		return ErrMissingAccount
	case s.Gateway == nil:
		return ErrMissingGateway
	}
	return nil
}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// displayName picks the contact-facing name for a conversation: the newest
// inbound sender name, title-cased. Groups and name-less contacts fall back
// to the JID's local part.
func displayName(key convkey.Key, msgs []normalize.CanonicalMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Direction == domain.DirectionInbound && strings.TrimSpace(msgs[i].SenderName) != "" {
			return titleCaser.String(msgs[i].SenderName)
		}
	}
	local, _, _ := strings.Cut(key.ContactID, "@")
	return local
}

// partitionMetadata builds the conversation metadata bag: the group flag
// and the sorted set of message types observed in this batch.
func partitionMetadata(key convkey.Key, msgs []normalize.CanonicalMessage) domain.JSONMap {
	typeSet := make(map[string]struct{}, 4)
	for _, m := range msgs {
		typeSet[m.MessageType] = struct{}{}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	return domain.JSONMap{
		"is_group":      key.IsGroup,
		"message_types": types,
	}
}
