// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversationMessage model, centered on the idempotent batch upsert that
// both bulk sync and webhook intake terminate in.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suppdesk/wasync/internal/domain"
)

// messageConflictTarget matches the partial unique index
// ux_messages_external: the conflict clause only applies to rows that carry
// a gateway id, so manually authored rows insert plainly.
var messageConflictTarget = clause.OnConflict{
	Columns:     []clause.Column{{Name: "external_message_id"}},
	TargetWhere: clause.Where{Exprs: []clause.Expression{gorm.Expr("external_message_id <> ''")}},
	DoUpdates: clause.AssignmentColumns([]string{
		"conversation_id",
		"content",
		"message_type",
		"direction",
		"sender_type",
		"sender_name",
		"sender_identifier",
		"status",
		"raw_payload",
		"occurred_at",
		"updated_at",
	}),
}

// UpsertMessages writes a batch of messages in one statement, keyed on
// external_message_id. A second write with the same external id updates the
// existing row — content and metadata are overwritten, the original row's
// ID and CreatedAt survive. Rows must already carry their ConversationID.
func UpsertMessages(ctx context.Context, db *gorm.DB, rows []domain.ConversationMessage) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		if rows[i].Status == "" {
			rows[i].Status = domain.MessageStatusReceived
		}
		if !domain.ValidMessageType(rows[i].MessageType) {
			rows[i].MessageType = domain.MessageTypeUnknown
		}
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
	}
	return db.WithContext(ctx).Clauses(messageConflictTarget).Create(&rows).Error
}

// MarkMessageDeleted soft-marks a message by gateway id. The row stays in
// place so a later retransmission of the same external id is still an
// update, not a fresh insert. Returns ErrNotFound when no such message has
// been ingested yet.
func MarkMessageDeleted(ctx context.Context, db *gorm.DB, externalID string) error {
	if externalID == "" {
		return ErrNotFound
	}
	res := db.WithContext(ctx).
		Model(&domain.ConversationMessage{}).
		Where("external_message_id = ?", externalID).
		Updates(map[string]any{
			"status":     domain.MessageStatusDeleted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessageByExternalID fetches a message by gateway id.
func GetMessageByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.ConversationMessage, error) {
	var m domain.ConversationMessage
	if err := db.WithContext(ctx).Where("external_message_id = ?", externalID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered deterministically
// (OccurredAt ASC, ExternalMessageID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("occurred_at ASC, external_message_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RAGFilter narrows the message read contract exposed to downstream AI
// consumers. Zero values mean "no filter".
type RAGFilter struct {
	AccountID  string
	InstanceID string
	ContactID  string
	Direction  string
	Since      time.Time
	Limit      int
}

// ListMessagesForRAG is the read contract consumed by downstream retrieval
// pipelines: normalized messages joined with their conversation identity,
// soft-deleted rows excluded, oldest first.
func ListMessagesForRAG(ctx context.Context, db *gorm.DB, f RAGFilter) ([]domain.ConversationMessage, error) {
	q := db.WithContext(ctx).
		Model(&domain.ConversationMessage{}).
		Joins("JOIN conversations ON conversations.id = conversation_messages.conversation_id").
		Where("conversation_messages.status <> ?", domain.MessageStatusDeleted)

	if f.AccountID != "" {
		q = q.Where("conversations.account_id = ?", f.AccountID)
	}
	if f.InstanceID != "" {
		q = q.Where("conversations.integration_instance_id = ?", f.InstanceID)
	}
	if f.ContactID != "" {
		q = q.Where("conversations.contact_id = ?", f.ContactID)
	}
	if f.Direction != "" {
		q = q.Where("conversation_messages.direction = ?", f.Direction)
	}
	if !f.Since.IsZero() {
		q = q.Where("conversation_messages.occurred_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []domain.ConversationMessage
	err := q.Order("conversation_messages.occurred_at ASC, conversation_messages.external_message_id ASC").
		Find(&out).Error
	return out, err
}
