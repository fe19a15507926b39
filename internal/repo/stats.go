// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for the operational stats endpoint and for conditional responses in the
// HTTP layer. Each function is context-aware and safe to call from services
// or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/suppdesk/wasync/internal/domain"
)

// IngestStats summarizes the stored state of one account.
type IngestStats struct {
	Conversations int64      `json:"conversations"`
	Messages      int64      `json:"messages"`
	Deleted       int64      `json:"deleted_messages"`
	LastIngestAt  *time.Time `json:"last_ingest_at,omitempty"`
}

// ConversationsStats returns aggregate metadata for an account's
// conversations: the total number of rows and the maximum UpdatedAt among
// them. When the account has no conversations, count is 0 and maxUpdatedAt
// is nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, accountID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns aggregate metadata for messages within a given
// conversation: the total number of rows and the maximum UpdatedAt among
// them. When the conversation has no messages, count is 0 and maxUpdatedAt
// is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ConversationMessage{}).Where("conversation_id = ?", conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// AccountIngestStats aggregates stored totals for the stats endpoint.
func AccountIngestStats(ctx context.Context, db *gorm.DB, accountID string) (*IngestStats, error) {
	var out IngestStats

	if err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("account_id = ?", accountID).
		Count(&out.Conversations).Error; err != nil {
		return nil, err
	}

	msgScope := func() *gorm.DB {
		return db.WithContext(ctx).
			Model(&domain.ConversationMessage{}).
			Joins("JOIN conversations ON conversations.id = conversation_messages.conversation_id").
			Where("conversations.account_id = ?", accountID)
	}
	if err := msgScope().Count(&out.Messages).Error; err != nil {
		return nil, err
	}
	if err := msgScope().Where("conversation_messages.status = ?", domain.MessageStatusDeleted).
		Count(&out.Deleted).Error; err != nil {
		return nil, err
	}

	if out.Messages > 0 {
		var row struct {
			UpdatedAt time.Time
		}
		err := db.WithContext(ctx).
			Model(&domain.ConversationMessage{}).
			Joins("JOIN conversations ON conversations.id = conversation_messages.conversation_id").
			Where("conversations.account_id = ?", accountID).
			Select("conversation_messages.updated_at AS updated_at").
			Order("conversation_messages.updated_at DESC").
			Limit(1).
			Scan(&row).Error
		if err != nil {
			return nil, err
		}
		out.LastIngestAt = &row.UpdatedAt
	}
	return &out, nil
}
