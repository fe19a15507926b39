// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// The one load-bearing piece here is UpsertConversation: conversation
// identity is the natural tuple (account_id, integration_type, contact_id,
// integration_instance_id), and creation races are settled by the database's
// composite unique index via ON CONFLICT — never by read-then-write.
//
// Error semantics:
//   - When a conversation is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On other DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suppdesk/wasync/internal/convkey"
	"github.com/suppdesk/wasync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// conversationIdentity is the ON CONFLICT target matching
// ux_conversation_identity.
var conversationIdentity = []clause.Column{
	{Name: "account_id"},
	{Name: "integration_type"},
	{Name: "contact_id"},
	{Name: "integration_instance_id"},
}

// UpsertConversation inserts the conversation for key, or refreshes the
// existing row when the tuple already exists. The operation is a single
// atomic INSERT ... ON CONFLICT DO UPDATE; concurrent writers racing on the
// same tuple converge to one row.
//
// On conflict only ingestion-owned fields are refreshed: display name (and
// only when the new value is non-empty), metadata, and sync status. Support
// lifecycle status, counters, and created_at belong to other writers and are
// preserved. The persisted row is returned with its surrogate ID populated.
func UpsertConversation(ctx context.Context, db *gorm.DB, key convkey.Key, displayName string, metadata domain.JSONMap) (*domain.Conversation, error) {
	now := time.Now().UTC()
	row := &domain.Conversation{
		ID:                    uuid.NewString(),
		AccountID:             key.AccountID,
		IntegrationType:       key.IntegrationType,
		ContactID:             key.ContactID,
		IntegrationInstanceID: key.InstanceID,
		DisplayName:           displayName,
		Metadata:              metadata,
		Status:                domain.ConversationActive,
		SyncStatus:            domain.SyncStatusSynced,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: conversationIdentity,
		DoUpdates: clause.Assignments(map[string]any{
			"display_name": gorm.Expr(
				"CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE conversations.display_name END"),
			"metadata":    gorm.Expr("excluded.metadata"),
			"sync_status": gorm.Expr("excluded.sync_status"),
			"updated_at":  gorm.Expr("excluded.updated_at"),
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	// On conflict the generated ID above never hit the table; read the row
	// back by its natural tuple to learn the surviving surrogate id.
	return GetConversationByKey(ctx, db, key)
}

// GetConversationByKey fetches a conversation by its natural tuple, or
// ErrNotFound.
func GetConversationByKey(ctx context.Context, db *gorm.DB, key convkey.Key) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("account_id = ? AND integration_type = ? AND contact_id = ? AND integration_instance_id = ?",
			key.AccountID, key.IntegrationType, key.ContactID, key.InstanceID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a single conversation by surrogate id, scoped to
// the owning account.
func GetConversation(ctx context.Context, db *gorm.DB, id, accountID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the total number of conversations for an
// account, optionally filtered by instance.
func CountConversations(ctx context.Context, db *gorm.DB, accountID, instanceID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("account_id = ?", accountID)
	if instanceID != "" {
		q = q.Where("integration_instance_id = ?", instanceID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListConversationsPage returns a paginated slice of conversations for an
// account, most recently active first. Use CountConversations to obtain the
// total for pagination metadata.
func ListConversationsPage(ctx context.Context, db *gorm.DB, accountID, instanceID string, offset, limit int) ([]domain.Conversation, error) {
	q := db.WithContext(ctx).Where("account_id = ?", accountID)
	if instanceID != "" {
		q = q.Where("integration_instance_id = ?", instanceID)
	}
	var out []domain.Conversation
	err := q.
		Order("last_message_at DESC, created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RefreshConversationStats recomputes message_count and the last_message_*
// summary of one conversation from its stored messages. Deriving from the
// store (instead of trusting the caller's batch) keeps the summary correct
// under replays: a re-ingested message never double-counts.
//
// "Latest" is the greatest occurred_at; ties break on external_message_id so
// repeated refreshes are deterministic.
func RefreshConversationStats(ctx context.Context, db *gorm.DB, conversationID string) error {
	var latest domain.ConversationMessage
	var count int64

	if err := db.WithContext(ctx).
		Model(&domain.ConversationMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return err
	}

	updates := map[string]any{
		"message_count": count,
		"updated_at":    time.Now().UTC(),
	}

	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("occurred_at DESC, external_message_id DESC").
		First(&latest).Error
	switch {
	case err == nil:
		updates["last_message_at"] = latest.OccurredAt
		updates["last_message_preview"] = latest.Content
		updates["last_message_from"] = latest.Direction
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No messages; keep last_message_* untouched.
	default:
		return err
	}

	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkConversationSyncStatus records ingestion bookkeeping for one
// conversation row.
func MarkConversationSyncStatus(ctx context.Context, db *gorm.DB, conversationID, status string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("sync_status", status).Error
}

// MergeDuplicateConversations is the maintenance operation for legacy data
// written before JID canonicalization: rows whose canonical tuples collide
// are folded together. For each colliding set the earliest-created row
// survives, messages from the others are re-pointed to it, and the losers
// are removed. Returns the number of rows merged away.
//
// The atomic upsert on the natural tuple makes new duplicates impossible;
// this exists only to clean up what older ingestion paths left behind.
func MergeDuplicateConversations(ctx context.Context, db *gorm.DB, accountID string) (int, error) {
	var all []domain.Conversation
	if err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, id ASC").
		Find(&all).Error; err != nil {
		return 0, err
	}

	keep := make(map[convkey.Key]string, len(all))
	merged := 0
	for _, c := range all {
		key := convkey.Resolve(c.AccountID, c.IntegrationType, c.IntegrationInstanceID, c.ContactID)
		winner, seen := keep[key]
		if !seen {
			keep[key] = c.ID
			continue
		}

		loserID := c.ID
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&domain.ConversationMessage{}).
				Where("conversation_id = ?", loserID).
				Update("conversation_id", winner).Error; err != nil {
				return err
			}
			return tx.Unscoped().Delete(&domain.Conversation{}, "id = ?", loserID).Error
		})
		if err != nil {
			return merged, err
		}
		if err := RefreshConversationStats(ctx, db, winner); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}
