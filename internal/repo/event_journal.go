// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the WebhookEvent
// journal used to short-circuit replayed gateway deliveries.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suppdesk/wasync/internal/domain"
)

// ErrDuplicate indicates that a journal row already exists for the given
// (instance_id, event_type, external_id) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetWebhookEvent returns a non-expired journal row or ErrNotFound.
func GetWebhookEvent(ctx context.Context, db *gorm.DB, instanceID, eventType, externalID string, now time.Time) (*domain.WebhookEvent, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("instance_id = ? AND event_type = ? AND external_id = ? AND expires_at > ?",
			instanceID, eventType, externalID, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// RecordWebhookEvent inserts a journal row and returns ErrDuplicate on
// unique violation.
func RecordWebhookEvent(ctx context.Context, db *gorm.DB, instanceID, eventType, externalID, status string, ttl time.Duration) (*domain.WebhookEvent, error) {
	now := time.Now().UTC()
	rec := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		EventType:  eventType,
		ExternalID: externalID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredWebhookEvents removes journal rows past their TTL and returns
// the number deleted.
func PurgeExpiredWebhookEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.WebhookEvent{})
	return res.RowsAffected, res.Error
}
