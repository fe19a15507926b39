// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// WebhookEvent records one processed gateway webhook delivery, keyed by
// (instance_id, event_type, external_id). The gateway redelivers events on
// perceived failure; a matching journal row lets the intake path acknowledge
// a replay without re-running ingestion. Rows expire after a TTL — the
// store's unique constraints on messages and conversations remain the
// correctness backstop once journal rows age out.
type WebhookEvent struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	InstanceID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_instance_event_ext,priority:1"`
	EventType  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_instance_event_ext,priority:2"`
	ExternalID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_instance_event_ext,priority:3"`
	Status     string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (WebhookEvent) TableName() string { return "webhook_events" }
