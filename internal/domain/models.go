// Package domain defines the persistence models for conversations and
// conversation messages. These types are mapped with GORM and form the core
// data layer of the ingestion backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation represents one logical chat thread with a contact or group,
// owned by an account and bound to one gateway integration instance.
//
// The natural identity of a conversation is the tuple
// (account_id, integration_type, contact_id, integration_instance_id),
// enforced by the composite unique index ux_conversation_identity. The
// surrogate UUID primary key exists only for foreign keys and URLs; all
// ingestion writes go through an atomic upsert on the natural tuple so that
// two writers racing on the same tuple converge to a single row.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - AccountID: owning support account.
//   - IntegrationType: channel discriminator (currently "whatsapp").
//   - ContactID: canonical remote JID of the contact or group.
//   - IntegrationInstanceID: gateway instance that carries this chat.
//   - DisplayName: best-effort human-readable name for the contact/group.
//   - MessageCount: derived count, maintained by the reconciler.
//   - LastMessageAt / LastMessagePreview / LastMessageFrom: summary of the
//     newest message, overwritten only when a newer message arrives.
//   - Metadata: free-form bag (is_group flag, observed message types).
//   - Status: support lifecycle (active|resolved|archived|handed_off),
//     mutated by collaborators outside ingestion and preserved on upsert.
//   - SyncStatus: ingestion bookkeeping (pending|synced|error).
type Conversation struct {
	ID                    string         `json:"id"                      gorm:"type:char(36);primaryKey"`
	AccountID             string         `json:"account_id"              gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_identity,priority:1"`
	IntegrationType       string         `json:"integration_type"        gorm:"type:varchar(32);not null;uniqueIndex:ux_conversation_identity,priority:2"`
	ContactID             string         `json:"contact_id"              gorm:"type:varchar(128);not null;uniqueIndex:ux_conversation_identity,priority:3"`
	IntegrationInstanceID string         `json:"integration_instance_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_identity,priority:4;index:idx_conversation_instance"`
	DisplayName           string         `json:"display_name"            gorm:"type:varchar(255);not null;default:''"`
	MessageCount          int64          `json:"message_count"           gorm:"not null;default:0"`
	LastMessageAt         *time.Time     `json:"last_message_at,omitempty"`
	LastMessagePreview    string         `json:"last_message_preview"    gorm:"type:varchar(512);not null;default:''"`
	LastMessageFrom       string         `json:"last_message_from"       gorm:"type:varchar(16);not null;default:''"`
	Metadata              JSONMap        `json:"metadata"                gorm:"type:text"`
	Status                string         `json:"status"                  gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','resolved','archived','handed_off')"`
	SyncStatus            string         `json:"sync_status"             gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `json:"-"                       gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// ConversationMessage represents a single message inside a conversation,
// normalized from the gateway's native record shape.
//
// ExternalMessageID is the gateway-assigned message id and the idempotency
// key for ingestion: the partial unique index ux_messages_external applies
// only when the field is non-empty, so manually authored rows without a
// gateway id remain legal. An upsert hitting the same external id updates
// the existing row and preserves its original CreatedAt.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - ExternalMessageID: gateway message id, unique when present.
//   - Content: human-readable text; non-text payloads carry a bracketed
//     type tag, optionally followed by a caption or filename.
//   - MessageType: normalized classification (see MessageType constants).
//   - Direction: "inbound" or "outbound".
//   - SenderType: "contact", "agent", or "bot".
//   - SenderName / SenderIdentifier: best-effort sender identity.
//   - Status: delivery state (received|read|deleted); deletes are
//     soft-marked here, never physical row removals.
//   - RawPayload: the original gateway record, retained for reprocessing.
//   - OccurredAt: provider timestamp converted from epoch seconds.
type ConversationMessage struct {
	ID                string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	ConversationID    string         `json:"conversation_id"     gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	ExternalMessageID string         `json:"external_message_id" gorm:"type:varchar(128);uniqueIndex:ux_messages_external,where:external_message_id <> ''"`
	Content           string         `json:"content"             gorm:"type:text;not null"`
	MessageType       string         `json:"message_type"        gorm:"type:varchar(16);not null;default:'text'"`
	Direction         string         `json:"direction"           gorm:"type:varchar(8);not null;check:direction IN ('inbound','outbound')"`
	SenderType        string         `json:"sender_type"         gorm:"type:varchar(16);not null;default:'contact'"`
	SenderName        string         `json:"sender_name"         gorm:"type:varchar(255);not null;default:''"`
	SenderIdentifier  string         `json:"sender_identifier"   gorm:"type:varchar(128);not null;default:''"`
	Status            string         `json:"status"              gorm:"type:varchar(16);not null;default:'received'"`
	RawPayload        JSONMap        `json:"raw_payload,omitempty" gorm:"type:text"`
	OccurredAt        time.Time      `json:"occurred_at"         gorm:"index:idx_conv_msgs,priority:2"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-"                   gorm:"index"`

	// Conversation is the parent thread. Messages are cascade-deleted only
	// when an integration instance is administratively removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ConversationMessage.
func (ConversationMessage) TableName() string { return "conversation_messages" }
