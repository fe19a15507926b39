// Package domain defines the core persistence models for the application.
// This file holds the closed enumerations used by the normalizer and the
// reconciler. Values are stored as plain strings so the schema stays
// readable and portable across store backends.
package domain

// Canonical message types. The normalizer collapses the gateway's large set
// of payload variants onto this fixed set; downstream consumers never see a
// provider-specific type name.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeAudio    = "audio"
	MessageTypeVideo    = "video"
	MessageTypeDocument = "document"
	MessageTypeLocation = "location"
	MessageTypeContact  = "contact"
	MessageTypeSticker  = "sticker"
	MessageTypeUnknown  = "unknown"
)

// Message direction relative to the support account.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender classification. Outbound messages are never from a contact; the
// agent/bot split is supplied by the caller's context because the gateway
// record alone cannot disambiguate.
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderBot     = "bot"
)

// Message delivery status. Deletes are soft-marked so a replayed
// retransmission of the same external id is still treated as an update.
const (
	MessageStatusReceived = "received"
	MessageStatusRead     = "read"
	MessageStatusDeleted  = "deleted"
)

// Conversation support lifecycle. Ingestion only ever creates rows as
// "active"; the other transitions belong to collaborators outside this core.
const (
	ConversationActive    = "active"
	ConversationResolved  = "resolved"
	ConversationArchived  = "archived"
	ConversationHandedOff = "handed_off"
)

// Conversation sync bookkeeping.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusError   = "error"
)

// ValidMessageType reports whether t is one of the canonical message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeAudio, MessageTypeVideo,
		MessageTypeDocument, MessageTypeLocation, MessageTypeContact,
		MessageTypeSticker, MessageTypeUnknown:
		return true
	}
	return false
}
