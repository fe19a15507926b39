// Package normalize converts raw gateway message records into the canonical
// message representation the reconciler works with.
//
// Normalize is a pure function: no I/O, no clock, and it never fails. The
// gateway's payload schemas are not contractually stable, so any malformed
// or unrecognized shape degrades to the most specific matching fallback
// instead of producing an error. Both the bulk sync path and the webhook
// intake path run every record through this single implementation; no other
// code extracts content or classifies payload types.
package normalize

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suppdesk/wasync/internal/domain"
	"github.com/suppdesk/wasync/internal/gateway"
)

// maxContentRunes caps extracted text so arbitrarily large nested payloads
// never land verbatim in the content column.
const maxContentRunes = 4096

// CanonicalMessage is the normalizer's output and the reconciler's unit of
// work. ExternalID is the idempotency key for message upserts; RemoteJID is
// the raw chat identifier, canonicalized later by the key resolver.
type CanonicalMessage struct {
	ExternalID       string
	RemoteJID        string
	Content          string
	MessageType      string
	Direction        string
	SenderType       string
	SenderName       string
	SenderIdentifier string
	OccurredAt       time.Time
	Raw              map[string]any
}

// variantTypes maps the gateway's payload-variant names onto the small
// canonical type set. Variants absent from this map classify as text so new
// provider features never error downstream.
var variantTypes = map[string]string{
	"conversation":                domain.MessageTypeText,
	"extendedTextMessage":         domain.MessageTypeText,
	"imageMessage":                domain.MessageTypeImage,
	"videoMessage":                domain.MessageTypeVideo,
	"ptvMessage":                  domain.MessageTypeVideo,
	"audioMessage":                domain.MessageTypeAudio,
	"pttMessage":                  domain.MessageTypeAudio,
	"documentMessage":             domain.MessageTypeDocument,
	"documentWithCaptionMessage":  domain.MessageTypeDocument,
	"locationMessage":             domain.MessageTypeLocation,
	"liveLocationMessage":         domain.MessageTypeLocation,
	"contactMessage":              domain.MessageTypeContact,
	"contactsArrayMessage":        domain.MessageTypeContact,
	"stickerMessage":              domain.MessageTypeSticker,
}

// variantOrder fixes which variant wins when a record carries several keys
// (gateways attach context blobs beside the real payload).
var variantOrder = []string{
	"conversation",
	"extendedTextMessage",
	"imageMessage",
	"videoMessage",
	"ptvMessage",
	"audioMessage",
	"pttMessage",
	"documentMessage",
	"documentWithCaptionMessage",
	"locationMessage",
	"liveLocationMessage",
	"contactMessage",
	"contactsArrayMessage",
	"stickerMessage",
	"reactionMessage",
}

// Normalize converts one raw gateway record into canonical form. The
// outboundSender argument says who authored outbound traffic on this
// instance ("agent" or "bot"); the record alone cannot tell them apart.
// Inbound messages always classify as contact.
func Normalize(raw gateway.RawMessage, outboundSender string) CanonicalMessage {
	direction := domain.DirectionInbound
	senderType := domain.SenderContact
	if raw.Key.FromMe {
		direction = domain.DirectionOutbound
		senderType = outboundSender
		if senderType != domain.SenderAgent && senderType != domain.SenderBot {
			senderType = domain.SenderAgent
		}
	}

	content, msgType := extract(raw.Message)

	// Participant takes precedence over the conversation-level JID: in a
	// group chat the remote JID is the group, not the author.
	identifier := firstNonEmpty(raw.Key.Participant, raw.PushName, raw.Key.RemoteJID)

	return CanonicalMessage{
		ExternalID:       raw.Key.ID,
		RemoteJID:        raw.Key.RemoteJID,
		Content:          content,
		MessageType:      msgType,
		Direction:        direction,
		SenderType:       senderType,
		SenderName:       raw.PushName,
		SenderIdentifier: identifier,
		OccurredAt:       raw.MessageTimestamp.Time(),
		Raw:              raw.Message,
	}
}

// extract walks the content ladder: plain text, rich text, media tag plus
// caption, document tag plus filename, fixed tags, then "[unknown]". It
// never serializes the payload itself into content.
func extract(payload map[string]any) (content, msgType string) {
	if len(payload) == 0 {
		return "[unknown]", domain.MessageTypeUnknown
	}

	variant := pickVariant(payload)
	if variant == "" {
		return "[unknown]", domain.MessageTypeUnknown
	}

	msgType, ok := variantTypes[variant]
	if !ok {
		// Unmapped variant name: downstream still gets a recognized type.
		msgType = domain.MessageTypeText
	}

	switch variant {
	case "conversation":
		if s := stringField(payload, "conversation"); s != "" {
			return clip(s), msgType
		}
	case "extendedTextMessage":
		if s := stringField(child(payload, "extendedTextMessage"), "text"); s != "" {
			return clip(s), msgType
		}
	case "imageMessage", "videoMessage", "ptvMessage":
		tag := "[Image]"
		if msgType == domain.MessageTypeVideo {
			tag = "[Video]"
		}
		if cap := stringField(child(payload, variant), "caption"); cap != "" {
			return clip(tag + " " + cap), msgType
		}
		return tag, msgType
	case "audioMessage", "pttMessage":
		return "[Audio]", msgType
	case "documentMessage", "documentWithCaptionMessage":
		doc := child(payload, variant)
		if variant == "documentWithCaptionMessage" {
			doc = child(child(doc, "message"), "documentMessage")
		}
		name := stringField(doc, "fileName")
		if name == "" {
			name = "Unknown file"
		}
		content = "[Document: " + name + "]"
		if cap := stringField(doc, "caption"); cap != "" {
			content += " " + cap
		}
		return clip(content), msgType
	case "locationMessage", "liveLocationMessage":
		return "[Location]", msgType
	case "contactMessage", "contactsArrayMessage":
		return "[Contact]", msgType
	case "stickerMessage":
		return "[Sticker]", msgType
	case "reactionMessage":
		return "[Reaction]", msgType
	}

	return "[unknown]", msgType
}

// pickVariant returns the highest-precedence recognized variant, or the
// first non-metadata key when nothing is recognized, or "".
func pickVariant(payload map[string]any) string {
	for _, v := range variantOrder {
		if _, ok := payload[v]; ok {
			return v
		}
	}
	for k := range payload {
		if k == "messageContextInfo" {
			continue
		}
		return k
	}
	return ""
}

func child(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func clip(s string) string {
	if utf8.RuneCountInString(s) > maxContentRunes {
		return string([]rune(s)[:maxContentRunes])
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
