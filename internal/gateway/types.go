// Package gateway is the client for the external WhatsApp gateway service.
// It exposes the raw record shapes the gateway returns and a thin REST
// client for fetching them. Records are treated as untrusted, partially
// shaped input: any field may be absent and the payload union is left as a
// loose JSON object for the normalizer to pick apart.
package gateway

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageKey is the identity block of a raw gateway message.
type MessageKey struct {
	// RemoteJID identifies the chat (contact or group) the message belongs to.
	RemoteJID string `json:"remoteJid"`
	// FromMe is the gateway's outbound flag.
	FromMe bool `json:"fromMe"`
	// ID is the provider-assigned message id, stable across re-fetches.
	ID string `json:"id"`
	// Participant is set for group messages: the JID of the actual sender.
	Participant string `json:"participant,omitempty"`
}

// RawMessage is one gateway-native message record. The Message field is the
// provider's typed payload union (conversation, imageMessage, ...); it is
// kept schema-less because the gateway does not version it contractually.
type RawMessage struct {
	Key              MessageKey     `json:"key"`
	PushName         string         `json:"pushName,omitempty"`
	Message          map[string]any `json:"message,omitempty"`
	MessageTimestamp EpochSeconds   `json:"messageTimestamp,omitempty"`
}

// Instance describes one gateway integration instance.
type Instance struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ConnectionState string `json:"connectionStatus,omitempty"`
	OwnerJID        string `json:"ownerJid,omitempty"`
}

// EpochSeconds is a provider timestamp in seconds since epoch. Different
// gateway endpoints serialize it as a JSON number, a string, or omit it.
type EpochSeconds int64

// UnmarshalJSON accepts numeric, string, and null encodings.
func (e *EpochSeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*e = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*e = 0
		return nil
	}
	// Some endpoints send fractional seconds.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*e = EpochSeconds(int64(f))
		return nil
	}
	return fmt.Errorf("gateway: bad timestamp %q", string(data))
}

// Time converts the epoch seconds to a UTC time; zero maps to the zero time.
func (e EpochSeconds) Time() time.Time {
	if e == 0 {
		return time.Time{}
	}
	return time.Unix(int64(e), 0).UTC()
}
