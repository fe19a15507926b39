// Package convkey derives the stable logical identity of a conversation
// from a raw gateway remote identifier plus its owning account and
// integration instance.
//
// The key is the natural tuple itself — never a hash or surrogate — so that
// every code path (bulk sync, webhook intake, maintenance scripts) resolves
// the same chat to the same identity. Duplicate-conversation bugs are, in
// every observed case, a failure of exactly this property: two superficially
// different spellings of the same JID being keyed separately.
package convkey

import "strings"

// IntegrationWhatsApp is the only integration type currently ingested.
const IntegrationWhatsApp = "whatsapp"

const (
	groupSuffix     = "@g.us"
	userSuffix      = "@s.whatsapp.net"
	legacyUserSuffix = "@c.us"
	broadcastSuffix = "@broadcast"
)

// Key is the natural identity tuple of one conversation.
type Key struct {
	AccountID       string
	IntegrationType string
	InstanceID      string
	// ContactID is the canonicalized remote JID of the contact or group.
	ContactID string
	// IsGroup flags group chats; it colors conversation metadata but does
	// not change the key shape.
	IsGroup bool
}

// String renders the tuple in a fixed order for map keys and logs.
func (k Key) String() string {
	return k.AccountID + "|" + k.IntegrationType + "|" + k.ContactID + "|" + k.InstanceID
}

// Resolve builds the conversation key for a raw remote JID. The JID is
// canonicalized first (see CanonicalJID) so that textual variants of the
// same chat cannot produce distinct keys.
func Resolve(accountID, integrationType, instanceID, remoteJID string) Key {
	jid := CanonicalJID(remoteJID)
	return Key{
		AccountID:       accountID,
		IntegrationType: integrationType,
		InstanceID:      instanceID,
		ContactID:       jid,
		IsGroup:         IsGroupJID(jid),
	}
}

// CanonicalJID collapses the textual variants of a WhatsApp JID observed
// across gateway endpoints onto one canonical spelling:
//
//   - surrounding whitespace is dropped and the domain part lowercased,
//   - a device suffix on the local part ("62811:12@...") is stripped,
//   - the legacy "@c.us" domain is rewritten to "@s.whatsapp.net",
//   - a bare phone number gains the "@s.whatsapp.net" domain.
//
// Group ("@g.us") and broadcast JIDs pass through with only the cheap
// normalizations applied.
func CanonicalJID(raw string) string {
	jid := strings.TrimSpace(raw)
	if jid == "" {
		return ""
	}

	local, domain, found := strings.Cut(jid, "@")
	if !found {
		// Bare identifier: assume a direct chat.
		return stripDevice(local) + userSuffix
	}
	domain = strings.ToLower(domain)
	local = stripDevice(local)

	switch "@" + domain {
	case legacyUserSuffix:
		return local + userSuffix
	case userSuffix, groupSuffix, broadcastSuffix:
		return local + "@" + domain
	default:
		// Unknown domain: keep it, normalized, rather than guessing.
		return local + "@" + domain
	}
}

// IsGroupJID reports whether a (canonical) JID names a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}

// stripDevice removes the ":NN" device qualifier some gateway endpoints
// append to the local part of a JID.
func stripDevice(local string) string {
	if i := strings.IndexByte(local, ':'); i >= 0 {
		return local[:i]
	}
	return local
}
