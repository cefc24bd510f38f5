package model

import (
	"path"
	"strings"
)

// OutgoingMessage is a rendered message delivered to a chat conversation.
type OutgoingMessage struct {
	Text     string
	MediaURL string // Optional primary media, already listed in Text.
}

// MediaFile is an in-memory file moving between chat and remote.
type MediaFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Ext returns the lowercased file extension without the dot.
func (m MediaFile) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(m.Name), "."))
}

// InboundMessage is a message a local user sent into a chat conversation.
type InboundMessage struct {
	ChatID string
	Sender string
	Text   string
	Media  *MediaFile
}

// MembershipChange reports that a member left or was removed from a
// conversation the bridge participates in.
type MembershipChange struct {
	ChatID string
	Member string
	IsSelf bool // The bridge itself was removed.
}
