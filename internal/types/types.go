package types

import (
	"time"
)

type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusAway      PresenceStatus = "away"
	StatusOffline   PresenceStatus = "offline"
	StatusInvisible PresenceStatus = "invisible"
)

type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// FrameConfig describes an avatar frame decoration. The shape is opaque to
// the engine; it is merged and forwarded as-is.
type FrameConfig struct {
	Id    string `json:"id"`
	Style string `json:"style,omitempty"`
	Color string `json:"color,omitempty"`
}

type Participant struct {
	Id          string         `json:"user_id"`
	DisplayName string         `json:"user_name"`
	AvatarRef   string         `json:"user_avatar,omitempty"`
	Status      PresenceStatus `json:"user_status,omitempty"`
	IsPremium   bool           `json:"is_premium_subscriber,omitempty"`
	Decoration  *FrameConfig   `json:"user_frame,omitempty"`
	NameEffect  *string        `json:"user_name_effect,omitempty"`
}

// Reaction groups all reactions of one emoji on one message. UserIds and
// UserNames are parallel arrays; UserIds is a set.
type Reaction struct {
	Emoji     string   `json:"emoji"`
	UserIds   []string `json:"user_ids"`
	UserNames []string `json:"user_names"`
}

// Message's Timestamp is the ordering key and is owned by the relay once the
// message is echoed; edits record their time in EditedAt and never move the
// message.
type Message struct {
	Id        string        `json:"id"`
	SenderId  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
	ReplyTo   string        `json:"reply_to,omitempty"`
	Reactions []Reaction    `json:"reactions,omitempty"`
	Edited    bool          `json:"edited,omitempty"`
	EditedAt  *time.Time    `json:"edited_at,omitempty"`
}

// VoiceParticipantState is derived per voice-session member and never
// persisted.
type VoiceParticipantState struct {
	Id         string `json:"user_id"`
	IsSpeaking bool   `json:"is_speaking"`
	IsMuted    bool   `json:"is_muted"`
}

// CosmeticState is the locally persisted portion of the user's appearance.
type CosmeticState struct {
	Decoration *FrameConfig `json:"decoration,omitempty"`
	NameEffect *string      `json:"name_effect,omitempty"`
}
