package events

import (
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// ServerEvent is the tagged union of everything the relay can deliver to a
// client. Exactly one field is non-nil.
type ServerEvent struct {
	History     *HistorySnapshot   `json:"history,omitempty"`
	Roster      *RosterSnapshot    `json:"roster,omitempty"`
	Joined      *types.Participant `json:"joined,omitempty"`
	Left        *ParticipantLeft   `json:"left,omitempty"`
	Message     *types.Message     `json:"message,omitempty"`
	Edited      *MessageEdited     `json:"edited,omitempty"`
	Deleted     *MessageDeleted    `json:"deleted,omitempty"`
	Reaction    *ReactionEvent     `json:"reaction,omitempty"`
	Speaking    *SpeakingEvent     `json:"speaking,omitempty"`
	VoiceJoined *VoiceMembership   `json:"voice_joined,omitempty"`
	VoiceLeft   *VoiceMembership   `json:"voice_left,omitempty"`
	Audio       *AudioChunk        `json:"audio,omitempty"`
	Frame       *FrameUpdate       `json:"frame,omitempty"`
	NameEffect  *NameEffectUpdate  `json:"name_effect,omitempty"`
}

// ClientIntent is the tagged union of everything a client publishes to the
// relay. Exactly one field is non-nil.
type ClientIntent struct {
	Join       *JoinConversation  `json:"join,omitempty"`
	Leave      *LeaveConversation `json:"leave,omitempty"`
	Publish    *PublishMessage    `json:"publish,omitempty"`
	Edit       *EditMessage       `json:"edit,omitempty"`
	Delete     *DeleteMessage     `json:"delete,omitempty"`
	React      *ReactionEvent     `json:"react,omitempty"`
	JoinVoice  *VoiceMembership   `json:"join_voice,omitempty"`
	LeaveVoice *VoiceMembership   `json:"leave_voice,omitempty"`
	Speaking   *SpeakingEvent     `json:"speaking,omitempty"`
	Audio      *AudioChunk        `json:"audio,omitempty"`
	Frame      *FrameUpdate       `json:"frame,omitempty"`
	NameEffect *NameEffectUpdate  `json:"name_effect,omitempty"`
}

type HistorySnapshot struct {
	ConversationId string          `json:"conversation_id"`
	Messages       []types.Message `json:"messages"`
}

type RosterSnapshot struct {
	Participants []types.Participant `json:"participants"`
}

type ParticipantLeft struct {
	UserId string `json:"user_id"`
}

type MessageEdited struct {
	MessageId string    `json:"message_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
}

type ReactionEvent struct {
	MessageId      string `json:"message_id"`
	Emoji          string `json:"emoji"`
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ConversationId string `json:"conversation_id,omitempty"`
}

type SpeakingEvent struct {
	UserId         string `json:"user_id"`
	IsSpeaking     bool   `json:"is_speaking"`
	ConversationId string `json:"conversation_id,omitempty"`
}

type VoiceMembership struct {
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name"`
	ConversationId string `json:"conversation_id,omitempty"`
}

// AudioChunk carries one capture interval of audio in its transport form
// (base64 text). Delivery is best-effort; chunks are never retried.
type AudioChunk struct {
	UserId         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	AudioData      string    `json:"audio_data"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationId string    `json:"conversation_id,omitempty"`
}

type FrameUpdate struct {
	UserId         string             `json:"user_id"`
	UserName       string             `json:"user_name,omitempty"`
	FrameConfig    *types.FrameConfig `json:"frame_config"`
	ConversationId string             `json:"conversation_id,omitempty"`
}

type NameEffectUpdate struct {
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	NameEffect     string `json:"name_effect"`
	ConversationId string `json:"conversation_id,omitempty"`
}

type JoinConversation struct {
	ConversationId string            `json:"conversation_id"`
	Participant    types.Participant `json:"participant"`
}

type LeaveConversation struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

type PublishMessage struct {
	ConversationId string        `json:"conversation_id"`
	Message        types.Message `json:"message"`
}

type EditMessage struct {
	MessageId      string `json:"message_id"`
	Content        string `json:"content"`
	ConversationId string `json:"conversation_id"`
}

type DeleteMessage struct {
	MessageId      string `json:"message_id"`
	ConversationId string `json:"conversation_id"`
}
