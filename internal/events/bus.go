package events

import (
	"log"
)

// Kind tags the variant of a ServerEvent so subscribers can register for the
// slices of the inbound stream they care about.
type Kind int

const (
	KindUnknown Kind = iota
	KindHistory
	KindRoster
	KindJoined
	KindLeft
	KindMessage
	KindEdited
	KindDeleted
	KindReaction
	KindSpeaking
	KindVoiceJoined
	KindVoiceLeft
	KindAudio
	KindFrame
	KindNameEffect
)

// EventKind reports which variant of the union is populated. An event with no
// populated field, or more than one, is KindUnknown and gets dropped.
func (e *ServerEvent) EventKind() Kind {
	var kind Kind
	set := 0

	mark := func(k Kind) {
		kind = k
		set++
	}

	if e.History != nil {
		mark(KindHistory)
	}
	if e.Roster != nil {
		mark(KindRoster)
	}
	if e.Joined != nil {
		mark(KindJoined)
	}
	if e.Left != nil {
		mark(KindLeft)
	}
	if e.Message != nil {
		mark(KindMessage)
	}
	if e.Edited != nil {
		mark(KindEdited)
	}
	if e.Deleted != nil {
		mark(KindDeleted)
	}
	if e.Reaction != nil {
		mark(KindReaction)
	}
	if e.Speaking != nil {
		mark(KindSpeaking)
	}
	if e.VoiceJoined != nil {
		mark(KindVoiceJoined)
	}
	if e.VoiceLeft != nil {
		mark(KindVoiceLeft)
	}
	if e.Audio != nil {
		mark(KindAudio)
	}
	if e.Frame != nil {
		mark(KindFrame)
	}
	if e.NameEffect != nil {
		mark(KindNameEffect)
	}

	if set != 1 {
		return KindUnknown
	}
	return kind
}

type Handler func(*ServerEvent)

// Bus routes inbound relay events to component handlers by kind. It is only
// ever driven from the session loop goroutine, so it carries no lock.
type Bus struct {
	log      *log.Logger
	handlers map[Kind][]Handler
	dropped  int
}

func NewBus(logger *log.Logger) *Bus {
	return &Bus{
		log:      logger,
		handlers: make(map[Kind][]Handler),
	}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish dispatches an event to its kind's handlers. It reports false when
// the event is malformed and was dropped, so the caller can account for it.
func (b *Bus) Publish(ev *ServerEvent) bool {
	kind := ev.EventKind()
	if kind == KindUnknown {
		b.dropped++
		b.log.Println("dropping malformed relay event")
		return false
	}

	for _, h := range b.handlers[kind] {
		h(ev)
	}
	return true
}

// Dropped reports how many malformed events have been discarded.
func (b *Bus) Dropped() int {
	return b.dropped
}
