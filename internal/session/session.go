package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/voice"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrUnknownMessage = errors.New("unknown message id")
)

// Publisher sends intents to the relay. The websocket connection implements
// it; tests substitute an in-memory fake.
type Publisher interface {
	Publish(*events.ClientIntent) error
}

// Session is the synchronization engine for one live conversation. All
// mutable state (stream, roster, reactions, cosmetics, voice) is owned by a
// single loop goroutine; public methods marshal onto the loop through the
// ops channel, so none of the in-memory structures carry locks.
type Session struct {
	log            *log.Logger
	conversationId string
	self           types.Participant

	bus       *events.Bus
	stream    *Stream
	roster    *Roster
	cosmetics *Cosmetics
	voice     *voice.Manager
	pub       Publisher
	stats     stats.StatsProvider

	inbound <-chan *events.ServerEvent
	ops     chan func()
	stop    chan struct{}
	done    chan struct{}

	joined   bool
	stopOnce sync.Once
}

func NewSession(logger *log.Logger, self types.Participant, conversationId string, pub Publisher,
	inbound <-chan *events.ServerEvent, cosmeticStore CosmeticStore, vm *voice.Manager,
	st stats.StatsProvider) (*Session, error) {

	s := &Session{
		log:            logger,
		conversationId: conversationId,
		self:           self,
		bus:            events.NewBus(logger),
		stream:         newStream(),
		roster:         newRoster(self.Id),
		cosmetics:      newCosmetics(cosmeticStore, self.Id),
		voice:          vm,
		pub:            pub,
		stats:          st,
		inbound:        inbound,
		ops:            make(chan func(), 64),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	restored, err := s.cosmetics.Restore()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	s.self.Decoration = restored.Decoration
	s.self.NameEffect = restored.NameEffect

	for _, name := range []string{
		stats.MessagesSent, stats.MessagesReconciled, stats.MessagesEdited,
		stats.MessagesDeleted, stats.ReactionsApplied, stats.RosterSize,
		stats.ChunksPublished, stats.ChunksPlayed, stats.ChunksDropped,
		stats.CosmeticUpdates, stats.EventsDropped,
	} {
		s.stats.RegisterMetric(name)
	}

	s.bus.Subscribe(events.KindHistory, s.handleHistory)
	s.bus.Subscribe(events.KindRoster, s.handleRoster)
	s.bus.Subscribe(events.KindJoined, s.handleJoined)
	s.bus.Subscribe(events.KindLeft, s.handleLeft)
	s.bus.Subscribe(events.KindMessage, s.handleMessage)
	s.bus.Subscribe(events.KindEdited, s.handleEdited)
	s.bus.Subscribe(events.KindDeleted, s.handleDeleted)
	s.bus.Subscribe(events.KindReaction, s.handleReaction)
	s.bus.Subscribe(events.KindSpeaking, s.handleSpeaking)
	s.bus.Subscribe(events.KindVoiceJoined, s.handleVoiceJoined)
	s.bus.Subscribe(events.KindVoiceLeft, s.handleVoiceLeft)
	s.bus.Subscribe(events.KindAudio, s.handleAudio)
	s.bus.Subscribe(events.KindFrame, s.handleFrame)
	s.bus.Subscribe(events.KindNameEffect, s.handleNameEffect)

	return s, nil
}

// Run drives the session until Shutdown. Relay events, public operations,
// voice capture chunks and device grants all funnel through this one loop.
func (s *Session) Run() {
	for {
		select {
		case op := <-s.ops:
			op()
		case ev, ok := <-s.inbound:
			if !ok {
				// Transport loss: keep running so optimistic state stays
				// visible; unreconciled messages remain in sending.
				s.log.Println("relay stream closed")
				s.inbound = nil
				continue
			}
			if !s.bus.Publish(ev) {
				s.stats.Incr(stats.EventsDropped)
			}
		case chunk := <-s.voice.Chunks():
			s.voice.HandleChunk(chunk)
		case g := <-s.voice.Grants():
			s.voice.CompleteJoin(g)
		case <-s.stop:
			s.voice.Leave()
			close(s.done)
			return
		}
	}
}

func (s *Session) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// do runs fn on the session loop and waits for it to finish.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.ops <- func() {
		fn()
		close(ran)
	}:
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Join announces the local participant to the conversation. The intent is
// always sent, invisible or not: the join is what triggers the history and
// roster replay, and the relay withholds the announcement for an invisible
// premium identity so no peer ever learns of the session.
func (s *Session) Join() error {
	var err error
	doErr := s.do(func() {
		s.roster.ApplyJoin(s.self)
		s.joined = true
		err = s.pub.Publish(&events.ClientIntent{Join: &events.JoinConversation{
			ConversationId: s.conversationId,
			Participant:    s.self,
		}})
	})
	if doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("join conversation: %w", err)
	}
	return nil
}

// Leave withdraws from the conversation and the voice session. It is
// idempotent.
func (s *Session) Leave() error {
	return s.do(func() {
		s.voice.Leave()
		if !s.joined {
			return
		}
		s.joined = false
		if err := s.pub.Publish(&events.ClientIntent{Leave: &events.LeaveConversation{
			ConversationId: s.conversationId,
			UserId:         s.self.Id,
		}}); err != nil {
			s.log.Println("publish leave:", err)
		}
	})
}

// SubmitMessage appends an optimistic sending message and publishes the
// matching intent. The returned message carries the client-generated id the
// relay echo will reconcile against.
func (s *Session) SubmitMessage(content, replyTo string) (types.Message, error) {
	var msg types.Message
	err := s.do(func() {
		msg = s.stream.Submit(s.self.Id, content, replyTo)
		s.stats.Incr(stats.MessagesSent)
		s.publish(&events.ClientIntent{Publish: &events.PublishMessage{
			ConversationId: s.conversationId,
			Message:        msg,
		}})
	})
	return msg, err
}

// ResendMessage republishes a message stuck in sending, reusing its id so
// the eventual echo reconciles instead of duplicating.
func (s *Session) ResendMessage(id string) error {
	var err error
	doErr := s.do(func() {
		msg, ok := s.stream.Get(id)
		if !ok || msg.Status != types.MessageSending {
			err = ErrUnknownMessage
			return
		}
		s.publish(&events.ClientIntent{Publish: &events.PublishMessage{
			ConversationId: s.conversationId,
			Message:        *msg,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) EditMessage(id, content string) error {
	var err error
	doErr := s.do(func() {
		if !s.stream.ApplyEdit(id, content, time.Time{}) {
			err = ErrUnknownMessage
			return
		}
		s.stats.Incr(stats.MessagesEdited)
		s.publish(&events.ClientIntent{Edit: &events.EditMessage{
			MessageId:      id,
			Content:        content,
			ConversationId: s.conversationId,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) DeleteMessage(id string) error {
	var err error
	doErr := s.do(func() {
		if !s.stream.ApplyDelete(id) {
			err = ErrUnknownMessage
			return
		}
		s.stats.Incr(stats.MessagesDeleted)
		s.publish(&events.ClientIntent{Delete: &events.DeleteMessage{
			MessageId:      id,
			ConversationId: s.conversationId,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// ToggleReaction applies the toggle rule optimistically and publishes the
// intent. The relay's echo of this toggle is suppressed on receipt, so the
// rule runs exactly once per user action.
func (s *Session) ToggleReaction(messageId, emoji string) error {
	var err error
	doErr := s.do(func() {
		msg, ok := s.stream.Get(messageId)
		if !ok {
			err = ErrUnknownMessage
			return
		}
		msg.Reactions = ToggleReaction(msg.Reactions, emoji, s.self.Id, s.self.DisplayName)
		s.stats.Incr(stats.ReactionsApplied)
		s.publish(&events.ClientIntent{React: &events.ReactionEvent{
			MessageId:      messageId,
			Emoji:          emoji,
			UserId:         s.self.Id,
			UserName:       s.self.DisplayName,
			ConversationId: s.conversationId,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// SelectDecoration persists the frame choice, updates the local roster
// entry immediately and broadcasts it to peers.
func (s *Session) SelectDecoration(frame *types.FrameConfig) error {
	var err error
	doErr := s.do(func() {
		if err = s.cosmetics.SelectDecoration(frame); err != nil {
			return
		}
		s.self.Decoration = frame
		s.roster.MergeCosmetic(s.self.Id, frame, nil)
		s.stats.Incr(stats.CosmeticUpdates)
		if s.invisible() {
			return
		}
		s.publish(&events.ClientIntent{Frame: &events.FrameUpdate{
			UserId:         s.self.Id,
			UserName:       s.self.DisplayName,
			FrameConfig:    frame,
			ConversationId: s.conversationId,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) SelectNameEffect(effect string) error {
	var err error
	doErr := s.do(func() {
		if err = s.cosmetics.SelectNameEffect(effect); err != nil {
			return
		}
		s.self.NameEffect = &effect
		s.roster.MergeCosmetic(s.self.Id, nil, &effect)
		s.stats.Incr(stats.CosmeticUpdates)
		if s.invisible() {
			return
		}
		s.publish(&events.ClientIntent{NameEffect: &events.NameEffectUpdate{
			UserId:         s.self.Id,
			UserName:       s.self.DisplayName,
			NameEffect:     effect,
			ConversationId: s.conversationId,
		}})
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// JoinVoice requests the capture device; the grant or denial arrives on the
// loop later, so this never blocks on user permission.
func (s *Session) JoinVoice(ctx context.Context) error {
	var err error
	doErr := s.do(func() { err = s.voice.Join(ctx) })
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) LeaveVoice() error { return s.do(func() { s.voice.Leave() }) }
func (s *Session) Mute() error       { return s.do(func() { s.voice.Mute() }) }
func (s *Session) Unmute() error     { return s.do(func() { s.voice.Unmute() }) }
func (s *Session) Deafen() error     { return s.do(func() { s.voice.Deafen() }) }
func (s *Session) Undeafen() error   { return s.do(func() { s.voice.Undeafen() }) }

// VoiceErrs surfaces non-fatal voice errors such as a denied device.
func (s *Session) VoiceErrs() <-chan error { return s.voice.Errs() }

// Messages returns a snapshot of the ordered message list.
func (s *Session) Messages() []types.Message {
	var out []types.Message
	_ = s.do(func() { out = s.stream.Messages() })
	return out
}

// Participants returns a snapshot of the visible roster.
func (s *Session) Participants() []types.Participant {
	var out []types.Participant
	_ = s.do(func() { out = s.roster.Participants() })
	return out
}

// VoiceParticipants returns a snapshot of voice membership state.
func (s *Session) VoiceParticipants() []types.VoiceParticipantState {
	var out []types.VoiceParticipantState
	_ = s.do(func() { out = s.voice.Participants() })
	return out
}

func (s *Session) Self() types.Participant {
	var out types.Participant
	_ = s.do(func() { out = s.self })
	return out
}

func (s *Session) invisible() bool {
	return s.self.IsPremium && s.self.Status == types.StatusInvisible
}

func (s *Session) publish(intent *events.ClientIntent) {
	if err := s.pub.Publish(intent); err != nil {
		// Best effort: the optimistic mutation stays visible and the
		// message keeps its sending status until an echo arrives.
		s.log.Println("publish intent:", err)
	}
}

// --- inbound event handlers, all invoked on the loop ---

func (s *Session) handleHistory(ev *events.ServerEvent) {
	if ev.History.ConversationId != "" && ev.History.ConversationId != s.conversationId {
		return
	}
	s.stream.Hydrate(ev.History.Messages)
}

func (s *Session) handleRoster(ev *events.ServerEvent) {
	s.roster.ApplySnapshot(ev.Roster.Participants)
	s.stats.Set(stats.RosterSize, s.roster.Len())
}

func (s *Session) handleJoined(ev *events.ServerEvent) {
	s.roster.ApplyJoin(*ev.Joined)
	s.stats.Set(stats.RosterSize, s.roster.Len())
}

func (s *Session) handleLeft(ev *events.ServerEvent) {
	s.roster.ApplyLeave(ev.Left.UserId)
	s.stats.Set(stats.RosterSize, s.roster.Len())
}

func (s *Session) handleMessage(ev *events.ServerEvent) {
	s.stream.ApplyEcho(*ev.Message)
	s.stats.Incr(stats.MessagesReconciled)
}

func (s *Session) handleEdited(ev *events.ServerEvent) {
	s.stream.ApplyEdit(ev.Edited.MessageId, ev.Edited.Content, ev.Edited.Timestamp)
}

func (s *Session) handleDeleted(ev *events.ServerEvent) {
	s.stream.ApplyDelete(ev.Deleted.MessageId)
}

func (s *Session) handleReaction(ev *events.ServerEvent) {
	if ev.Reaction.UserId == s.self.Id {
		// Echo suppression: the optimistic toggle already ran, and the
		// toggle rule is self-inverse, not idempotent.
		return
	}
	msg, ok := s.stream.Get(ev.Reaction.MessageId)
	if !ok {
		return
	}
	msg.Reactions = ToggleReaction(msg.Reactions, ev.Reaction.Emoji, ev.Reaction.UserId, ev.Reaction.UserName)
	s.stats.Incr(stats.ReactionsApplied)
}

func (s *Session) handleSpeaking(ev *events.ServerEvent) {
	s.voice.HandleSpeaking(ev.Speaking)
}

func (s *Session) handleVoiceJoined(ev *events.ServerEvent) {
	s.voice.HandleJoined(ev.VoiceJoined)
}

func (s *Session) handleVoiceLeft(ev *events.ServerEvent) {
	s.voice.HandleLeft(ev.VoiceLeft)
}

func (s *Session) handleAudio(ev *events.ServerEvent) {
	s.voice.HandleRemoteChunk(ev.Audio)
}

func (s *Session) handleFrame(ev *events.ServerEvent) {
	s.roster.MergeCosmetic(ev.Frame.UserId, ev.Frame.FrameConfig, nil)
}

func (s *Session) handleNameEffect(ev *events.ServerEvent) {
	effect := ev.NameEffect.NameEffect
	s.roster.MergeCosmetic(ev.NameEffect.UserId, nil, &effect)
}
