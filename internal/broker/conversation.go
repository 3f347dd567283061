package broker

import (
	"log"
	"time"

	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
)

// historyLimit bounds what a join replays; the relay offers no durable
// history beyond this window.
const historyLimit = 200

type clientIntent struct {
	client *client
	intent *events.ClientIntent
}

// Conversation owns all state for one conversation and processes every
// intent on its own goroutine, in source-of-truth order: timestamps and
// message status assigned here are authoritative for every client.
type Conversation struct {
	id  string
	log *log.Logger

	register   chan *client
	unregister chan *client
	intents    chan clientIntent
	exit       chan struct{}
	done       chan struct{}

	members map[*client]struct{}
	roster  []types.Participant
	history []types.Message
}

func newConversation(id string, logger *log.Logger) *Conversation {
	return &Conversation{
		id:         id,
		log:        logger,
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		intents:    make(chan clientIntent, 256),
		exit:       make(chan struct{}),
		done:       make(chan struct{}),
		members:    make(map[*client]struct{}),
	}
}

func (c *Conversation) run() {
	for {
		select {
		case cl := <-c.register:
			c.members[cl] = struct{}{}
		case cl := <-c.unregister:
			if _, ok := c.members[cl]; ok {
				delete(c.members, cl)
				close(cl.send)
			}
		case ci := <-c.intents:
			c.handleIntent(ci)
		case <-c.exit:
			for cl := range c.members {
				close(cl.send)
				delete(c.members, cl)
			}
			close(c.done)
			return
		}
	}
}

func (c *Conversation) stop() {
	close(c.exit)
	<-c.done
}

func (c *Conversation) handleIntent(ci clientIntent) {
	switch intent := ci.intent; {
	case intent.Join != nil:
		c.handleJoin(ci.client, intent.Join)
	case intent.Leave != nil:
		// Announce only ids actually on the roster; an invisible member was
		// never added, and broadcasting their leave would reveal the session.
		if c.removeParticipant(intent.Leave.UserId) {
			c.broadcast(&events.ServerEvent{Left: &events.ParticipantLeft{UserId: intent.Leave.UserId}})
		}
	case intent.Publish != nil:
		c.handlePublish(intent.Publish)
	case intent.Edit != nil:
		c.handleEdit(intent.Edit)
	case intent.Delete != nil:
		c.handleDelete(intent.Delete)
	case intent.React != nil:
		c.handleReact(intent.React)
	case intent.JoinVoice != nil:
		c.broadcast(&events.ServerEvent{VoiceJoined: &events.VoiceMembership{
			UserId: intent.JoinVoice.UserId, UserName: intent.JoinVoice.UserName,
		}})
	case intent.LeaveVoice != nil:
		c.broadcast(&events.ServerEvent{VoiceLeft: &events.VoiceMembership{
			UserId: intent.LeaveVoice.UserId, UserName: intent.LeaveVoice.UserName,
		}})
	case intent.Speaking != nil:
		c.broadcast(&events.ServerEvent{Speaking: &events.SpeakingEvent{
			UserId: intent.Speaking.UserId, IsSpeaking: intent.Speaking.IsSpeaking,
		}})
	case intent.Audio != nil:
		// best-effort passthrough, never buffered
		c.broadcast(&events.ServerEvent{Audio: &events.AudioChunk{
			UserId:    intent.Audio.UserId,
			UserName:  intent.Audio.UserName,
			AudioData: intent.Audio.AudioData,
			Timestamp: intent.Audio.Timestamp,
		}})
	case intent.Frame != nil:
		c.mergeCosmetic(intent.Frame.UserId, intent.Frame.FrameConfig, nil)
		c.broadcast(&events.ServerEvent{Frame: &events.FrameUpdate{
			UserId: intent.Frame.UserId, FrameConfig: intent.Frame.FrameConfig,
		}})
	case intent.NameEffect != nil:
		effect := intent.NameEffect.NameEffect
		c.mergeCosmetic(intent.NameEffect.UserId, nil, &effect)
		c.broadcast(&events.ServerEvent{NameEffect: &events.NameEffectUpdate{
			UserId: intent.NameEffect.UserId, NameEffect: effect,
		}})
	default:
		c.log.Printf("conversation %q: dropping empty intent", c.id)
	}
}

// handleJoin replays history and the roster to the joiner, then announces
// them. An invisible premium identity is never added to the roster and
// never announced: no other client may learn of the session.
func (c *Conversation) handleJoin(cl *client, join *events.JoinConversation) {
	p := join.Participant

	cl.queue(&events.ServerEvent{History: &events.HistorySnapshot{
		ConversationId: c.id,
		Messages:       append([]types.Message(nil), c.history...),
	}})
	cl.queue(&events.ServerEvent{Roster: &events.RosterSnapshot{
		Participants: append([]types.Participant(nil), c.roster...),
	}})

	if p.IsPremium && p.Status == types.StatusInvisible {
		return
	}

	c.upsertParticipant(p)
	joined := p
	c.broadcast(&events.ServerEvent{Joined: &joined})
}

func (c *Conversation) handlePublish(pub *events.PublishMessage) {
	msg := pub.Message
	msg.Timestamp = time.Now().UTC().Round(time.Millisecond)
	msg.Status = types.MessageSent

	replaced := false
	for i := range c.history {
		if c.history[i].Id == msg.Id {
			// duplicate id is an update, never an error
			c.history[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		c.history = append(c.history, msg)
		if len(c.history) > historyLimit {
			c.history = c.history[len(c.history)-historyLimit:]
		}
	}

	c.broadcast(&events.ServerEvent{Message: &msg})
}

// handleEdit updates the retained copy and echoes the edit. The message's
// ordering timestamp stays as published; only EditedAt records the edit
// time, so a rejoiner hydrates the same order live clients see.
func (c *Conversation) handleEdit(edit *events.EditMessage) {
	ts := time.Now().UTC().Round(time.Millisecond)
	for i := range c.history {
		if c.history[i].Id == edit.MessageId {
			c.history[i].Content = edit.Content
			c.history[i].Edited = true
			c.history[i].EditedAt = &ts
			break
		}
	}
	c.broadcast(&events.ServerEvent{Edited: &events.MessageEdited{
		MessageId: edit.MessageId,
		Content:   edit.Content,
		Timestamp: ts,
	}})
}

func (c *Conversation) handleDelete(del *events.DeleteMessage) {
	for i := range c.history {
		if c.history[i].Id == del.MessageId {
			c.history = append(c.history[:i], c.history[i+1:]...)
			break
		}
	}
	c.broadcast(&events.ServerEvent{Deleted: &events.MessageDeleted{MessageId: del.MessageId}})
}

// handleReact applies the toggle to the retained history copy so late
// joiners hydrate with current reaction state, then fans the event out to
// everyone, the sender included; suppression is the client's concern.
func (c *Conversation) handleReact(react *events.ReactionEvent) {
	for i := range c.history {
		if c.history[i].Id == react.MessageId {
			c.history[i].Reactions = session.ToggleReaction(
				c.history[i].Reactions, react.Emoji, react.UserId, react.UserName)
			break
		}
	}
	c.broadcast(&events.ServerEvent{Reaction: &events.ReactionEvent{
		MessageId: react.MessageId,
		Emoji:     react.Emoji,
		UserId:    react.UserId,
		UserName:  react.UserName,
	}})
}

func (c *Conversation) upsertParticipant(p types.Participant) {
	for i := range c.roster {
		if c.roster[i].Id == p.Id {
			c.roster[i] = p
			return
		}
	}
	c.roster = append(c.roster, p)
}

func (c *Conversation) removeParticipant(id string) bool {
	for i := range c.roster {
		if c.roster[i].Id == id {
			c.roster = append(c.roster[:i], c.roster[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Conversation) mergeCosmetic(id string, frame *types.FrameConfig, effect *string) {
	for i := range c.roster {
		if c.roster[i].Id == id {
			if frame != nil {
				c.roster[i].Decoration = frame
			}
			if effect != nil {
				c.roster[i].NameEffect = effect
			}
			return
		}
	}
}

func (c *Conversation) broadcast(ev *events.ServerEvent) {
	for cl := range c.members {
		select {
		case cl.send <- ev:
		default:
			close(cl.send)
			delete(c.members, cl)
		}
	}
}
