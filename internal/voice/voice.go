package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type State int

const (
	Idle State = iota
	Requesting
	Active
)

func (s State) String() string {
	switch s {
	case Requesting:
		return "requesting"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

var (
	ErrNotIdle   = errors.New("voice session already started")
	ErrNotActive = errors.New("voice session not active")
	ErrNoDevice  = errors.New("no audio capture device available")
)

// Chunk is one capture interval of local audio together with the frequency
// energy of its sample window.
type Chunk struct {
	PCM       []byte
	Energy    float64
	Timestamp time.Time
}

// CaptureDevice opens the local audio input. Open blocks until the user
// grants or denies access, so it is always called off the session loop.
type CaptureDevice interface {
	Open(ctx context.Context) (CaptureSession, error)
}

// CaptureSession emits chunks at a fixed interval until closed.
type CaptureSession interface {
	Chunks() <-chan Chunk
	Close() error
}

// PlaybackSink plays remote audio for a single peer. Play replaces any
// in-flight audio rather than queueing it, so playback never falls behind
// by more than one chunk.
type PlaybackSink interface {
	Play(pcm []byte)
	Close() error
}

// PlaybackOpener creates a sink for a peer the first time audio arrives
// from them.
type PlaybackOpener interface {
	OpenSink(userId string) (PlaybackSink, error)
}

type Publisher interface {
	Publish(*events.ClientIntent) error
}

type GrantResult struct {
	seq     int
	session CaptureSession
	err     error
}

// Manager runs the per-client voice state machine: Idle -> Requesting ->
// Active -> Idle. It owns the capture session and the per-peer playback
// arena. Every method is called from the session loop goroutine; the only
// other goroutine involved is the one waiting on a device grant.
type Manager struct {
	log    *log.Logger
	device CaptureDevice
	opener PlaybackOpener
	pub    Publisher
	stats  stats.StatsProvider

	selfId         string
	selfName       string
	conversationId string

	state    State
	joinSeq  int
	capture  CaptureSession
	muted    bool
	deafened bool
	detector *Detector
	limiter  *rate.Limiter

	sinks   map[string]PlaybackSink
	members map[string]*types.VoiceParticipantState

	grants chan GrantResult
	errs   chan error
}

func NewManager(logger *log.Logger, device CaptureDevice, opener PlaybackOpener, pub Publisher, st stats.StatsProvider, selfId, selfName, conversationId string) *Manager {
	return &Manager{
		log:            logger,
		device:         device,
		opener:         opener,
		pub:            pub,
		stats:          st,
		selfId:         selfId,
		selfName:       selfName,
		conversationId: conversationId,
		detector:       NewDetector(defaultThreshold, defaultWindow),
		limiter:        rate.NewLimiter(rate.Every(chunkInterval), chunkBurst),
		sinks:          make(map[string]PlaybackSink),
		members:        make(map[string]*types.VoiceParticipantState),
		grants:         make(chan GrantResult, 1),
		errs:           make(chan error, 8),
	}
}

const (
	// chunkInterval matches the capture cadence; the limiter only guards
	// against a misbehaving device flooding the relay.
	chunkInterval = 100 * time.Millisecond
	chunkBurst    = 5
)

func (m *Manager) State() State { return m.state }

// Grants delivers device-request outcomes; the session loop selects on it
// and forwards each result to CompleteJoin.
func (m *Manager) Grants() <-chan GrantResult { return m.grants }

// Errs surfaces non-fatal voice errors, such as a denied capture device.
func (m *Manager) Errs() <-chan error { return m.errs }

// Chunks exposes the active capture stream. While no capture session
// exists this returns nil, which blocks forever in a select.
func (m *Manager) Chunks() <-chan Chunk {
	if m.capture == nil {
		return nil
	}
	return m.capture.Chunks()
}

// Join requests the capture device. The blocking device request runs in its
// own goroutine so the session loop keeps processing events.
func (m *Manager) Join(ctx context.Context) error {
	if m.device == nil {
		return ErrNoDevice
	}
	if m.state != Idle {
		return ErrNotIdle
	}
	m.state = Requesting
	m.joinSeq++
	seq := m.joinSeq

	go func() {
		sess, err := m.device.Open(ctx)
		m.grants <- GrantResult{seq: seq, session: sess, err: err}
	}()
	return nil
}

// CompleteJoin finishes a pending join. A grant that arrives after Leave
// was called, or after a newer Join superseded it, releases the session
// immediately.
func (m *Manager) CompleteJoin(g GrantResult) {
	if g.seq != m.joinSeq || m.state != Requesting {
		if g.session != nil {
			_ = g.session.Close()
		}
		return
	}

	if g.err != nil {
		m.state = Idle
		m.surface(fmt.Errorf("audio capture denied: %w", g.err))
		return
	}

	m.state = Active
	m.capture = g.session
	m.members[m.selfId] = &types.VoiceParticipantState{Id: m.selfId}
	m.publish(&events.ClientIntent{JoinVoice: &events.VoiceMembership{
		UserId:         m.selfId,
		UserName:       m.selfName,
		ConversationId: m.conversationId,
	}})
}

// HandleChunk processes one locally captured chunk: feed the speaking
// detector, then relay the audio unless muted. Chunks are fire-and-forget.
func (m *Manager) HandleChunk(c Chunk) {
	if m.state != Active {
		return
	}

	switch m.detector.Sample(c.Energy, m.muted) {
	case EdgeStart:
		m.setSpeaking(m.selfId, true)
		m.publish(&events.ClientIntent{Speaking: &events.SpeakingEvent{
			UserId:         m.selfId,
			IsSpeaking:     true,
			ConversationId: m.conversationId,
		}})
	case EdgeStop:
		m.setSpeaking(m.selfId, false)
		m.publish(&events.ClientIntent{Speaking: &events.SpeakingEvent{
			UserId:         m.selfId,
			IsSpeaking:     false,
			ConversationId: m.conversationId,
		}})
	}

	// Muting pauses publication entirely rather than sending silence.
	if m.muted {
		return
	}
	if !m.limiter.Allow() {
		m.stats.Incr(stats.ChunksDropped)
		return
	}

	m.publish(&events.ClientIntent{Audio: &events.AudioChunk{
		UserId:         m.selfId,
		UserName:       m.selfName,
		AudioData:      EncodeChunk(c.PCM),
		Timestamp:      c.Timestamp,
		ConversationId: m.conversationId,
	}})
	m.stats.Incr(stats.ChunksPublished)
}

// HandleRemoteChunk routes a peer's audio to their playback sink, creating
// the sink lazily on first use.
func (m *Manager) HandleRemoteChunk(ev *events.AudioChunk) {
	if ev.UserId == m.selfId {
		// echo suppression
		return
	}
	if m.deafened {
		return
	}

	pcm, err := DecodeChunk(ev.AudioData)
	if err != nil {
		m.stats.Incr(stats.ChunksDropped)
		m.log.Printf("dropping undecodable chunk from %q: %v", ev.UserId, err)
		return
	}

	sink, ok := m.sinks[ev.UserId]
	if !ok {
		if m.opener == nil {
			m.stats.Incr(stats.ChunksDropped)
			return
		}
		sink, err = m.opener.OpenSink(ev.UserId)
		if err != nil {
			m.surface(fmt.Errorf("open playback for %q: %w", ev.UserId, err))
			return
		}
		m.sinks[ev.UserId] = sink
	}

	sink.Play(pcm)
	m.stats.Incr(stats.ChunksPlayed)
}

func (m *Manager) HandleSpeaking(ev *events.SpeakingEvent) {
	if ev.UserId == m.selfId {
		return
	}
	m.setSpeaking(ev.UserId, ev.IsSpeaking)
}

func (m *Manager) HandleJoined(ev *events.VoiceMembership) {
	if _, ok := m.members[ev.UserId]; !ok {
		m.members[ev.UserId] = &types.VoiceParticipantState{Id: ev.UserId}
	}
}

func (m *Manager) HandleLeft(ev *events.VoiceMembership) {
	delete(m.members, ev.UserId)
	if sink, ok := m.sinks[ev.UserId]; ok {
		_ = sink.Close()
		delete(m.sinks, ev.UserId)
	}
}

func (m *Manager) Mute() {
	m.muted = true
	if self, ok := m.members[m.selfId]; ok {
		self.IsMuted = true
	}
}

func (m *Manager) Unmute() {
	m.muted = false
	if self, ok := m.members[m.selfId]; ok {
		self.IsMuted = false
	}
}

func (m *Manager) Deafen()   { m.deafened = true }
func (m *Manager) Undeafen() { m.deafened = false }

// Leave tears the voice session down. It is idempotent: a second call, or a
// call while a device request is still pending, releases nothing twice and
// never fails.
func (m *Manager) Leave() {
	wasActive := m.state == Active

	// Supersede any pending grant so a late arrival is discarded.
	m.joinSeq++
	m.state = Idle

	if m.capture != nil {
		_ = m.capture.Close()
		m.capture = nil
	}
	for id, sink := range m.sinks {
		_ = sink.Close()
		delete(m.sinks, id)
	}
	m.members = make(map[string]*types.VoiceParticipantState)
	m.detector.Reset()

	if wasActive {
		m.publish(&events.ClientIntent{LeaveVoice: &events.VoiceMembership{
			UserId:         m.selfId,
			UserName:       m.selfName,
			ConversationId: m.conversationId,
		}})
	}
}

// Participants returns a copy of the current voice membership.
func (m *Manager) Participants() []types.VoiceParticipantState {
	out := make([]types.VoiceParticipantState, 0, len(m.members))
	for _, p := range m.members {
		out = append(out, *p)
	}
	return out
}

func (m *Manager) setSpeaking(id string, speaking bool) {
	if p, ok := m.members[id]; ok {
		p.IsSpeaking = speaking
		return
	}
	m.members[id] = &types.VoiceParticipantState{Id: id, IsSpeaking: speaking}
}

func (m *Manager) publish(intent *events.ClientIntent) {
	if err := m.pub.Publish(intent); err != nil {
		m.log.Println("publish voice intent:", err)
	}
}

func (m *Manager) surface(err error) {
	select {
	case m.errs <- err:
	default:
		m.log.Println("dropping voice error:", err)
	}
}

// EncodeChunk converts raw PCM into its transportable text form.
func EncodeChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeChunk converts the transport form back into playable audio.
func DecodeChunk(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
