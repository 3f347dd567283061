package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Stream owns the ordered message list for one conversation. All methods are
// called from the session loop goroutine only.
type Stream struct {
	msgs      []types.Message
	sanitizer *bluemonday.Policy
}

func newStream() *Stream {
	return &Stream{
		msgs:      make([]types.Message, 0, 64),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Submit creates a locally-originated message in the sending state and
// appends it optimistically. The caller publishes the matching intent.
func (s *Stream) Submit(senderId, content, replyTo string) types.Message {
	msg := types.Message{
		Id:        uuid.NewString(),
		SenderId:  senderId,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Status:    types.MessageSending,
		ReplyTo:   replyTo,
	}
	s.msgs = append(s.msgs, msg)
	return msg
}

// ApplyEcho reconciles a relay-delivered message. A known id is replaced in
// place, keeping its position: the relay wins on timestamp, status and
// content, while locally accumulated reactions survive an echo that carries
// none. An unknown id is appended and the list re-sorted by timestamp.
func (s *Stream) ApplyEcho(msg types.Message) {
	msg.Content = s.sanitizer.Sanitize(msg.Content)
	if msg.Status == "" || msg.Status == types.MessageSending {
		msg.Status = types.MessageSent
	}

	for i := range s.msgs {
		if s.msgs[i].Id == msg.Id {
			if msg.Reactions == nil {
				msg.Reactions = s.msgs[i].Reactions
			}
			s.msgs[i] = msg
			return
		}
	}

	s.msgs = append(s.msgs, msg)
	s.sortByTimestamp()
}

// ApplyEdit mutates the entry matching id. Applying the same edit twice
// yields the same result. The ordering timestamp is never touched: the edit
// time lands in EditedAt, so an edited message keeps its place in the list
// and a later hydration agrees with clients that witnessed the edit live.
func (s *Stream) ApplyEdit(id, content string, ts time.Time) bool {
	for i := range s.msgs {
		if s.msgs[i].Id == id {
			s.msgs[i].Content = s.sanitizer.Sanitize(content)
			s.msgs[i].Edited = true
			if !ts.IsZero() {
				editedAt := ts
				s.msgs[i].EditedAt = &editedAt
			}
			return true
		}
	}
	return false
}

// ApplyDelete removes the entry matching id. Deleting an unknown id is a
// no-op so a delete echo after an optimistic removal does nothing.
func (s *Stream) ApplyDelete(id string) bool {
	for i := range s.msgs {
		if s.msgs[i].Id == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Hydrate merges a bulk history snapshot. An empty local list is replaced
// outright; otherwise entries are deduplicated by id with snapshot entries
// winning, and the combined list is sorted ascending by timestamp.
func (s *Stream) Hydrate(snapshot []types.Message) {
	for i := range snapshot {
		snapshot[i].Content = s.sanitizer.Sanitize(snapshot[i].Content)
		if snapshot[i].Status == "" {
			snapshot[i].Status = types.MessageSent
		}
	}

	if len(s.msgs) == 0 {
		s.msgs = append(s.msgs[:0], snapshot...)
		s.sortByTimestamp()
		return
	}

	seen := make(map[string]int, len(s.msgs))
	for i := range s.msgs {
		seen[s.msgs[i].Id] = i
	}

	for _, msg := range snapshot {
		if i, ok := seen[msg.Id]; ok {
			if msg.Reactions == nil {
				msg.Reactions = s.msgs[i].Reactions
			}
			s.msgs[i] = msg
			continue
		}
		s.msgs = append(s.msgs, msg)
	}
	s.sortByTimestamp()
}

// Get returns a pointer into the list for in-place mutation by the
// reaction aggregator.
func (s *Stream) Get(id string) (*types.Message, bool) {
	for i := range s.msgs {
		if s.msgs[i].Id == id {
			return &s.msgs[i], true
		}
	}
	return nil, false
}

// Messages returns a copy of the ordered list.
func (s *Stream) Messages() []types.Message {
	out := make([]types.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Stream) sortByTimestamp() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].Timestamp.Before(s.msgs[j].Timestamp)
	})
}
