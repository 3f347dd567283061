package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatsync/internal/types"
)

func assertOrdered(t *testing.T, msgs []types.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp),
			"expected non-decreasing timestamps at index %d", i)
	}
}

func TestSubmit(t *testing.T) {
	s := newStream()

	msg := s.Submit("u1", "hi", "")
	assert.NotEmpty(t, msg.Id, "expected a generated id")
	assert.Equal(t, types.MessageSending, msg.Status, "expected optimistic message in sending state")
	assert.Equal(t, "u1", msg.SenderId)

	msgs := s.Messages()
	require.Len(t, msgs, 1, "expected optimistic append")
	assert.Equal(t, msg.Id, msgs[0].Id)

	reply := s.Submit("u1", "reply", msg.Id)
	assert.Equal(t, msg.Id, reply.ReplyTo)
	assert.NotEqual(t, msg.Id, reply.Id, "expected ids to be unique")
}

func TestApplyEchoReconciliation(t *testing.T) {
	s := newStream()

	first := s.Submit("u1", "first", "")
	msg := s.Submit("u1", "hi", "")
	last := s.Submit("u1", "last", "")

	echoTime := time.Now().UTC().Add(time.Minute).Round(time.Millisecond)
	s.ApplyEcho(types.Message{
		Id:        msg.Id,
		SenderId:  "u1",
		Content:   "hi",
		Timestamp: echoTime,
		Status:    types.MessageSent,
	})

	msgs := s.Messages()
	require.Len(t, msgs, 3, "expected reconciliation to replace, not append")
	assert.Equal(t, first.Id, msgs[0].Id)
	assert.Equal(t, msg.Id, msgs[1].Id, "expected reconciled entry to keep its position")
	assert.Equal(t, last.Id, msgs[2].Id)
	assert.Equal(t, types.MessageSent, msgs[1].Status)
	assert.Equal(t, echoTime, msgs[1].Timestamp, "expected the relay timestamp to win")
}

func TestApplyEchoIdempotent(t *testing.T) {
	s := newStream()
	msg := s.Submit("u1", "hi", "")

	echo := types.Message{
		Id:        msg.Id,
		SenderId:  "u1",
		Content:   "hi",
		Timestamp: time.Now().UTC().Round(time.Millisecond),
		Status:    types.MessageSent,
	}
	s.ApplyEcho(echo)
	once := s.Messages()
	s.ApplyEcho(echo)
	twice := s.Messages()

	assert.Equal(t, once, twice, "expected double application to yield the same list")
}

func TestApplyEchoAppendsUnknown(t *testing.T) {
	s := newStream()
	now := time.Now().UTC()

	s.ApplyEcho(types.Message{Id: "m2", SenderId: "u2", Content: "b", Timestamp: now.Add(2 * time.Second)})
	s.ApplyEcho(types.Message{Id: "m1", SenderId: "u1", Content: "a", Timestamp: now.Add(time.Second)})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].Id, "expected insertion sorted by timestamp")
	assert.Equal(t, types.MessageSent, msgs[0].Status, "expected relayed message to be sent")
	assertOrdered(t, msgs)
}

func TestApplyEchoPreservesLocalReactions(t *testing.T) {
	s := newStream()
	msg := s.Submit("u1", "hi", "")

	got, ok := s.Get(msg.Id)
	require.True(t, ok)
	got.Reactions = ToggleReaction(nil, "👍", "u2", "B")

	s.ApplyEcho(types.Message{Id: msg.Id, SenderId: "u1", Content: "hi", Timestamp: time.Now().UTC()})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Reactions, 1, "expected local reactions to survive an echo without reactions")
}

func TestApplyEchoSanitizesContent(t *testing.T) {
	s := newStream()
	s.ApplyEcho(types.Message{Id: "m1", SenderId: "u1", Content: "<b>hi</b>", Timestamp: time.Now().UTC()})

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content, "expected markup to be stripped from relayed content")
}

func TestApplyEdit(t *testing.T) {
	s := newStream()
	msg := s.Submit("u1", "hi", "")

	assert.True(t, s.ApplyEdit(msg.Id, "hello", time.Time{}))
	assert.True(t, s.ApplyEdit(msg.Id, "hello", time.Time{}), "expected a repeated edit to be applied identically")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.True(t, msgs[0].Edited)
	assert.Nil(t, msgs[0].EditedAt, "expected no edit time before the echo supplies one")

	editTime := time.Now().UTC().Add(time.Minute).Round(time.Millisecond)
	assert.True(t, s.ApplyEdit(msg.Id, "hello", editTime))

	msgs = s.Messages()
	assert.Equal(t, msg.Timestamp, msgs[0].Timestamp, "expected the ordering timestamp to survive the edit")
	require.NotNil(t, msgs[0].EditedAt)
	assert.Equal(t, editTime, *msgs[0].EditedAt)

	assert.False(t, s.ApplyEdit("missing", "x", time.Time{}), "expected edit of unknown id to report false")
}

func TestApplyEditKeepsMessagePosition(t *testing.T) {
	s := newStream()
	now := time.Now().UTC().Round(time.Millisecond)

	s.ApplyEcho(types.Message{Id: "m1", SenderId: "u1", Content: "first", Timestamp: now})
	s.ApplyEcho(types.Message{Id: "m2", SenderId: "u2", Content: "second", Timestamp: now.Add(time.Second)})

	// An edit echo arrives after m2, then a newer message triggers a re-sort.
	require.True(t, s.ApplyEdit("m1", "first, edited", now.Add(2*time.Second)))
	s.ApplyEcho(types.Message{Id: "m3", SenderId: "u2", Content: "third", Timestamp: now.Add(3 * time.Second)})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].Id, "expected the edited message to keep its place")
	assert.Equal(t, "m2", msgs[1].Id)
	assert.Equal(t, "m3", msgs[2].Id)
	assert.Equal(t, now, msgs[0].Timestamp)
	assert.Equal(t, "first, edited", msgs[0].Content)
	assertOrdered(t, msgs)

	// A client hydrating the relay's retained history gets the same order.
	fresh := newStream()
	fresh.Hydrate(msgs)
	assert.Equal(t, msgs, fresh.Messages(), "expected live and hydrated clients to agree")
}

func TestApplyDelete(t *testing.T) {
	s := newStream()
	msg := s.Submit("u1", "hi", "")

	assert.True(t, s.ApplyDelete(msg.Id))
	assert.Empty(t, s.Messages())
	assert.False(t, s.ApplyDelete(msg.Id), "expected delete echo after optimistic removal to be a no-op")
}

func TestHydrate(t *testing.T) {
	now := time.Now().UTC().Round(time.Millisecond)

	t.Run("empty list is replaced outright", func(t *testing.T) {
		s := newStream()
		s.Hydrate([]types.Message{
			{Id: "m2", Timestamp: now.Add(2 * time.Second), Status: types.MessageSent},
			{Id: "m1", Timestamp: now.Add(time.Second), Status: types.MessageSent},
		})

		msgs := s.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].Id, "expected ascending timestamp order")
		assertOrdered(t, msgs)
	})

	t.Run("snapshot merges by id", func(t *testing.T) {
		s := newStream()
		local := s.Submit("u1", "pending", "")
		s.Hydrate([]types.Message{
			{Id: local.Id, SenderId: "u1", Content: "pending", Timestamp: now, Status: types.MessageSent},
			{Id: "m9", SenderId: "u2", Content: "other", Timestamp: now.Add(time.Second), Status: types.MessageSent},
		})

		msgs := s.Messages()
		require.Len(t, msgs, 2, "expected id-based dedup, not duplication")
		assertOrdered(t, msgs)

		byId := make(map[string]types.Message)
		for _, m := range msgs {
			byId[m.Id] = m
		}
		assert.Equal(t, types.MessageSent, byId[local.Id].Status, "expected snapshot entry to win")
	})

	t.Run("hydrating twice is stable", func(t *testing.T) {
		s := newStream()
		snapshot := []types.Message{
			{Id: "m1", Timestamp: now, Status: types.MessageSent},
			{Id: "m2", Timestamp: now.Add(time.Second), Status: types.MessageSent},
		}
		s.Hydrate(snapshot)
		once := s.Messages()
		s.Hydrate(snapshot)
		assert.Equal(t, once, s.Messages())
	})
}
