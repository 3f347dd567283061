package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatsync/internal/store"
	"github.com/npezzotti/go-chatsync/internal/types"
)

func TestCosmeticsRoundTrip(t *testing.T) {
	db, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := newCosmetics(db, "u1")
	_, err = c.Restore()
	require.NoError(t, err)

	frame := &types.FrameConfig{Id: "gold", Style: "glow", Color: "#ffd700"}
	require.NoError(t, c.SelectDecoration(frame))
	require.NoError(t, c.SelectNameEffect("rainbow"))

	restored := newCosmetics(db, "u1")
	state, err := restored.Restore()
	require.NoError(t, err)
	assert.Equal(t, frame, state.Decoration, "expected the decoration to survive a new session")
	require.NotNil(t, state.NameEffect)
	assert.Equal(t, "rainbow", *state.NameEffect)
}

func TestCosmeticsWithoutStore(t *testing.T) {
	c := newCosmetics(nil, "u1")

	state, err := c.Restore()
	require.NoError(t, err)
	assert.Nil(t, state.Decoration, "expected an undecorated start without a store")

	assert.NoError(t, c.SelectNameEffect("sparkle"))
	require.NotNil(t, c.State().NameEffect)
	assert.Equal(t, "sparkle", *c.State().NameEffect)
}
