package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatsync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	s, err := NewStore(":memory:")
	require.NoError(t, err, "expected in-memory store to open")
	t.Cleanup(func() {
		assert.NoError(t, s.Close(), "expected store to close cleanly")
	})
	return s
}

func TestSaveLoadCosmetic(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.LoadCosmetic("u1")
	require.NoError(t, err)
	assert.False(t, found, "expected no row before first save")

	effect := "rainbow"
	state := types.CosmeticState{
		Decoration: &types.FrameConfig{Id: "gold-frame", Style: "solid", Color: "#ffd700"},
		NameEffect: &effect,
	}
	require.NoError(t, s.SaveCosmetic("u1", state))

	loaded, found, err := s.LoadCosmetic("u1")
	require.NoError(t, err)
	assert.True(t, found, "expected row after save")
	require.NotNil(t, loaded.Decoration)
	assert.Equal(t, "gold-frame", loaded.Decoration.Id)
	assert.Equal(t, "#ffd700", loaded.Decoration.Color)
	require.NotNil(t, loaded.NameEffect)
	assert.Equal(t, "rainbow", *loaded.NameEffect)
}

func TestSaveCosmeticOverwrites(t *testing.T) {
	s := newTestStore(t)

	first := "glow"
	require.NoError(t, s.SaveCosmetic("u1", types.CosmeticState{
		Decoration: &types.FrameConfig{Id: "silver-frame"},
		NameEffect: &first,
	}))

	// Clearing the decoration and changing the effect replaces both fields.
	second := "sparkle"
	require.NoError(t, s.SaveCosmetic("u1", types.CosmeticState{NameEffect: &second}))

	loaded, found, err := s.LoadCosmetic("u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, loaded.Decoration, "expected decoration to be cleared")
	require.NotNil(t, loaded.NameEffect)
	assert.Equal(t, "sparkle", *loaded.NameEffect)
}

func TestLoadCosmeticIsolatedPerUser(t *testing.T) {
	s := newTestStore(t)

	effect := "fire"
	require.NoError(t, s.SaveCosmetic("u1", types.CosmeticState{NameEffect: &effect}))

	_, found, err := s.LoadCosmetic("u2")
	require.NoError(t, err)
	assert.False(t, found, "expected no state for a different user")
}
