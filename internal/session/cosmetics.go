package session

import (
	"fmt"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// CosmeticStore persists the local user's cosmetic choices across sessions.
type CosmeticStore interface {
	SaveCosmetic(userId string, state types.CosmeticState) error
	LoadCosmetic(userId string) (types.CosmeticState, bool, error)
}

// Cosmetics tracks the local user's decoration and name effect. Peer
// cosmetic state lives on their roster entries; only the owner's choices
// are persisted.
type Cosmetics struct {
	store  CosmeticStore
	selfId string
	state  types.CosmeticState
}

func newCosmetics(store CosmeticStore, selfId string) *Cosmetics {
	return &Cosmetics{store: store, selfId: selfId}
}

// Restore loads any previously persisted state. Without a store the session
// simply starts undecorated.
func (c *Cosmetics) Restore() (types.CosmeticState, error) {
	if c.store == nil {
		return c.state, nil
	}
	state, found, err := c.store.LoadCosmetic(c.selfId)
	if err != nil {
		return types.CosmeticState{}, fmt.Errorf("restore cosmetic state: %w", err)
	}
	if found {
		c.state = state
	}
	return c.state, nil
}

func (c *Cosmetics) SelectDecoration(frame *types.FrameConfig) error {
	c.state.Decoration = frame
	return c.persist()
}

func (c *Cosmetics) SelectNameEffect(effect string) error {
	c.state.NameEffect = &effect
	return c.persist()
}

func (c *Cosmetics) persist() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveCosmetic(c.selfId, c.state); err != nil {
		return fmt.Errorf("persist cosmetic state: %w", err)
	}
	return nil
}

func (c *Cosmetics) State() types.CosmeticState {
	return c.state
}
