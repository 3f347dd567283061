package session

import (
	"github.com/npezzotti/go-chatsync/internal/types"
)

// ToggleReaction applies the deterministic toggle rule to a reaction set and
// returns the resulting set. The input is not mutated, so the optimistic
// path and the peer-event path produce identical results from identical
// inputs. Note the rule is self-inverse, not idempotent: applying the same
// toggle twice restores the prior state. The session loop therefore
// suppresses self-originated echoes before calling this.
func ToggleReaction(reactions []types.Reaction, emoji, userId, userName string) []types.Reaction {
	out := make([]types.Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		out = append(out, types.Reaction{
			Emoji:     r.Emoji,
			UserIds:   append([]string(nil), r.UserIds...),
			UserNames: append([]string(nil), r.UserNames...),
		})
	}

	for i := range out {
		if out[i].Emoji != emoji {
			continue
		}

		for j, id := range out[i].UserIds {
			if id == userId {
				// Toggling off: remove the user from the parallel arrays.
				out[i].UserIds = append(out[i].UserIds[:j], out[i].UserIds[j+1:]...)
				out[i].UserNames = append(out[i].UserNames[:j], out[i].UserNames[j+1:]...)
				if len(out[i].UserIds) == 0 {
					out = append(out[:i], out[i+1:]...)
				}
				return out
			}
		}

		out[i].UserIds = append(out[i].UserIds, userId)
		out[i].UserNames = append(out[i].UserNames, userName)
		return out
	}

	return append(out, types.Reaction{
		Emoji:     emoji,
		UserIds:   []string{userId},
		UserNames: []string{userName},
	})
}
