package session

import (
	"github.com/npezzotti/go-chatsync/internal/types"
)

// Roster holds the participants currently present in the conversation,
// keyed by id. Only the session loop goroutine touches it.
type Roster struct {
	selfId string
	order  []string
	byId   map[string]*types.Participant
}

func newRoster(selfId string) *Roster {
	return &Roster{
		selfId: selfId,
		byId:   make(map[string]*types.Participant),
	}
}

// ApplySnapshot replaces the roster wholesale, except that an existing entry
// for the local identity is preserved so locally-known cosmetic state is not
// clobbered by a stale snapshot.
func (r *Roster) ApplySnapshot(participants []types.Participant) {
	self, hadSelf := r.byId[r.selfId]

	r.order = r.order[:0]
	r.byId = make(map[string]*types.Participant, len(participants))

	for _, p := range participants {
		if p.Id == r.selfId && hadSelf {
			continue
		}
		if _, ok := r.byId[p.Id]; ok {
			continue
		}
		entry := p
		r.byId[p.Id] = &entry
		r.order = append(r.order, p.Id)
	}

	if hadSelf {
		r.byId[r.selfId] = self
		r.order = append(r.order, r.selfId)
	}
}

// ApplyJoin upserts by id and reports whether a new entry was created. For
// a known id, non-zero incoming fields win field by field; absent fields
// leave the existing value alone.
func (r *Roster) ApplyJoin(p types.Participant) bool {
	existing, ok := r.byId[p.Id]
	if !ok {
		entry := p
		r.byId[p.Id] = &entry
		r.order = append(r.order, p.Id)
		return true
	}

	if p.DisplayName != "" {
		existing.DisplayName = p.DisplayName
	}
	if p.AvatarRef != "" {
		existing.AvatarRef = p.AvatarRef
	}
	if p.Status != "" {
		existing.Status = p.Status
	}
	if p.Decoration != nil {
		existing.Decoration = p.Decoration
	}
	if p.NameEffect != nil {
		existing.NameEffect = p.NameEffect
	}
	existing.IsPremium = p.IsPremium
	return false
}

func (r *Roster) ApplyLeave(id string) bool {
	if _, ok := r.byId[id]; !ok {
		return false
	}
	delete(r.byId, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// MergeCosmetic applies a cosmetic broadcast to a participant's entry.
// Unknown ids are ignored; the join event carrying the full record arrives
// separately and last-write-wins covers the race.
func (r *Roster) MergeCosmetic(id string, frame *types.FrameConfig, nameEffect *string) bool {
	existing, ok := r.byId[id]
	if !ok {
		return false
	}
	if frame != nil {
		existing.Decoration = frame
	}
	if nameEffect != nil {
		existing.NameEffect = nameEffect
	}
	return true
}

func (r *Roster) Get(id string) (types.Participant, bool) {
	p, ok := r.byId[id]
	if !ok {
		return types.Participant{}, false
	}
	return *p, true
}

// Participants returns the roster in join order. An invisible premium self
// entry is excluded: it exists only for local bookkeeping and must never be
// presented as visible to others.
func (r *Roster) Participants() []types.Participant {
	out := make([]types.Participant, 0, len(r.order))
	for _, id := range r.order {
		p := r.byId[id]
		if id == r.selfId && p.IsPremium && p.Status == types.StatusInvisible {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (r *Roster) Len() int {
	return len(r.byId)
}
