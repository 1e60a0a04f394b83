package relay

import (
	"slices"

	"github.com/samber/lo"
)

// Router resolves recipient sets from the Registry. It keeps no state of its
// own; every resolution reads a fresh snapshot, so there is nothing to
// invalidate when membership changes.
type Router struct {
	registry *Registry
}

// NewRouter returns a Router reading membership from registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// MembersOf returns the ids of every participant whose current room is room.
func (rt *Router) MembersOf(room string) []string {
	return rt.membersExcept(room, "")
}

// RecipientsFor returns the ids that should receive msg. A message bound to a
// room goes to that room's members; a roomless message goes to every
// connected participant. The sender is never included.
func (rt *Router) RecipientsFor(msg Message) []string {
	if msg.Room != nil {
		return rt.membersExcept(*msg.Room, msg.UserID)
	}
	return rt.everyoneExcept(msg.UserID)
}

// membersExcept returns members of room minus exclude. An empty exclude
// matches no participant because registered ids are never empty.
func (rt *Router) membersExcept(room, exclude string) []string {
	ids := lo.FilterMap(rt.registry.List(), func(p Participant, _ int) (string, bool) {
		return p.ID, p.ID != exclude && p.InRoom(room)
	})
	slices.Sort(ids)
	return ids
}

func (rt *Router) everyoneExcept(exclude string) []string {
	ids := lo.FilterMap(rt.registry.List(), func(p Participant, _ int) (string, bool) {
		return p.ID, p.ID != exclude
	})
	slices.Sort(ids)
	return ids
}
