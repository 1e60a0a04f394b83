package relay

import (
	"fmt"
	"sync"
)

// Participant is a snapshot of one connected actor. Values returned by the
// Registry are copies; mutating them has no effect on registry state.
type Participant struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Room     *string `json:"room"`
}

// CurrentRoom reports the room the participant occupies, if any.
func (p Participant) CurrentRoom() (string, bool) {
	if p.Room == nil {
		return "", false
	}
	return *p.Room, true
}

// InRoom reports whether the participant currently occupies room. Room ids
// are compared by exact string equality.
func (p Participant) InRoom(room string) bool {
	return p.Room != nil && *p.Room == room
}

// Registry maps connection ids to participant state. It is safe for
// concurrent use: lookups share a read lock, mutations take the write lock.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{participants: make(map[string]Participant)}
}

// Register inserts a new roomless participant with no display name.
func (r *Registry) Register(id string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; exists {
		return Participant{}, fmt.Errorf("register %q: %w", id, ErrDuplicateIdentity)
	}
	p := Participant{ID: id}
	r.participants[id] = p
	return p, nil
}

// SetProfile atomically replaces the display name and room of an existing
// participant and returns the state it had before the update. The previous
// room is left implicitly, so there is no observable roomless gap.
func (r *Registry) SetProfile(id, username, room string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.participants[id]
	if !exists {
		return Participant{}, fmt.Errorf("set profile %q: %w", id, ErrUnknownParticipant)
	}
	// Each update gets its own room pointer so earlier snapshots never alias.
	joined := room
	r.participants[id] = Participant{ID: id, Username: username, Room: &joined}
	return previous, nil
}

// Get returns a snapshot of the participant registered under id.
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	return p, ok
}

// ClearRoom moves the participant back to the lobby and returns the state it
// had before. The boolean is false when id is unknown. Clearing a roomless
// participant is a no-op.
func (r *Registry) ClearRoom(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.participants[id]
	if !exists {
		return Participant{}, false
	}
	if previous.Room != nil {
		updated := previous
		updated.Room = nil
		r.participants[id] = updated
	}
	return previous, true
}

// Unregister removes the participant and returns its last state. It is
// idempotent: the boolean is false when id was not registered.
func (r *Registry) Unregister(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, exists := r.participants[id]
	if exists {
		delete(r.participants, id)
	}
	return previous, exists
}

// List returns a snapshot of all participants in no particular order.
func (r *Registry) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
