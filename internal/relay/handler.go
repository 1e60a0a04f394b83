package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handler is the session lifecycle state machine. A connection moves from
// connected-without-room to in-room and back any number of times until it
// disconnects.
//
// Dispatch may be called concurrently for different connections. Events of
// one connection must be dispatched sequentially by the caller.
type Handler struct {
	registry *Registry
	router   *Router
	emitter  Emitter
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option customises a Handler.
type Option func(*Handler)

// WithClock overrides the clock used to timestamp messages.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithIDGenerator overrides the generator used for message ids.
func WithIDGenerator(newID func() string) Option {
	return func(h *Handler) { h.newID = newID }
}

// NewHandler wires a Handler to its collaborators.
func NewHandler(registry *Registry, router *Router, emitter Emitter, log *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		router:   router,
		emitter:  emitter,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dispatch applies ev on behalf of connection id. References to a participant
// that is already gone degrade to logged no-ops. The only error returned is
// ErrDuplicateIdentity from Connect, after which the caller should close the
// connection.
func (h *Handler) Dispatch(id string, ev Event) error {
	switch e := ev.(type) {
	case Connect:
		return h.connect(id)
	case Join:
		h.join(id, e)
	case Send:
		h.send(id, e)
	case Leave:
		h.leave(id)
	case Disconnect:
		h.disconnect(id)
	default:
		return fmt.Errorf("dispatch %T for %q: unsupported event", ev, id)
	}
	return nil
}

func (h *Handler) connect(id string) error {
	if _, err := h.registry.Register(id); err != nil {
		h.log.Error("refusing connection with duplicate id", "id", id, "err", err)
		return err
	}
	h.log.Info("participant connected", "id", id)
	h.emitter.Emit(id, EventWelcome, WelcomePayload{Message: welcomeText, SocketID: id})
	return nil
}

func (h *Handler) join(id string, e Join) {
	previous, err := h.registry.SetProfile(id, e.Username, e.Room)
	if err != nil {
		h.log.Warn("join from unknown participant", "id", id, "room", e.Room, "err", err)
		return
	}

	if oldRoom, ok := previous.CurrentRoom(); ok && oldRoom != e.Room {
		h.notifyRoom(oldRoom, id, EventUserLeft, leftNotice(previous.Username))
	}
	h.log.Info("participant joined room", "id", id, "username", e.Username, "room", e.Room)

	h.notifyRoom(e.Room, id, EventUserJoined, joinedNotice(e.Username))
	h.emitter.Emit(id, EventRoomJoined, RoomJoinedPayload{Room: e.Room, Message: roomJoinedText})
}

func (h *Handler) send(id string, e Send) {
	sender, ok := h.registry.Get(id)
	if !ok {
		h.log.Warn("message from unknown participant", "id", id)
		return
	}

	msg := Message{
		ID:        h.newID(),
		UserID:    sender.ID,
		Username:  sender.Username,
		Content:   e.Content,
		Timestamp: h.now().Unix(),
		Room:      e.Room,
	}
	if msg.Room == nil {
		msg.Room = sender.Room
	}

	recipients := h.router.RecipientsFor(msg)
	scope := "global"
	if msg.Room != nil {
		scope = *msg.Room
	}
	h.log.Debug("routing message",
		"id", msg.ID, "from", sender.ID, "scope", scope, "recipients", len(recipients))
	for _, to := range recipients {
		h.emitter.Emit(to, EventNewMessage, msg)
	}
}

// leave clears the room first and notifies from the returned previous state,
// so the read and the clear are one registry operation. notifyRoom excludes
// the leaver, so recipients match notifying before the clear.
func (h *Handler) leave(id string) {
	previous, ok := h.registry.ClearRoom(id)
	if !ok {
		h.log.Warn("leave from unknown participant", "id", id)
		return
	}
	room, ok := previous.CurrentRoom()
	if !ok {
		return
	}
	h.log.Info("participant left room", "id", id, "room", room)
	h.notifyRoom(room, id, EventUserLeft, leftNotice(previous.Username))
}

// disconnect unregisters first and notifies from the previous state, like leave.
func (h *Handler) disconnect(id string) {
	previous, ok := h.registry.Unregister(id)
	if !ok {
		h.log.Debug("disconnect for unknown participant", "id", id)
		return
	}
	h.log.Info("participant disconnected", "id", id)
	if room, ok := previous.CurrentRoom(); ok {
		h.notifyRoom(room, id, EventUserLeft, leftNotice(previous.Username))
	}
}

// notifyRoom emits event to every member of room except the participant the
// notification is about.
func (h *Handler) notifyRoom(room, about, event string, payload any) {
	for _, to := range h.router.membersExcept(room, about) {
		h.emitter.Emit(to, event, payload)
	}
}
