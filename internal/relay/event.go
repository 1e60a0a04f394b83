package relay

// Inbound event names. Connect and disconnect are implied by the transport;
// the other three arrive as client frames.
const (
	EventConnect     = "connect"
	EventDisconnect  = "disconnect"
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventLeaveRoom   = "leave_room"
)

// Event is one lifecycle event of a connection. The concrete types are
// Connect, Disconnect, Join, Send and Leave.
type Event interface {
	// Name returns the wire-level event name.
	Name() string
	isEvent()
}

// Connect opens a session.
type Connect struct{}

// Disconnect closes a session. It is terminal.
type Disconnect struct{}

// Join moves the participant into Room under the display name Username.
type Join struct {
	Room     string
	Username string
}

// Send posts Content. A nil Room falls back to the sender's current room.
type Send struct {
	Content string
	Room    *string
}

// Leave returns the participant to the lobby.
type Leave struct{}

func (Connect) Name() string    { return EventConnect }
func (Disconnect) Name() string { return EventDisconnect }
func (Join) Name() string       { return EventJoinRoom }
func (Send) Name() string       { return EventSendMessage }
func (Leave) Name() string      { return EventLeaveRoom }

func (Connect) isEvent()    {}
func (Disconnect) isEvent() {}
func (Join) isEvent()       {}
func (Send) isEvent()       {}
func (Leave) isEvent()      {}
