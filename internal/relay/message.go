package relay

// Outbound event names. They are part of the wire contract with existing
// clients and must not change.
const (
	EventWelcome    = "welcome"
	EventRoomJoined = "room_joined"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventNewMessage = "new_message"
)

// Message is a chat message stamped with a snapshot of its sender. Messages
// are routed once and then discarded.
type Message struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Content   string  `json:"content"`
	Timestamp int64   `json:"timestamp"`
	Room      *string `json:"room"`
}

// WelcomePayload is sent privately to a connection right after it connects.
type WelcomePayload struct {
	Message  string `json:"message"`
	SocketID string `json:"socket_id"`
}

// RoomJoinedPayload acknowledges a join to the joining connection only.
type RoomJoinedPayload struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

// PresencePayload announces a participant entering or leaving a room.
type PresencePayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

const (
	welcomeText    = "Welcome to the room relay server!"
	roomJoinedText = "Successfully joined room"
)

func joinedNotice(username string) PresencePayload {
	return PresencePayload{Username: username, Message: username + " joined the room"}
}

func leftNotice(username string) PresencePayload {
	return PresencePayload{Username: username, Message: username + " left the room"}
}
