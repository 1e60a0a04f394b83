package server_test

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const quietPeriod = 200 * time.Millisecond

func joinRoom(t *testing.T, conn *websocket.Conn, room, username string) {
	t.Helper()
	testhelpers.SendEvent(t, conn, relay.EventJoinRoom, map[string]string{"room": room, "username": username})

	var ack relay.RoomJoinedPayload
	testhelpers.ExpectFrame(t, conn, relay.EventRoomJoined).Decode(t, &ack)
	require.Equal(t, relay.RoomJoinedPayload{Room: room, Message: "Successfully joined room"}, ack)
}

func sendMessage(t *testing.T, conn *websocket.Conn, content string, room *string) {
	t.Helper()
	data := map[string]any{"content": content}
	if room != nil {
		data["room"] = *room
	}
	testhelpers.SendEvent(t, conn, relay.EventSendMessage, data)
}

func expectPresence(t *testing.T, conn *websocket.Conn, event, username, text string) {
	t.Helper()
	var p relay.PresencePayload
	testhelpers.ExpectFrame(t, conn, event).Decode(t, &p)
	require.Equal(t, relay.PresencePayload{Username: username, Message: text}, p)
}

func expectMessage(t *testing.T, conn *websocket.Conn) relay.Message {
	t.Helper()
	var msg relay.Message
	testhelpers.ExpectFrame(t, conn, relay.EventNewMessage).Decode(t, &msg)
	return msg
}

// expectSilence checks several connections concurrently; each is unusable afterwards.
func expectSilence(t *testing.T, conns ...*websocket.Conn) {
	t.Helper()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			f, err := testhelpers.ReadFrame(c, quietPeriod)
			if err == nil {
				t.Errorf("unexpected %s frame", f.Event)
			}
		}(c)
	}
	wg.Wait()
}

func strPtr(s string) *string { return &s }

func TestConnectSendsWelcome(t *testing.T) {
	tr := newTestRelay(t, nil)

	conn, _, err := testhelpers.Dial(tr.wsURL(), "")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var welcome relay.WelcomePayload
	testhelpers.ExpectFrame(t, conn, relay.EventWelcome).Decode(t, &welcome)
	require.Equal(t, "Welcome to the room relay server!", welcome.Message)
	require.NotEmpty(t, welcome.SocketID)

	p, ok := tr.registry.Get(welcome.SocketID)
	require.True(t, ok)
	require.Empty(t, p.Username)
	require.Nil(t, p.Room)
	require.Equal(t, 1, tr.hub.ClientCount())
}

func TestJoinRoomNotifiesExistingMembers(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, aliceID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	carol, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, carol, "kitchen", "carol")
	joinRoom(t, bob, "lobby", "bob")

	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	p, ok := tr.registry.Get(aliceID)
	require.True(t, ok)
	require.Equal(t, "alice", p.Username)
	require.True(t, p.InRoom("lobby"))

	expectSilence(t, alice, bob, carol)
}

func TestRoomMessageReachesOnlyOtherMembers(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, bobID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	carol, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	dave, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")
	joinRoom(t, carol, "kitchen", "carol")

	before := time.Now().Unix()
	sendMessage(t, bob, "hello", nil)

	msg := expectMessage(t, alice)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, bobID, msg.UserID)
	require.Equal(t, "bob", msg.Username)
	require.Equal(t, "hello", msg.Content)
	require.Equal(t, strPtr("lobby"), msg.Room)
	require.GreaterOrEqual(t, msg.Timestamp, before)

	expectSilence(t, bob, carol, dave)
}

func TestRoomlessMessageBroadcastsToEveryoneElse(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, aliceID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	carol, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, bob, "lobby", "bob")

	sendMessage(t, alice, "anyone?", nil)

	for _, c := range []*websocket.Conn{bob, carol} {
		msg := expectMessage(t, c)
		require.Equal(t, aliceID, msg.UserID)
		require.Empty(t, msg.Username)
		require.Equal(t, "anyone?", msg.Content)
		require.Nil(t, msg.Room)
	}

	expectSilence(t, alice)
}

func TestExplicitRoomOverridesCurrentRoom(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	carol, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, carol, "lobby", "carol")
	expectPresence(t, alice, relay.EventUserJoined, "carol", "carol joined the room")
	joinRoom(t, bob, "kitchen", "bob")

	sendMessage(t, alice, "over there", strPtr("kitchen"))

	msg := expectMessage(t, bob)
	require.Equal(t, "alice", msg.Username)
	require.Equal(t, strPtr("kitchen"), msg.Room)

	expectSilence(t, alice, carol)
}

func TestRejoinMovesParticipantBetweenRooms(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, aliceID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	carol, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")
	joinRoom(t, carol, "kitchen", "carol")

	joinRoom(t, alice, "kitchen", "ally")

	expectPresence(t, bob, relay.EventUserLeft, "alice", "alice left the room")
	expectPresence(t, carol, relay.EventUserJoined, "ally", "ally joined the room")

	p, ok := tr.registry.Get(aliceID)
	require.True(t, ok)
	require.Equal(t, "ally", p.Username)
	require.True(t, p.InRoom("kitchen"))

	sendMessage(t, bob, "still here?", nil)
	expectSilence(t, alice, carol)
}

func TestRejoinSameRoomAnnouncesOnlyJoin(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	joinRoom(t, bob, "lobby", "robert")
	expectPresence(t, alice, relay.EventUserJoined, "robert", "robert joined the room")

	expectSilence(t, alice, bob)
}

func TestLeaveRoomNotifiesRemainingMembers(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, aliceID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	testhelpers.SendEvent(t, alice, relay.EventLeaveRoom, map[string]any{})
	expectPresence(t, bob, relay.EventUserLeft, "alice", "alice left the room")

	p, ok := tr.registry.Get(aliceID)
	require.True(t, ok)
	require.Nil(t, p.Room)
	require.Equal(t, "alice", p.Username)

	// Leaving twice is a no-op.
	testhelpers.SendEvent(t, alice, relay.EventLeaveRoom, nil)

	sendMessage(t, bob, "gone?", nil)
	expectSilence(t, alice, bob)
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	require.NoError(t, testhelpers.CloseWebSocket(alice))

	expectPresence(t, bob, relay.EventUserLeft, "alice", "alice left the room")
	testhelpers.Eventually(t, func() bool { return tr.registry.Len() == 1 }, "registry shrinks")
	testhelpers.Eventually(t, func() bool { return tr.hub.ClientCount() == 1 }, "hub shrinks")
}

func TestDisconnectWithoutRoomIsSilent(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	joinRoom(t, bob, "lobby", "bob")

	require.NoError(t, testhelpers.CloseWebSocket(alice))
	testhelpers.Eventually(t, func() bool { return tr.registry.Len() == 1 }, "registry shrinks")

	expectSilence(t, bob)
}

func TestInvalidFramesAreDropped(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, aliceID := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	for _, raw := range []string{
		`not json`,
		`{"event":"shout","data":{"content":"x"}}`,
		`{"event":"join_room","data":{"room":"kitchen"}}`,
		`{"event":"join_room","data":{"room":7,"username":"x"}}`,
		`{"event":"send_message","data":{}}`,
		`{"event":"send_message"}`,
		`{"event":"disconnect"}`,
	} {
		testhelpers.SendRaw(t, alice, []byte(raw))
	}
	sendMessage(t, alice, "valid", nil)

	msg := expectMessage(t, bob)
	require.Equal(t, "valid", msg.Content)

	p, ok := tr.registry.Get(aliceID)
	require.True(t, ok)
	require.True(t, p.InRoom("lobby"))

	expectSilence(t, alice, bob)
}

func TestRateLimitDiscardsExcessEvents(t *testing.T) {
	tr := newTestRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	for i := 0; i < 5; i++ {
		sendMessage(t, alice, fmt.Sprintf("m%d", i), nil)
	}

	require.Equal(t, "m0", expectMessage(t, bob).Content)
	require.Equal(t, "m1", expectMessage(t, bob).Content)
	expectSilence(t, bob)
}

func TestOriginValidation(t *testing.T) {
	tr := newTestRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://allowed.example"}
	})

	conn, resp, err := testhelpers.Dial(tr.wsURL(), "http://evil.example")
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err = testhelpers.Dial(tr.wsURL(), "")
	require.Error(t, err)
	require.Nil(t, conn)

	conn, _, err = testhelpers.Dial(tr.wsURL(), "http://allowed.example")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	testhelpers.ExpectFrame(t, conn, relay.EventWelcome)

	require.Equal(t, 1, tr.registry.Len())
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	tr := newTestRelay(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 128
	})
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())

	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")
	expectPresence(t, alice, relay.EventUserJoined, "bob", "bob joined the room")

	sendMessage(t, alice, strings.Repeat("x", 512), nil)

	expectPresence(t, bob, relay.EventUserLeft, "alice", "alice left the room")
	testhelpers.Eventually(t, func() bool { return tr.registry.Len() == 1 }, "oversized sender removed")
}

func TestShutdownClosesClients(t *testing.T) {
	tr := newTestRelay(t, nil)
	alice, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	bob, _ := testhelpers.ConnectWebSocket(t, tr.wsURL())
	joinRoom(t, alice, "lobby", "alice")
	joinRoom(t, bob, "lobby", "bob")

	require.NoError(t, tr.hub.Shutdown(2*time.Second))

	require.Zero(t, tr.registry.Len())
	require.Zero(t, tr.hub.ClientCount())

	for _, c := range []*websocket.Conn{alice, bob} {
		for {
			f, err := testhelpers.ReadFrame(c, testhelpers.DefaultTimeout)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					t.Fatal("connection still open after shutdown")
				}
				break
			}
			// Presence frames already queued before shutdown may still arrive.
			require.Equal(t, relay.EventUserJoined, f.Event)
		}
	}

	late, _, err := testhelpers.Dial(tr.wsURL(), "")
	if err == nil {
		defer func() { _ = late.Close() }()
		_, err = testhelpers.ReadFrame(late, testhelpers.DefaultTimeout)
		require.Error(t, err)
	}
	require.Zero(t, tr.registry.Len())
}

func TestConcurrentRoomTraffic(t *testing.T) {
	const n = 6
	tr := newTestRelay(t, nil)

	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i], _ = testhelpers.ConnectWebSocket(t, tr.wsURL())
		joinRoom(t, conns[i], "lobby", fmt.Sprintf("user%d", i))
	}
	for i, c := range conns {
		for j := i + 1; j < n; j++ {
			expectPresence(t, c, relay.EventUserJoined, fmt.Sprintf("user%d", j), fmt.Sprintf("user%d joined the room", j))
		}
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *websocket.Conn) {
			defer wg.Done()
			frame := fmt.Sprintf(`{"event":"send_message","data":{"content":"from%d"}}`, i)
			if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Errorf("client %d write: %v", i, err)
			}
		}(i, c)
	}
	wg.Wait()

	for i, c := range conns {
		got := map[string]bool{}
		for len(got) < n-1 {
			got[expectMessage(t, c).Content] = true
		}
		require.NotContains(t, got, fmt.Sprintf("from%d", i))
	}
}
