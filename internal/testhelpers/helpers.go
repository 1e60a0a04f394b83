// Package testhelpers provides common utilities for testing the relay server.
//
// It offers helpers for making HTTP requests, dialing the websocket endpoint
// and exchanging protocol envelopes, so the package tests do not repeat the
// same plumbing.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// Frame is a decoded outbound envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into dst.
func (f Frame) Decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, dst), "decode %s payload", f.Event)
}

// MakeRequest creates and executes an HTTP request, returning the response.
// The caller closes the body.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}

// WebSocketURL converts an http(s) test server URL into the websocket endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// Dial opens a websocket connection with the given Origin header (none when empty).
func Dial(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ConnectWebSocket dials url, consumes the welcome frame and returns the
// connection together with the socket id it announced. The connection is
// closed when the test ends.
func ConnectWebSocket(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()

	conn, _, err := Dial(url, "http://localhost:3000")
	require.NoError(t, err, "dial websocket")
	t.Cleanup(func() { _ = conn.Close() })

	var welcome struct {
		Message  string `json:"message"`
		SocketID string `json:"socket_id"`
	}
	ExpectFrame(t, conn, "welcome").Decode(t, &welcome)
	require.NotEmpty(t, welcome.SocketID)
	return conn, welcome.SocketID
}

// SendEvent writes one envelope with data marshalled as the payload.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	SendRaw(t, conn, raw)
}

// SendRaw writes raw bytes as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, raw []byte) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// ReadFrame reads the next frame, waiting at most timeout.
func ReadFrame(conn *websocket.Conn, timeout time.Duration) (Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	var f Frame
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// ExpectFrame reads the next frame and requires it to carry event.
func ExpectFrame(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()

	f, err := ReadFrame(conn, DefaultTimeout)
	require.NoError(t, err, "waiting for %s", event)
	require.Equal(t, event, f.Event)
	return f
}

// ExpectNoFrame requires that nothing arrives within wait. The connection is
// unusable for reads afterwards, so call it last.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	f, err := ReadFrame(conn, wait)
	require.Error(t, err, "unexpected %s frame", f.Event)
}

// Eventually polls cond until it holds or DefaultTimeout elapses.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, DefaultTimeout, 10*time.Millisecond, msg)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
