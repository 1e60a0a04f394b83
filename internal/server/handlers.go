// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the participant query endpoints and the built-in client page.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Service identity reported by the health probe.
const (
	ServiceName    = "roomrelay"
	ServiceVersion = "0.1.0"
)

// ParticipantDirectory is the read-only view of relay state used by the
// query endpoints.
type ParticipantDirectory interface {
	List() []relay.Participant
	Get(id string) (relay.Participant, bool)
}

// Handlers groups the HTTP handlers and their dependencies.
type Handlers struct {
	hub       *Hub
	directory ParticipantDirectory
	upgrader  websocket.Upgrader
	cfg       Config
	log       *slog.Logger
}

// NewHandlers builds the HTTP handlers for hub and directory.
func NewHandlers(hub *Hub, directory ParticipantDirectory, cfg Config, log *slog.Logger) *Handlers {
	policy := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Handlers{
		hub:       hub,
		directory: directory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		cfg: cfg,
		log: log,
	}
}

// WebSocketHandler upgrades the request and hands the new client to the hub,
// which registers it as a participant and starts its pumps.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg)

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		h.log.Warn("rejecting websocket connection during shutdown", "addr", r.RemoteAddr)
		client.closeConnection()
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// HealthHandler reports static service identity; it does not look at relay state.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: ServiceVersion,
	})
}

// ListParticipants returns every connected participant ordered by id.
func (h *Handlers) ListParticipants(w http.ResponseWriter, _ *http.Request) {
	participants := h.directory.List()
	slices.SortFunc(participants, func(a, b relay.Participant) int {
		return strings.Compare(a.ID, b.ID)
	})
	h.writeJSON(w, http.StatusOK, participants)
}

// GetParticipant returns one participant or 404.
func (h *Handlers) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.directory.Get(id)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "participant not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write json response failed", "err", err)
	}
}

// ClientPageHandler serves a small browser client for the relay protocol.
func (h *Handlers) ClientPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(clientPage)); err != nil {
		h.log.Warn("error writing client page", "err", err)
	}
}

const clientPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:disabled { background-color: #9bbfd3; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Relay</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="Your name">
        <input type="text" id="room" placeholder="Room">
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
        <button id="leaveButton" onclick="leaveRoom()" disabled>Leave</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const statusDiv = document.getElementById('status');
        const controls = ['messageInput', 'sendButton', 'joinButton', 'leaveButton'];

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(id => document.getElementById(id).disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function handle(frame) {
            const data = frame.data || {};
            switch (frame.event) {
            case 'welcome':
                addLine(data.message + ' (' + data.socket_id + ')');
                break;
            case 'room_joined':
                addLine(data.message + ': ' + data.room);
                break;
            case 'user_joined':
            case 'user_left':
                addLine(data.message);
                break;
            case 'new_message':
                addLine((data.username || data.user_id) + ': ' + data.content, 'green');
                break;
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => updateStatus(true);
            ws.onmessage = event => handle(JSON.parse(event.data));
            ws.onclose = () => { addLine('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => addLine('Connection error');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            emit('join_room', {
                room: document.getElementById('room').value,
                username: document.getElementById('username').value,
            });
        }

        function leaveRoom() {
            emit('leave_room', {});
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content) {
                emit('send_message', {content: content});
                addLine('You: ' + content, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', e => { if (e.key === 'Enter') sendMessage(); });
    </script>
</body>
</html>`
