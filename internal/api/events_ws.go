package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

// EventsHandler upgrades event websockets and feeds their subscription
// frames into the fabric.
type EventsHandler struct {
	tokens   *auth.TokenService
	events   *pubsub.Service
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewEventsHandler(tokens *auth.TokenService, events *pubsub.Service, allowedOrigins []string) *EventsHandler {
	return &EventsHandler{
		tokens: tokens,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers do not apply CORS to websockets, so the origin
			// check happens here. Requests without an Origin header are
			// not from a browser and pass.
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin, allowedOrigins)
			},
		},
		log: slog.With("component", "api.events"),
	}
}

// subscriptionFrame is the only thing clients say over the event socket
// besides heartbeats.
type subscriptionFrame struct {
	Type   string         `json:"type"`
	Topics []pubsub.Topic `json:"topics"`
}

// ServeWS authenticates via the auth query parameter, upgrades, and
// registers the socket with the fabric. The token travels in the query
// because browsers cannot set headers on websocket dials.
func (h *EventsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("auth")
	if token == "" {
		unauthorized(w, "missing auth token")
		return
	}
	identity, err := h.tokens.VerifyAccess(token)
	if err != nil {
		unauthorized(w, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade wrote its own response.
		return
	}

	var sock *pubsub.Socket
	sock = pubsub.NewSocket(conn, pubsub.Handlers{
		OnMessage: func(data []byte) {
			h.handleFrame(sock, data)
		},
		OnDisconnect: func(reason pubsub.DisconnectReason) {
			h.events.Unregister(identity.UserID, sock.ID())
			h.log.Debug("event socket closed", "user_id", identity.UserID, "reason", reason.String())
		},
	})

	h.events.Register(identity.UserID, sock)
	sock.Start()
}

// handleFrame applies a sub or unsub frame. There is no error channel back
// to the client: malformed frames and unknown topics are dropped, and a
// frame that is half valid applies the valid half.
func (h *EventsHandler) handleFrame(sock *pubsub.Socket, data []byte) {
	var frame subscriptionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	for _, topic := range frame.Topics {
		if !topic.Valid() {
			continue
		}
		switch frame.Type {
		case "sub":
			_ = h.events.Subscribe(sock.ID(), topic)
		case "unsub":
			_ = h.events.Unsubscribe(sock.ID(), topic)
		}
	}
}
