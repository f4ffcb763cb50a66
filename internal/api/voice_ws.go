package api

import (
	"net/http"
	"sync/atomic"

	"github.com/zlingapp/server-sub000/internal/pubsub"
)

// ServeWS completes a voice join. The client presents the credentials it
// got from Join as query parameters; attaching the socket defuses the
// connect watchdog and announces the session to the channel.
func (h *VoiceHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("i")
	token := r.URL.Query().Get("t")
	if identity == "" || token == "" {
		unauthorized(w, "missing rtc credentials")
		return
	}

	client, err := h.voice.Authenticate(identity, token)
	if err != nil {
		unauthorized(w, "invalid rtc credentials")
		return
	}
	if client.Connected() {
		conflict(w, "voice websocket already connected")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Leave must only run if this socket actually won the session; a
	// loser racing to attach would otherwise tear down the winner's.
	var attached atomic.Bool
	sock := pubsub.NewSocket(conn, pubsub.Handlers{
		OnDisconnect: func(reason pubsub.DisconnectReason) {
			if attached.Load() {
				_ = h.voice.Leave(identity)
			}
		},
	})

	if err := h.voice.AttachSocket(identity, sock); err != nil {
		h.log.Debug("voice socket attach failed", "identity", identity, "error", err)
		sock.Close()
		return
	}
	attached.Store(true)
	sock.Start()
}
