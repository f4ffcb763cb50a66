package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/voice"
)

const rtcIdentityContextKey contextKey = "rtcIdentity"

// VoiceHandler exposes the voice signaling surface. Everything except Join
// and the websocket runs behind requireRTCCredentials.
type VoiceHandler struct {
	voice    *voice.Service
	channels *db.ChannelStore
	users    *db.UserStore
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewVoiceHandler(voiceService *voice.Service, channels *db.ChannelStore, users *db.UserStore, allowedOrigins []string) *VoiceHandler {
	return &VoiceHandler{
		voice:    voiceService,
		channels: channels,
		users:    users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin, allowedOrigins)
			},
		},
		log: slog.With("component", "api.voice"),
	}
}

// requireRTCCredentials authenticates the RTC-Identity and RTC-Token
// headers against the voice registry and additionally requires the
// session's websocket to be attached and alive. A session that was reaped
// or never connected gets the same answer as one that never existed.
func (h *VoiceHandler) requireRTCCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get("RTC-Identity")
		token := r.Header.Get("RTC-Token")
		if identity == "" || token == "" {
			unauthorized(w, "missing rtc credentials")
			return
		}

		client, err := h.voice.Authenticate(identity, token)
		if err != nil {
			unauthorized(w, "invalid rtc credentials")
			return
		}
		if !client.Connected() {
			unauthorized(w, "voice websocket not connected")
			return
		}

		ctx := context.WithValue(r.Context(), rtcIdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rtcIdentityFrom(r *http.Request) string {
	identity, _ := r.Context().Value(rtcIdentityContextKey).(string)
	return identity
}

// Join reserves a voice session in a channel and returns its credentials
// and the router's RTP capabilities. The session only becomes real once
// the websocket attaches; until then it lives on a short fuse.
func (h *VoiceHandler) Join(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	channelID := r.URL.Query().Get("c")
	if channelID == "" {
		badRequest(w, "missing channel id")
		return
	}

	visible, err := h.channels.CanUserSee(r.Context(), identity.UserID, channelID)
	if err != nil {
		h.log.Error("checking channel access", "error", err)
		internalError(w)
		return
	}
	if !visible {
		forbidden(w, "you cannot access this channel")
		return
	}

	channel, err := h.channels.GetByID(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "channel not found")
			return
		}
		h.log.Error("loading channel", "error", err)
		internalError(w)
		return
	}
	if channel.IsDM() {
		forbidden(w, "voice is only available in guild channels")
		return
	}

	user, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("loading user", "error", err)
		internalError(w)
		return
	}

	info, err := h.voice.Join(channelID, channel.GuildID, user)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *VoiceHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.voice.Leave(rtcIdentityFrom(r)); err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "left voice"})
}

func (h *VoiceHandler) Peers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.voice.Peers(rtcIdentityFrom(r))
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (h *VoiceHandler) CreateTransport(w http.ResponseWriter, r *http.Request) {
	dir := media.Direction(r.URL.Query().Get("type"))
	if !dir.Valid() {
		badRequest(w, "type must be send or recv")
		return
	}

	params, err := h.voice.CreateTransport(rtcIdentityFrom(r), dir)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

type connectTransportRequest struct {
	ICEParameters  media.ICEParameters  `json:"iceParameters"`
	DTLSParameters media.DTLSParameters `json:"dtlsParameters"`
}

func (h *VoiceHandler) ConnectTransport(w http.ResponseWriter, r *http.Request) {
	dir := media.Direction(r.URL.Query().Get("type"))
	if !dir.Valid() {
		badRequest(w, "type must be send or recv")
		return
	}

	var req connectTransportRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ICEParameters.UsernameFragment == "" || req.ICEParameters.Password == "" {
		badRequest(w, "missing ice parameters")
		return
	}
	if len(req.DTLSParameters.Fingerprints) == 0 {
		badRequest(w, "missing dtls fingerprints")
		return
	}

	if err := h.voice.ConnectTransport(rtcIdentityFrom(r), dir, req.ICEParameters, req.DTLSParameters); err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "transport connecting"})
}

type produceRequest struct {
	Kind          string              `json:"kind" validate:"required,oneof=audio video"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

type produceResponse struct {
	ID string `json:"id"`
}

func (h *VoiceHandler) Produce(w http.ResponseWriter, r *http.Request) {
	var req produceRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	id, err := h.voice.Produce(rtcIdentityFrom(r), req.Kind, req.RTPParameters)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, produceResponse{ID: id})
}

type consumeRequest struct {
	ProducerID      string                `json:"producerId" validate:"required"`
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

func (h *VoiceHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	info, err := h.voice.Consume(rtcIdentityFrom(r), req.ProducerID, req.RTPCapabilities)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// writeVoiceError maps voice and media errors onto the response taxonomy.
// Credential problems collapse into one 401 so probing reveals nothing
// about why a session is unusable.
func (h *VoiceHandler) writeVoiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voice.ErrClientNotFound), errors.Is(err, voice.ErrClientClosed), errors.Is(err, voice.ErrBadCredentials):
		unauthorized(w, "invalid rtc credentials")
	case errors.Is(err, voice.ErrTransportExists):
		conflict(w, "transport already created for this direction")
	case errors.Is(err, voice.ErrTransportMissing):
		badRequest(w, "create the transport first")
	case errors.Is(err, media.ErrTransportConnected):
		conflict(w, "transport is already connected")
	case errors.Is(err, media.ErrTransportNotConnected):
		badRequest(w, "transport is not connected")
	case errors.Is(err, media.ErrTransportClosed):
		badRequest(w, "transport is closed")
	case errors.Is(err, media.ErrProducerNotFound):
		notFound(w, "producer not found")
	case errors.Is(err, media.ErrCannotConsume):
		forbidden(w, "your capabilities cannot consume this producer")
	case errors.Is(err, media.ErrNoEncodings),
		errors.Is(err, media.ErrUnknownKind),
		errors.Is(err, media.ErrWrongDirection):
		badRequest(w, err.Error())
	case errors.Is(err, voice.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "voice is shutting down")
	default:
		h.log.Error("voice operation failed", "error", err)
		internalError(w)
	}
}
