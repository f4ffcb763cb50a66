package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/zlingapp/server-sub000/internal/constants"
	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/models"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

type MessageHandler struct {
	messages  *db.MessageStore
	channels  *db.ChannelStore
	users     *db.UserStore
	events    *pubsub.Service
	sanitizer *bluemonday.Policy
	log       *slog.Logger
}

func NewMessageHandler(messages *db.MessageStore, channels *db.ChannelStore, users *db.UserStore, events *pubsub.Service) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		channels:  channels,
		users:     users,
		events:    events,
		sanitizer: bluemonday.UGCPolicy(),
		log:       slog.With("component", "api.messages"),
	}
}

// History returns messages in reverse chronological order, optionally
// starting before a given message ID.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	channelID := chi.URLParam(r, "id")

	if !h.canSee(w, identity.UserID, channelID, r) {
		return
	}

	limit := constants.MessageHistoryDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(parsed, constants.MessageHistoryMaxLimit)
	}

	messages, err := h.messages.ListBefore(r.Context(), channelID, r.URL.Query().Get("before"), limit)
	if err != nil {
		h.log.Error("listing messages", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type createMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	channelID := chi.URLParam(r, "id")

	if !h.canSee(w, identity.UserID, channelID, r) {
		return
	}

	var req createMessageRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	content := strings.TrimSpace(h.sanitizer.Sanitize(req.Content))
	if content == "" {
		badRequest(w, "message is empty")
		return
	}
	// Escaping entities can grow the text past the raw-input limit.
	if utf8.RuneCountInString(content) > constants.MessageMaxLength {
		badRequest(w, "message is too long")
		return
	}

	channel, err := h.channels.GetByID(r.Context(), channelID)
	if err != nil {
		h.log.Error("loading channel", "error", err)
		internalError(w)
		return
	}

	author, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("loading author", "error", err)
		internalError(w)
		return
	}

	msg, err := h.messages.Insert(r.Context(), channelID, author, content)
	if err != nil {
		h.log.Error("inserting message", "error", err)
		internalError(w)
		return
	}

	h.dispatch(r.Context(), channel, identity.UserID, pubsub.NewMessage(msg))
	writeJSON(w, http.StatusOK, msg)
}

// Delete removes a message. The author can always delete their own; beyond
// that only whoever moderates the channel can.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	channelID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "mid")

	if !h.canSee(w, identity.UserID, channelID, r) {
		return
	}

	msg, err := h.messages.Get(r.Context(), channelID, messageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "message not found")
			return
		}
		h.log.Error("loading message", "error", err)
		internalError(w)
		return
	}

	if msg.Author.ID != identity.UserID {
		manager, err := h.channels.CanUserManageMessages(r.Context(), identity.UserID, channelID)
		if err != nil {
			h.log.Error("checking moderation rights", "error", err)
			internalError(w)
			return
		}
		if !manager {
			forbidden(w, "you cannot delete this message")
			return
		}
	}

	if err := h.messages.Delete(r.Context(), channelID, messageID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "message not found")
			return
		}
		h.log.Error("deleting message", "error", err)
		internalError(w)
		return
	}

	channel, err := h.channels.GetByID(r.Context(), channelID)
	if err == nil {
		h.dispatch(r.Context(), channel, identity.UserID, pubsub.NewDeleteMessage(messageID))
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "message deleted"})
}

// Typing announces that the caller is typing in a channel. Pure signal; it
// touches nothing in the database.
func (h *MessageHandler) Typing(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	channelID := chi.URLParam(r, "id")

	if !h.canSee(w, identity.UserID, channelID, r) {
		return
	}

	channel, err := h.channels.GetByID(r.Context(), channelID)
	if err != nil {
		h.log.Error("loading channel", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("loading user", "error", err)
		internalError(w)
		return
	}

	h.dispatch(r.Context(), channel, identity.UserID, pubsub.NewTyping(user))
	writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

// canSee enforces channel visibility and writes the error response itself.
// Unknown channels fail the same way as forbidden ones.
func (h *MessageHandler) canSee(w http.ResponseWriter, userID, channelID string, r *http.Request) bool {
	visible, err := h.channels.CanUserSee(r.Context(), userID, channelID)
	if err != nil {
		h.log.Error("checking channel access", "error", err)
		internalError(w)
		return false
	}
	if !visible {
		forbidden(w, "you cannot access this channel")
		return false
	}
	return true
}

// dispatch routes a channel event to its audience: subscribers for guild
// channels, both participants for DMs.
func (h *MessageHandler) dispatch(ctx context.Context, channel *models.Channel, senderID string, event any) {
	if !channel.IsDM() {
		h.events.Broadcast(pubsub.ChannelTopic(channel.ID), event)
		return
	}

	a, b, err := h.channels.GetDMPair(ctx, channel.ID)
	if err != nil {
		h.log.Error("resolving dm pair", "channel_id", channel.ID, "error", err)
		return
	}
	other := a
	if senderID == a {
		other = b
	}
	h.events.SendDM(senderID, other, event)
}
