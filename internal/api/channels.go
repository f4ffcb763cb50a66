package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

type ChannelHandler struct {
	channels *db.ChannelStore
	guilds   *db.GuildStore
	events   *pubsub.Service
	log      *slog.Logger
}

func NewChannelHandler(channels *db.ChannelStore, guilds *db.GuildStore, events *pubsub.Service) *ChannelHandler {
	return &ChannelHandler{
		channels: channels,
		guilds:   guilds,
		events:   events,
		log:      slog.With("component", "api.channels"),
	}
}

func (h *ChannelHandler) ListByGuild(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	guildID := chi.URLParam(r, "id")

	member, err := h.guilds.IsMember(r.Context(), guildID, identity.UserID)
	if err != nil {
		h.log.Error("checking membership", "error", err)
		internalError(w)
		return
	}
	if !member {
		forbidden(w, "you are not a member of this guild")
		return
	}

	channels, err := h.channels.ListByGuild(r.Context(), guildID)
	if err != nil {
		h.log.Error("listing channels", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

type createChannelRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	guildID := chi.URLParam(r, "id")

	guild, err := h.guilds.GetByID(r.Context(), guildID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "guild not found")
			return
		}
		h.log.Error("loading guild", "error", err)
		internalError(w)
		return
	}
	if guild.OwnerID != identity.UserID {
		forbidden(w, "only the owner can create channels")
		return
	}

	var req createChannelRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	channel, err := h.channels.Create(r.Context(), guildID, req.Name)
	if err != nil {
		h.log.Error("creating channel", "error", err)
		internalError(w)
		return
	}

	h.events.Broadcast(pubsub.GuildTopic(guildID), pubsub.NewChannelListUpdate())
	writeJSON(w, http.StatusOK, channel)
}

// Delete removes a guild channel and everything in it. DM channels are
// permanent and cannot be deleted.
func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	channelID := chi.URLParam(r, "id")

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
		forbidden(w, "dm channels cannot be deleted")
		return
	}

	guild, err := h.guilds.GetByID(r.Context(), channel.GuildID)
	if err != nil {
		h.log.Error("loading guild", "error", err)
		internalError(w)
		return
	}
	if guild.OwnerID != identity.UserID {
		forbidden(w, "only the owner can delete channels")
		return
	}

	if err := h.channels.Delete(r.Context(), channelID); err != nil {
		h.log.Error("deleting channel", "error", err)
		internalError(w)
		return
	}

	h.events.Broadcast(pubsub.GuildTopic(channel.GuildID), pubsub.NewChannelListUpdate())
	writeJSON(w, http.StatusOK, messageResponse{Message: "channel deleted"})
}
