package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

type GuildHandler struct {
	guilds  *db.GuildStore
	invites *db.InviteStore
	events  *pubsub.Service
	log     *slog.Logger
}

func NewGuildHandler(guilds *db.GuildStore, invites *db.InviteStore, events *pubsub.Service) *GuildHandler {
	return &GuildHandler{
		guilds:  guilds,
		invites: invites,
		events:  events,
		log:     slog.With("component", "api.guilds"),
	}
}

type createGuildRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

func (h *GuildHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req createGuildRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	guild, err := h.guilds.Create(r.Context(), req.Name, identity.UserID)
	if err != nil {
		h.log.Error("creating guild", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, guild)
}

func (h *GuildHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	guilds, err := h.guilds.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("listing guilds", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, guilds)
}

func (h *GuildHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
		forbidden(w, "only the owner can delete a guild")
		return
	}

	if err := h.guilds.Delete(r.Context(), guildID); err != nil {
		h.log.Error("deleting guild", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "guild deleted"})
}

// Leave removes the caller from a guild. The owner cannot leave; a guild
// without its owner would be unownable.
func (h *GuildHandler) Leave(w http.ResponseWriter, r *http.Request) {
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
	if guild.OwnerID == identity.UserID {
		forbidden(w, "the owner cannot leave their own guild")
		return
	}

	if err := h.guilds.RemoveMember(r.Context(), guildID, identity.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "you are not a member of this guild")
			return
		}
		h.log.Error("removing member", "error", err)
		internalError(w)
		return
	}

	h.events.Broadcast(pubsub.GuildTopic(guildID), pubsub.NewMemberListUpdate())
	writeJSON(w, http.StatusOK, messageResponse{Message: "left guild"})
}

func (h *GuildHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
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

	members, err := h.guilds.ListMembers(r.Context(), guildID)
	if err != nil {
		h.log.Error("listing members", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type createInviteRequest struct {
	ExpiresInHours *int `json:"expiresInHours" validate:"omitempty,gte=1,lte=8760"`
	MaxUses        *int `json:"maxUses" validate:"omitempty,gte=1,lte=1000"`
}

// CreateInvite mints an invite code for a guild. Any member may invite;
// omitted limits mean the invite neither expires nor runs out.
func (h *GuildHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
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

	var req createInviteRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInHours != nil {
		t := time.Now().UTC().Add(time.Duration(*req.ExpiresInHours) * time.Hour)
		expiresAt = &t
	}

	invite, err := h.invites.Create(r.Context(), guildID, identity.UserID, expiresAt, req.MaxUses)
	if err != nil {
		h.log.Error("creating invite", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, invite)
}

func (h *GuildHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
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
		forbidden(w, "only the owner can list invites")
		return
	}

	invites, err := h.invites.ListByGuild(r.Context(), guildID)
	if err != nil {
		h.log.Error("listing invites", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (h *GuildHandler) DeleteInvite(w http.ResponseWriter, r *http.Request) {
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
		forbidden(w, "only the owner can revoke invites")
		return
	}

	if err := h.invites.Delete(r.Context(), guildID, chi.URLParam(r, "code")); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "invite not found")
			return
		}
		h.log.Error("deleting invite", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "invite revoked"})
}

// JoinByInvite redeems an invite code and adds the caller to its guild.
// An invite past its expiry or use limit is gone, not missing: the caller
// had a real code, it just no longer works.
func (h *GuildHandler) JoinByInvite(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	code := chi.URLParam(r, "code")

	invite, err := h.invites.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "invite not found")
			return
		}
		h.log.Error("loading invite", "error", err)
		internalError(w)
		return
	}

	member, err := h.guilds.IsMember(r.Context(), invite.GuildID, identity.UserID)
	if err != nil {
		h.log.Error("checking membership", "error", err)
		internalError(w)
		return
	}
	if member {
		conflict(w, "you are already a member of this guild")
		return
	}

	if _, err := h.invites.Consume(r.Context(), code); err != nil {
		switch {
		case errors.Is(err, db.ErrExpired):
			gone(w, "this invite is no longer valid")
		case errors.Is(err, db.ErrNotFound):
			notFound(w, "invite not found")
		default:
			h.log.Error("consuming invite", "error", err)
			internalError(w)
		}
		return
	}

	if err := h.guilds.AddMember(r.Context(), invite.GuildID, identity.UserID); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "you are already a member of this guild")
			return
		}
		h.log.Error("adding member", "error", err)
		internalError(w)
		return
	}

	h.events.Broadcast(pubsub.GuildTopic(invite.GuildID), pubsub.NewMemberListUpdate())

	guild, err := h.guilds.GetByID(r.Context(), invite.GuildID)
	if err != nil {
		h.log.Error("loading guild", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, guild)
}
