package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zlingapp/server-sub000/internal/db"
)

type UserHandler struct {
	users    *db.UserStore
	channels *db.ChannelStore
	friends  *db.FriendStore
	log      *slog.Logger
}

func NewUserHandler(users *db.UserStore, channels *db.ChannelStore, friends *db.FriendStore) *UserHandler {
	return &UserHandler{
		users:    users,
		channels: channels,
		friends:  friends,
		log:      slog.With("component", "api.users"),
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	user, err := h.users.GetByID(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(w, "account no longer exists")
			return
		}
		h.log.Error("loading account", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateMeRequest struct {
	Avatar *string `json:"avatar" validate:"omitempty,url,max=512"`
}

// UpdateMe changes the caller's avatar URL. A null avatar clears it.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req updateMeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.users.UpdateAvatar(r.Context(), identity.UserID, req.Avatar); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(w, "account no longer exists")
			return
		}
		h.log.Error("updating avatar", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.GetByID(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("loading account", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	info, err := h.users.PublicInfoByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		h.log.Error("loading user", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetDMChannel returns the caller's DM channel with another user, creating
// it on first use. DMs are restricted to friends; the channel with
// yourself is always available.
func (h *UserHandler) GetDMChannel(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	otherID := chi.URLParam(r, "id")

	if _, err := h.users.PublicInfoByID(r.Context(), otherID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		h.log.Error("loading user", "error", err)
		internalError(w)
		return
	}

	if otherID != identity.UserID {
		friends, err := h.friends.AreFriends(r.Context(), identity.UserID, otherID)
		if err != nil {
			h.log.Error("checking friendship", "error", err)
			internalError(w)
			return
		}
		if !friends {
			forbidden(w, "you can only message friends")
			return
		}
	}

	channel, err := h.channels.GetOrCreateDM(r.Context(), identity.UserID, otherID)
	if err != nil {
		h.log.Error("opening dm channel", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}
