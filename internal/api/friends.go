package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/models"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

type FriendHandler struct {
	friends *db.FriendStore
	users   *db.UserStore
	events  *pubsub.Service
	log     *slog.Logger
}

func NewFriendHandler(friends *db.FriendStore, users *db.UserStore, events *pubsub.Service) *FriendHandler {
	return &FriendHandler{
		friends: friends,
		users:   users,
		events:  events,
		log:     slog.With("component", "api.friends"),
	}
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	friends, err := h.friends.ListFriends(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("listing friends", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

type friendRequestsResponse struct {
	Incoming []models.PublicUserInfo `json:"incoming"`
	Outgoing []models.PublicUserInfo `json:"outgoing"`
}

func (h *FriendHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	incoming, err := h.friends.ListIncomingRequests(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("listing incoming requests", "error", err)
		internalError(w)
		return
	}
	outgoing, err := h.friends.ListOutgoingRequests(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("listing outgoing requests", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, friendRequestsResponse{Incoming: incoming, Outgoing: outgoing})
}

type createFriendRequestRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

// CreateRequest sends a friend request by username. If the other side
// already has a request pending towards the caller, the two requests meet
// in the middle and the friendship is created immediately.
func (h *FriendHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	var req createFriendRequestRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	target, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		h.log.Error("looking up user", "error", err)
		internalError(w)
		return
	}
	if target.ID == identity.UserID {
		badRequest(w, "you cannot friend yourself")
		return
	}
	if target.IsBot() {
		badRequest(w, "bots cannot receive friend requests")
		return
	}

	already, err := h.friends.AreFriends(r.Context(), identity.UserID, target.ID)
	if err != nil {
		h.log.Error("checking friendship", "error", err)
		internalError(w)
		return
	}
	if already {
		conflict(w, "you are already friends")
		return
	}

	pending, err := h.friends.HasRequest(r.Context(), identity.UserID, target.ID)
	if err != nil {
		h.log.Error("checking request", "error", err)
		internalError(w)
		return
	}
	if pending {
		conflict(w, "friend request already pending")
		return
	}

	me, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("loading user", "error", err)
		internalError(w)
		return
	}

	reverse, err := h.friends.HasRequest(r.Context(), target.ID, identity.UserID)
	if err != nil {
		h.log.Error("checking request", "error", err)
		internalError(w)
		return
	}
	if reverse {
		if err := h.friends.AddFriends(r.Context(), identity.UserID, target.ID); err != nil {
			h.log.Error("adding friends", "error", err)
			internalError(w)
			return
		}
		h.notifyPair(identity.UserID, me, target.ID, target.Public(), pubsub.FriendRequestAccepted)
		writeJSON(w, http.StatusOK, messageResponse{Message: "friend request accepted"})
		return
	}

	if err := h.friends.CreateRequest(r.Context(), identity.UserID, target.ID); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "friend request already pending")
			return
		}
		h.log.Error("creating request", "error", err)
		internalError(w)
		return
	}
	h.notifyPair(identity.UserID, me, target.ID, target.Public(), pubsub.FriendRequestSent)
	writeJSON(w, http.StatusOK, messageResponse{Message: "friend request sent"})
}

func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	senderID := chi.URLParam(r, "uid")

	has, err := h.friends.HasRequest(r.Context(), senderID, identity.UserID)
	if err != nil {
		h.log.Error("checking request", "error", err)
		internalError(w)
		return
	}
	if !has {
		notFound(w, "no pending request from this user")
		return
	}

	if err := h.friends.AddFriends(r.Context(), identity.UserID, senderID); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "you are already friends")
			return
		}
		h.log.Error("adding friends", "error", err)
		internalError(w)
		return
	}

	me, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err == nil {
		if sender, err := h.users.PublicInfoByID(r.Context(), senderID); err == nil {
			h.notifyPair(identity.UserID, me, senderID, sender, pubsub.FriendRequestAccepted)
		}
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "friend request accepted"})
}

// DeleteRequest withdraws the caller's outgoing request to a user, or
// failing that, declines that user's incoming one.
func (h *FriendHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	otherID := chi.URLParam(r, "uid")

	err := h.friends.DeleteRequest(r.Context(), identity.UserID, otherID)
	if errors.Is(err, db.ErrNotFound) {
		err = h.friends.DeleteRequest(r.Context(), otherID, identity.UserID)
	}
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "no pending request with this user")
			return
		}
		h.log.Error("deleting request", "error", err)
		internalError(w)
		return
	}

	me, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err == nil {
		if other, err := h.users.PublicInfoByID(r.Context(), otherID); err == nil {
			h.events.SendToUser(otherID, pubsub.UserTopic(otherID), pubsub.NewFriendRequestRemove(me))
			h.events.SendToUser(identity.UserID, pubsub.UserTopic(identity.UserID), pubsub.NewFriendRequestRemove(other))
		}
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "friend request removed"})
}

func (h *FriendHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	otherID := chi.URLParam(r, "uid")

	if err := h.friends.RemoveFriend(r.Context(), identity.UserID, otherID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "you are not friends with this user")
			return
		}
		h.log.Error("removing friend", "error", err)
		internalError(w)
		return
	}

	me, err := h.users.PublicInfoByID(r.Context(), identity.UserID)
	if err == nil {
		if other, err := h.users.PublicInfoByID(r.Context(), otherID); err == nil {
			h.events.SendToUser(otherID, pubsub.UserTopic(otherID), pubsub.NewFriendRemove(me))
			h.events.SendToUser(identity.UserID, pubsub.UserTopic(identity.UserID), pubsub.NewFriendRemove(other))
		}
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "friend removed"})
}

// notifyPair tells both parties about a request state change, each seeing
// the other as the event's user.
func (h *FriendHandler) notifyPair(aID string, a models.PublicUserInfo, bID string, b models.PublicUserInfo, state string) {
	h.events.SendToUser(bID, pubsub.UserTopic(bID), pubsub.NewFriendRequestUpdate(a, state))
	h.events.SendToUser(aID, pubsub.UserTopic(aID), pubsub.NewFriendRequestUpdate(b, state))
}
