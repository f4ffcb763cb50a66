package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/models"
)

type BotHandler struct {
	bots          *db.BotStore
	refreshTokens *db.RefreshTokenStore
	tokens        *auth.TokenService
	log           *slog.Logger
}

func NewBotHandler(bots *db.BotStore, refreshTokens *db.RefreshTokenStore, tokens *auth.TokenService) *BotHandler {
	return &BotHandler{
		bots:          bots,
		refreshTokens: refreshTokens,
		tokens:        tokens,
		log:           slog.With("component", "api.bots"),
	}
}

type createBotRequest struct {
	Name string `json:"name" validate:"required,min=3,max=32"`
}

// createBotResponse carries the one and only copy of the bot's refresh
// token. It is never shown again; losing it means recreating the bot.
type createBotResponse struct {
	Bot *models.Bot `json:"bot"`
	auth.TokenPair
}

func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity.IsBot() {
		forbidden(w, "bots cannot own bots")
		return
	}

	var req createBotRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if !usernameRe.MatchString(req.Name) {
		badRequest(w, "name may only contain letters, digits, '_', '.' and '-'")
		return
	}

	bot, err := h.bots.Create(r.Context(), req.Name, identity.UserID)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "name is taken")
			return
		}
		h.log.Error("creating bot", "error", err)
		internalError(w)
		return
	}

	access, expiresAt, err := h.tokens.IssueAccess(bot.ID)
	if err != nil {
		h.log.Error("issuing access token", "error", err)
		internalError(w)
		return
	}
	refresh, nonce, refreshExpiry, err := h.tokens.IssueRefresh(bot.ID)
	if err != nil {
		h.log.Error("issuing refresh token", "error", err)
		internalError(w)
		return
	}
	if _, err := h.refreshTokens.Insert(r.Context(), bot.ID, auth.HashNonce(nonce), refreshExpiry, r.UserAgent()); err != nil {
		h.log.Error("storing refresh token", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, createBotResponse{
		Bot: bot,
		TokenPair: auth.TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    expiresAt,
		},
	})
}

func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	bots, err := h.bots.ListByOwner(r.Context(), identity.UserID)
	if err != nil {
		h.log.Error("listing bots", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

// Delete removes a bot the caller owns. The bot's user row goes with it,
// which cascades to its tokens, messages and memberships.
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)

	if err := h.bots.Delete(r.Context(), chi.URLParam(r, "id"), identity.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "bot not found")
			return
		}
		h.log.Error("deleting bot", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "bot deleted"})
}
