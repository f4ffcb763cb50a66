package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/zlingapp/server-sub000/internal/auth"
	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/models"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type AuthHandler struct {
	users         *db.UserStore
	refreshTokens *db.RefreshTokenStore
	tokens        *auth.TokenService
	log           *slog.Logger
}

func NewAuthHandler(users *db.UserStore, refreshTokens *db.RefreshTokenStore, tokens *auth.TokenService) *AuthHandler {
	return &AuthHandler{
		users:         users,
		refreshTokens: refreshTokens,
		tokens:        tokens,
		log:           slog.With("component", "api.auth"),
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type reissueRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// sessionResponse is what register and login return: the account plus a
// fresh token pair.
type sessionResponse struct {
	User *models.User `json:"user"`
	auth.TokenPair
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if !usernameRe.MatchString(req.Username) {
		badRequest(w, "username may only contain letters, digits, '_', '.' and '-'")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("hashing password", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, string(hash))
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "username is taken")
			return
		}
		h.log.Error("creating user", "error", err)
		internalError(w)
		return
	}

	h.issueSession(w, r, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(w, "invalid username or password")
			return
		}
		h.log.Error("looking up user", "error", err)
		internalError(w)
		return
	}

	// Bots carry an empty hash and can never log in with a password; the
	// compare fails for them like for any wrong password.
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		unauthorized(w, "invalid username or password")
		return
	}

	h.issueSession(w, r, user)
}

// Reissue exchanges a refresh token for a new access token. User refresh
// tokens are single use and rotate on every call; presenting a spent one
// is treated as credential abuse, not expiry. Bot refresh tokens are
// long-lived and returned unchanged.
func (h *AuthHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	var req reissueRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	claims, err := h.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		unauthorized(w, "invalid refresh token")
		return
	}
	nonceHash := auth.HashNonce(claims.Nonce)

	if strings.HasPrefix(claims.UserID, models.BotIDPrefix) {
		ok, err := h.refreshTokens.Verify(r.Context(), claims.UserID, nonceHash)
		if err != nil {
			h.log.Error("verifying bot refresh token", "error", err)
			internalError(w)
			return
		}
		if !ok {
			forbidden(w, "refresh token no longer valid")
			return
		}

		access, expiresAt, err := h.tokens.IssueAccess(claims.UserID)
		if err != nil {
			h.log.Error("issuing access token", "error", err)
			internalError(w)
			return
		}
		writeJSON(w, http.StatusOK, auth.TokenPair{
			AccessToken:  access,
			RefreshToken: req.RefreshToken,
			ExpiresAt:    expiresAt,
		})
		return
	}

	newRefresh, newNonce, newExpiry, err := h.tokens.IssueRefresh(claims.UserID)
	if err != nil {
		h.log.Error("issuing refresh token", "error", err)
		internalError(w)
		return
	}

	err = h.refreshTokens.Rotate(r.Context(), claims.UserID, nonceHash, auth.HashNonce(newNonce), newExpiry, r.UserAgent())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			forbidden(w, "refresh token no longer valid")
			return
		}
		h.log.Error("rotating refresh token", "error", err)
		internalError(w)
		return
	}

	access, expiresAt, err := h.tokens.IssueAccess(claims.UserID)
	if err != nil {
		h.log.Error("issuing access token", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, auth.TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt,
	})
}

// Logout revokes every refresh token the account has, across all devices.
// Outstanding access tokens stay valid until they expire on their own.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if err := h.refreshTokens.DeleteAllForUser(r.Context(), identity.UserID); err != nil {
		h.log.Error("deleting refresh tokens", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *AuthHandler) issueSession(w http.ResponseWriter, r *http.Request, user *models.User) {
	access, expiresAt, err := h.tokens.IssueAccess(user.ID)
	if err != nil {
		h.log.Error("issuing access token", "error", err)
		internalError(w)
		return
	}

	refresh, nonce, refreshExpiry, err := h.tokens.IssueRefresh(user.ID)
	if err != nil {
		h.log.Error("issuing refresh token", "error", err)
		internalError(w)
		return
	}
	if _, err := h.refreshTokens.Insert(r.Context(), user.ID, auth.HashNonce(nonce), refreshExpiry, r.UserAgent()); err != nil {
		h.log.Error("storing refresh token", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User: user,
		TokenPair: auth.TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    expiresAt,
		},
	})
}
