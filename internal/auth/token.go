// Package auth issues and verifies the compact access and refresh tokens
// used by the HTTP API and the websocket endpoints.
//
// Both token kinds share one wire shape:
//
//	<user_id> "." base64url(expiry) "." base64url(signature_or_nonce)
//
// where expiry is the token's expiration as a big-endian uint32 unix
// timestamp and base64url is unpadded. Access tokens carry an HMAC-SHA256
// signature over the first two segments and verify statelessly. Refresh
// tokens carry a random nonce instead of a signature; their validity is
// decided by the refresh_tokens table, so the service only parses them.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/zlingapp/server-sub000/internal/models"
)

const (
	// refreshNonceLength is the length of the random nonce carried in a
	// refresh token's third segment.
	refreshNonceLength = 48

	// botRefreshTTL is the effectively-infinite lifetime given to bot
	// refresh tokens. The wire expiry is a uint32, so anything past
	// 2106 is clamped by encodeExpiry.
	botRefreshTTL = 50 * 365 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the result of a successful access token verification.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

func (i Identity) IsBot() bool {
	return strings.HasPrefix(i.UserID, models.BotIDPrefix)
}

// TokenPair is what a successful login or reissue hands back to the client.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RefreshClaims is the parsed, but not yet validated, content of a refresh
// token. The caller is expected to check the nonce against stored state.
type RefreshClaims struct {
	UserID    string
	Nonce     string
	ExpiresAt time.Time
}

type TokenService struct {
	key             []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewTokenService(key string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		key:             []byte(key),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
	}
}

// IssueAccess mints a signed access token for the given user.
func (s *TokenService) IssueAccess(userID string) (string, time.Time, error) {
	if userID == "" || strings.Contains(userID, ".") {
		return "", time.Time{}, fmt.Errorf("issue access token: invalid user id %q", userID)
	}
	expiry := time.Now().Add(s.accessTokenTTL)
	payload := userID + "." + encodeExpiry(expiry)
	return payload + "." + base64.RawURLEncoding.EncodeToString(s.sign(payload)), expiry, nil
}

// VerifyAccess checks the signature and expiry of an access token and
// returns the identity it names. The error distinguishes expiry from all
// other failures so handlers can hint at a reissue; it carries no further
// detail on purpose.
func (s *TokenService) VerifyAccess(token string) (Identity, error) {
	userID, expirySegment, last, err := splitToken(token)
	if err != nil {
		return Identity{}, err
	}

	sig, err := base64.RawURLEncoding.DecodeString(last)
	if err != nil || len(sig) != sha256.Size {
		return Identity{}, ErrInvalidToken
	}
	want := s.sign(userID + "." + expirySegment)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return Identity{}, ErrInvalidToken
	}

	expiry, err := decodeExpiry(expirySegment)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !time.Now().Before(expiry) {
		return Identity{}, ErrTokenExpired
	}
	return Identity{UserID: userID, ExpiresAt: expiry}, nil
}

// IssueRefresh mints a refresh token with a fresh nonce. Bot users get the
// long bot lifetime; everyone else gets the configured refresh TTL. The
// caller must persist HashNonce(nonce) before handing the token out,
// otherwise the token is dead on arrival.
func (s *TokenService) IssueRefresh(userID string) (token, nonce string, expiry time.Time, err error) {
	if userID == "" || strings.Contains(userID, ".") {
		return "", "", time.Time{}, fmt.Errorf("issue refresh token: invalid user id %q", userID)
	}
	nonce, err = gonanoid.New(refreshNonceLength)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("issue refresh token: %w", err)
	}

	ttl := s.refreshTokenTTL
	if strings.HasPrefix(userID, models.BotIDPrefix) {
		ttl = botRefreshTTL
	}
	expiry = time.Now().Add(ttl)
	token = userID + "." + encodeExpiry(expiry) + "." + base64.RawURLEncoding.EncodeToString([]byte(nonce))
	return token, nonce, expiry, nil
}

// ParseRefresh decodes a refresh token and rejects expired ones. It does
// not consult storage; pairing the nonce with the refresh_tokens table is
// the caller's job.
func (s *TokenService) ParseRefresh(token string) (RefreshClaims, error) {
	userID, expirySegment, last, err := splitToken(token)
	if err != nil {
		return RefreshClaims{}, err
	}

	nonce, err := base64.RawURLEncoding.DecodeString(last)
	if err != nil || len(nonce) != refreshNonceLength {
		return RefreshClaims{}, ErrInvalidToken
	}
	expiry, err := decodeExpiry(expirySegment)
	if err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	if !time.Now().Before(expiry) {
		return RefreshClaims{}, ErrTokenExpired
	}
	return RefreshClaims{UserID: userID, Nonce: string(nonce), ExpiresAt: expiry}, nil
}

// HashNonce is the storage form of a refresh nonce. Only the hash ever
// touches the database, so a leaked table cannot be replayed as tokens.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

func (s *TokenService) sign(payload string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// splitToken cuts a token into its three segments. The user id segment may
// contain colons (bot ids do) but never dots, so splitting on dots is safe.
func splitToken(token string) (userID, expirySegment, last string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", ErrInvalidToken
	}
	return parts[0], parts[1], parts[2], nil
}

func encodeExpiry(t time.Time) string {
	unix := t.Unix()
	if unix < 0 {
		unix = 0
	}
	if unix > math.MaxUint32 {
		unix = math.MaxUint32
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(unix))
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

func decodeExpiry(segment string) (time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil || len(raw) != 4 {
		return time.Time{}, ErrInvalidToken
	}
	return time.Unix(int64(binary.BigEndian.Uint32(raw)), 0), nil
}
