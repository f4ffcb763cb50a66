package models

import (
	"strings"
	"time"
)

// BotIDPrefix marks bot accounts. Token handling branches on it: bot
// refresh tokens never rotate and effectively never expire.
const BotIDPrefix = "bot:"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Avatar       *string   `json:"avatar,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u *User) IsBot() bool {
	return strings.HasPrefix(u.ID, BotIDPrefix)
}

func (u *User) Public() PublicUserInfo {
	return PublicUserInfo{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// PublicUserInfo is the projection of a user that is safe to fan out to
// other clients. Embedded in messages, typing and friend events, and in
// voice peer listings.
type PublicUserInfo struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

type Bot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	NonceHash string
	ExpiresAt time.Time
	UserAgent string
	CreatedAt time.Time
}
