package models

import "time"

type Guild struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel is a guild text/voice channel. DM channels reuse the same id
// space but have no guild and no name; clients derive DM titles from the
// counterpart user.
type Channel struct {
	ID        string    `json:"id"`
	GuildID   string    `json:"guildId,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Channel) IsDM() bool {
	return c.GuildID == ""
}

type Invite struct {
	Code      string     `json:"code"`
	GuildID   string     `json:"guildId"`
	CreatorID string     `json:"creatorId"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	MaxUses   *int       `json:"maxUses,omitempty"`
	Uses      int        `json:"uses"`
}

type FriendRequest struct {
	Sender    PublicUserInfo `json:"sender"`
	Recipient PublicUserInfo `json:"recipient"`
	CreatedAt time.Time      `json:"createdAt"`
}
