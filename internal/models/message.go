package models

import "time"

// Message carries its author's public info so a single row fetch is
// enough to build the fan-out payload.
type Message struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channelId"`
	Author    PublicUserInfo `json:"author"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"createdAt"`
}
