// Package pubsub is the realtime event fabric: it tracks connected event
// websockets, their topic subscriptions and the per-user socket lists, and
// fans application events out to them.
package pubsub

import "fmt"

// TopicType names the namespaces events are published under.
type TopicType string

const (
	// TopicGuild carries guild-wide events such as channel and member
	// list updates and voice presence.
	TopicGuild TopicType = "guild"
	// TopicChannel carries per-channel events: messages, deletions, typing.
	TopicChannel TopicType = "channel"
	// TopicDM carries direct-message events. The id names the counterpart
	// user, not the channel, so each side subscribes to the other.
	TopicDM TopicType = "dm_channel"
	// TopicUser is used as the envelope topic for directed sends that
	// target a user regardless of subscriptions.
	TopicUser TopicType = "user"
)

// Topic identifies an event stream a socket can subscribe to.
type Topic struct {
	Type TopicType `json:"type"`
	ID   string    `json:"id"`
}

func (t Topic) Valid() bool {
	if t.ID == "" {
		return false
	}
	switch t.Type {
	case TopicGuild, TopicChannel, TopicDM, TopicUser:
		return true
	default:
		return false
	}
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%s", t.Type, t.ID)
}

func GuildTopic(guildID string) Topic  { return Topic{Type: TopicGuild, ID: guildID} }
func ChannelTopic(chanID string) Topic { return Topic{Type: TopicChannel, ID: chanID} }
func DMTopic(counterpart string) Topic { return Topic{Type: TopicDM, ID: counterpart} }
func UserTopic(userID string) Topic    { return Topic{Type: TopicUser, ID: userID} }
