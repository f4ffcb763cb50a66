package pubsub

import "github.com/zlingapp/server-sub000/internal/models"

// Event type strings as they appear on the wire.
const (
	EventChannelListUpdate   = "channelListUpdate"
	EventMemberListUpdate    = "memberListUpdate"
	EventMessage             = "message"
	EventDeleteMessage       = "deleteMessage"
	EventTyping              = "typing"
	EventFriendRequestUpdate = "friendRequestUpdate"
	EventFriendRequestRemove = "friendRequestRemove"
	EventFriendRemove        = "friendRemove"
	EventVoiceJoin           = "voiceJoin"
	EventVoiceLeave          = "voiceLeave"
)

// Friend request states carried by friendRequestUpdate.
const (
	FriendRequestSent     = "sent"
	FriendRequestAccepted = "accepted"
)

// Envelope is the frame delivered to event sockets: the topic the event
// was published under and the event itself.
type Envelope struct {
	Topic Topic `json:"topic"`
	Event any   `json:"event"`
}

// ChannelListUpdateEvent tells guild subscribers to refetch the channel
// list. It carries no payload; the guild is named by the envelope topic.
type ChannelListUpdateEvent struct {
	Type string `json:"type"`
}

func NewChannelListUpdate() ChannelListUpdateEvent {
	return ChannelListUpdateEvent{Type: EventChannelListUpdate}
}

// MemberListUpdateEvent tells guild subscribers to refetch the member list.
type MemberListUpdateEvent struct {
	Type string `json:"type"`
}

func NewMemberListUpdate() MemberListUpdateEvent {
	return MemberListUpdateEvent{Type: EventMemberListUpdate}
}

// MessageEvent carries a newly created message in full.
type MessageEvent struct {
	Type string `json:"type"`
	models.Message
}

func NewMessage(msg *models.Message) MessageEvent {
	return MessageEvent{Type: EventMessage, Message: *msg}
}

// DeleteMessageEvent names a message that was removed. The channel is
// implied by the envelope topic.
type DeleteMessageEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewDeleteMessage(messageID string) DeleteMessageEvent {
	return DeleteMessageEvent{Type: EventDeleteMessage, ID: messageID}
}

// TypingEvent says a user is typing in the channel named by the topic.
type TypingEvent struct {
	Type string                `json:"type"`
	User models.PublicUserInfo `json:"user"`
}

func NewTyping(user models.PublicUserInfo) TypingEvent {
	return TypingEvent{Type: EventTyping, User: user}
}

// FriendRequestUpdateEvent notifies a user that a request involving them
// was created or accepted. User is the counterpart.
type FriendRequestUpdateEvent struct {
	Type  string                `json:"type"`
	User  models.PublicUserInfo `json:"user"`
	State string                `json:"state"`
}

func NewFriendRequestUpdate(user models.PublicUserInfo, state string) FriendRequestUpdateEvent {
	return FriendRequestUpdateEvent{Type: EventFriendRequestUpdate, User: user, State: state}
}

// FriendRequestRemoveEvent notifies a user that a pending request from or
// to the named counterpart no longer exists.
type FriendRequestRemoveEvent struct {
	Type string                `json:"type"`
	User models.PublicUserInfo `json:"user"`
}

func NewFriendRequestRemove(user models.PublicUserInfo) FriendRequestRemoveEvent {
	return FriendRequestRemoveEvent{Type: EventFriendRequestRemove, User: user}
}

// FriendRemoveEvent notifies a user that the named counterpart removed
// them as a friend.
type FriendRemoveEvent struct {
	Type string                `json:"type"`
	User models.PublicUserInfo `json:"user"`
}

func NewFriendRemove(user models.PublicUserInfo) FriendRemoveEvent {
	return FriendRemoveEvent{Type: EventFriendRemove, User: user}
}

// VoiceJoinEvent announces on the guild topic that a user's voice session
// became live in a channel.
type VoiceJoinEvent struct {
	Type      string                `json:"type"`
	User      models.PublicUserInfo `json:"user"`
	ChannelID string                `json:"channelId"`
}

func NewVoiceJoin(user models.PublicUserInfo, channelID string) VoiceJoinEvent {
	return VoiceJoinEvent{Type: EventVoiceJoin, User: user, ChannelID: channelID}
}

// VoiceLeaveEvent announces on the guild topic that a user's voice session
// ended.
type VoiceLeaveEvent struct {
	Type      string                `json:"type"`
	User      models.PublicUserInfo `json:"user"`
	ChannelID string                `json:"channelId"`
}

func NewVoiceLeave(user models.PublicUserInfo, channelID string) VoiceLeaveEvent {
	return VoiceLeaveEvent{Type: EventVoiceLeave, User: user, ChannelID: channelID}
}
