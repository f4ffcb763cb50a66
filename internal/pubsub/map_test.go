package pubsub

import (
	"errors"
	"testing"
)

func newMapSocket() *Socket {
	return NewSocket(newFakeSession(), Handlers{})
}

func containsSocket(list []*Socket, s *Socket) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}

func TestMapAddSocketIdempotent(t *testing.T) {
	m := NewMap()
	s := newMapSocket()

	if !m.AddSocket("usr_1", s) {
		t.Fatal("first AddSocket reported no change")
	}
	if m.AddSocket("usr_1", s) {
		t.Error("second AddSocket reported a change")
	}
	if n := m.NumSockets(); n != 1 {
		t.Errorf("NumSockets = %d, want 1", n)
	}
	if got := m.SocketsOfUser("usr_1"); len(got) != 1 {
		t.Errorf("user has %d sockets, want 1", len(got))
	}
}

func TestMapRemoveSocketPurgesEveryIndex(t *testing.T) {
	m := NewMap()
	a, b := newMapSocket(), newMapSocket()
	m.AddSocket("usr_1", a)
	m.AddSocket("usr_1", b)

	topic := ChannelTopic("chn_1")
	if err := m.Subscribe(a.ID(), topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Subscribe(b.ID(), topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if !m.RemoveSocket("usr_1", a.ID()) {
		t.Fatal("RemoveSocket reported no change")
	}

	if containsSocket(m.SubscribersOf(topic), a) {
		t.Error("removed socket still subscribed to topic")
	}
	if !containsSocket(m.SubscribersOf(topic), b) {
		t.Error("unrelated socket lost its subscription")
	}
	if containsSocket(m.SocketsOfUser("usr_1"), a) {
		t.Error("removed socket still listed for user")
	}
	if err := m.Subscribe(a.ID(), topic); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Subscribe on removed socket: err = %v, want ErrNotRegistered", err)
	}

	// Removing the last socket clears the user entry entirely.
	m.RemoveSocket("usr_1", b.ID())
	if got := m.SocketsOfUser("usr_1"); got != nil {
		t.Errorf("SocketsOfUser after removing all = %v, want nil", got)
	}
	if n := m.NumTopics(); n != 0 {
		t.Errorf("NumTopics = %d after removing all subscribers, want 0", n)
	}
}

func TestMapRemoveUnknownSocketIsNoop(t *testing.T) {
	m := NewMap()
	if m.RemoveSocket("usr_1", "nope") {
		t.Error("RemoveSocket of unknown id reported a change")
	}
}

func TestMapDuplicateSubscribeSingleMembership(t *testing.T) {
	m := NewMap()
	s := newMapSocket()
	m.AddSocket("usr_1", s)

	topic := GuildTopic("gld_1")
	if err := m.Subscribe(s.ID(), topic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Subscribe(s.ID(), topic); err != nil {
		t.Fatalf("duplicate Subscribe: %v", err)
	}

	// The topic set is a set: one membership, so one delivery per event.
	if got := m.SubscribersOf(topic); len(got) != 1 {
		t.Fatalf("topic has %d subscriber entries, want 1", len(got))
	}

	// One unsubscribe purges both recorded copies.
	if err := m.Unsubscribe(s.ID(), topic); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got := m.SubscribersOf(topic); len(got) != 0 {
		t.Errorf("topic has %d subscribers after unsubscribe, want 0", len(got))
	}
	if n := m.NumTopics(); n != 0 {
		t.Errorf("NumTopics = %d, want 0 (empty sets are deleted)", n)
	}
}

func TestMapSubscribeUnknownSocket(t *testing.T) {
	m := NewMap()
	topic := ChannelTopic("chn_1")

	if err := m.Subscribe("nope", topic); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Subscribe: err = %v, want ErrNotRegistered", err)
	}
	if err := m.Unsubscribe("nope", topic); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Unsubscribe: err = %v, want ErrNotRegistered", err)
	}
}

func TestMapUnsubscribeNeverSubscribedIsNoop(t *testing.T) {
	m := NewMap()
	s := newMapSocket()
	m.AddSocket("usr_1", s)

	if err := m.Unsubscribe(s.ID(), ChannelTopic("chn_1")); err != nil {
		t.Errorf("Unsubscribe of never-subscribed topic: %v", err)
	}
}

func TestMapEmptyTopicSetsAreDeleted(t *testing.T) {
	m := NewMap()
	a, b := newMapSocket(), newMapSocket()
	m.AddSocket("usr_1", a)
	m.AddSocket("usr_2", b)

	topic := DMTopic("usr_2")
	m.Subscribe(a.ID(), topic)
	m.Subscribe(b.ID(), topic)
	if n := m.NumTopics(); n != 1 {
		t.Fatalf("NumTopics = %d, want 1", n)
	}

	m.Unsubscribe(a.ID(), topic)
	if n := m.NumTopics(); n != 1 {
		t.Errorf("NumTopics = %d after one of two unsubscribed, want 1", n)
	}

	m.Unsubscribe(b.ID(), topic)
	if n := m.NumTopics(); n != 0 {
		t.Errorf("NumTopics = %d after all unsubscribed, want 0", n)
	}
}

func TestMapSocketsAcrossUsersAreIndependent(t *testing.T) {
	m := NewMap()
	a, b := newMapSocket(), newMapSocket()
	m.AddSocket("usr_1", a)
	m.AddSocket("usr_2", b)

	m.RemoveSocket("usr_1", a.ID())

	if got := m.SocketsOfUser("usr_2"); !containsSocket(got, b) {
		t.Error("removing one user's socket disturbed another user's list")
	}
}
