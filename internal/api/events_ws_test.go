package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zlingapp/server-sub000/internal/models"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

// receivedEnvelope mirrors the frames event sockets receive, with the
// event kept raw so each test decodes only the part it cares about.
type receivedEnvelope struct {
	Topic pubsub.Topic    `json:"topic"`
	Event json.RawMessage `json:"event"`
}

type receivedMessage struct {
	Type    string                `json:"type"`
	Content string                `json:"content"`
	Author  models.PublicUserInfo `json:"author"`
}

// awaitFrame blocks on a single read in a goroutine while the post func
// keeps publishing. The sender has to repeat because registration and
// subscription land on server goroutines after the dial returns; a
// publish racing ahead of them is simply not delivered.
func awaitFrame(t *testing.T, conn *websocket.Conn, post func(i int)) receivedEnvelope {
	t.Helper()

	frames := make(chan []byte, 1)
	readErr := make(chan error, 1)
	go func() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		frames <- data
	}()

	for i := 0; ; i++ {
		post(i)
		select {
		case data := <-frames:
			var env receivedEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("decoding envelope %q: %v", data, err)
			}
			return env
		case err := <-readErr:
			t.Fatalf("reading event frame: %v", err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestEventSocketReceivesChannelMessages(t *testing.T) {
	ts := newTestServer(t, 19440, 19444)
	alice := ts.registerUser(t, "alice")
	guildID, channelID := ts.createGuildAndChannel(t, alice.AccessToken)

	var invite models.Invite
	status := ts.request(t, http.MethodPost, "/guilds/"+guildID+"/invites", alice.AccessToken, map[string]any{}, &invite)
	if status != http.StatusOK {
		t.Fatalf("create invite status = %d, want %d", status, http.StatusOK)
	}

	bob := ts.registerUser(t, "bob")
	status = ts.request(t, http.MethodPost, "/invites/"+invite.Code+"/join", bob.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("join by invite status = %d, want %d", status, http.StatusOK)
	}

	conn, resp, err := ts.dialWS(t, "/events/ws?auth="+bob.AccessToken)
	if err != nil {
		t.Fatalf("event websocket dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("heartbeat")); err != nil {
		t.Fatalf("writing heartbeat: %v", err)
	}
	sub := fmt.Sprintf(`{"type":"sub","topics":[{"type":"channel","id":%q}]}`, channelID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("writing subscription: %v", err)
	}

	env := awaitFrame(t, conn, func(i int) {
		status := ts.request(t, http.MethodPost, "/channels/"+channelID+"/messages", alice.AccessToken,
			map[string]string{"content": fmt.Sprintf("hello %d", i)}, nil)
		if status != http.StatusOK {
			t.Fatalf("post message status = %d, want %d", status, http.StatusOK)
		}
	})

	if env.Topic.Type != pubsub.TopicChannel || env.Topic.ID != channelID {
		t.Fatalf("envelope topic = %+v, want channel %s", env.Topic, channelID)
	}
	var msg receivedMessage
	if err := json.Unmarshal(env.Event, &msg); err != nil {
		t.Fatalf("decoding message event: %v", err)
	}
	if msg.Type != pubsub.EventMessage {
		t.Fatalf("event type = %q, want %q", msg.Type, pubsub.EventMessage)
	}
	if !strings.HasPrefix(msg.Content, "hello") {
		t.Fatalf("event content = %q", msg.Content)
	}
	if msg.Author.Username != "alice" {
		t.Fatalf("event author = %+v, want alice", msg.Author)
	}
}

func TestDirectMessageDelivery(t *testing.T) {
	ts := newTestServer(t, 19445, 19449)
	alice := ts.registerUser(t, "alice")
	bob := ts.registerUser(t, "bob")

	status := ts.request(t, http.MethodPost, "/friends/requests", alice.AccessToken,
		map[string]string{"username": "bob"}, nil)
	if status != http.StatusOK {
		t.Fatalf("friend request status = %d, want %d", status, http.StatusOK)
	}
	status = ts.request(t, http.MethodPost, "/friends/requests/"+alice.User.ID+"/accept", bob.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("accept friend request status = %d, want %d", status, http.StatusOK)
	}

	var dm models.Channel
	status = ts.request(t, http.MethodGet, "/users/"+bob.User.ID+"/dm", alice.AccessToken, nil, &dm)
	if status != http.StatusOK {
		t.Fatalf("dm channel status = %d, want %d", status, http.StatusOK)
	}
	if !dm.IsDM() {
		t.Fatalf("dm channel = %+v, want no guild", dm)
	}

	// Bob subscribes to nothing. Direct messages arrive anyway, under the
	// sender's DM topic.
	conn, resp, err := ts.dialWS(t, "/events/ws?auth="+bob.AccessToken)
	if err != nil {
		t.Fatalf("event websocket dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	env := awaitFrame(t, conn, func(i int) {
		status := ts.request(t, http.MethodPost, "/channels/"+dm.ID+"/messages", alice.AccessToken,
			map[string]string{"content": fmt.Sprintf("psst %d", i)}, nil)
		if status != http.StatusOK {
			t.Fatalf("post dm status = %d, want %d", status, http.StatusOK)
		}
	})

	if env.Topic.Type != pubsub.TopicDM || env.Topic.ID != alice.User.ID {
		t.Fatalf("envelope topic = %+v, want dm_channel %s", env.Topic, alice.User.ID)
	}
	var msg receivedMessage
	if err := json.Unmarshal(env.Event, &msg); err != nil {
		t.Fatalf("decoding message event: %v", err)
	}
	if msg.Type != pubsub.EventMessage || msg.Author.ID != alice.User.ID {
		t.Fatalf("event = %+v, want a message from alice", msg)
	}
}

func TestEventSocketRejectsBadAuth(t *testing.T) {
	ts := newTestServer(t, 19450, 19454)

	if conn, resp, err := ts.dialWS(t, "/events/ws"); err == nil {
		conn.Close()
		t.Fatal("dial without auth token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing auth dial response = %+v, want %d", resp, http.StatusUnauthorized)
	} else {
		resp.Body.Close()
	}

	if conn, resp, err := ts.dialWS(t, "/events/ws?auth=garbage"); err == nil {
		conn.Close()
		t.Fatal("dial with garbage token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage auth dial response = %+v, want %d", resp, http.StatusUnauthorized)
	} else {
		resp.Body.Close()
	}
}
