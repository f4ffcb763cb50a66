package voice

import (
	"encoding/json"
	"sync"

	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/models"
)

// Channel is one live voice room: the router carrying its media, the
// audio level observer and the clients currently in it. It exists only
// while someone is in it; the first join creates it and the last leave
// tears it down.
type Channel struct {
	id      string
	guildID string
	router  *media.Router

	mu      sync.Mutex
	clients map[string]*Client
}

func newChannel(id, guildID string, router *media.Router) *Channel {
	ch := &Channel{
		id:      id,
		guildID: guildID,
		router:  router,
		clients: make(map[string]*Client),
	}
	router.CreateAudioLevelObserver(ch.onDominantSpeaker)
	return ch
}

func (ch *Channel) ID() string { return ch.id }

func (ch *Channel) GuildID() string { return ch.guildID }

func (ch *Channel) Router() *media.Router { return ch.router }

func (ch *Channel) addClient(c *Client) {
	ch.mu.Lock()
	ch.clients[c.identity] = c
	ch.mu.Unlock()
}

func (ch *Channel) removeClient(identity string) {
	ch.mu.Lock()
	delete(ch.clients, identity)
	ch.mu.Unlock()
}

func (ch *Channel) empty() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.clients) == 0
}

func (ch *Channel) snapshot() []*Client {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]*Client, 0, len(ch.clients))
	for _, c := range ch.clients {
		out = append(out, c)
	}
	return out
}

// broadcast serializes a voice event once and sends it to every client in
// the channel except the named identity. Pass the empty string to reach
// everyone.
func (ch *Channel) broadcast(exceptIdentity string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	for _, c := range ch.snapshot() {
		if c.identity == exceptIdentity {
			continue
		}
		c.send(data)
	}
}

// Peer is a channel participant as seen by another participant.
type Peer struct {
	Identity  string                `json:"identity"`
	User      models.PublicUserInfo `json:"user"`
	Producers []PeerProducer        `json:"producers"`
}

type PeerProducer struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// peers lists everyone in the channel except the asking identity.
func (ch *Channel) peers(exceptIdentity string) []Peer {
	clients := ch.snapshot()
	out := make([]Peer, 0, len(clients))
	for _, c := range clients {
		if c.identity == exceptIdentity {
			continue
		}
		out = append(out, Peer{
			Identity:  c.identity,
			User:      c.user,
			Producers: c.producerInfos(),
		})
	}
	return out
}

// onDominantSpeaker maps the observer's producer id to the identity that
// owns it and announces the change to the whole channel.
func (ch *Channel) onDominantSpeaker(producerID string) {
	identity := ""
	if producerID != "" {
		for _, c := range ch.snapshot() {
			if c.ownsProducer(producerID) {
				identity = c.identity
				break
			}
		}
		if identity == "" {
			return
		}
	}
	ch.broadcast("", activeSpeakerEvent{Type: eventActiveSpeaker, Identity: identity})
}

func (ch *Channel) close() {
	ch.router.Close()
}
