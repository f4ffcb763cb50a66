package voice

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/models"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

// Client is one voice session: the identity/token credential pair handed
// out at join, the event websocket, and the client's media objects. A
// client owns at most one transport per direction.
type Client struct {
	identity string
	token    string
	user     models.PublicUserInfo
	channel  *Channel

	mu            sync.Mutex
	closed        bool
	connected     bool
	socket        *pubsub.Socket
	sendTransport *media.Transport
	recvTransport *media.Transport
	producers     map[string]*media.Producer
	consumers     map[string]*media.Consumer
	watchdog      *time.Timer
}

func (c *Client) Identity() string { return c.identity }

func (c *Client) User() models.PublicUserInfo { return c.user }

func (c *Client) Channel() *Channel { return c.channel }

// matchToken compares in constant time so the token cannot be probed
// byte by byte.
func (c *Client) matchToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.token)) == 1
}

// Connected reports whether the client's event websocket is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.socket != nil && c.socket.Connected()
}

// attached reports whether a websocket was ever claimed, even if it has
// since gone away. Peers are only notified about clients that made it
// this far.
func (c *Client) attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// attach claims the websocket slot. It fails on a closed client or when a
// socket is already attached.
func (c *Client) attach(sock *pubsub.Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.connected {
		return false
	}
	c.connected = true
	c.socket = sock
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	return true
}

// send delivers a voice event frame, best-effort.
func (c *Client) send(data []byte) {
	c.mu.Lock()
	sock := c.socket
	c.mu.Unlock()
	if sock != nil {
		sock.Send(data)
	}
}

// claimTransport stores a freshly created transport in its direction
// slot; ErrTransportExists when the slot is taken.
func (c *Client) claimTransport(t *media.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	slot := &c.sendTransport
	if t.Direction() == media.DirectionRecv {
		slot = &c.recvTransport
	}
	if *slot != nil {
		return ErrTransportExists
	}
	*slot = t
	return nil
}

// transport returns the client's transport for a direction, nil when it
// has not been created.
func (c *Client) transport(dir media.Direction) *media.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == media.DirectionRecv {
		return c.recvTransport
	}
	return c.sendTransport
}

func (c *Client) addProducer(p *media.Producer) {
	c.mu.Lock()
	c.producers[p.ID()] = p
	c.mu.Unlock()
}

func (c *Client) removeProducer(id string) {
	c.mu.Lock()
	delete(c.producers, id)
	c.mu.Unlock()
}

// ownsProducer reports whether this client published the given producer.
func (c *Client) ownsProducer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.producers[id]
	return ok
}

func (c *Client) producerInfos() []PeerProducer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerProducer, 0, len(c.producers))
	for _, p := range c.producers {
		out = append(out, PeerProducer{ID: p.ID(), Kind: p.Kind()})
	}
	return out
}

func (c *Client) addConsumer(consumer *media.Consumer) {
	c.mu.Lock()
	c.consumers[consumer.ID()] = consumer
	c.mu.Unlock()
}

// close tears down everything the client owns. Producer close hooks are
// cleared first: the peers learn about the whole client going away from
// client_disconnected, not from a burst of producer_closed events.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	sock := c.socket
	send, recv := c.sendTransport, c.recvTransport
	producers := make([]*media.Producer, 0, len(c.producers))
	for _, p := range c.producers {
		producers = append(producers, p)
	}
	consumers := make([]*media.Consumer, 0, len(c.consumers))
	for _, cons := range c.consumers {
		consumers = append(consumers, cons)
	}
	c.producers = map[string]*media.Producer{}
	c.consumers = map[string]*media.Consumer{}
	c.mu.Unlock()

	for _, p := range producers {
		p.OnClose(nil)
		p.Close()
	}
	for _, cons := range consumers {
		cons.Close()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	if sock != nil {
		sock.Close()
	}
}
