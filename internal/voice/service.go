package voice

import (
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/metrics"
	"github.com/zlingapp/server-sub000/internal/models"
	"github.com/zlingapp/server-sub000/internal/pubsub"
)

const defaultConnectTimeout = 10 * time.Second

// RouterAllocator hands out a media router for each new voice channel.
// *media.Pool satisfies it.
type RouterAllocator interface {
	AllocateRouter() (*media.Router, error)
}

// JoinInfo is handed to a joining client: the credentials that
// authenticate all of its later voice calls, and the RTP capabilities it
// negotiates against.
type JoinInfo struct {
	Identity string                `json:"identity"`
	Token    string                `json:"token"`
	RTP      media.RTPCapabilities `json:"rtp"`
}

// ConsumerInfo describes a freshly created consumer to the client that
// asked for it.
type ConsumerInfo struct {
	ID            string              `json:"id"`
	ProducerID    string              `json:"producerId"`
	Kind          string              `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

// Service owns the channel and client registries. Channels spring into
// existence on the first join and die with their last member. Both
// registries sit behind one mutex with small critical sections; anything
// slow (router allocation aside) happens after the lock is dropped.
type Service struct {
	alloc   RouterAllocator
	events  *pubsub.Service
	metrics *metrics.Metrics
	log     *slog.Logger

	connectTimeout time.Duration

	mu       sync.Mutex
	channels map[string]*Channel
	clients  map[string]*Client
	closed   bool
}

func NewService(alloc RouterAllocator, events *pubsub.Service, m *metrics.Metrics) *Service {
	return &Service{
		alloc:          alloc,
		events:         events,
		metrics:        m,
		log:            slog.With("component", "voice"),
		connectTimeout: defaultConnectTimeout,
		channels:       make(map[string]*Channel),
		clients:        make(map[string]*Client),
	}
}

// Join creates a voice session for user in the given channel, creating
// the channel and allocating its router if this is the first member. The
// client must attach its event websocket within the connect timeout or
// it is erased without any notification.
func (s *Service) Join(channelID, guildID string, user models.PublicUserInfo) (JoinInfo, error) {
	identity := gonanoid.Must(21)
	token := gonanoid.Must(64)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return JoinInfo{}, ErrShutdown
	}
	ch, ok := s.channels[channelID]
	if !ok {
		router, err := s.alloc.AllocateRouter()
		if err != nil {
			s.mu.Unlock()
			return JoinInfo{}, err
		}
		ch = newChannel(channelID, guildID, router)
		s.channels[channelID] = ch
		s.metrics.VoiceChannels.Inc()
		s.log.Info("voice channel created", "channel", channelID, "guild", guildID)
	}
	c := &Client{
		identity:  identity,
		token:     token,
		user:      user,
		channel:   ch,
		producers: make(map[string]*media.Producer),
		consumers: make(map[string]*media.Consumer),
	}
	s.clients[identity] = c
	ch.addClient(c)
	c.watchdog = time.AfterFunc(s.connectTimeout, func() { s.reap(identity) })
	s.mu.Unlock()

	s.metrics.VoiceClients.Inc()
	s.log.Info("voice client joined", "identity", identity, "user", user.ID, "channel", channelID)
	return JoinInfo{Identity: identity, Token: token, RTP: ch.router.Capabilities()}, nil
}

// Authenticate resolves rtc credentials to a live client. Unknown
// identities and wrong tokens are indistinguishable to the caller.
func (s *Service) Authenticate(identity, token string) (*Client, error) {
	s.mu.Lock()
	c, ok := s.clients[identity]
	s.mu.Unlock()
	if !ok || !c.matchToken(token) {
		return nil, ErrBadCredentials
	}
	return c, nil
}

// AttachSocket claims the client's event websocket slot, cancelling the
// connect watchdog. Only now do the channel's other members learn about
// the client, and only now does the guild hear a voiceJoin event.
func (s *Service) AttachSocket(identity string, sock *pubsub.Socket) error {
	c, err := s.client(identity)
	if err != nil {
		return err
	}
	if !c.attach(sock) {
		return ErrAlreadyConnected
	}
	c.channel.broadcast(identity, clientConnectedEvent{Type: eventClientConnected, Identity: identity, User: c.user})
	s.events.Broadcast(pubsub.GuildTopic(c.channel.guildID), pubsub.NewVoiceJoin(c.user, c.channel.id))
	s.log.Info("voice client connected", "identity", identity, "channel", c.channel.id)
	return nil
}

// Leave tears the client down and cascades channel destruction if it was
// the last member. Remaining members get client_disconnected over the
// voice socket and the guild topic gets a voiceLeave event, but only for
// clients that had actually connected; a pending client vanishes
// silently.
func (s *Service) Leave(identity string) error {
	s.mu.Lock()
	c, ok := s.clients[identity]
	if !ok {
		s.mu.Unlock()
		return ErrClientNotFound
	}
	wasConnected := c.attached()
	emptied := s.eraseLocked(c)
	s.mu.Unlock()

	c.close()
	if wasConnected {
		c.channel.broadcast(identity, clientDisconnectedEvent{Type: eventClientDisconnected, Identity: identity})
		s.events.Broadcast(pubsub.GuildTopic(c.channel.guildID), pubsub.NewVoiceLeave(c.user, c.channel.id))
	}
	s.finishErase(emptied)
	s.log.Info("voice client left", "identity", identity, "channel", c.channel.id)
	return nil
}

// reap fires when the connect watchdog expires. A client that attached in
// the meantime survives; anything else is erased without notifying
// anyone, since nobody was ever told it existed.
func (s *Service) reap(identity string) {
	s.mu.Lock()
	c, ok := s.clients[identity]
	if !ok || c.Connected() {
		s.mu.Unlock()
		return
	}
	emptied := s.eraseLocked(c)
	s.mu.Unlock()

	c.close()
	s.finishErase(emptied)
	s.log.Info("voice client reaped before connecting", "identity", identity, "channel", c.channel.id)
}

// eraseLocked unlinks the client from both registries. It returns the
// channel when the client was its last member; the caller closes it after
// dropping s.mu.
func (s *Service) eraseLocked(c *Client) *Channel {
	delete(s.clients, c.identity)
	ch := c.channel
	ch.removeClient(c.identity)
	if !ch.empty() {
		return nil
	}
	delete(s.channels, ch.id)
	return ch
}

func (s *Service) finishErase(emptied *Channel) {
	s.metrics.VoiceClients.Dec()
	if emptied != nil {
		emptied.close()
		s.metrics.VoiceChannels.Dec()
		s.log.Info("voice channel destroyed", "channel", emptied.id)
	}
}

// CreateTransport allocates the client's transport for a direction and
// returns the parameters the remote side needs to connect to it. Each
// client gets at most one transport per direction.
func (s *Service) CreateTransport(identity string, dir media.Direction) (media.TransportParams, error) {
	c, err := s.client(identity)
	if err != nil {
		return media.TransportParams{}, err
	}
	t, err := c.channel.router.CreateTransport(dir)
	if err != nil {
		return media.TransportParams{}, err
	}
	params, err := t.Params()
	if err != nil {
		t.Close()
		return media.TransportParams{}, err
	}
	if err := c.claimTransport(t); err != nil {
		t.Close()
		return media.TransportParams{}, err
	}
	return params, nil
}

// ConnectTransport feeds the remote ICE credentials and DTLS fingerprint
// into a previously created transport.
func (s *Service) ConnectTransport(identity string, dir media.Direction, remoteICE media.ICEParameters, remoteDTLS media.DTLSParameters) error {
	c, err := s.client(identity)
	if err != nil {
		return err
	}
	t := c.transport(dir)
	if t == nil {
		return ErrTransportMissing
	}
	return t.Connect(remoteICE, remoteDTLS)
}

// Produce publishes a stream over the client's send transport and tells
// every other member about it with new_producer. When the producer later
// dies on its own, the same members get producer_closed.
func (s *Service) Produce(identity, kind string, params media.RTPParameters) (string, error) {
	c, err := s.client(identity)
	if err != nil {
		return "", err
	}
	t := c.transport(media.DirectionSend)
	if t == nil {
		return "", ErrTransportMissing
	}
	p, err := c.channel.router.Produce(t, kind, params)
	if err != nil {
		return "", err
	}
	p.OnClose(func(id string) {
		c.removeProducer(id)
		c.channel.broadcast(c.identity, producerClosedEvent{Type: eventProducerClosed, Identity: c.identity, ProducerID: id})
	})
	c.addProducer(p)
	c.channel.broadcast(identity, newProducerEvent{Type: eventNewProducer, Identity: identity, ProducerID: p.ID(), Kind: p.Kind()})
	s.log.Info("producer created", "identity", identity, "producer", p.ID(), "kind", p.Kind())
	return p.ID(), nil
}

// Consume subscribes the client to another member's producer over its
// recv transport. The caller's capabilities must cover the producer's
// codec.
func (s *Service) Consume(identity, producerID string, caps media.RTPCapabilities) (ConsumerInfo, error) {
	c, err := s.client(identity)
	if err != nil {
		return ConsumerInfo{}, err
	}
	t := c.transport(media.DirectionRecv)
	if t == nil {
		return ConsumerInfo{}, ErrTransportMissing
	}
	router := c.channel.router
	if _, ok := router.Producer(producerID); !ok {
		return ConsumerInfo{}, media.ErrProducerNotFound
	}
	if !router.CanConsume(producerID, caps) {
		return ConsumerInfo{}, media.ErrCannotConsume
	}
	consumer, err := router.Consume(t, producerID)
	if err != nil {
		return ConsumerInfo{}, err
	}
	c.addConsumer(consumer)
	s.log.Info("consumer created", "identity", identity, "producer", producerID)
	return ConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.Params(),
	}, nil
}

// Peers lists the other members of the client's channel.
func (s *Service) Peers(identity string) ([]Peer, error) {
	c, err := s.client(identity)
	if err != nil {
		return nil, err
	}
	return c.channel.peers(identity), nil
}

func (s *Service) client(identity string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[identity]
	if !ok {
		return nil, ErrClientNotFound
	}
	return c, nil
}

func (s *Service) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Service) NumChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Shutdown erases every client and channel. No leave notifications go
// out; the process is going away along with the sockets.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.clients = map[string]*Client{}
	s.channels = map[string]*Channel{}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
		s.metrics.VoiceClients.Dec()
	}
	for _, ch := range channels {
		ch.close()
		s.metrics.VoiceChannels.Dec()
	}
	s.log.Info("voice service shut down", "clients", len(clients), "channels", len(channels))
}
