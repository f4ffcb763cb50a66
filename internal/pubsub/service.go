package pubsub

import (
	"encoding/json"
	"log/slog"

	"github.com/zlingapp/server-sub000/internal/metrics"
)

// Service is the event fabric's front door: socket registration, topic
// subscriptions and the publish paths. Delivery is fire-and-forget; a
// subscriber that cannot keep up loses frames, never slows the publisher.
type Service struct {
	reg     *Map
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(m *metrics.Metrics) *Service {
	return &Service{
		reg:     NewMap(),
		log:     slog.With("component", "pubsub"),
		metrics: m,
	}
}

// Register adds a socket to the registry under a user.
func (s *Service) Register(userID string, sock *Socket) {
	if s.reg.AddSocket(userID, sock) {
		s.metrics.SocketsConnected.Inc()
		s.log.Debug("socket registered", "user_id", userID, "socket_id", sock.ID())
	}
}

// Unregister removes a socket and all of its subscriptions.
func (s *Service) Unregister(userID, socketID string) {
	if s.reg.RemoveSocket(userID, socketID) {
		s.metrics.SocketsConnected.Dec()
		s.metrics.TopicsActive.Set(float64(s.reg.NumTopics()))
		s.log.Debug("socket unregistered", "user_id", userID, "socket_id", socketID)
	}
}

// Subscribe adds a topic subscription for a registered socket. There is no
// authorization here: topics only carry ids, and knowing an id means the
// data was already readable over the REST surface.
func (s *Service) Subscribe(socketID string, t Topic) error {
	if err := s.reg.Subscribe(socketID, t); err != nil {
		return err
	}
	s.metrics.TopicsActive.Set(float64(s.reg.NumTopics()))
	return nil
}

// Unsubscribe drops a topic subscription for a registered socket.
func (s *Service) Unsubscribe(socketID string, t Topic) error {
	if err := s.reg.Unsubscribe(socketID, t); err != nil {
		return err
	}
	s.metrics.TopicsActive.Set(float64(s.reg.NumTopics()))
	return nil
}

// Broadcast publishes an event to every subscriber of a topic. The
// envelope is serialized once and the same bytes go to every socket.
func (s *Service) Broadcast(t Topic, event any) {
	data, ok := s.marshal(t, event)
	if !ok {
		return
	}
	for _, sock := range s.reg.SubscribersOf(t) {
		s.deliver(sock, data)
	}
}

// SendToUser delivers an event to every socket a user has connected,
// regardless of subscriptions. envelopeTopic is what the client sees as
// the event's origin.
func (s *Service) SendToUser(userID string, envelopeTopic Topic, event any) {
	data, ok := s.marshal(envelopeTopic, event)
	if !ok {
		return
	}
	for _, sock := range s.reg.SocketsOfUser(userID) {
		s.deliver(sock, data)
	}
}

// SendDM delivers a direct-message event to both parties: the recipient
// sees it under the sender's DM topic and the sender under the
// recipient's, which are exactly the topics each side subscribes to. A
// self-DM is delivered once.
func (s *Service) SendDM(senderID, recipientID string, event any) {
	if senderID == recipientID {
		s.SendToUser(senderID, DMTopic(senderID), event)
		return
	}
	s.SendToUser(recipientID, DMTopic(senderID), event)
	s.SendToUser(senderID, DMTopic(recipientID), event)
}

// Shutdown closes every registered socket. Each close runs the socket's
// disconnect handler, which unregisters it.
func (s *Service) Shutdown() {
	for _, sock := range s.reg.AllSockets() {
		sock.Close()
	}
}

// NumSockets reports how many sockets are registered.
func (s *Service) NumSockets() int { return s.reg.NumSockets() }

func (s *Service) marshal(t Topic, event any) ([]byte, bool) {
	data, err := json.Marshal(Envelope{Topic: t, Event: event})
	if err != nil {
		s.log.Error("marshaling event envelope", "topic", t.String(), "error", err)
		return nil, false
	}
	return data, true
}

func (s *Service) deliver(sock *Socket, data []byte) {
	if err := sock.Send(data); err != nil {
		s.metrics.EventsDropped.Inc()
		return
	}
	s.metrics.EventsBroadcast.Inc()
}
