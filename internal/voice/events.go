package voice

import "github.com/zlingapp/server-sub000/internal/models"

// Events delivered over the per-client voice websocket. These are scoped
// to one channel's participants, unlike the fabric events that fan out on
// guild topics.
const (
	eventClientConnected    = "client_connected"
	eventClientDisconnected = "client_disconnected"
	eventNewProducer        = "new_producer"
	eventProducerClosed     = "producer_closed"
	eventActiveSpeaker      = "active_speaker"
)

type clientConnectedEvent struct {
	Type     string                `json:"type"`
	Identity string                `json:"identity"`
	User     models.PublicUserInfo `json:"user"`
}

type clientDisconnectedEvent struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type newProducerEvent struct {
	Type       string `json:"type"`
	Identity   string `json:"identity"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type producerClosedEvent struct {
	Type       string `json:"type"`
	Identity   string `json:"identity"`
	ProducerID string `json:"producerId"`
}

// activeSpeakerEvent names the dominant speaker, empty when the channel
// went silent.
type activeSpeakerEvent struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}
