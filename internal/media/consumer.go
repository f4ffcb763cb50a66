package media

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Consumer is one outbound copy of a producer's stream: a local track fed
// by the producer's forward loop and the RTP sender pushing it down the
// client's recv transport.
type Consumer struct {
	id         string
	producerID string
	kind       string
	producer   *Producer
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	params     RTPParameters

	closeOnce sync.Once
}

// Consume attaches a new consumer for a producer onto the client's recv
// transport. The caller must have checked CanConsume first; this only
// re-validates the producer's existence.
func (r *Router) Consume(t *Transport, producerID string) (*Consumer, error) {
	if t.direction != DirectionRecv {
		return nil, ErrWrongDirection
	}
	if !t.Connected() {
		return nil, ErrTransportNotConnected
	}
	producer, ok := r.Producer(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}

	codec := producer.track.Codec()
	track, err := webrtc.NewTrackLocalStaticRTP(codec.RTPCodecCapability, producer.kind, producerID)
	if err != nil {
		return nil, fmt.Errorf("creating local track: %w", err)
	}
	sender, err := r.worker.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("creating rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		sender.Stop()
		return nil, fmt.Errorf("starting rtp sender: %w", err)
	}

	c := &Consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       producer.kind,
		producer:   producer,
		track:      track,
		sender:     sender,
		params:     consumerParams(codec, sendParams),
	}

	go c.drainRTCP()
	producer.attach(c)

	// A video consumer joining mid-stream would otherwise wait on the
	// next scheduled keyframe before rendering anything.
	if producer.kind == KindVideo {
		producer.RequestKeyFrame()
	}
	return c, nil
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producerID }

func (c *Consumer) Kind() string { return c.kind }

// Params describe the stream as the consuming client will receive it.
func (c *Consumer) Params() RTPParameters { return c.params }

// write is called from the producer's forward loop. The local track
// rewrites SSRC and payload type per its binding, so the packet can be
// shared across consumers.
func (c *Consumer) write(pkt *rtp.Packet) {
	c.track.WriteRTP(pkt)
}

// drainRTCP keeps the sender's RTCP buffer from filling. Receiver reports
// are consumed by the interceptor chain before they reach us.
func (c *Consumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.producer.detach(c.id)
		c.sender.Stop()
	})
}

// consumerParams builds the wire description for a consumer from the
// producer's negotiated codec and the sender's chosen encoding.
func consumerParams(codec webrtc.RTPCodecParameters, sendParams webrtc.RTPSendParameters) RTPParameters {
	params := RTPParameters{
		Codecs: []CodecParameters{{
			MimeType:     codec.MimeType,
			PayloadType:  uint8(codec.PayloadType),
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   codec.SDPFmtpLine,
			RTCPFeedback: feedbackFromPion(codec.RTCPFeedback),
		}},
	}
	for _, enc := range sendParams.Encodings {
		params.Encodings = append(params.Encodings, RTPEncoding{SSRC: uint32(enc.SSRC)})
	}
	return params
}
