package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Producer is one inbound media stream: the RTP receiver on a client's
// send transport plus the forward loop fanning its packets out to every
// attached consumer.
type Producer struct {
	id        string
	kind      string
	router    *Router
	transport *Transport
	receiver  *webrtc.RTPReceiver
	track     *webrtc.TrackRemote

	// audioLevelID is the negotiated header extension id for the ssrc
	// audio-level extension, zero when the client does not send it.
	audioLevelID uint8
	observer     atomic.Pointer[AudioLevelObserver]

	mu        sync.RWMutex
	consumers map[string]*Consumer

	closeOnce sync.Once
	onClose   atomic.Pointer[func(id string)]
}

// Produce starts receiving a stream described by the client's parameters
// over its send transport.
func (r *Router) Produce(t *Transport, kind string, params RTPParameters) (*Producer, error) {
	if t.direction != DirectionSend {
		return nil, ErrWrongDirection
	}
	if !t.Connected() {
		return nil, ErrTransportNotConnected
	}
	codecType, err := codecTypeForKind(kind)
	if err != nil {
		return nil, err
	}
	if len(params.Encodings) == 0 || params.Encodings[0].SSRC == 0 {
		return nil, ErrNoEncodings
	}

	receiver, err := r.worker.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("creating rtp receiver: %w", err)
	}

	payloadType := webrtc.PayloadType(opusPayloadType)
	if kind == KindVideo {
		payloadType = vp8PayloadType
	}
	if len(params.Codecs) > 0 && params.Codecs[0].PayloadType != 0 {
		payloadType = webrtc.PayloadType(params.Codecs[0].PayloadType)
	}

	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
				PayloadType: payloadType,
			},
		}},
	})
	if err != nil {
		receiver.Stop()
		return nil, fmt.Errorf("starting rtp receiver: %w", err)
	}

	p := &Producer{
		id:           uuid.NewString(),
		kind:         kind,
		router:       r,
		transport:    t,
		receiver:     receiver,
		track:        receiver.Track(),
		audioLevelID: params.extensionID(sdp.AudioLevelURI),
		consumers:    make(map[string]*Consumer),
	}
	if err := r.addProducer(p); err != nil {
		receiver.Stop()
		return nil, err
	}

	go p.forward()
	go p.drainRTCP()
	return p, nil
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() string { return p.kind }

// OnClose registers a hook that fires once when the producer dies, from
// whichever side kills it. Passing nil clears a previously set hook.
func (p *Producer) OnClose(fn func(id string)) {
	p.onClose.Store(&fn)
}

// forward reads every RTP packet off the remote track, mines audio level
// from it and writes it to each attached consumer. Consumer write errors
// are the consumer's problem; a read error ends the producer.
func (p *Producer) forward() {
	defer p.Close()
	for {
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			return
		}

		if p.audioLevelID != 0 {
			if obs := p.observer.Load(); obs != nil {
				if ext := pkt.GetExtension(p.audioLevelID); len(ext) > 0 {
					// One-byte extension: V bit then -dBov in 7 bits.
					obs.observe(p.id, ext[0]&0x7f)
				}
			}
		}

		p.mu.RLock()
		for _, c := range p.consumers {
			c.write(pkt)
		}
		p.mu.RUnlock()
	}
}

// drainRTCP keeps the receiver's RTCP buffer from filling.
func (p *Producer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := p.receiver.Read(buf); err != nil {
			return
		}
	}
}

// RequestKeyFrame asks the producing client for a fresh keyframe. Used
// when a video consumer attaches mid-stream.
func (p *Producer) RequestKeyFrame() error {
	if p.kind != KindVideo {
		return nil
	}
	return p.transport.writeRTCP(&rtcp.PictureLossIndication{
		MediaSSRC: uint32(p.track.SSRC()),
	})
}

func (p *Producer) setObserver(obs *AudioLevelObserver) {
	p.observer.Store(obs)
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *Producer) detach(consumerID string) {
	p.mu.Lock()
	delete(p.consumers, consumerID)
	p.mu.Unlock()
}

// Close stops the receiver, detaches the producer from its router and
// fires the close hook exactly once.
func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		p.receiver.Stop()
		p.router.removeProducer(p.id)
		if fn := p.onClose.Load(); fn != nil && *fn != nil {
			(*fn)(p.id)
		}
	})
}
