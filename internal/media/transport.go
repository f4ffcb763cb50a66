package media

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// transportState is the connect-protocol state, not the ICE state: a
// transport counts as connected once the client has delivered its remote
// parameters, even while the handshake is still in flight.
type transportState int32

const (
	transportStateNew transportState = iota
	transportStateConnected
	transportStateClosed
)

const gatherTimeout = 5 * time.Second

// Transport is one ICE+DTLS bundle between a client and a worker port.
// A client owns at most one per direction.
type Transport struct {
	id        string
	direction Direction
	worker    *Worker

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	state atomic.Int32
}

func newTransport(w *Worker, direction Direction) (*Transport, error) {
	gatherer, err := w.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating ice gatherer: %w", err)
	}

	// Gathering host candidates off the mux completes near-instantly; the
	// timeout only guards against a wedged network stack.
	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("gathering candidates: %w", err)
	}
	select {
	case <-done:
	case <-time.After(gatherTimeout):
		gatherer.Close()
		return nil, fmt.Errorf("gathering candidates: timed out")
	}

	iceTransport := w.api.NewICETransport(gatherer)
	dtlsTransport, err := w.api.NewDTLSTransport(iceTransport, nil)
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("creating dtls transport: %w", err)
	}

	return &Transport{
		id:        uuid.NewString(),
		direction: direction,
		worker:    w,
		gatherer:  gatherer,
		ice:       iceTransport,
		dtls:      dtlsTransport,
	}, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() Direction { return t.direction }

// Params returns what the client needs to reach this transport. The
// candidate order follows the configured protocol preference.
func (t *Transport) Params() (TransportParams, error) {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return TransportParams{}, fmt.Errorf("reading ice parameters: %w", err)
	}
	pionCandidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return TransportParams{}, fmt.Errorf("reading ice candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return TransportParams{}, fmt.Errorf("reading dtls parameters: %w", err)
	}

	candidates := make([]ICECandidate, 0, len(pionCandidates))
	for _, c := range pionCandidates {
		candidates = append(candidates, candidateFromPion(c))
	}
	sortCandidates(candidates, t.worker.cfg.PreferTCP)

	return TransportParams{
		ID:             t.id,
		ICEParameters:  iceParamsFromPion(iceParams),
		ICECandidates:  candidates,
		DTLSParameters: dtlsParamsFromPion(dtlsParams),
	}, nil
}

// Connect takes the client's ICE and DTLS parameters and starts the
// handshake. It returns once the transport is committed; the handshake
// itself completes in the background, and media objects created meanwhile
// begin flowing when it does. A second connect is an error.
func (t *Transport) Connect(remoteICE ICEParameters, remoteDTLS DTLSParameters) error {
	if !t.state.CompareAndSwap(int32(transportStateNew), int32(transportStateConnected)) {
		switch transportState(t.state.Load()) {
		case transportStateClosed:
			return ErrTransportClosed
		default:
			return ErrTransportConnected
		}
	}

	go func() {
		// The client is the ICE controlling side; this end answers.
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(t.gatherer, iceParamsToPion(remoteICE), &role); err != nil {
			t.worker.log.Warn("ice start failed", "transport_id", t.id, "error", err)
			t.Close()
			return
		}
		if err := t.dtls.Start(dtlsParamsToPion(remoteDTLS)); err != nil {
			t.worker.log.Warn("dtls start failed", "transport_id", t.id, "error", err)
			t.Close()
			return
		}
		t.worker.log.Debug("transport established", "transport_id", t.id, "direction", string(t.direction))
	}()
	return nil
}

// Connected reports whether the connect step has happened.
func (t *Transport) Connected() bool {
	return transportState(t.state.Load()) == transportStateConnected
}

func (t *Transport) Close() {
	if transportState(t.state.Swap(int32(transportStateClosed))) == transportStateClosed {
		return
	}
	t.dtls.Stop()
	t.ice.Stop()
	t.gatherer.Close()
}

func (t *Transport) writeRTCP(pkts ...rtcp.Packet) error {
	_, err := t.dtls.WriteRTCP(pkts)
	return err
}
