package media

import (
	"errors"
	"testing"

	"github.com/zlingapp/server-sub000/internal/config"
	"github.com/zlingapp/server-sub000/internal/metrics"
)

func testVoiceConfig(portMin, portMax uint16) config.VoiceConfig {
	return config.VoiceConfig{
		PortMin:                         portMin,
		PortMax:                         portMax,
		AnnounceIP:                      "127.0.0.1",
		EnableUDP:                       true,
		PreferUDP:                       true,
		InitialAvailableOutgoingBitrate: 600000,
	}
}

func TestPoolGrowsThenRoundRobins(t *testing.T) {
	pool := NewPool(testVoiceConfig(19200, 19201), metrics.New())
	defer pool.Close()

	routers := make([]*Router, 0, 4)
	for i := 0; i < 4; i++ {
		r, err := pool.AllocateRouter()
		if err != nil {
			t.Fatalf("AllocateRouter %d: %v", i, err)
		}
		routers = append(routers, r)
	}

	// Two ports in range: the pool grows to two workers, then reuses them.
	if n := pool.NumWorkers(); n != 2 {
		t.Fatalf("NumWorkers = %d, want 2", n)
	}
	if routers[0].worker == routers[1].worker {
		t.Error("first two routers share a worker despite free ports")
	}
	if routers[2].worker != routers[0].worker && routers[2].worker != routers[1].worker {
		t.Error("third router did not reuse an existing worker")
	}
	if routers[0].ID() == routers[1].ID() {
		t.Error("routers must have distinct ids")
	}
}

func TestPoolAllocateAfterCloseFails(t *testing.T) {
	pool := NewPool(testVoiceConfig(19210, 19210), metrics.New())
	pool.Close()

	if _, err := pool.AllocateRouter(); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("AllocateRouter after Close: err = %v, want ErrPoolClosed", err)
	}
}

func TestRouterCapabilitiesCarryBothCodecs(t *testing.T) {
	pool := NewPool(testVoiceConfig(19220, 19220), metrics.New())
	defer pool.Close()

	r, err := pool.AllocateRouter()
	if err != nil {
		t.Fatalf("AllocateRouter: %v", err)
	}

	caps := r.Capabilities()
	kinds := make(map[string]string)
	for _, c := range caps.Codecs {
		kinds[c.Kind] = c.MimeType
	}
	if kinds[KindAudio] != "audio/opus" {
		t.Errorf("audio codec = %q, want audio/opus", kinds[KindAudio])
	}
	if kinds[KindVideo] != "video/VP8" {
		t.Errorf("video codec = %q, want video/VP8", kinds[KindVideo])
	}
	if len(caps.HeaderExtensions) == 0 {
		t.Error("capabilities carry no header extensions, want the audio level extension")
	}
}

func TestTransportLifecycle(t *testing.T) {
	pool := NewPool(testVoiceConfig(19230, 19230), metrics.New())
	defer pool.Close()

	r, err := pool.AllocateRouter()
	if err != nil {
		t.Fatalf("AllocateRouter: %v", err)
	}

	transport, err := r.CreateTransport(DirectionSend)
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	defer transport.Close()

	params, err := transport.Params()
	if err != nil {
		t.Fatalf("Params: %v", err)
	}
	if params.ID == "" {
		t.Error("transport params carry no id")
	}
	if params.ICEParameters.UsernameFragment == "" || params.ICEParameters.Password == "" {
		t.Error("transport params carry no ICE credentials")
	}
	if len(params.DTLSParameters.Fingerprints) == 0 {
		t.Error("transport params carry no DTLS fingerprints")
	}

	if transport.Connected() {
		t.Error("fresh transport reports connected")
	}

	// Media may not start before the connect step.
	_, err = r.Produce(transport, KindAudio, RTPParameters{
		Codecs:    []CodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []RTPEncoding{{SSRC: 1234}},
	})
	if !errors.Is(err, ErrTransportNotConnected) {
		t.Errorf("Produce before connect: err = %v, want ErrTransportNotConnected", err)
	}
}

func TestCreateTransportRejectsBadDirection(t *testing.T) {
	pool := NewPool(testVoiceConfig(19240, 19240), metrics.New())
	defer pool.Close()

	r, err := pool.AllocateRouter()
	if err != nil {
		t.Fatalf("AllocateRouter: %v", err)
	}
	if _, err := r.CreateTransport(Direction("sideways")); !errors.Is(err, ErrWrongDirection) {
		t.Fatalf("CreateTransport: err = %v, want ErrWrongDirection", err)
	}
}

func TestCanConsumeUnknownProducer(t *testing.T) {
	pool := NewPool(testVoiceConfig(19250, 19250), metrics.New())
	defer pool.Close()

	r, err := pool.AllocateRouter()
	if err != nil {
		t.Fatalf("AllocateRouter: %v", err)
	}
	if r.CanConsume("nope", r.Capabilities()) {
		t.Error("CanConsume reported true for an unknown producer")
	}
}

func TestSortCandidatesPrefersConfiguredProtocol(t *testing.T) {
	candidates := []ICECandidate{
		{Protocol: "tcp", Port: 1},
		{Protocol: "udp", Port: 2},
		{Protocol: "tcp", Port: 3},
		{Protocol: "udp", Port: 4},
	}

	sortCandidates(candidates, false)
	if candidates[0].Protocol != "udp" || candidates[1].Protocol != "udp" {
		t.Errorf("udp preference: order = %+v", candidates)
	}
	// Stable: relative order within a protocol is preserved.
	if candidates[0].Port != 2 || candidates[1].Port != 4 {
		t.Errorf("udp preference lost stability: %+v", candidates)
	}

	sortCandidates(candidates, true)
	if candidates[0].Protocol != "tcp" || candidates[1].Protocol != "tcp" {
		t.Errorf("tcp preference: order = %+v", candidates)
	}
}
