package media

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/cc"
	"github.com/pion/interceptor/pkg/gcc"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/zlingapp/server-sub000/internal/config"
)

// Codec payload types offered by every worker.
const (
	opusPayloadType = 111
	vp8PayloadType  = 96
)

var (
	opusCodec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: opusPayloadType,
	}

	vp8Codec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
		PayloadType: vp8PayloadType,
	}
)

// Worker owns one RTC port and the webrtc API configured to multiplex
// every transport of every router allocated on it over that port.
type Worker struct {
	id   string
	port uint16
	cfg  config.VoiceConfig
	api  *webrtc.API
	caps RTPCapabilities
	log  *slog.Logger

	// listeners feeding the ICE muxes, closed on shutdown.
	closers []io.Closer
}

func newWorker(cfg config.VoiceConfig, port uint16, logFactory logging.LoggerFactory) (*Worker, error) {
	w := &Worker{
		id:   uuid.NewString(),
		port: port,
		cfg:  cfg,
		log:  slog.With("component", "media", "worker_port", port),
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: logFactory}

	var networkTypes []webrtc.NetworkType
	if cfg.EnableUDP {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
		if err != nil {
			return nil, fmt.Errorf("binding udp port %d: %w", port, err)
		}
		w.closers = append(w.closers, conn)
		settingEngine.SetICEUDPMux(webrtc.NewICEUDPMux(logFactory.NewLogger("udp_mux"), conn))
		networkTypes = append(networkTypes, webrtc.NetworkTypeUDP4)
	}
	if cfg.EnableTCP {
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4zero, Port: int(port)})
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("binding tcp port %d: %w", port, err)
		}
		w.closers = append(w.closers, ln)
		settingEngine.SetICETCPMux(webrtc.NewICETCPMux(logFactory.NewLogger("tcp_mux"), ln, 32))
		networkTypes = append(networkTypes, webrtc.NetworkTypeTCP4)
	}
	settingEngine.SetNetworkTypes(networkTypes)
	settingEngine.SetNAT1To1IPs([]string{cfg.AnnounceIP}, webrtc.ICECandidateTypeHost)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		w.Close()
		return nil, fmt.Errorf("registering opus codec: %w", err)
	}
	if err := mediaEngine.RegisterCodec(vp8Codec, webrtc.RTPCodecTypeVideo); err != nil {
		w.Close()
		return nil, fmt.Errorf("registering vp8 codec: %w", err)
	}
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}, webrtc.RTPCodecTypeAudio,
	); err != nil {
		w.Close()
		return nil, fmt.Errorf("registering audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		w.Close()
		return nil, fmt.Errorf("registering default interceptors: %w", err)
	}
	congestion, err := cc.NewInterceptor(func() (cc.BandwidthEstimator, error) {
		return gcc.NewSendSideBWE(gcc.SendSideBWEInitialBitrate(int(cfg.InitialAvailableOutgoingBitrate)))
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("creating congestion controller: %w", err)
	}
	registry.Add(congestion)
	if err := webrtc.ConfigureTWCCHeaderExtensionSender(mediaEngine, registry); err != nil {
		w.Close()
		return nil, fmt.Errorf("configuring twcc extension: %w", err)
	}

	w.api = webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	w.caps = buildCapabilities()
	return w, nil
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Port() uint16 { return w.port }

// newRouter hands out a fresh router backed by this worker's port.
func (w *Worker) newRouter() *Router {
	return &Router{
		id:        uuid.NewString(),
		worker:    w,
		producers: make(map[string]*Producer),
	}
}

func (w *Worker) Close() {
	for _, c := range w.closers {
		c.Close()
	}
	w.closers = nil
}

// buildCapabilities is the wire view of the codec table above. Kept next
// to the registration code so the two cannot drift apart silently.
func buildCapabilities() RTPCapabilities {
	return RTPCapabilities{
		Codecs: []CodecCapability{
			{
				Kind:                 KindAudio,
				MimeType:             opusCodec.MimeType,
				PreferredPayloadType: uint8(opusCodec.PayloadType),
				ClockRate:            opusCodec.ClockRate,
				Channels:             opusCodec.Channels,
				Parameters:           opusCodec.SDPFmtpLine,
				RTCPFeedback:         feedbackFromPion(opusCodec.RTCPFeedback),
			},
			{
				Kind:                 KindVideo,
				MimeType:             vp8Codec.MimeType,
				PreferredPayloadType: uint8(vp8Codec.PayloadType),
				ClockRate:            vp8Codec.ClockRate,
				RTCPFeedback:         feedbackFromPion(vp8Codec.RTCPFeedback),
			},
		},
		HeaderExtensions: []HeaderExtensionCapability{
			{Kind: KindAudio, URI: sdp.AudioLevelURI},
		},
	}
}

func feedbackFromPion(fbs []webrtc.RTCPFeedback) []RTCPFeedback {
	out := make([]RTCPFeedback, 0, len(fbs))
	for _, fb := range fbs {
		out = append(out, RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return out
}
