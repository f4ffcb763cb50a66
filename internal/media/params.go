package media

import (
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Media kinds as they appear on the wire.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Direction says which way media flows on a transport, from the client's
// point of view: send is client-to-server, recv is server-to-client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

// RTPCapabilities is the negotiation surface a router exposes: what it is
// willing to receive and able to forward. Clients mirror it back, filtered
// to what they support, when consuming.
type RTPCapabilities struct {
	Codecs           []CodecCapability           `json:"codecs"`
	HeaderExtensions []HeaderExtensionCapability `json:"headerExtensions"`
}

type CodecCapability struct {
	Kind                 string         `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           string         `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback `json:"rtcpFeedback"`
}

type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type HeaderExtensionCapability struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// TransportParams is everything a client needs to connect to a transport:
// the server's ICE credentials and candidates and its DTLS fingerprints.
type TransportParams struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// RTPParameters describe one concrete media stream. Clients send them when
// producing; the server returns them when a consumer is created.
type RTPParameters struct {
	MID              string                     `json:"mid,omitempty"`
	Codecs           []CodecParameters          `json:"codecs"`
	HeaderExtensions []HeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncoding              `json:"encodings"`
}

type CodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   string         `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type HeaderExtensionParameter struct {
	URI string `json:"uri"`
	ID  uint8  `json:"id"`
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

// extensionID finds the negotiated id for a header extension URI, zero
// when the stream does not carry it.
func (p RTPParameters) extensionID(uri string) uint8 {
	for _, ext := range p.HeaderExtensions {
		if ext.URI == uri {
			return ext.ID
		}
	}
	return 0
}

func iceParamsFromPion(p webrtc.ICEParameters) ICEParameters {
	return ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func iceParamsToPion(p ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func candidateFromPion(c webrtc.ICECandidate) ICECandidate {
	return ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		IP:         c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

// sortCandidates orders candidates by transport preference so clients that
// try them in order land on the preferred protocol first.
func sortCandidates(candidates []ICECandidate, preferTCP bool) {
	preferred := "udp"
	if preferTCP {
		preferred = "tcp"
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := strings.EqualFold(candidates[i].Protocol, preferred)
		pj := strings.EqualFold(candidates[j].Protocol, preferred)
		return pi && !pj
	})
}

func dtlsParamsFromPion(p webrtc.DTLSParameters) DTLSParameters {
	out := DTLSParameters{Role: dtlsRoleString(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, DTLSFingerprint{
			Algorithm: f.Algorithm,
			Value:     f.Value,
		})
	}
	return out
}

func dtlsParamsToPion(p DTLSParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: dtlsRoleFromString(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{
			Algorithm: f.Algorithm,
			Value:     f.Value,
		})
	}
	return out
}

func dtlsRoleString(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	default:
		return "auto"
	}
}

func dtlsRoleFromString(role string) webrtc.DTLSRole {
	switch role {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func codecTypeForKind(kind string) (webrtc.RTPCodecType, error) {
	switch kind {
	case KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	default:
		return 0, ErrUnknownKind
	}
}
