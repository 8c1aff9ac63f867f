package mesh

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/shareboard/internal/protocol"
)

// ICEConfig lists the ICE servers handed to every peer connection.
type ICEConfig struct {
	STUN      []string
	TURN      []string
	TURNUser  string
	TURNPass  string
	RelayOnly bool
}

func (c ICEConfig) servers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURN,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// PionLinks returns a LinkFactory backed by pion peer connections.
func PionLinks(ice ICEConfig, log zerolog.Logger) LinkFactory {
	conf := webrtc.Configuration{ICEServers: ice.servers()}
	if ice.RelayOnly && len(ice.TURN) > 0 {
		conf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return func(remote string) (Link, error) {
		pc, err := webrtc.NewPeerConnection(conf)
		if err != nil {
			return nil, err
		}
		return &pionLink{
			pc:  pc,
			log: log.With().Str("component", "pion").Str("peer", remote).Logger(),
		}, nil
	}
}

type pionLink struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger
}

func (l *pionLink) OpenChannel(label string) (Channel, error) {
	ordered := true
	dc, err := l.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (l *pionLink) CreateOffer() (json.RawMessage, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(l.pc.LocalDescription())
}

func (l *pionLink) Rollback() error {
	return l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (l *pionLink) ApplyOffer(data json.RawMessage) (json.RawMessage, error) {
	desc, err := parseDescription(data, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(l.pc.LocalDescription())
}

func (l *pionLink) ApplyAnswer(data json.RawMessage) error {
	desc, err := parseDescription(data, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return l.pc.SetRemoteDescription(desc)
}

func (l *pionLink) AddCandidate(data json.RawMessage) error {
	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &ice); err != nil {
		return fmt.Errorf("failed to parse ICE candidate: %w", err)
	}
	return l.pc.AddICECandidate(ice)
}

func (l *pionLink) OnCandidate(fn func(json.RawMessage)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			l.log.Warn().Err(err).Msg("encode candidate")
			return
		}
		fn(data)
	})
}

func (l *pionLink) OnChannel(fn func(Channel)) {
	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (l *pionLink) OnStateChange(fn func(LinkState)) {
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(linkState(s))
	})
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

func linkState(s webrtc.PeerConnectionState) LinkState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return LinkClosed
	default:
		return LinkNew
	}
}

// parseDescription accepts a full RTCSessionDescription object. A missing
// type is filled with want.
func parseDescription(data json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("failed to parse %s: %w", want, err)
	}
	if desc.Type == webrtc.SDPTypeUnknown {
		desc.Type = want
	}
	if desc.Type != want {
		return desc, fmt.Errorf("unexpected description type: %s", desc.Type)
	}
	return desc, nil
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) State() ChannelState {
	switch c.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return ChannelOpen
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		return ChannelClosed
	default:
		return ChannelConnecting
	}
}

func (c *pionChannel) Send(p protocol.Payload) error {
	if p.IsString {
		return c.dc.SendText(string(p.Data))
	}
	return c.dc.Send(p.Data)
}

func (c *pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) OnMessage(fn func(protocol.Payload)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(protocol.Payload{Data: msg.Data, IsString: msg.IsString})
	})
}

func (c *pionChannel) Close() error {
	return c.dc.Close()
}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, where direct candidates rarely connect.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	// Cloudflare WARP, Tailscale and carrier-grade NAT use 100.64.0.0/10.
	_, cgnat, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnat.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, prefix) {
			return true
		}
	}
	return false
}
