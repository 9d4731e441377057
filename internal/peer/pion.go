package peer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vizlink/vizlink/internal/pionlog"
)

// dataChannelLabel names the channel carrying document updates between the
// two participants directly. Updates also flow through the relay topic, so
// the channel is an acceleration path, not a correctness requirement.
const dataChannelLabel = "viz-sync"

// PionSession is the production Session. It owns one pion PeerConnection and
// the document data channel.
type PionSession struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu sync.Mutex
	dc *webrtc.DataChannel

	// OnData receives messages from the counterpart's data channel.
	onData func([]byte)
}

// PionConfig carries what NewPionFactory needs to build sessions.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	Log        *slog.Logger

	// OnData, if set, receives every inbound data channel message.
	OnData func([]byte)
}

// NewPionFactory returns a SessionFactory producing pion-backed sessions.
// Every session logs through the shared structured logger.
func NewPionFactory(cfg PionConfig) SessionFactory {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = pionlog.NewFactory(cfg.Log)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	return func(onCandidate func(webrtc.ICECandidateInit), onConnected func(), onFailed func()) (Session, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
		if err != nil {
			return nil, fmt.Errorf("peer: new peer connection: %w", err)
		}

		s := &PionSession{pc: pc, log: cfg.Log, onData: cfg.OnData}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			onCandidate(c.ToJSON())
		})
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			cfg.Log.Debug("peer connection state", slog.String("state", state.String()))
			switch state {
			case webrtc.PeerConnectionStateConnected:
				onConnected()
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
				onFailed()
			}
		})
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != dataChannelLabel {
				return
			}
			s.adoptChannel(dc)
		})

		return s, nil
	}
}

func (s *PionSession) adoptChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	onData := s.onData
	s.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if onData != nil {
			onData(msg.Data)
		}
	})
}

// CreateOffer implements Session. The offering side opens the data channel
// before producing the offer so it rides the initial SDP.
func (s *PionSession) CreateOffer() (webrtc.SessionDescription, error) {
	ordered := true
	dc, err := s.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("peer: create data channel: %w", err)
	}
	s.adoptChannel(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *s.pc.LocalDescription(), nil
}

// CreateAnswer implements Session.
func (s *PionSession) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *s.pc.LocalDescription(), nil
}

// SetAnswer implements Session.
func (s *PionSession) SetAnswer(answer webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(answer)
}

// AddICECandidate implements Session.
func (s *PionSession) AddICECandidate(init webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(init)
}

// Close implements Session.
func (s *PionSession) Close() error {
	return s.pc.Close()
}

// SendData delivers one message over the data channel, if it is open.
func (s *PionSession) SendData(data []byte) error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("peer: data channel not open")
	}
	return dc.Send(data)
}

// RTT reads the current round trip time from the nominated ICE candidate
// pair. ok is false when no pair has a measurement yet.
func (s *PionSession) RTT() (rtt time.Duration, ok bool) {
	for _, stat := range s.pc.GetStats() {
		pair, isPair := stat.(webrtc.ICECandidatePairStats)
		if !isPair || !pair.Nominated {
			continue
		}
		if pair.CurrentRoundTripTime <= 0 {
			continue
		}
		return time.Duration(pair.CurrentRoundTripTime * float64(time.Second)), true
	}
	return 0, false
}
