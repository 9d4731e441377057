package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SDP is the JSON payload carried in the data field of RTC_OFFER / RTC_ANSWER
// (and their video-room equivalents).
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrInvalid, s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the JSON payload carried in the data field of
// RTC_ICE_CANDIDATE / ICE_CANDIDATE.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// DecodeSDP parses a data payload as an SDP.
func DecodeSDP(data json.RawMessage) (SDP, error) {
	var s SDP
	if err := json.Unmarshal(data, &s); err != nil {
		return SDP{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if s.SDP == "" {
		return SDP{}, fmt.Errorf("%w: empty sdp", ErrInvalid)
	}
	return s, nil
}

// DecodeCandidate parses a data payload as an ICE candidate.
func DecodeCandidate(data json.RawMessage) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Candidate == "" {
		return Candidate{}, fmt.Errorf("%w: empty candidate", ErrInvalid)
	}
	return c, nil
}

// MustMarshal encodes a payload for an envelope data field. Marshalling the
// payload types in this package cannot fail.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
