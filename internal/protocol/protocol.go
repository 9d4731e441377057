// Package protocol defines the JSON message envelope spoken between
// participants and the relay.
//
// The envelope is a closed tagged union over the "type" field. Unknown types
// and malformed shapes are rejected at the boundary; handlers never see a
// message that failed validation.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type MessageType string

const (
	// Lifecycle.
	TypeConnection MessageType = "CONNECTION"
	TypeConnect    MessageType = "CONNECT"
	TypeUserList   MessageType = "USER_LIST"
	TypeDisconnect MessageType = "DISCONNECT"
	TypeError      MessageType = "ERROR"
	TypePing       MessageType = "PING"
	TypePong       MessageType = "PONG"

	// Two-party media negotiation, addressed by numeric client id.
	TypeInitiateRTC     MessageType = "INITIATE_RTC"
	TypeRTCOffer        MessageType = "RTC_OFFER"
	TypeRTCAnswer       MessageType = "RTC_ANSWER"
	TypeRTCICECandidate MessageType = "RTC_ICE_CANDIDATE"

	// Multi-peer video rooms, addressed by opaque video peer id.
	TypeJoinVideoRoom  MessageType = "JOIN_VIDEO_ROOM"
	TypeLeaveVideoRoom MessageType = "LEAVE_VIDEO_ROOM"
	TypeExistingPeers  MessageType = "EXISTING_PEERS"
	TypeNewPeer        MessageType = "NEW_PEER"
	TypePeerLeft       MessageType = "PEER_LEFT"
	TypeVideoOffer     MessageType = "VIDEO_OFFER"
	TypeVideoAnswer    MessageType = "VIDEO_ANSWER"
	TypeICECandidate   MessageType = "ICE_CANDIDATE"

	// Replication relay (topic publish/subscribe).
	TypePublish     MessageType = "PUBLISH"
	TypeSubscribe   MessageType = "SUBSCRIBE"
	TypeUnsubscribe MessageType = "UNSUBSCRIBE"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrInvalid     = errors.New("protocol: invalid message")
)

// UserInfo identifies one media participant in a USER_LIST broadcast. The
// numeric id addresses two-party negotiation messages; the video id addresses
// video-room messages.
type UserInfo struct {
	ClientID    int64  `json:"clientId"`
	VideoUserID string `json:"videoUserId"`
}

// Envelope is the wire representation of every relay message. Which fields
// are required depends on Type; Validate enforces the per-type shape.
type Envelope struct {
	Type MessageType `json:"type"`

	ClientID    *int64     `json:"clientId,omitempty"`
	VideoUserID string     `json:"videoUserId,omitempty"`
	Users       []UserInfo `json:"users,omitempty"`
	Message     string     `json:"message,omitempty"`

	TargetClientID *int64 `json:"targetClientId,omitempty"`
	SourceClientID *int64 `json:"sourceClientId,omitempty"`
	ShouldInitiate *bool  `json:"shouldInitiate,omitempty"`

	RoomID  string   `json:"roomId,omitempty"`
	PeerID  string   `json:"peerId,omitempty"`
	PeerIDs []string `json:"peerIds,omitempty"`

	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Parse decodes and validates one envelope. Trailing data after the JSON
// object is rejected.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Envelope
	if err := dec.Decode(&msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalid)
	}
	if err := msg.Validate(); err != nil {
		return Envelope{}, err
	}
	return msg, nil
}

func (m Envelope) Validate() error {
	switch m.Type {
	case TypeConnection:
		if m.ClientID == nil || m.VideoUserID == "" {
			return fmt.Errorf("%w: CONNECTION missing clientId/videoUserId", ErrInvalid)
		}
	case TypeConnect, TypePing, TypePong:
		// Bare messages; no required fields.
	case TypeUserList:
		// An empty user list is valid (last participant just left).
	case TypeDisconnect:
		if m.ClientID == nil {
			return fmt.Errorf("%w: DISCONNECT missing clientId", ErrInvalid)
		}
	case TypeError:
		if m.Message == "" {
			return fmt.Errorf("%w: ERROR missing message", ErrInvalid)
		}
	case TypeInitiateRTC:
		if m.TargetClientID == nil {
			return fmt.Errorf("%w: INITIATE_RTC missing targetClientId", ErrInvalid)
		}
		if m.ShouldInitiate == nil {
			return fmt.Errorf("%w: INITIATE_RTC missing shouldInitiate", ErrInvalid)
		}
	case TypeRTCOffer, TypeRTCAnswer, TypeRTCICECandidate:
		// Outbound messages carry targetClientId; the relay rewrites them to
		// carry sourceClientId on delivery. Either addressing field satisfies
		// the shape.
		if m.TargetClientID == nil && m.SourceClientID == nil {
			return fmt.Errorf("%w: %s missing targetClientId/sourceClientId", ErrInvalid, m.Type)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: %s missing data", ErrInvalid, m.Type)
		}
	case TypeJoinVideoRoom, TypeLeaveVideoRoom:
		if m.RoomID == "" {
			return fmt.Errorf("%w: %s missing roomId", ErrInvalid, m.Type)
		}
	case TypeExistingPeers:
		// PeerIDs may be empty: first member of a fresh room.
	case TypeNewPeer, TypePeerLeft:
		if m.PeerID == "" {
			return fmt.Errorf("%w: %s missing peerId", ErrInvalid, m.Type)
		}
	case TypeVideoOffer, TypeVideoAnswer, TypeICECandidate:
		if m.PeerID == "" {
			return fmt.Errorf("%w: %s missing peerId", ErrInvalid, m.Type)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: %s missing data", ErrInvalid, m.Type)
		}
	case TypePublish:
		if m.Topic == "" {
			return fmt.Errorf("%w: PUBLISH missing topic", ErrInvalid)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: PUBLISH missing data", ErrInvalid)
		}
	case TypeSubscribe, TypeUnsubscribe:
		if m.Topic == "" {
			return fmt.Errorf("%w: %s missing topic", ErrInvalid, m.Type)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Int64 returns a pointer to v, for building envelopes with optional numeric
// fields.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
