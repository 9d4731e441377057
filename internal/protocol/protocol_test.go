package protocol

import (
	"errors"
	"testing"
)

func TestParse_ValidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want MessageType
	}{
		{"connection", `{"type":"CONNECTION","clientId":1,"videoUserId":"u-1"}`, TypeConnection},
		{"connect", `{"type":"CONNECT"}`, TypeConnect},
		{"user list", `{"type":"USER_LIST","users":[{"clientId":1,"videoUserId":"u-1"}]}`, TypeUserList},
		{"empty user list", `{"type":"USER_LIST"}`, TypeUserList},
		{"disconnect", `{"type":"DISCONNECT","clientId":2}`, TypeDisconnect},
		{"error", `{"type":"ERROR","message":"session is full"}`, TypeError},
		{"ping", `{"type":"PING"}`, TypePing},
		{"initiate", `{"type":"INITIATE_RTC","targetClientId":2,"shouldInitiate":true}`, TypeInitiateRTC},
		{"offer outbound", `{"type":"RTC_OFFER","targetClientId":2,"data":{"type":"offer","sdp":"v=0"}}`, TypeRTCOffer},
		{"offer delivered", `{"type":"RTC_OFFER","sourceClientId":1,"data":{"type":"offer","sdp":"v=0"}}`, TypeRTCOffer},
		{"candidate", `{"type":"RTC_ICE_CANDIDATE","targetClientId":2,"data":{"candidate":"candidate:1"}}`, TypeRTCICECandidate},
		{"join room", `{"type":"JOIN_VIDEO_ROOM","roomId":"main"}`, TypeJoinVideoRoom},
		{"existing peers empty", `{"type":"EXISTING_PEERS","roomId":"main"}`, TypeExistingPeers},
		{"new peer", `{"type":"NEW_PEER","roomId":"main","peerId":"u-2"}`, TypeNewPeer},
		{"video offer", `{"type":"VIDEO_OFFER","peerId":"u-2","data":{"type":"offer","sdp":"v=0"}}`, TypeVideoOffer},
		{"publish", `{"type":"PUBLISH","topic":"doc","data":{"update":"aGk="}}`, TypePublish},
		{"subscribe", `{"type":"SUBSCRIBE","topic":"doc"}`, TypeSubscribe},
		{"unsubscribe", `{"type":"UNSUBSCRIBE","topic":"doc"}`, TypeUnsubscribe},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Parse([]byte(tc.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if msg.Type != tc.want {
				t.Fatalf("type: got %s, want %s", msg.Type, tc.want)
			}
		})
	}
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `nope`, ErrInvalid},
		{"unknown type", `{"type":"TELEPORT"}`, ErrUnknownType},
		{"missing type", `{}`, ErrUnknownType},
		{"unknown field", `{"type":"PING","bogus":1}`, ErrInvalid},
		{"trailing data", `{"type":"PING"}{"type":"PING"}`, ErrInvalid},
		{"connection without id", `{"type":"CONNECTION","videoUserId":"u-1"}`, ErrInvalid},
		{"disconnect without id", `{"type":"DISCONNECT"}`, ErrInvalid},
		{"error without message", `{"type":"ERROR"}`, ErrInvalid},
		{"initiate without role", `{"type":"INITIATE_RTC","targetClientId":2}`, ErrInvalid},
		{"offer without addressing", `{"type":"RTC_OFFER","data":{"type":"offer","sdp":"v=0"}}`, ErrInvalid},
		{"offer without data", `{"type":"RTC_OFFER","targetClientId":2}`, ErrInvalid},
		{"join without room", `{"type":"JOIN_VIDEO_ROOM"}`, ErrInvalid},
		{"new peer without id", `{"type":"NEW_PEER","roomId":"main"}`, ErrInvalid},
		{"publish without topic", `{"type":"PUBLISH","data":{"x":1}}`, ErrInvalid},
		{"publish without data", `{"type":"PUBLISH","topic":"doc"}`, ErrInvalid},
		{"subscribe without topic", `{"type":"SUBSCRIBE"}`, ErrInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatal("parse accepted invalid message")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("error: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeSDP(t *testing.T) {
	sdp, err := DecodeSDP([]byte(`{"type":"offer","sdp":"v=0 test"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	desc, err := sdp.ToPion()
	if err != nil {
		t.Fatalf("to pion: %v", err)
	}
	if desc.SDP != "v=0 test" {
		t.Fatalf("sdp: %q", desc.SDP)
	}

	if _, err := DecodeSDP([]byte(`{"type":"offer"}`)); err == nil {
		t.Fatal("empty sdp accepted")
	}
	sdp2, _ := DecodeSDP([]byte(`{"type":"rollback","sdp":"v=0"}`))
	if _, err := sdp2.ToPion(); err == nil {
		t.Fatal("unsupported sdp type accepted")
	}
}

func TestDecodeCandidate(t *testing.T) {
	mid := "0"
	c := Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host", SDPMid: &mid}
	round, err := DecodeCandidate(MustMarshal(c))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	init := round.ToPion()
	if init.Candidate != c.Candidate || init.SDPMid == nil || *init.SDPMid != "0" {
		t.Fatalf("round trip: %+v", init)
	}

	if _, err := DecodeCandidate([]byte(`{}`)); err == nil {
		t.Fatal("empty candidate accepted")
	}
}
