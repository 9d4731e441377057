package peer

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/vizlink/vizlink/internal/document"
	"github.com/vizlink/vizlink/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDocSync_LocalUpdatePublishes(t *testing.T) {
	s := NewDocSync(document.New("alice"), "doc", discardLogger())

	var sent []protocol.Envelope
	if err := s.Attach(func(msg protocol.Envelope) error {
		sent = append(sent, msg)
		return nil
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(sent) != 1 || sent[0].Type != protocol.TypeSubscribe || sent[0].Topic != "doc" {
		t.Fatalf("attach messages: %+v", sent)
	}

	if err := s.Update(func(tx *document.Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "one"})
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(sent) != 2 || sent[1].Type != protocol.TypePublish {
		t.Fatalf("publish messages: %+v", sent)
	}
	if sent[1].Topic != "doc" || len(sent[1].Data) == 0 {
		t.Fatalf("publish envelope: %+v", sent[1])
	}
}

func TestDocSync_InboundPublishConvergesReplicas(t *testing.T) {
	a := NewDocSync(document.New("alice"), "doc", discardLogger())
	b := NewDocSync(document.New("bob"), "doc", discardLogger())

	// Wire a's publishes straight into b, relay-style.
	if err := a.Attach(func(msg protocol.Envelope) error {
		if msg.Type == protocol.TypePublish {
			return b.HandlePublish(msg.Data)
		}
		return nil
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := a.Update(func(tx *document.Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "one"})
		tx.SetShared("zoom", "2")
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if b.Doc().EntityCount() != 1 {
		t.Fatalf("replica entity count: %d", b.Doc().EntityCount())
	}
	v, ok := b.Doc().SharedValue("zoom")
	if !ok || fmt.Sprint(v) != "2" {
		t.Fatalf("replica shared zoom: %v %v", v, ok)
	}
}

func TestDocSync_DataChannelCarriesSamePayload(t *testing.T) {
	a := NewDocSync(document.New("alice"), "doc", discardLogger())
	b := NewDocSync(document.New("bob"), "doc", discardLogger())

	if err := a.Attach(func(protocol.Envelope) error { return nil }); err != nil {
		t.Fatalf("attach: %v", err)
	}
	a.AttachDataChannel(func(data []byte) error {
		b.HandleData(data)
		return nil
	})

	if err := a.Update(func(tx *document.Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "one"})
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if b.Doc().EntityCount() != 1 {
		t.Fatalf("data channel replica entity count: %d", b.Doc().EntityCount())
	}
}

func TestDocSync_HandlePublishRejectsGarbage(t *testing.T) {
	s := NewDocSync(document.New("alice"), "doc", discardLogger())

	if err := s.HandlePublish([]byte(`not json`)); err == nil {
		t.Fatal("garbage payload accepted")
	}
	if err := s.HandlePublish([]byte(`{}`)); err == nil {
		t.Fatal("empty payload accepted")
	}
	if err := s.HandlePublish([]byte(`{"update":"AAAA"}`)); err == nil {
		t.Fatal("undecodable update accepted")
	}
}

func TestDocSync_SubscribedAnnouncesExistingState(t *testing.T) {
	s := NewDocSync(document.New("alice"), "doc", discardLogger())
	s.Doc().Update(func(tx *document.Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "one"})
	})

	var published int
	if err := s.Attach(func(msg protocol.Envelope) error {
		if msg.Type == protocol.TypePublish {
			published++
		}
		return nil
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	s.HandleSubscribed()
	if published != 1 {
		t.Fatalf("snapshot publishes: got %d, want 1", published)
	}

	// An empty document asks the room for state instead of announcing.
	empty := NewDocSync(document.New("bob"), "doc", discardLogger())
	var requests, snapshots int
	empty.Attach(func(msg protocol.Envelope) error {
		if msg.Type != protocol.TypePublish {
			return nil
		}
		var p syncPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if p.Request {
			requests++
		} else {
			snapshots++
		}
		return nil
	})
	empty.HandleSubscribed()
	if requests != 1 || snapshots != 0 {
		t.Fatalf("empty document published %d requests and %d snapshots, want 1 and 0", requests, snapshots)
	}
}

func TestDocSync_LateJoinerReceivesStateOnRequest(t *testing.T) {
	a := NewDocSync(document.New("alice"), "doc", discardLogger())
	b := NewDocSync(document.New("bob"), "doc", discardLogger())

	// Relay-style wiring: each side's publishes are delivered to the other.
	if err := a.Attach(func(msg protocol.Envelope) error {
		if msg.Type == protocol.TypePublish {
			return b.HandlePublish(msg.Data)
		}
		return nil
	}); err != nil {
		t.Fatalf("attach a: %v", err)
	}

	if err := a.Update(func(tx *document.Txn) {
		tx.InsertEntity("n1", map[string]any{"name": "one"})
		tx.SetShared("zoom", "2")
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// b joins late with nothing; its subscription ack triggers a state
	// request, which a answers with a snapshot.
	if err := b.Attach(func(msg protocol.Envelope) error {
		if msg.Type == protocol.TypePublish {
			return a.HandlePublish(msg.Data)
		}
		return nil
	}); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	b.HandleSubscribed()

	if b.Doc().EntityCount() != 1 {
		t.Fatalf("late joiner entity count: %d", b.Doc().EntityCount())
	}
	if v, ok := b.Doc().SharedValue("zoom"); !ok || fmt.Sprint(v) != "2" {
		t.Fatalf("late joiner shared zoom: %v %v", v, ok)
	}
}
