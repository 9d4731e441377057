package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vizlink/vizlink/internal/dataset"
	"github.com/vizlink/vizlink/internal/document"
	"github.com/vizlink/vizlink/internal/protocol"
)

// DefaultSyncTopic is the relay topic carrying document updates for the
// shared visualization.
const DefaultSyncTopic = "viz-doc"

// seedWait is how long a fresh session waits for another participant's state
// before seeding the reference dataset itself.
const seedWait = 2 * time.Second

// syncPayload is the JSON shape carried in PUBLISH data. Update holds one
// encoded document delta; Snapshot marks full-state payloads published after
// joining or compacting, which merge the same way. Request carries no update:
// it asks participants already holding state to answer with a snapshot.
type syncPayload struct {
	Update   []byte `json:"update,omitempty"`
	Snapshot bool   `json:"snapshot,omitempty"`
	Request  bool   `json:"request,omitempty"`
}

// DocSync replicates a document over a relay topic. Local transactions go
// through Update, which publishes the resulting delta; inbound publishes are
// merged into the document. Merging is idempotent, so receiving the same
// delta twice (relay plus data channel) is harmless.
type DocSync struct {
	doc   *document.Doc
	topic string
	log   *slog.Logger

	mu       sync.Mutex
	send     func(protocol.Envelope) error
	sendData func([]byte) error
	seen     bool
	seedOnce sync.Once
}

// NewDocSync returns a sync for doc on topic.
func NewDocSync(doc *document.Doc, topic string, log *slog.Logger) *DocSync {
	if topic == "" {
		topic = DefaultSyncTopic
	}
	return &DocSync{doc: doc, topic: topic, log: log}
}

// Doc returns the replicated document.
func (s *DocSync) Doc() *document.Doc { return s.doc }

// Topic returns the relay topic.
func (s *DocSync) Topic() string { return s.topic }

// Attach binds the sync to a live signaling connection and subscribes to the
// topic. Called again after every reconnect.
func (s *DocSync) Attach(send func(protocol.Envelope) error) error {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()

	if err := send(protocol.Envelope{Type: protocol.TypeSubscribe, Topic: s.topic}); err != nil {
		return fmt.Errorf("peer: subscribe %s: %w", s.topic, err)
	}
	return nil
}

// AttachDataChannel sets the direct peer-to-peer path for outbound deltas.
// Pass nil when the channel closes.
func (s *DocSync) AttachDataChannel(sendData func([]byte) error) {
	s.mu.Lock()
	s.sendData = sendData
	s.mu.Unlock()
}

// HandleSubscribed reacts to the relay's subscription ack: a replica holding
// state publishes it so a counterpart already in the room converges
// immediately; a fresh replica instead asks the room for a snapshot, so a
// late joiner converges without waiting for an organic update.
func (s *DocSync) HandleSubscribed() {
	if !s.hasState() {
		if err := s.publish(syncPayload{Request: true}); err != nil {
			s.log.Warn("failed to request initial state", slog.Any("error", err))
		}
		return
	}
	snap, err := s.doc.EncodeSnapshot()
	if err != nil {
		s.log.Error("failed to encode state for initial sync", slog.Any("error", err))
		return
	}
	s.publish(syncPayload{Update: snap, Snapshot: true})
}

func (s *DocSync) hasState() bool {
	return s.doc.EntityCount() > 0 || len(s.doc.Shared()) > 0
}

// HandlePublish merges one inbound topic message into the document.
func (s *DocSync) HandlePublish(data json.RawMessage) error {
	var p syncPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("peer: bad sync payload: %w", err)
	}
	if p.Request {
		// A fresh replica asked for state; answer only if we hold any.
		if s.hasState() {
			return s.PublishSnapshot()
		}
		return nil
	}
	if len(p.Update) == 0 {
		return fmt.Errorf("peer: empty sync payload")
	}

	s.mu.Lock()
	s.seen = true
	s.mu.Unlock()

	if _, err := s.doc.ApplyUpdate(p.Update); err != nil {
		return fmt.Errorf("peer: apply update: %w", err)
	}
	return nil
}

// HandleData merges one inbound data channel message. Same encoding as the
// relay path.
func (s *DocSync) HandleData(data []byte) {
	if err := s.HandlePublish(data); err != nil {
		s.log.Warn("dropping data channel update", slog.Any("error", err))
	}
}

// Update runs one batched local transaction and publishes the delta.
func (s *DocSync) Update(fn func(*document.Txn)) error {
	update := s.doc.Update(fn)
	if len(update) == 0 {
		return nil
	}
	return s.publish(syncPayload{Update: update})
}

// PublishSnapshot sends the compacted full state, typically after a
// compaction pass rewrote the update log.
func (s *DocSync) PublishSnapshot() error {
	snap, err := s.doc.EncodeSnapshot()
	if err != nil {
		return fmt.Errorf("peer: encode snapshot: %w", err)
	}
	return s.publish(syncPayload{Update: snap, Snapshot: true})
}

func (s *DocSync) publish(p syncPayload) error {
	s.mu.Lock()
	send := s.send
	sendData := s.sendData
	s.mu.Unlock()

	data := protocol.MustMarshal(p)

	if sendData != nil {
		if err := sendData(data); err != nil {
			s.log.Debug("data channel publish failed, relay only", slog.Any("error", err))
		}
	}
	if send == nil {
		return fmt.Errorf("peer: sync not attached")
	}
	return send(protocol.Envelope{Type: protocol.TypePublish, Topic: s.topic, Data: data})
}

// SeedAfterWait seeds the reference dataset if no remote state arrives within
// seedWait of the subscription. Runs at most once per process; safe to call
// after every reconnect.
func (s *DocSync) SeedAfterWait(ds dataset.Dataset) {
	s.seedOnce.Do(func() {
		go func() {
			time.Sleep(seedWait)

			s.mu.Lock()
			seen := s.seen
			s.mu.Unlock()
			if seen || s.doc.EntityCount() > 0 {
				return
			}

			update := document.SeedIfEmpty(s.doc, ds)
			if update == nil {
				return
			}
			s.log.Info("seeded reference dataset",
				slog.Int("entities", s.doc.EntityCount()))
			if err := s.publish(syncPayload{Update: update}); err != nil {
				s.log.Warn("failed to publish seed", slog.Any("error", err))
			}
		}()
	})
}
