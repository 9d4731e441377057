package peer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vizlink/vizlink/internal/protocol"
)

// State is one phase of a single peer negotiation.
type State string

const (
	// StateIdle: no counterpart, or the last attempt was abandoned.
	StateIdle State = "idle"
	// StateAwaitingRole: a counterpart exists but the relay has not yet said
	// who offers.
	StateAwaitingRole State = "awaiting-role"
	// StateOffering: local side sent the offer and is waiting for the answer.
	StateOffering State = "offering"
	// StateAnswering: local side answered a remote offer and is waiting for
	// transport establishment.
	StateAnswering State = "answering"
	// StateConnected: the peer connection transport is up.
	StateConnected State = "connected"
	// StateClosed: the negotiator was shut down for good.
	StateClosed State = "closed"
)

// Session abstracts the WebRTC peer connection the negotiator drives. The
// production implementation wraps pion; tests substitute a fake to observe
// call ordering.
type Session interface {
	// CreateOffer produces a local offer and installs it as the local
	// description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer installs the remote offer and produces the local answer.
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// SetAnswer installs the remote answer.
	SetAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate hands one remote candidate to the transport.
	AddICECandidate(webrtc.ICECandidateInit) error
	// Close tears the transport down.
	Close() error
}

// SessionFactory builds a fresh Session for one negotiation attempt. The
// callbacks are invoked by the session's transport: onCandidate for each
// local candidate, onConnected when the transport establishes, and onFailed
// when it fails or disconnects.
type SessionFactory func(onCandidate func(webrtc.ICECandidateInit), onConnected func(), onFailed func()) (Session, error)

// Negotiator runs the negotiation state machine against one counterpart.
// All exported methods are safe for concurrent use.
type Negotiator struct {
	log     *slog.Logger
	factory SessionFactory
	send    func(protocol.Envelope) error

	mu       sync.Mutex
	state    State
	session  Session
	targetID int64

	// Remote candidates that arrived before the remote description. Drained
	// in arrival order the moment the remote description is installed.
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	// OnStateChange, if set, observes every transition. Called outside the
	// lock.
	OnStateChange func(State)
}

// NewNegotiator returns an idle negotiator. send delivers envelopes to the
// relay.
func NewNegotiator(factory SessionFactory, send func(protocol.Envelope) error, log *slog.Logger) *Negotiator {
	return &Negotiator{
		log:     log,
		factory: factory,
		send:    send,
		state:   StateIdle,
	}
}

// State returns the current phase.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// TargetID returns the counterpart's client id. Only meaningful outside
// StateIdle.
func (n *Negotiator) TargetID() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.targetID
}

func (n *Negotiator) setStateLocked(s State) func() {
	if n.state == s {
		return func() {}
	}
	n.state = s
	cb := n.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(s) }
}

// PeerAppeared records that a counterpart exists. The negotiator waits for
// the relay's role assignment; calling this in any state other than idle is a
// no-op.
func (n *Negotiator) PeerAppeared(targetID int64) {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return
	}
	n.targetID = targetID
	notify := n.setStateLocked(StateAwaitingRole)
	n.mu.Unlock()
	notify()
}

// HandleInitiate reacts to the relay's role assignment. The initiator builds
// a session, creates the offer, and sends it; the non-initiator builds a
// session and waits for the remote offer.
func (n *Negotiator) HandleInitiate(targetID int64, shouldInitiate bool) error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	if n.state != StateIdle && n.state != StateAwaitingRole {
		n.mu.Unlock()
		n.log.Warn("ignoring role assignment in active negotiation", slog.String("state", string(n.state)))
		return nil
	}
	n.targetID = targetID

	sess, err := n.factory(n.onLocalCandidate, n.onConnected, n.onFailed)
	if err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return fmt.Errorf("peer: create session: %w", err)
	}
	n.session = sess
	n.remoteSet = false
	n.pending = nil

	if !shouldInitiate {
		notify := n.setStateLocked(StateAnswering)
		n.mu.Unlock()
		notify()
		return nil
	}

	offer, err := sess.CreateOffer()
	if err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return fmt.Errorf("peer: create offer: %w", err)
	}
	notify := n.setStateLocked(StateOffering)
	n.mu.Unlock()
	notify()

	return n.send(protocol.Envelope{
		Type:           protocol.TypeRTCOffer,
		TargetClientID: protocol.Int64(targetID),
		Data:           protocol.MustMarshal(protocol.SDPFromPion(offer)),
	})
}

// HandleOffer reacts to the counterpart's offer: install it, answer, drain
// buffered candidates, send the answer back.
func (n *Negotiator) HandleOffer(sourceID int64, sdp protocol.SDP) error {
	desc, err := sdp.ToPion()
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.state != StateAnswering || n.session == nil {
		n.mu.Unlock()
		n.log.Warn("ignoring offer", slog.String("state", string(n.state)))
		return nil
	}
	sess := n.session

	answer, err := sess.CreateAnswer(desc)
	if err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return fmt.Errorf("peer: create answer: %w", err)
	}
	if err := n.drainPendingLocked(sess); err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return err
	}
	n.mu.Unlock()

	return n.send(protocol.Envelope{
		Type:           protocol.TypeRTCAnswer,
		TargetClientID: protocol.Int64(sourceID),
		Data:           protocol.MustMarshal(protocol.SDPFromPion(answer)),
	})
}

// HandleAnswer reacts to the counterpart's answer and drains buffered
// candidates.
func (n *Negotiator) HandleAnswer(sdp protocol.SDP) error {
	desc, err := sdp.ToPion()
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.state != StateOffering || n.session == nil {
		n.mu.Unlock()
		n.log.Warn("ignoring answer", slog.String("state", string(n.state)))
		return nil
	}
	if err := n.session.SetAnswer(desc); err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return fmt.Errorf("peer: set answer: %w", err)
	}
	err = n.drainPendingLocked(n.session)
	if err != nil {
		notify := n.abandonLocked()
		n.mu.Unlock()
		notify()
		return err
	}
	n.mu.Unlock()
	return nil
}

// HandleCandidate buffers or applies one remote candidate. Candidates that
// arrive before the remote description are held and applied in arrival order
// once it lands.
func (n *Negotiator) HandleCandidate(cand protocol.Candidate) error {
	init := cand.ToPion()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil || n.state == StateIdle || n.state == StateClosed {
		return nil
	}
	if !n.remoteSet {
		n.pending = append(n.pending, init)
		return nil
	}
	if err := n.session.AddICECandidate(init); err != nil {
		return fmt.Errorf("peer: add candidate: %w", err)
	}
	return nil
}

// drainPendingLocked marks the remote description installed and applies every
// buffered candidate in order.
func (n *Negotiator) drainPendingLocked(sess Session) error {
	n.remoteSet = true
	for _, init := range n.pending {
		if err := sess.AddICECandidate(init); err != nil {
			return fmt.Errorf("peer: add buffered candidate: %w", err)
		}
	}
	n.pending = nil
	return nil
}

func (n *Negotiator) onLocalCandidate(init webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.state == StateIdle || n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	target := n.targetID
	n.mu.Unlock()

	err := n.send(protocol.Envelope{
		Type:           protocol.TypeRTCICECandidate,
		TargetClientID: protocol.Int64(target),
		Data:           protocol.MustMarshal(protocol.CandidateFromPion(init)),
	})
	if err != nil {
		n.log.Warn("failed to send local candidate", slog.Any("error", err))
	}
}

func (n *Negotiator) onConnected() {
	n.mu.Lock()
	if n.state != StateOffering && n.state != StateAnswering {
		n.mu.Unlock()
		return
	}
	notify := n.setStateLocked(StateConnected)
	n.mu.Unlock()
	notify()
}

func (n *Negotiator) onFailed() {
	n.Abandon()
}

// abandonLocked tears the session down and returns to idle. Returns the state
// notification to run after unlocking.
func (n *Negotiator) abandonLocked() func() {
	if n.session != nil {
		n.session.Close()
		n.session = nil
	}
	n.pending = nil
	n.remoteSet = false
	if n.state == StateClosed {
		return func() {}
	}
	return n.setStateLocked(StateIdle)
}

// Abandon tears down the current attempt and returns to idle, ready for a
// fresh role assignment. Used when the counterpart departs or the transport
// fails.
func (n *Negotiator) Abandon() {
	n.mu.Lock()
	notify := n.abandonLocked()
	n.mu.Unlock()
	notify()
}

// Close permanently shuts the negotiator down.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.session != nil {
		n.session.Close()
		n.session = nil
	}
	n.pending = nil
	n.remoteSet = false
	notify := n.setStateLocked(StateClosed)
	n.mu.Unlock()
	notify()
}
