package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vizlink/vizlink/internal/config"
	"github.com/vizlink/vizlink/internal/dataset"
	"github.com/vizlink/vizlink/internal/document"
	"github.com/vizlink/vizlink/internal/protocol"
)

// ErrSessionFull is returned by Run when the relay refuses admission because
// two media participants are already present. Not retried: the slot will not
// open because of anything reconnecting does.
var ErrSessionFull = errors.New("peer: session is full")

// Peer is one full participant: a media signaling connection driving WebRTC
// negotiation, and a replication connection keeping the shared document in
// sync. Both connections carry their own reconnection monitor.
type Peer struct {
	cfg       config.Config
	serverURL string
	log       *slog.Logger

	doc  *document.Doc
	sync *DocSync
	neg  *Negotiator

	sampler   *Sampler
	compactor *document.Compactor

	mu        sync.Mutex
	clientID  int64
	videoID   string
	session   *PionSession
	mediaSend func(protocol.Envelope) error
}

// New builds a peer for the relay at serverURL. actor names this participant
// in document version stamps.
func New(cfg config.Config, serverURL, actor, topic string, log *slog.Logger) *Peer {
	doc := document.New(actor)
	p := &Peer{
		cfg:       cfg,
		serverURL: serverURL,
		log:       log,
		doc:       doc,
		sync:      NewDocSync(doc, topic, log),
		sampler:   NewSampler(cfg.RTTWindowSize),
	}

	factory := NewPionFactory(PionConfig{
		ICEServers: cfg.ICEServers(),
		Log:        log,
		OnData:     p.sync.HandleData,
	})
	p.neg = NewNegotiator(p.wrapFactory(factory), p.sendMedia, log)
	p.neg.OnStateChange = p.onNegotiationState

	p.compactor = document.NewCompactor(doc, cfg.CompactInterval, log)
	p.compactor.OnResult = func(document.CompactResult) {
		if err := p.sync.PublishSnapshot(); err != nil {
			log.Warn("failed to publish compacted snapshot", slog.Any("error", err))
		}
	}

	return p
}

// Doc returns the shared document.
func (p *Peer) Doc() *document.Doc { return p.doc }

// Sync returns the document sync layer.
func (p *Peer) Sync() *DocSync { return p.sync }

// Negotiator returns the media negotiation state machine.
func (p *Peer) Negotiator() *Negotiator { return p.neg }

// Sampler returns the RTT window for the active peer connection.
func (p *Peer) Sampler() *Sampler { return p.sampler }

// ClientID returns the relay-assigned numeric id for the media connection.
func (p *Peer) ClientID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// wrapFactory remembers the concrete pion session so the data channel and
// stats reader can be reached after negotiation establishes.
func (p *Peer) wrapFactory(factory SessionFactory) SessionFactory {
	return func(onCandidate func(init webrtc.ICECandidateInit), onConnected func(), onFailed func()) (Session, error) {
		sess, err := factory(onCandidate, onConnected, onFailed)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.session = sess.(*PionSession)
		p.mu.Unlock()
		return sess, nil
	}
}

func (p *Peer) currentSession() *PionSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Peer) onNegotiationState(s State) {
	switch s {
	case StateConnected:
		if sess := p.currentSession(); sess != nil {
			p.sync.AttachDataChannel(sess.SendData)
		}
		p.log.Info("peer connection established")
	default:
		p.sync.AttachDataChannel(nil)
		p.sampler.Clear()
	}
}

// Run connects both relay connections and keeps them alive until ctx is
// cancelled, the relay refuses admission, or reconnection gives up.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.neg.Close()

	go p.compactor.Run(ctx)
	go p.sampler.Run(ctx, p.cfg.RTTSampleInterval, p.connected, p.sessionRTT)

	errs := make(chan error, 2)
	go func() { errs <- p.runConnection(ctx, "") }()
	go func() { errs <- p.runConnection(ctx, "yjs") }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	}
}

func (p *Peer) connected() bool {
	return p.neg.State() == StateConnected
}

func (p *Peer) sessionRTT() (time.Duration, bool) {
	sess := p.currentSession()
	if sess == nil {
		return 0, false
	}
	return sess.RTT()
}

// runConnection is one connection's lifetime: dial, serve, and on unclean
// loss retry on the exponential schedule. A clean close or an exhausted
// schedule ends the connection for good.
func (p *Peer) runConnection(ctx context.Context, purpose string) error {
	backoff := NewBackoff(ReconnectBaseDelay, ReconnectMaxAttempts)

	for {
		client, err := Dial(ctx, p.serverURL, purpose, p.log)
		if err == nil {
			backoff.Reset()
			err = p.serve(ctx, client, purpose)
			if err != nil {
				return err
			}
			if client.CloseWasClean() {
				return nil
			}
			p.log.Warn("relay connection lost", slog.String("purpose", purposeName(purpose)))
		} else {
			p.log.Warn("relay dial failed",
				slog.String("purpose", purposeName(purpose)), slog.Any("error", err))
		}

		delay, ok := backoff.Next()
		if !ok {
			return fmt.Errorf("peer: gave up after %d reconnect attempts", ReconnectMaxAttempts)
		}
		p.log.Info("reconnecting",
			slog.String("purpose", purposeName(purpose)),
			slog.Duration("delay", delay),
			slog.Int("attempt", backoff.Attempts()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func purposeName(purpose string) string {
	if purpose == "yjs" {
		return "replication"
	}
	return "media"
}

// serve pumps one connection's envelopes through the handler until the
// connection dies or ctx ends. A nil error means the connection is gone and
// the reconnect policy decides what happens next; a non-nil error is
// permanent.
func (p *Peer) serve(ctx context.Context, client *Client, purpose string) error {
	defer client.Close()

	handle := p.handleMedia
	if purpose == "yjs" {
		handle = p.handleReplication
		if err := p.sync.Attach(client.Send); err != nil {
			return nil
		}
	} else {
		p.mu.Lock()
		p.mediaSend = client.Send
		p.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-client.Incoming():
			if !ok {
				return nil
			}
			if err := handle(client, msg); err != nil {
				if errors.Is(err, ErrSessionFull) {
					return err
				}
				p.log.Warn("message handling failed",
					slog.String("type", string(msg.Type)), slog.Any("error", err))
			}
		}
	}
}

func (p *Peer) sendMedia(msg protocol.Envelope) error {
	p.mu.Lock()
	send := p.mediaSend
	p.mu.Unlock()
	if send == nil {
		return fmt.Errorf("peer: media connection not attached")
	}
	return send(msg)
}

// handleMedia dispatches one envelope from the media connection.
func (p *Peer) handleMedia(client *Client, msg protocol.Envelope) error {
	switch msg.Type {
	case protocol.TypeConnection:
		p.mu.Lock()
		p.clientID = *msg.ClientID
		p.videoID = msg.VideoUserID
		p.mu.Unlock()
		p.log.Info("joined session",
			slog.Int64("client_id", *msg.ClientID),
			slog.String("video_user_id", msg.VideoUserID))

	case protocol.TypeUserList:
		p.handleUserList(msg.Users)

	case protocol.TypeInitiateRTC:
		return p.neg.HandleInitiate(*msg.TargetClientID, *msg.ShouldInitiate)

	case protocol.TypeRTCOffer:
		if msg.SourceClientID == nil {
			return fmt.Errorf("peer: RTC_OFFER without sourceClientId")
		}
		sdp, err := protocol.DecodeSDP(msg.Data)
		if err != nil {
			return err
		}
		return p.neg.HandleOffer(*msg.SourceClientID, sdp)

	case protocol.TypeRTCAnswer:
		sdp, err := protocol.DecodeSDP(msg.Data)
		if err != nil {
			return err
		}
		return p.neg.HandleAnswer(sdp)

	case protocol.TypeRTCICECandidate:
		cand, err := protocol.DecodeCandidate(msg.Data)
		if err != nil {
			return err
		}
		return p.neg.HandleCandidate(cand)

	case protocol.TypeDisconnect:
		if *msg.ClientID == p.neg.TargetID() {
			p.log.Info("counterpart left", slog.Int64("client_id", *msg.ClientID))
			p.neg.Abandon()
		}

	case protocol.TypeError:
		if strings.Contains(msg.Message, "full") {
			return fmt.Errorf("%w: %s", ErrSessionFull, msg.Message)
		}
		p.log.Warn("relay error", slog.String("message", msg.Message))

	case protocol.TypePing:
		return client.Send(protocol.Envelope{Type: protocol.TypePong})
	}
	return nil
}

func (p *Peer) handleUserList(users []protocol.UserInfo) {
	p.mu.Lock()
	self := p.clientID
	p.mu.Unlock()

	for _, u := range users {
		if u.ClientID != self {
			p.neg.PeerAppeared(u.ClientID)
			return
		}
	}
}

// handleReplication dispatches one envelope from the replication connection.
func (p *Peer) handleReplication(client *Client, msg protocol.Envelope) error {
	switch msg.Type {
	case protocol.TypeSubscribe:
		p.sync.HandleSubscribed()
		p.sync.SeedAfterWait(dataset.Default())
	case protocol.TypePublish:
		return p.sync.HandlePublish(msg.Data)
	case protocol.TypePing:
		return client.Send(protocol.Envelope{Type: protocol.TypePong})
	}
	return nil
}
