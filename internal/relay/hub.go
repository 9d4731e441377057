package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vizlink/vizlink/internal/config"
	"github.com/vizlink/vizlink/internal/metrics"
	"github.com/vizlink/vizlink/internal/origin"
	"github.com/vizlink/vizlink/internal/protocol"
)

// maxMediaParticipants is the hard cap on concurrent media participants.
// Exactly two browsers may negotiate a direct media link at a time.
const maxMediaParticipants = 2

const capacityErrorMessage = "session is full: two participants are already connected"

// Hub owns the relay's connection tables. All table mutation happens under
// one mutex; per-connection I/O runs on the connections' own pumps.
type Hub struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu           sync.Mutex
	nextClientID int64
	media        map[int64]*client
	mediaOrder   []int64 // admission order; first-joined initiates
	byVideoID    map[string]*client
	topics       map[string]map[*client]struct{}
	videoRooms   map[string]map[*client]struct{}
	roomOf       map[*client]map[string]struct{} // video rooms by member
	issuedPairs  map[string]struct{}
	closed       bool
}

func NewHub(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origin.NewChecker(cfg.AllowedOrigins).Allow,
		},
		media:       make(map[int64]*client),
		byVideoID:   make(map[string]*client),
		topics:      make(map[string]map[*client]struct{}),
		videoRooms:  make(map[string]map[*client]struct{}),
		roomOf:      make(map[*client]map[string]struct{}),
		issuedPairs: make(map[string]struct{}),
	}
}

// ServeHTTP upgrades the connection and classifies it by the `type` query
// parameter: `yjs` selects the replication relay; anything else is a media
// coordination connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	purpose := PurposeMedia
	if r.URL.Query().Get("type") == "yjs" {
		purpose = PurposeReplication
	}

	c := newClient(h, conn, purpose)
	go c.writePump()

	if purpose == PurposeMedia {
		if !h.admit(c) {
			return
		}
	} else {
		h.log.Debug("replication peer connected", c.logAttrs()...)
	}

	go c.readPump()
}

// admit registers a media participant, enforcing the participant cap. The
// third concurrent media connection receives an explicit capacity ERROR and
// is closed before it ever appears in the client list.
func (h *Hub) admit(c *client) bool {
	h.mu.Lock()
	if h.closed || len(h.media) >= maxMediaParticipants {
		h.mu.Unlock()
		h.metrics.Inc(metrics.MediaRejected)
		h.log.Info("rejecting media participant: at capacity", "remote_addr", c.conn.RemoteAddr().String())
		c.enqueue(protocol.Envelope{Type: protocol.TypeError, Message: capacityErrorMessage})
		// Give the write pump a moment to flush the error before closing.
		go func() {
			time.Sleep(writeWait / 10)
			c.close()
		}()
		return false
	}

	h.nextClientID++
	c.id = h.nextClientID
	c.videoID = uuid.NewString()
	h.media[c.id] = c
	h.mediaOrder = append(h.mediaOrder, c.id)
	h.byVideoID[c.videoID] = c

	users := h.userListLocked()
	var first, second *client
	if len(h.mediaOrder) == maxMediaParticipants {
		first = h.media[h.mediaOrder[0]]
		second = h.media[h.mediaOrder[1]]
		key := pairKey(first.id, second.id)
		if _, done := h.issuedPairs[key]; done {
			first, second = nil, nil
		} else {
			h.issuedPairs[key] = struct{}{}
		}
	}
	h.mu.Unlock()

	h.metrics.Inc(metrics.MediaAdmitted)
	h.log.Info("media participant admitted", c.logAttrs()...)

	c.enqueue(protocol.Envelope{
		Type:        protocol.TypeConnection,
		ClientID:    protocol.Int64(c.id),
		VideoUserID: c.videoID,
	})
	h.broadcastMedia(protocol.Envelope{Type: protocol.TypeUserList, Users: users}, nil)

	// First-joined initiates; the instruction is issued exactly once per
	// pairing.
	if first != nil && second != nil {
		first.enqueue(protocol.Envelope{
			Type:           protocol.TypeInitiateRTC,
			TargetClientID: protocol.Int64(second.id),
			ShouldInitiate: protocol.Bool(true),
		})
		second.enqueue(protocol.Envelope{
			Type:           protocol.TypeInitiateRTC,
			TargetClientID: protocol.Int64(first.id),
			ShouldInitiate: protocol.Bool(false),
		})
		h.log.Info("issued negotiation roles", "initiator", first.id, "responder", second.id)
	}

	return true
}

// onDisconnect removes the connection from every table it appears in and
// notifies affected rooms. Safe to call for never-admitted connections.
func (h *Hub) onDisconnect(c *client) {
	h.mu.Lock()
	wasMedia := false
	if c.id != 0 {
		if _, ok := h.media[c.id]; ok {
			wasMedia = true
			delete(h.media, c.id)
			delete(h.byVideoID, c.videoID)
			for i, id := range h.mediaOrder {
				if id == c.id {
					h.mediaOrder = append(h.mediaOrder[:i], h.mediaOrder[i+1:]...)
					break
				}
			}
		}
	}

	for topic, members := range h.topics {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}

	affectedRooms := make(map[string][]*client)
	if rooms, ok := h.roomOf[c]; ok {
		for roomID := range rooms {
			members := h.videoRooms[roomID]
			delete(members, c)
			if len(members) == 0 {
				delete(h.videoRooms, roomID)
				continue
			}
			rest := make([]*client, 0, len(members))
			for m := range members {
				rest = append(rest, m)
			}
			affectedRooms[roomID] = rest
		}
		delete(h.roomOf, c)
	}

	users := h.userListLocked()
	h.mu.Unlock()

	if wasMedia {
		h.metrics.Inc(metrics.MediaDisconnected)
		h.log.Info("media participant disconnected", c.logAttrs()...)
		h.broadcastMedia(protocol.Envelope{Type: protocol.TypeDisconnect, ClientID: protocol.Int64(c.id)}, nil)
		h.broadcastMedia(protocol.Envelope{Type: protocol.TypeUserList, Users: users}, nil)
	}

	for roomID, members := range affectedRooms {
		for _, m := range members {
			m.enqueue(protocol.Envelope{Type: protocol.TypePeerLeft, RoomID: roomID, PeerID: c.videoID})
		}
	}
}

// broadcastMedia sends an envelope to every media participant except skip.
func (h *Hub) broadcastMedia(msg protocol.Envelope, skip *client) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.media))
	for _, m := range h.media {
		if m != skip {
			targets = append(targets, m)
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		t.enqueue(msg)
	}
}

func (h *Hub) userListLocked() []protocol.UserInfo {
	users := make([]protocol.UserInfo, 0, len(h.mediaOrder))
	for _, id := range h.mediaOrder {
		if m, ok := h.media[id]; ok {
			users = append(users, protocol.UserInfo{ClientID: m.id, VideoUserID: m.videoID})
		}
	}
	return users
}

// MediaParticipants reports the current number of admitted media participants.
func (h *Hub) MediaParticipants() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.media)
}

// Close drops every tracked connection. New media admits are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, m := range h.media {
		all = append(all, m)
	}
	for _, members := range h.topics {
		for m := range members {
			all = append(all, m)
		}
	}
	h.mu.Unlock()

	seen := make(map[*client]struct{}, len(all))
	for _, c := range all {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		c.close()
	}
}

func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
