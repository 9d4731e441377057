package relay

import (
	"github.com/vizlink/vizlink/internal/metrics"
	"github.com/vizlink/vizlink/internal/protocol"
)

// dispatch routes one validated envelope from a connection. Unroutable
// messages (unknown target, wrong purpose) are dropped without closing the
// sender: the sender has no synchronous expectation of delivery.
func (h *Hub) dispatch(c *client, msg protocol.Envelope) {
	switch msg.Type {
	case protocol.TypePing:
		c.enqueue(protocol.Envelope{Type: protocol.TypePong})

	case protocol.TypeConnect:
		// Hello from a participant; the assignment was already sent on admit.

	case protocol.TypePublish:
		h.publish(c, msg)

	case protocol.TypeSubscribe:
		h.subscribe(c, msg.Topic)

	case protocol.TypeUnsubscribe:
		h.unsubscribe(c, msg.Topic)

	case protocol.TypeRTCOffer, protocol.TypeRTCAnswer, protocol.TypeRTCICECandidate:
		h.routeByClientID(c, msg)

	case protocol.TypeVideoOffer, protocol.TypeVideoAnswer, protocol.TypeICECandidate:
		h.routeByVideoID(c, msg)

	case protocol.TypeJoinVideoRoom:
		h.joinVideoRoom(c, msg.RoomID)

	case protocol.TypeLeaveVideoRoom:
		h.leaveVideoRoom(c, msg.RoomID)

	default:
		// Server-originated types (CONNECTION, USER_LIST, ...) are not valid
		// inbound; treat like a protocol error.
		h.metrics.Inc(metrics.MessagesDropped)
		h.log.Debug("dropping unroutable message", "type", string(msg.Type), "client_id", c.id)
	}
}

// publish adds the sender to the topic's member set if absent, then forwards
// the payload to every other member whose transport is open. There is no
// delivery guarantee beyond "open at forward time".
func (h *Hub) publish(c *client, msg protocol.Envelope) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	members, ok := h.topics[msg.Topic]
	if !ok {
		members = make(map[*client]struct{})
		h.topics[msg.Topic] = members
	}
	members[c] = struct{}{}
	targets := make([]*client, 0, len(members))
	for m := range members {
		if m != c {
			targets = append(targets, m)
		}
	}
	h.mu.Unlock()

	h.metrics.Inc(metrics.TopicPublishes)
	for _, t := range targets {
		if t.enqueue(msg) {
			h.metrics.Inc(metrics.MessagesForwarded)
		}
	}
}

// subscribe registers topic membership. A hub that is shutting down closes
// the subscriber instead: nothing may register after the shutdown sweep.
func (h *Hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[*client]struct{})
		h.topics[topic] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.Inc(metrics.TopicSubscribes)
	c.enqueue(protocol.Envelope{Type: protocol.TypeSubscribe, Topic: topic})
}

// unsubscribe removes membership only; the topic itself survives until its
// last member disconnects.
func (h *Hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	if members, ok := h.topics[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

// routeByClientID forwards a negotiation message to the numeric target id,
// rewriting the envelope so the receiver sees who it came from. Unknown or
// closed targets are silently dropped.
func (h *Hub) routeByClientID(c *client, msg protocol.Envelope) {
	if c.id == 0 || msg.TargetClientID == nil {
		h.metrics.Inc(metrics.MessagesDropped)
		return
	}

	h.mu.Lock()
	target, ok := h.media[*msg.TargetClientID]
	h.mu.Unlock()
	if !ok {
		h.metrics.Inc(metrics.TargetNotFound)
		h.log.Debug("directed message to unknown client", "type", string(msg.Type), "target", *msg.TargetClientID)
		return
	}

	msg.TargetClientID = nil
	msg.SourceClientID = protocol.Int64(c.id)
	if target.enqueue(msg) {
		h.metrics.Inc(metrics.MessagesForwarded)
	}
}

// routeByVideoID forwards a video-room negotiation message to the opaque
// video peer id, rewriting peerId to identify the sender on delivery.
func (h *Hub) routeByVideoID(c *client, msg protocol.Envelope) {
	if c.videoID == "" {
		h.metrics.Inc(metrics.MessagesDropped)
		return
	}

	h.mu.Lock()
	target, ok := h.byVideoID[msg.PeerID]
	h.mu.Unlock()
	if !ok {
		h.metrics.Inc(metrics.TargetNotFound)
		h.log.Debug("directed message to unknown video peer", "type", string(msg.Type), "peer_id", msg.PeerID)
		return
	}

	msg.PeerID = c.videoID
	if target.enqueue(msg) {
		h.metrics.Inc(metrics.MessagesForwarded)
	}
}

// joinVideoRoom adds the participant to a room, tells it which peers already
// exist, and announces it to the room.
func (h *Hub) joinVideoRoom(c *client, roomID string) {
	if c.videoID == "" {
		h.metrics.Inc(metrics.MessagesDropped)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return
	}
	members, ok := h.videoRooms[roomID]
	if !ok {
		members = make(map[*client]struct{})
		h.videoRooms[roomID] = members
	}
	if _, already := members[c]; already {
		h.mu.Unlock()
		return
	}

	existing := make([]string, 0, len(members))
	rest := make([]*client, 0, len(members))
	for m := range members {
		existing = append(existing, m.videoID)
		rest = append(rest, m)
	}

	members[c] = struct{}{}
	rooms, ok := h.roomOf[c]
	if !ok {
		rooms = make(map[string]struct{})
		h.roomOf[c] = rooms
	}
	rooms[roomID] = struct{}{}
	h.mu.Unlock()

	c.enqueue(protocol.Envelope{Type: protocol.TypeExistingPeers, RoomID: roomID, PeerIDs: existing})
	for _, m := range rest {
		m.enqueue(protocol.Envelope{Type: protocol.TypeNewPeer, RoomID: roomID, PeerID: c.videoID})
	}
	h.log.Debug("joined video room", "room_id", roomID, "peer_id", c.videoID, "existing", len(existing))
}

func (h *Hub) leaveVideoRoom(c *client, roomID string) {
	h.mu.Lock()
	members, ok := h.videoRooms[roomID]
	if ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.videoRooms, roomID)
		}
	}
	if rooms, ok := h.roomOf[c]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.roomOf, c)
		}
	}
	rest := make([]*client, 0, len(members))
	for m := range members {
		rest = append(rest, m)
	}
	h.mu.Unlock()

	for _, m := range rest {
		m.enqueue(protocol.Envelope{Type: protocol.TypePeerLeft, RoomID: roomID, PeerID: c.videoID})
	}
}
