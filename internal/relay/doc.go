// Package relay implements the signaling hub: it classifies incoming
// WebSocket connections as media participants or replication peers, enforces
// the two-participant media cap, assigns negotiation roles, and routes both
// point-to-point negotiation messages and topic-scoped publish/subscribe
// fan-out for document replication.
package relay
