package room

import "github.com/google/uuid"

const peerSendBuffer = 512

// OutboundKind tells the transport layer which websocket frame type to use.
type OutboundKind int

const (
	// OutboundBinary carries raw CRDT delta or snapshot bytes.
	OutboundBinary OutboundKind = iota
	// OutboundControl carries a JSON control envelope.
	OutboundControl
)

type Outbound struct {
	Kind OutboundKind
	Data []byte
}

// Peer is a room's handle on one connected client. The transport owns the
// connection; the room only holds this send capability. The room closes the
// outbound channel when the peer leaves or is evicted.
type Peer struct {
	ID       string
	ClientID string
	send     chan Outbound
}

// NewPeer allocates a peer handle. An empty clientID gets a generated one.
func NewPeer(clientID string) *Peer {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Peer{
		ID:       uuid.NewString(),
		ClientID: clientID,
		send:     make(chan Outbound, peerSendBuffer),
	}
}

// Outbound is drained by the transport's write loop until closed.
func (p *Peer) Outbound() <-chan Outbound {
	return p.send
}

// trySend enqueues without blocking. A full buffer means the peer cannot keep
// up; the room evicts it rather than stall the other peers.
func (p *Peer) trySend(msg Outbound) bool {
	if msg.Data == nil {
		return true
	}
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}
