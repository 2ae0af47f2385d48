package room

import (
	"encoding/json"
	"log"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/protocol"
)

// Room owns one CRDT document, one awareness table, and the set of connected
// peers for a key. All operations run on the room's own goroutine, so the
// document and peer set are mutated from exactly one place; callers block
// until their command has executed.
//
// Rooms are created and reclaimed only by the Registry.
type Room struct {
	key       Key
	doc       crdt.Document
	awareness *Awareness
	peers     map[*Peer]bool

	// claimed tracks which awareness entries each peer has written, so a
	// disconnect clears all of them even when a peer published presence
	// under ids other than its connect-time client id.
	claimed map[*Peer]map[string]bool

	commands chan func()
	stop     chan struct{}
	done     chan struct{}

	// onDelta, when set, receives every applied delta for persistence.
	onDelta func(Key, []byte)
}

func newRoom(key Key, doc crdt.Document, onDelta func(Key, []byte)) *Room {
	return &Room{
		key:       key,
		doc:       doc,
		awareness: NewAwareness(),
		peers:     make(map[*Peer]bool),
		claimed:   make(map[*Peer]map[string]bool),
		commands:  make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		onDelta:   onDelta,
	}
}

func (r *Room) Key() Key {
	return r.key
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.commands:
			cmd()
		case <-r.stop:
			return
		}
	}
}

// exec runs fn on the room goroutine and waits for it, reporting whether fn
// ran. After the registry has stopped the room, exec is a no-op; the registry
// only stops rooms no caller holds a reference to, so this path is not hit in
// normal operation.
func (r *Room) exec(fn func()) bool {
	ran := make(chan struct{})
	select {
	case r.commands <- func() { fn(); close(ran) }:
		<-ran
		return true
	case <-r.stop:
		return false
	}
}

// Join sends the current snapshot and awareness table to the peer, then adds
// it to the broadcast set. Because this runs as one command, no concurrent
// update can be broadcast between the snapshot and membership: the new peer
// neither misses a delta nor receives one already folded into its snapshot.
func (r *Room) Join(p *Peer) {
	r.exec(func() {
		p.trySend(Outbound{Kind: OutboundBinary, Data: r.doc.EncodeSnapshot()})
		for _, e := range r.awareness.Entries() {
			p.trySend(Outbound{Kind: OutboundControl, Data: protocol.Awareness(e.ClientID, e.State)})
		}
		r.peers[p] = true
		log.Printf("room %s: peer %s joined as %s (total: %d)", r.key, p.ID, p.ClientID, len(r.peers))
	})
}

// Leave removes the peer, clears its awareness entry, and tells the remaining
// peers to drop its presence indicators. Safe to call more than once.
func (r *Room) Leave(p *Peer) {
	r.exec(func() {
		if r.removePeer(p) {
			log.Printf("room %s: peer %s left (remaining: %d)", r.key, p.ID, len(r.peers))
		}
	})
}

func (r *Room) removePeer(p *Peer) bool {
	if !r.peers[p] {
		return false
	}
	delete(r.peers, p)
	close(p.send)

	ids := map[string]bool{p.ClientID: true}
	for id := range r.claimed[p] {
		ids[id] = true
	}
	delete(r.claimed, p)

	for id := range ids {
		if r.awareness.Clear(id) {
			r.broadcast(nil, Outbound{Kind: OutboundControl, Data: protocol.AwarenessRemoval(id)})
		}
	}
	return true
}

// broadcast fans msg out to every peer except sender. A peer whose buffer is
// full is evicted so one stalled transport cannot hold up the room; its
// connection notices the closed channel and runs its own disconnect path.
func (r *Room) broadcast(sender *Peer, msg Outbound) {
	var evicted []*Peer
	for p := range r.peers {
		if p == sender {
			continue
		}
		if !p.trySend(msg) {
			evicted = append(evicted, p)
		}
	}
	for _, p := range evicted {
		log.Printf("room %s: evicting slow peer %s", r.key, p.ID)
		r.removePeer(p)
	}
}

// ApplyUpdate merges a delta into the document and relays it, unchanged, to
// every other peer. The returned error is a protocol error: the frame was
// rejected and nothing was applied or broadcast.
func (r *Room) ApplyUpdate(sender *Peer, delta []byte) error {
	var applyErr error
	r.exec(func() {
		if applyErr = r.doc.ApplyDelta(delta); applyErr != nil {
			return
		}
		r.broadcast(sender, Outbound{Kind: OutboundBinary, Data: delta})
		if r.onDelta != nil {
			r.onDelta(r.key, delta)
		}
	})
	return applyErr
}

// SetAwareness stores a presence payload and rebroadcasts it to everyone but
// the sender. A null payload clears the entry instead.
func (r *Room) SetAwareness(sender *Peer, clientID string, state json.RawMessage) {
	if clientID == "" {
		clientID = sender.ClientID
	}
	removal := len(state) == 0 || string(state) == "null"

	r.exec(func() {
		if removal {
			if sender != nil {
				delete(r.claimed[sender], clientID)
			}
			if r.awareness.Clear(clientID) {
				r.broadcast(sender, Outbound{Kind: OutboundControl, Data: protocol.AwarenessRemoval(clientID)})
			}
			return
		}
		if sender != nil {
			if r.claimed[sender] == nil {
				r.claimed[sender] = make(map[string]bool)
			}
			r.claimed[sender][clientID] = true
		}
		r.awareness.Set(clientID, state)
		r.broadcast(sender, Outbound{Kind: OutboundControl, Data: protocol.Awareness(clientID, state)})
	})
}

// SyncRequest sends the peer a fresh snapshot, or just the deltas it is
// missing when it supplied a state vector. Used for resync after a suspected
// desync.
func (r *Room) SyncRequest(p *Peer, stateVector []byte) {
	r.exec(func() {
		var data []byte
		if len(stateVector) > 0 {
			data = r.doc.EncodeDeltaSince(stateVector)
		} else {
			data = r.doc.EncodeSnapshot()
		}
		p.trySend(Outbound{Kind: OutboundBinary, Data: data})
	})
}

// Ping answers an application-level ping. Routed through the room goroutine
// so the reply cannot race the close of the peer's outbound channel.
func (r *Room) Ping(p *Peer) {
	r.exec(func() {
		if r.peers[p] {
			p.trySend(Outbound{Kind: OutboundControl, Data: protocol.Pong()})
		}
	})
}

type Stats struct {
	Key       string `json:"key"`
	Peers     int    `json:"peers"`
	Awareness int    `json:"awareness_entries"`
}

// Stats reports the room's current counts. The second return is false when
// the room was reclaimed before the request could run.
func (r *Room) Stats() (Stats, bool) {
	var s Stats
	ok := r.exec(func() {
		s = Stats{Key: r.key.String(), Peers: len(r.peers), Awareness: r.awareness.Len()}
	})
	return s, ok
}
