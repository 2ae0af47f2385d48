package ws

import (
	"encoding/base64"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomcollab/relay/internal/protocol"
	"github.com/loomcollab/relay/internal/ratelimit"
	"github.com/loomcollab/relay/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxPendingFrames bounds the buffer of frames read before the join
	// completes.
	maxPendingFrames = 64

	// maxProtocolErrors is the repeated-offense threshold: a single bad frame
	// is dropped, a stream of them gets the connection closed.
	maxProtocolErrors = 32

	maxRateWarnings = 1000
)

type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateClosed
)

type inboundFrame struct {
	messageType int
	data        []byte
}

// Client wraps one websocket connection and drives the connection state
// machine: Connecting until the room join completes, Joined while frames
// flow, Closed once the transport dies. Frames that arrive while Connecting
// are buffered and replayed, so a fast client's first edits are never lost.
type Client struct {
	conn     *websocket.Conn
	peer     *room.Peer
	registry *room.Registry
	limiter  *ratelimit.Limiter
	opts     Options

	mu      sync.Mutex
	state   connState
	room    *room.Room
	pending []inboundFrame

	// protocolErrors is only touched from paths serialized by mu hand-off.
	protocolErrors int

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, peer *room.Peer, registry *room.Registry, opts Options) *Client {
	return &Client{
		conn:     conn,
		peer:     peer,
		registry: registry,
		limiter:  ratelimit.NewLimiter(opts.MessagesPerSecond, opts.MessageBurst),
		opts:     opts,
	}
}

// markJoined transitions to Joined and replays buffered frames in arrival
// order. Holding mu keeps the read pump from handling newer frames until the
// replay is done, preserving per-sender ordering.
func (c *Client) markJoined(rm *room.Room) {
	c.mu.Lock()
	c.room = rm
	if c.state == stateClosed {
		// The transport died while the join was in flight.
		c.mu.Unlock()
		rm.Leave(c.peer)
		c.registry.Release(rm)
		return
	}
	c.state = stateJoined
	pending := c.pending
	c.pending = nil
	for _, f := range pending {
		c.handleFrame(f.messageType, f.data)
	}
	c.mu.Unlock()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasJoined := c.state == stateJoined
		c.state = stateClosed
		rm := c.room
		c.mu.Unlock()

		if wasJoined && rm != nil {
			rm.Leave(c.peer)
			c.registry.Release(rm)
		}
		c.conn.Close()
	})
}

func (c *Client) dispatch(messageType int, data []byte) {
	c.mu.Lock()
	switch c.state {
	case stateConnecting:
		if len(c.pending) < maxPendingFrames {
			c.pending = append(c.pending, inboundFrame{messageType: messageType, data: data})
		}
		c.mu.Unlock()
	case stateJoined:
		c.mu.Unlock()
		c.handleFrame(messageType, data)
	default:
		c.mu.Unlock()
	}
}

func (c *Client) handleFrame(messageType int, data []byte) {
	switch messageType {
	case websocket.BinaryMessage:
		if err := protocol.ValidateDelta(data); err != nil {
			c.protocolError("delta", err)
			return
		}
		if err := c.room.ApplyUpdate(c.peer, data); err != nil {
			c.protocolError("delta", err)
		}

	case websocket.TextMessage:
		env, err := protocol.Decode(data, c.opts.MaxAwarenessBytes)
		if err != nil {
			c.protocolError("control", err)
			return
		}
		switch env.Type {
		case protocol.TypeAwareness:
			c.room.SetAwareness(c.peer, env.ClientID, env.State)
		case protocol.TypeSyncRequest:
			var sv []byte
			if env.SV != "" {
				if sv, err = base64.StdEncoding.DecodeString(env.SV); err != nil {
					c.protocolError("sync-request", err)
					return
				}
			}
			c.room.SyncRequest(c.peer, sv)
		case protocol.TypePing:
			c.room.Ping(c.peer)
		case protocol.TypePong:
			// Answer to an application-level ping; liveness is tracked by the
			// websocket pong handler.
		}
	}
}

// protocolError drops the offending frame. The connection survives isolated
// bad frames so one corrupt edit cannot evict a collaborator, but a repeat
// offender is cut off.
func (c *Client) protocolError(kind string, err error) {
	c.protocolErrors++
	log.Printf("ws: peer %s: bad %s frame (offense %d): %v", c.peer.ID, kind, c.protocolErrors, err)
	if c.protocolErrors >= maxProtocolErrors {
		log.Printf("ws: peer %s: closing after repeated protocol errors", c.peer.ID)
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateWarnings := 0

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws: peer %s: read error: %v", c.peer.ID, err)
			}
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			rateWarnings++
			if rateWarnings%100 == 1 {
				log.Printf("ws: peer %s: rate limit exceeded (warning #%d)", c.peer.ID, rateWarnings)
			}
			if rateWarnings > maxRateWarnings {
				log.Printf("ws: peer %s: disconnecting for excessive rate limit violations", c.peer.ID)
				return
			}
			continue
		}

		c.dispatch(messageType, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.peer.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The room closed our channel: we left or were evicted.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frameType := websocket.BinaryMessage
			if msg.Kind == room.OutboundControl {
				frameType = websocket.TextMessage
			}
			if err := c.conn.WriteMessage(frameType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
