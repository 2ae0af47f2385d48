package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/room"
)

func TestParseRoomKey(t *testing.T) {
	tests := []struct {
		path string
		want room.Key
		ok   bool
	}{
		{"/collab/doc/room-42/ws", room.Key{Type: "doc", ID: "room-42"}, true},
		{"/collab/flow/f1/ws", room.Key{Type: "flow", ID: "f1"}, true},
		{"/collab/doc/room-42", room.Key{}, false},
		{"/collab/doc//ws", room.Key{}, false},
		{"/collab//room-42/ws", room.Key{}, false},
		{"/collab/doc/a/b/ws", room.Key{}, false},
		{"/other/doc/room-42/ws", room.Key{}, false},
		{"/collab/", room.Key{}, false},
	}
	for _, tt := range tests {
		key, ok := parseRoomKey(tt.path)
		require.Equal(t, tt.ok, ok, tt.path)
		if tt.ok {
			require.Equal(t, tt.want, key, tt.path)
		}
	}
}

func newTestRegistry(t *testing.T) *room.Registry {
	t.Helper()
	reg := room.NewRegistry(room.RegistryOptions{
		NewDocument: func(room.Key) crdt.Document { return crdt.NewUpdateLog() },
		GracePeriod: time.Minute,
	})
	t.Cleanup(reg.Close)
	return reg
}

func recv(t *testing.T, p *room.Peer) room.Outbound {
	t.Helper()
	select {
	case msg := <-p.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound message")
		return room.Outbound{}
	}
}

// Frames read before the join completes are buffered and replayed in order
// once the connection reaches Joined.
func TestClientBuffersFramesUntilJoined(t *testing.T) {
	reg := newTestRegistry(t)
	key := room.Key{Type: "doc", ID: "buffered"}

	observer := room.NewPeer("observer")
	obRoom := reg.GetOrCreate(key)
	obRoom.Join(observer)
	recv(t, observer) // join snapshot

	peer := room.NewPeer("eager")
	client := newClient(nil, peer, reg, DefaultOptions())

	// The client races frames in before its join has completed.
	client.dispatch(websocket.BinaryMessage, []byte("first"))
	client.dispatch(websocket.BinaryMessage, []byte("second"))

	// Nothing reaches the room yet.
	select {
	case msg := <-observer.Outbound():
		t.Fatalf("frame leaked before join: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	rm := reg.GetOrCreate(key)
	rm.Join(peer)
	client.markJoined(rm)

	require.Equal(t, []byte("first"), recv(t, observer).Data)
	require.Equal(t, []byte("second"), recv(t, observer).Data)

	// Later frames flow straight through.
	client.dispatch(websocket.BinaryMessage, []byte("third"))
	require.Equal(t, []byte("third"), recv(t, observer).Data)
}

func TestClientAwarenessFrame(t *testing.T) {
	reg := newTestRegistry(t)
	key := room.Key{Type: "doc", ID: "aware-ws"}

	observer := room.NewPeer("observer")
	rm := reg.GetOrCreate(key)
	rm.Join(observer)
	recv(t, observer)

	peer := room.NewPeer("alice")
	client := newClient(nil, peer, reg, DefaultOptions())
	rm2 := reg.GetOrCreate(key)
	rm2.Join(peer)
	client.markJoined(rm2)
	recv(t, peer) // join snapshot

	client.dispatch(websocket.TextMessage, []byte(`{"type":"awareness","state":{"cursor":3}}`))

	msg := recv(t, observer)
	require.Equal(t, room.OutboundControl, msg.Kind)
	require.Contains(t, string(msg.Data), `"alice"`)
	require.Contains(t, string(msg.Data), `"cursor":3`)
}

func TestClientSyncRequestFrame(t *testing.T) {
	reg := newTestRegistry(t)
	key := room.Key{Type: "doc", ID: "resync-ws"}

	peer := room.NewPeer("alice")
	client := newClient(nil, peer, reg, DefaultOptions())
	rm := reg.GetOrCreate(key)
	rm.Join(peer)
	client.markJoined(rm)
	recv(t, peer) // join snapshot

	require.NoError(t, rm.ApplyUpdate(nil, []byte("d1")))
	recv(t, peer) // broadcast of d1

	client.dispatch(websocket.TextMessage, []byte(`{"type":"sync-request"}`))
	snap := recv(t, peer)
	require.Equal(t, room.OutboundBinary, snap.Kind)
	require.Equal(t, [][]byte{[]byte("d1")}, crdt.DecodeSnapshot(snap.Data))
}

// newConnPair dials a throwaway websocket server and hands back both ends.
func newConnPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-connCh
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

// Isolated bad frames are dropped without evicting the collaborator; only a
// repeat offender reaching the threshold loses its connection.
func TestClientClosesAfterRepeatedProtocolErrors(t *testing.T) {
	reg := newTestRegistry(t)
	serverConn, _ := newConnPair(t)

	peer := room.NewPeer("offender")
	client := newClient(serverConn, peer, reg, DefaultOptions())
	rm := reg.GetOrCreate(room.Key{Type: "doc", ID: "abuse"})
	rm.Join(peer)
	client.markJoined(rm)
	recv(t, peer) // join snapshot

	bad := []byte(`{"type":"teleport"}`)
	for i := 0; i < maxProtocolErrors-1; i++ {
		client.dispatch(websocket.TextMessage, bad)
	}

	// Still connected and still relaying after every sub-threshold offense.
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, rm.ApplyUpdate(nil, []byte("d1")))
	require.Equal(t, []byte("d1"), recv(t, peer).Data)

	// The threshold offense closes the transport.
	client.dispatch(websocket.TextMessage, bad)
	require.Error(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
}

func TestClientPingFrame(t *testing.T) {
	reg := newTestRegistry(t)
	key := room.Key{Type: "doc", ID: "ping-ws"}

	peer := room.NewPeer("alice")
	client := newClient(nil, peer, reg, DefaultOptions())
	rm := reg.GetOrCreate(key)
	rm.Join(peer)
	client.markJoined(rm)
	recv(t, peer) // join snapshot

	client.dispatch(websocket.TextMessage, []byte(`{"type":"ping"}`))
	pong := recv(t, peer)
	require.Equal(t, room.OutboundControl, pong.Kind)
	require.Contains(t, string(pong.Data), `"pong"`)
}
