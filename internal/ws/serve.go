package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/loomcollab/relay/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	MaxMessageBytes   int64
	MaxAwarenessBytes int
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultOptions() Options {
	return Options{
		MaxMessageBytes:   1024 * 1024,
		MaxAwarenessBytes: 16 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// Handler accepts relay connections on /collab/{roomType}/{roomId}/ws.
type Handler struct {
	registry *room.Registry
	opts     Options
}

func NewHandler(registry *room.Registry, opts Options) *Handler {
	return &Handler{registry: registry, opts: opts}
}

// parseRoomKey extracts the room key from a request path of the form
// /collab/{roomType}/{roomId}/ws.
func parseRoomKey(path string) (room.Key, bool) {
	rest, ok := strings.CutPrefix(path, "/collab/")
	if !ok {
		return room.Key{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "ws" || parts[0] == "" || parts[1] == "" {
		return room.Key{}, false
	}
	return room.Key{Type: parts[0], ID: parts[1]}, true
}

// ServeHTTP upgrades the connection and joins it to its room. Missing or
// malformed room identifiers are refused before the upgrade; the registry is
// never consulted with an invalid key.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, ok := parseRoomKey(r.URL.Path)
	if !ok {
		http.Error(w, "invalid room path", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ws: upgrade error:", err)
		return
	}

	peer := room.NewPeer(r.URL.Query().Get("client"))
	client := newClient(conn, peer, h.registry, h.opts)

	go client.writePump()
	go client.readPump()

	// The read pump buffers any frames the client races ahead with; they
	// replay once the join completes.
	rm := h.registry.GetOrCreate(key)
	rm.Join(peer)
	client.markJoined(rm)
}
