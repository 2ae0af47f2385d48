package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/loomcollab/relay/internal/room"
	"github.com/loomcollab/relay/internal/store"
)

// Handler exposes the relay's operational surface. Document state is only
// reachable over the collaboration connection itself.
type Handler struct {
	registry *room.Registry
	store    *store.Store // nil when running memory-only
	started  time.Time
}

func New(registry *room.Registry, st *store.Store) *Handler {
	return &Handler{
		registry: registry,
		store:    st,
		started:  time.Now(),
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, peers := h.registry.Stats()

	stats := map[string]interface{}{
		"rooms":       rooms,
		"room_count":  len(rooms),
		"peer_count":  peers,
		"persistence": h.store != nil,
	}
	if h.store != nil {
		storeStats, err := h.store.Stats()
		if err != nil {
			log.Printf("api: store stats: %v", err)
		} else {
			stats["store"] = storeStats
		}
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
