package room

import (
	"encoding/json"
	"sync"

	"github.com/samber/lo"
)

// AwarenessEntry is one client's last-known presence payload.
type AwarenessEntry struct {
	ClientID string
	State    json.RawMessage
}

// Awareness is a room's ephemeral presence table. Entries are never
// persisted; they live exactly as long as their client's connection.
type Awareness struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func NewAwareness() *Awareness {
	return &Awareness{entries: make(map[string]json.RawMessage)}
}

// Set stores a client's presence payload, overwriting any prior value.
func (a *Awareness) Set(clientID string, state json.RawMessage) {
	a.mu.Lock()
	a.entries[clientID] = state
	a.mu.Unlock()
}

// Clear removes a client's entry, reporting whether one existed.
func (a *Awareness) Clear(clientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[clientID]; !ok {
		return false
	}
	delete(a.entries, clientID)
	return true
}

// Entries returns a copy of the table for sending to a joining peer.
func (a *Awareness) Entries() []AwarenessEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return lo.MapToSlice(a.entries, func(clientID string, state json.RawMessage) AwarenessEntry {
		return AwarenessEntry{ClientID: clientID, State: state}
	})
}

func (a *Awareness) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
