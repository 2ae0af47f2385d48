package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/room"
)

func newTestHandler(t *testing.T) (*Handler, *room.Registry) {
	t.Helper()
	reg := room.NewRegistry(room.RegistryOptions{
		NewDocument: func(room.Key) crdt.Document { return crdt.NewUpdateLog() },
		GracePeriod: time.Minute,
	})
	t.Cleanup(reg.Close)
	return New(reg, nil), reg
}

func TestHealthHandler(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestStatsHandler(t *testing.T) {
	h, reg := newTestHandler(t)

	rm := reg.GetOrCreate(room.Key{Type: "doc", ID: "stats"})
	p := room.NewPeer("alice")
	rm.Join(p)
	<-p.Outbound() // join snapshot

	rec := httptest.NewRecorder()
	h.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["room_count"])
	require.Equal(t, float64(1), body["peer_count"])
	require.Equal(t, false, body["persistence"])
}
