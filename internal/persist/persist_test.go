package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/room"
	"github.com/loomcollab/relay/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWriterPersistsDeltas(t *testing.T) {
	st := newTestStore(t)
	key := room.Key{Type: "doc", ID: "written"}

	w := NewWriter(st)
	w.Enqueue(key, []byte("d1"))
	w.Enqueue(key, []byte("d2"))
	w.Stop()

	_, deltas, err := st.LoadDocument(key)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("d1"), []byte("d2")}, deltas)
}

func TestSnapshotNowFoldsDeltaLog(t *testing.T) {
	st := newTestStore(t)
	key := room.Key{Type: "doc", ID: "folded"}

	for _, d := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveDelta(key, []byte(d)))
	}

	s := NewSnapshotter(st, DefaultConfig())
	require.NoError(t, s.SnapshotNow(key))

	snapshot, deltas, err := st.LoadDocument(key)
	require.NoError(t, err)
	require.Empty(t, deltas)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, crdt.DecodeSnapshot(snapshot))

	// A second round folds newer deltas onto the existing snapshot.
	require.NoError(t, st.SaveDelta(key, []byte("d")))
	require.NoError(t, s.SnapshotNow(key))

	snapshot, deltas, err = st.LoadDocument(key)
	require.NoError(t, err)
	require.Empty(t, deltas)
	require.Len(t, crdt.DecodeSnapshot(snapshot), 4)
}

func TestSnapshotNowNoopWithoutPendingDeltas(t *testing.T) {
	st := newTestStore(t)
	key := room.Key{Type: "doc", ID: "quiet"}

	s := NewSnapshotter(st, DefaultConfig())
	require.NoError(t, s.SnapshotNow(key))

	snapshot, _, err := st.GetSnapshot(key)
	require.NoError(t, err)
	require.Nil(t, snapshot)
}

// A restart replays snapshot plus tail deltas into an identical document.
func TestPersistedDocumentSurvivesRestart(t *testing.T) {
	st := newTestStore(t)
	key := room.Key{Type: "doc", ID: "durable"}

	doc := crdt.NewUpdateLog()
	for _, d := range []string{"d1", "d2", "d3"} {
		require.NoError(t, doc.ApplyDelta([]byte(d)))
		require.NoError(t, st.SaveDelta(key, []byte(d)))
	}

	s := NewSnapshotter(st, DefaultConfig())
	require.NoError(t, s.SnapshotNow(key))
	require.NoError(t, st.SaveDelta(key, []byte("d4")))
	require.NoError(t, doc.ApplyDelta([]byte("d4")))

	snapshot, deltas, err := st.LoadDocument(key)
	require.NoError(t, err)
	revived := crdt.NewUpdateLogFromSnapshot(snapshot)
	for _, d := range deltas {
		require.NoError(t, revived.ApplyDelta(d))
	}
	require.Equal(t, doc.EncodeSnapshot(), revived.EncodeSnapshot())
}
