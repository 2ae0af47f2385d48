package persist

import (
	"log"
	"sync"
	"time"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/loomcollab/relay/internal/room"
	"github.com/loomcollab/relay/internal/store"
)

type Config struct {
	Interval       time.Duration
	DeltaThreshold int
}

func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		DeltaThreshold: 100,
	}
}

// Snapshotter periodically folds each room's persisted delta log into its
// snapshot and trims the covered deltas, bounding restart replay time and
// on-disk growth. It works entirely from store contents, never touching
// in-memory rooms.
type Snapshotter struct {
	st     *store.Store
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewSnapshotter(st *store.Store, config Config) *Snapshotter {
	return &Snapshotter{
		st:     st,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Snapshotter) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("persist: snapshotter started (interval: %v, threshold: %d deltas)",
		s.config.Interval, s.config.DeltaThreshold)
}

func (s *Snapshotter) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Snapshotter) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.snapshotAll()
			return
		case <-ticker.C:
			s.snapshotAll()
		}
	}
}

func (s *Snapshotter) snapshotAll() {
	keys, err := s.st.ListRooms()
	if err != nil {
		log.Printf("persist: list rooms: %v", err)
		return
	}

	rolled := 0
	for _, key := range keys {
		count, err := s.st.PendingDeltaCount(key)
		if err != nil || count < s.config.DeltaThreshold {
			continue
		}
		if err := s.SnapshotNow(key); err != nil {
			log.Printf("persist: snapshot room %s: %v", key, err)
		} else {
			rolled++
		}
	}
	if rolled > 0 {
		log.Printf("persist: rolled up %d rooms", rolled)
	}
}

// SnapshotNow folds all pending deltas for one room into its snapshot,
// regardless of the threshold. Also invoked when a room is reclaimed.
func (s *Snapshotter) SnapshotNow(key room.Key) error {
	snapshot, lastID, err := s.st.GetSnapshot(key)
	if err != nil {
		return err
	}
	deltas, maxID, err := s.st.GetDeltasAfter(key, lastID)
	if err != nil {
		return err
	}
	if len(deltas) == 0 {
		return nil
	}

	if err := s.st.SaveSnapshot(key, crdt.AppendSnapshot(snapshot, deltas), maxID); err != nil {
		return err
	}
	return s.st.DeleteDeltasThrough(key, maxID)
}
