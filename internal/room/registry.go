package room

import (
	"log"
	"sync"
	"time"

	"github.com/loomcollab/relay/internal/crdt"
	"github.com/samber/lo"
)

// RegistryOptions configures room construction and reclamation.
type RegistryOptions struct {
	// NewDocument builds the document for a freshly created room. Required.
	// Deployments with persistence rehydrate from storage here.
	NewDocument func(Key) crdt.Document

	// OnDelta receives every applied delta, for async persistence. Optional.
	OnDelta func(Key, []byte)

	// OnReap runs after an empty room has been removed from the registry,
	// before its goroutine stops. Optional; used to roll up a final snapshot.
	OnReap func(Key)

	// GracePeriod keeps an empty room warm so quick reconnects find their
	// document still in memory. Zero reclaims as soon as the last reference
	// is released.
	GracePeriod time.Duration

	// ReapInterval is how often empty rooms are scanned. Defaults to 30s.
	ReapInterval time.Duration
}

type entry struct {
	room       *Room
	refs       int
	emptySince time.Time
}

// Registry is the single authority for room existence. GetOrCreate pins a
// reference that must be released with Release; a room is reclaimed only
// when its refcount has been zero for at least the grace period, so a room
// with peers is never destroyed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[Key]*entry
	opts  RegistryOptions

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	r := &Registry{
		rooms: make(map[Key]*entry),
		opts:  opts,
		stop:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.reapLoop()
	return r
}

// GetOrCreate returns the live room for key, constructing it if absent.
// Exactly one room exists per key even under concurrent calls. The returned
// room is pinned until the caller invokes Release.
func (r *Registry) GetOrCreate(key Key) *Room {
	r.mu.Lock()
	e, ok := r.rooms[key]
	if !ok {
		rm := newRoom(key, r.opts.NewDocument(key), r.opts.OnDelta)
		go rm.run()
		e = &entry{room: rm}
		r.rooms[key] = e
		log.Printf("room %s: created", key)
	}
	e.refs++
	e.emptySince = time.Time{}
	r.mu.Unlock()
	return e.room
}

// Release unpins a reference taken by GetOrCreate. When the last reference
// goes, the room becomes eligible for reclamation; with a zero grace period
// it is reaped immediately.
func (r *Registry) Release(rm *Room) {
	var reap *Room
	r.mu.Lock()
	if e, ok := r.rooms[rm.key]; ok && e.room == rm {
		e.refs--
		if e.refs <= 0 {
			if r.opts.GracePeriod <= 0 {
				delete(r.rooms, rm.key)
				reap = rm
			} else {
				e.emptySince = time.Now()
			}
		}
	}
	r.mu.Unlock()

	if reap != nil {
		r.shutdownRoom(reap)
	}
}

// Rooms snapshots the currently live rooms.
func (r *Registry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.rooms, func(_ Key, e *entry) *Room {
		return e.room
	})
}

// Stats collects per-room stats plus totals. Rooms reclaimed mid-collection
// are skipped.
func (r *Registry) Stats() (rooms []Stats, peers int) {
	for _, rm := range r.Rooms() {
		s, ok := rm.Stats()
		if !ok {
			continue
		}
		rooms = append(rooms, s)
		peers += s.Peers
	}
	return rooms, peers
}

func (r *Registry) reapLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.opts.GracePeriod)

	var idle []*Room
	r.mu.Lock()
	for key, e := range r.rooms {
		if e.refs <= 0 && !e.emptySince.IsZero() && e.emptySince.Before(cutoff) {
			delete(r.rooms, key)
			idle = append(idle, e.room)
		}
	}
	r.mu.Unlock()

	for _, rm := range idle {
		r.shutdownRoom(rm)
	}
}

// shutdownRoom runs after the room has been removed from the map with zero
// refs, so no further commands can arrive.
func (r *Registry) shutdownRoom(rm *Room) {
	if r.opts.OnReap != nil {
		r.opts.OnReap(rm.key)
	}
	close(rm.stop)
	<-rm.done
	log.Printf("room %s: reclaimed", rm.key)
}

// Close stops the reaper and shuts down every remaining room. Rooms that
// still have peers are shut down too; Close is for process teardown only.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	remaining := lo.Values(r.rooms)
	r.rooms = make(map[Key]*entry)
	r.mu.Unlock()

	for _, e := range remaining {
		r.shutdownRoom(e.room)
	}
}
