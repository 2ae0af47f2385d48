package persist

import (
	"log"
	"sync"

	"github.com/loomcollab/relay/internal/room"
	"github.com/loomcollab/relay/internal/store"
)

const writerBuffer = 1024

type saveRequest struct {
	key   room.Key
	delta []byte
}

// Writer drains delta saves onto sqlite from a single goroutine so the room
// actors never block on disk. If the buffer fills, deltas are dropped with a
// warning; durability here is best-effort by design.
type Writer struct {
	st       *store.Store
	requests chan saveRequest
	wg       sync.WaitGroup
}

func NewWriter(st *store.Store) *Writer {
	w := &Writer{
		st:       st,
		requests: make(chan saveRequest, writerBuffer),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue hands a delta to the writer without blocking.
func (w *Writer) Enqueue(key room.Key, delta []byte) {
	select {
	case w.requests <- saveRequest{key: key, delta: delta}:
	default:
		log.Printf("persist: writer backlog full, dropping delta for room %s", key)
	}
}

// Stop flushes the backlog and stops the goroutine.
func (w *Writer) Stop() {
	close(w.requests)
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for req := range w.requests {
		if err := w.st.SaveDelta(req.key, req.delta); err != nil {
			log.Printf("persist: save delta for room %s: %v", req.key, err)
		}
	}
}
