package crdt

import (
	"encoding/binary"
	"sync"
)

const frameHeaderBytes = 4

// UpdateLog is the built-in Document for deployments whose clients run their
// own CRDT engine. It keeps every delta verbatim in arrival order; a snapshot
// is the length-prefixed concatenation of all deltas, which a client replays
// through its local merge. Convergence is delegated to the client CRDT, which
// tolerates duplicate and reordered deltas.
type UpdateLog struct {
	mu     sync.RWMutex
	deltas [][]byte
}

func NewUpdateLog() *UpdateLog {
	return &UpdateLog{}
}

// NewUpdateLogFromSnapshot rehydrates a log from a previously encoded
// snapshot. A nil or empty snapshot yields an empty log.
func NewUpdateLogFromSnapshot(snapshot []byte) *UpdateLog {
	return &UpdateLog{deltas: DecodeSnapshot(snapshot)}
}

func (l *UpdateLog) ApplyDelta(delta []byte) error {
	if len(delta) == 0 {
		return ErrEmptyDelta
	}
	buf := make([]byte, len(delta))
	copy(buf, delta)

	l.mu.Lock()
	l.deltas = append(l.deltas, buf)
	l.mu.Unlock()
	return nil
}

func (l *UpdateLog) EncodeSnapshot() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return EncodeSnapshot(l.deltas)
}

// StateVector is the number of applied deltas, big-endian.
func (l *UpdateLog) StateVector() []byte {
	l.mu.RLock()
	n := uint64(len(l.deltas))
	l.mu.RUnlock()

	sv := make([]byte, 8)
	binary.BigEndian.PutUint64(sv, n)
	return sv
}

func (l *UpdateLog) EncodeDeltaSince(stateVector []byte) []byte {
	if len(stateVector) != 8 {
		return l.EncodeSnapshot()
	}
	seen := binary.BigEndian.Uint64(stateVector)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if seen >= uint64(len(l.deltas)) {
		return EncodeSnapshot(nil)
	}
	return EncodeSnapshot(l.deltas[seen:])
}

// Len reports how many deltas the log holds.
func (l *UpdateLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.deltas)
}

// EncodeSnapshot frames deltas as [len u32 big-endian][bytes]... so snapshots
// can be concatenated: appending a framed batch to an existing snapshot is
// itself a valid snapshot.
func EncodeSnapshot(deltas [][]byte) []byte {
	totalSize := 0
	for _, d := range deltas {
		totalSize += frameHeaderBytes + len(d)
	}

	out := make([]byte, 0, totalSize)
	for _, d := range deltas {
		var header [frameHeaderBytes]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(d)))
		out = append(out, header[:]...)
		out = append(out, d...)
	}
	return out
}

// DecodeSnapshot splits a framed snapshot back into deltas. Trailing garbage
// that does not form a complete frame is discarded.
func DecodeSnapshot(snapshot []byte) [][]byte {
	var deltas [][]byte
	offset := 0

	for offset+frameHeaderBytes <= len(snapshot) {
		length := int(binary.BigEndian.Uint32(snapshot[offset : offset+frameHeaderBytes]))
		offset += frameHeaderBytes

		if offset+length > len(snapshot) {
			break
		}
		delta := make([]byte, length)
		copy(delta, snapshot[offset:offset+length])
		deltas = append(deltas, delta)
		offset += length
	}
	return deltas
}

// AppendSnapshot rolls a batch of newer deltas into an existing snapshot.
func AppendSnapshot(snapshot []byte, deltas [][]byte) []byte {
	out := make([]byte, len(snapshot))
	copy(out, snapshot)
	return append(out, EncodeSnapshot(deltas)...)
}
