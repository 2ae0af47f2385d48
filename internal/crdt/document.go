package crdt

import "fmt"

// Document is the merge primitive the relay is built around. Implementations
// must make ApplyDelta commutative and idempotent so that peers applying the
// same set of deltas in any order converge on the same state. The relay never
// inspects delta contents; it only applies, snapshots, and diffs.
type Document interface {
	// ApplyDelta merges an encoded incremental update into the document.
	ApplyDelta(delta []byte) error

	// EncodeSnapshot returns the full document state as a single blob that a
	// fresh peer can decode to catch up.
	EncodeSnapshot() []byte

	// EncodeDeltaSince returns the updates a peer holding the given state
	// vector is missing. An empty or unparseable state vector yields the full
	// snapshot.
	EncodeDeltaSince(stateVector []byte) []byte

	// StateVector summarizes which updates this document has already seen.
	StateVector() []byte
}

// ErrEmptyDelta is returned when a delta carries no bytes at all. Anything
// non-empty is opaque to the relay and accepted.
var ErrEmptyDelta = fmt.Errorf("empty delta")
