package room

// Key identifies a room: a collaboration domain tag plus a caller-supplied
// id. One live Room exists per key per process.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	return k.Type + "/" + k.ID
}
