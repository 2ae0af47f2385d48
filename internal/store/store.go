package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/loomcollab/relay/internal/room"
)

// Store persists room deltas and rolled-up snapshots so documents survive a
// process restart. The relay runs fine without one; this is the durability
// extension, not the source of truth for live rooms.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		room_type TEXT NOT NULL,
		room_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_type, room_id)
	);

	CREATE TABLE IF NOT EXISTS room_deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_type TEXT NOT NULL,
		room_id TEXT NOT NULL,
		delta BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_deltas_key ON room_deltas(room_type, room_id, id);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_type TEXT NOT NULL,
		room_id TEXT NOT NULL,
		snapshot BLOB NOT NULL,
		last_delta_id INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_type, room_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDelta appends one delta to a room's log, creating the room row on
// first sight.
func (s *Store) SaveDelta(key room.Key, delta []byte) error {
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO rooms (room_type, room_id) VALUES (?, ?)",
		key.Type, key.ID,
	); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		"INSERT INTO room_deltas (room_type, room_id, delta) VALUES (?, ?, ?)",
		key.Type, key.ID, delta,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE room_type = ? AND room_id = ?",
		key.Type, key.ID,
	)
	return err
}

// GetSnapshot returns the latest rolled-up snapshot and the id of the last
// delta it covers. No snapshot yields (nil, 0, nil).
func (s *Store) GetSnapshot(key room.Key) ([]byte, int64, error) {
	var snapshot []byte
	var lastID int64
	err := s.db.QueryRow(
		"SELECT snapshot, last_delta_id FROM room_snapshots WHERE room_type = ? AND room_id = ?",
		key.Type, key.ID,
	).Scan(&snapshot, &lastID)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	return snapshot, lastID, err
}

// GetDeltasAfter returns the deltas newer than afterID, oldest first, plus
// the highest id seen.
func (s *Store) GetDeltasAfter(key room.Key, afterID int64) ([][]byte, int64, error) {
	rows, err := s.db.Query(
		"SELECT id, delta FROM room_deltas WHERE room_type = ? AND room_id = ? AND id > ? ORDER BY id ASC",
		key.Type, key.ID, afterID,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var deltas [][]byte
	maxID := afterID
	for rows.Next() {
		var id int64
		var delta []byte
		if err := rows.Scan(&id, &delta); err != nil {
			return nil, 0, err
		}
		deltas = append(deltas, delta)
		maxID = id
	}
	return deltas, maxID, rows.Err()
}

// LoadDocument returns everything needed to rehydrate a room: the snapshot
// plus the deltas applied after it was taken.
func (s *Store) LoadDocument(key room.Key) (snapshot []byte, deltas [][]byte, err error) {
	snapshot, lastID, err := s.GetSnapshot(key)
	if err != nil {
		return nil, nil, err
	}
	deltas, _, err = s.GetDeltasAfter(key, lastID)
	return snapshot, deltas, err
}

// SaveSnapshot upserts a room's rolled-up snapshot.
func (s *Store) SaveSnapshot(key room.Key, snapshot []byte, lastDeltaID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO room_snapshots (room_type, room_id, snapshot, last_delta_id, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_type, room_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			last_delta_id = excluded.last_delta_id,
			updated_at = CURRENT_TIMESTAMP
	`, key.Type, key.ID, snapshot, lastDeltaID)
	return err
}

// DeleteDeltasThrough drops deltas already folded into a snapshot.
func (s *Store) DeleteDeltasThrough(key room.Key, id int64) error {
	_, err := s.db.Exec(
		"DELETE FROM room_deltas WHERE room_type = ? AND room_id = ? AND id <= ?",
		key.Type, key.ID, id,
	)
	return err
}

// PendingDeltaCount counts deltas not yet covered by the room's snapshot.
func (s *Store) PendingDeltaCount(key room.Key) (int, error) {
	_, lastID, err := s.GetSnapshot(key)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM room_deltas WHERE room_type = ? AND room_id = ? AND id > ?",
		key.Type, key.ID, lastID,
	).Scan(&count)
	return count, err
}

// ListRooms returns every room key the store has seen.
func (s *Store) ListRooms() ([]room.Key, error) {
	rows, err := s.db.Query("SELECT room_type, room_id FROM rooms ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []room.Key
	for rows.Next() {
		var k room.Key
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type Stats struct {
	Rooms     int `json:"rooms"`
	Deltas    int `json:"deltas"`
	Snapshots int `json:"snapshots"`
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&st.Rooms); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM room_deltas").Scan(&st.Deltas); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM room_snapshots").Scan(&st.Snapshots); err != nil {
		return st, err
	}
	return st, nil
}
