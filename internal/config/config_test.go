package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "", cfg.DBPath)
	require.Equal(t, 30*time.Second, cfg.RoomGracePeriod)
	require.Equal(t, int64(1048576), cfg.MaxMessageBytes)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ROOM_GRACE_PERIOD", "0s")
	t.Setenv("DB_PATH", "/tmp/relay.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Zero(t, cfg.RoomGracePeriod)
	require.Equal(t, "/tmp/relay.db", cfg.DBPath)
}
