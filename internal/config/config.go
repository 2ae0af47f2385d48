package config

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8080"`

	// DBPath enables snapshot persistence. Empty runs memory-only: rooms are
	// lost on restart, matching the development-mode relay.
	DBPath string `env:"DB_PATH"`

	// RoomGracePeriod keeps an empty room warm for quick reconnects; 0s
	// reclaims immediately after the last peer leaves.
	RoomGracePeriod time.Duration `env:"ROOM_GRACE_PERIOD,default=30s"`

	MaxMessageBytes   int64 `env:"MAX_MESSAGE_BYTES,default=1048576"`
	MaxAwarenessBytes int   `env:"MAX_AWARENESS_BYTES,default=16384"`

	SnapshotInterval  time.Duration `env:"SNAPSHOT_INTERVAL,default=5m"`
	SnapshotThreshold int           `env:"SNAPSHOT_THRESHOLD,default=100"`

	MessagesPerSecond float64 `env:"MESSAGES_PER_SECOND,default=100"`
	MessageBurst      int     `env:"MESSAGE_BURST,default=200"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if _, err := env.UnmarshalFromEnviron(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
