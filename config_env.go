package nats

import (
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// libraryConfig binds the process-wide environment variables listed in
// spec.md §6. It is parsed exactly once, on the first loadLibraryConfig
// call, and read thereafter without synchronization: the same sync.Once lazy
// init the timer wheel and the shared dispatcher pool use.
type libraryConfig struct {
	DefaultWriteDeadlineMs  int    `env:"NATS_DEFAULT_LIB_WRITE_DEADLINE" envDefault:"2000"`
	UseThreadPool           bool   `env:"NATS_USE_THREAD_POOL" envDefault:"false"`
	ThreadPoolMax           int    `env:"NATS_THREAD_POOL_MAX" envDefault:"0"`
	UseThreadPoolForReplies bool   `env:"NATS_USE_THREAD_POOL_FOR_REPLIES" envDefault:"false"`
	ReplyThreadPoolMax      int    `env:"NATS_REPLY_THREAD_POOL_MAX" envDefault:"0"`
	DefaultToLibMsgDelivery string `env:"NATS_DEFAULT_TO_LIB_MSG_DELIVERY" envDefault:""`
}

func (c libraryConfig) writeDeadline() time.Duration {
	return time.Duration(c.DefaultWriteDeadlineMs) * time.Millisecond
}

func (c libraryConfig) useGlobalMessageDelivery() bool {
	return c.DefaultToLibMsgDelivery != ""
}

var (
	libCfgOnce sync.Once
	libCfg     libraryConfig
)

// loadLibraryConfig parses environment variables once per process, the way
// ws/config.go's LoadConfig does (optional .env file, then env vars). A
// missing or unreadable .env file is ignored without logging.
func loadLibraryConfig() libraryConfig {
	libCfgOnce.Do(func() {
		_ = godotenv.Load() // optional; absence is not an error

		cfg := libraryConfig{}
		if err := env.Parse(&cfg); err != nil {
			// Parsing env vars should not be fatal for a library: fall
			// back to the zero-value (all-defaults) config.
			cfg = libraryConfig{
				DefaultWriteDeadlineMs: 2000,
			}
		}
		libCfg = cfg
	})
	return libCfg
}
