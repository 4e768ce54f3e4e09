package env

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Env はプロセス全体の起動設定。
type Env struct {
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	DBPath     string `env:"DB_PATH" envDefault:"giveaways.db"`
	DebugMode  bool   `env:"DEBUG_MODE" envDefault:"false"`

	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5s"`
	SchedulerFlushEvery int           `env:"SCHEDULER_FLUSH_EVERY" envDefault:"12"`
	SchedulerWorkers    int           `env:"SCHEDULER_WORKERS" envDefault:"4"`

	MinDuration time.Duration `env:"GIVEAWAY_MIN_DURATION" envDefault:"10s"`
	MaxDuration time.Duration `env:"GIVEAWAY_MAX_DURATION" envDefault:"336h"`
	Retention   time.Duration `env:"GIVEAWAY_RETENTION" envDefault:"168h"`

	ActivityCooldown   time.Duration `env:"ACTIVITY_COOLDOWN" envDefault:"1s"`
	ActivityAPIURL     string        `env:"ACTIVITY_API_URL"`
	ActivityAPIToken   string        `env:"ACTIVITY_API_TOKEN"`
	ActivityAPITimeout time.Duration `env:"ACTIVITY_API_TIMEOUT" envDefault:"3s"`
}

// Value は LoadEnv で読み込まれた設定値
var Value Env

// LoadEnv は .env（存在すれば）と環境変数から設定を読み込む。
func LoadEnv() error {
	return LoadEnvFile(".env")
}

// LoadEnvFile loads the given dotenv file, then parses the process environment into Value.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to load dotenv file", zap.String("path", path), zap.Error(err))
		}
	}

	var parsed Env
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if parsed.SchedulerWorkers <= 0 {
		parsed.SchedulerWorkers = 1
	}
	if parsed.SchedulerFlushEvery <= 0 {
		parsed.SchedulerFlushEvery = 1
	}

	Value = parsed
	return nil
}
