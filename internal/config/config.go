package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Redis    Redis
	Queue    Queue
	Database Database
	Stream   Stream
	Log      Log
}

type Redis struct {
	Addr     string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Queue struct {
	Group             string        `env:"QUEUE_GROUP" envDefault:"workers"`
	ResultTTL         time.Duration `env:"QUEUE_RESULT_TTL" envDefault:"24h"`
	SchedulerInterval time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"1s"`
}

type Database struct {
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`
	DSN    string `env:"DB_DSN" envDefault:"host=localhost user=jobstream password=jobstream dbname=jobstream port=5432 sslmode=disable"`
}

type Stream struct {
	PollWindow time.Duration `env:"STREAM_POLL_WINDOW" envDefault:"15s"`
	RetryMs    int           `env:"STREAM_RETRY_MS" envDefault:"3000"`
	BatchSize  int64         `env:"STREAM_BATCH_SIZE" envDefault:"10"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Load reads .env when present, then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
