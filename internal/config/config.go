package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv             string        `env:"APP_ENV" envDefault:"dev"`
	APIAddr            string        `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN        string        `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	NotifyChannel      string        `env:"NOTIFY_CHANNEL" envDefault:"actionq:events"`
	MigrationsDir      string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	MigrationBatchSize int           `env:"MIGRATION_BATCH_SIZE" envDefault:"10"`
	MigrationInterval  time.Duration `env:"MIGRATION_INTERVAL" envDefault:"1m"`
	ClaimBatchSize     int           `env:"CLAIM_BATCH_SIZE" envDefault:"25"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}

// Parse is Load without the fatal exit, for callers that want the error.
func Parse() (Config, error) {
	var c Config
	err := env.Parse(&c)
	return c, err
}
