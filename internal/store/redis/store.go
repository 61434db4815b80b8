// Package redis provides a Redis-backed implementation of the job and
// token stores. Records are stored as one hash per entity; the
// POLLING→terminal token transition runs as a Lua script so the
// compare-and-swap is atomic on the server.
package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"waitpoint/internal/config"
)

// Key layout.
const (
	jobKeyPrefix   = "waitpoint:job:"
	tokenKeyPrefix = "waitpoint:token:"
	tokenIDsKey    = "waitpoint:tokens"
)

func jobKey(jobID string) string   { return jobKeyPrefix + jobID }
func tokenKey(jobID string) string { return tokenKeyPrefix + jobID }

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// LoadConfigFromEnv loads Redis configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Addr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		Password: config.GetSecretFile(config.GetEnv("REDIS_PASSWORD_FILE", "")),
		DB:       config.GetIntEnv("REDIS_DB", 0),
	}
}

// Store is a Redis-backed store for jobs and tokens.
type Store struct {
	client *goredis.Client
}

// New creates a Store connected to the given Redis instance.
func New(cfg Config) *Store {
	return &Store{
		client: goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Ready checks that Redis is reachable.
func (s *Store) Ready(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
