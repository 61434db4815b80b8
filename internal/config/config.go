// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// Store and backend selection values.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	BackendSimulator = "simulator"
	BackendDocker    = "docker"
)

// ServiceConfig holds configuration for the waitpoint service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	Store      string // "memory" or "redis"; redis connection details load in internal/store/redis
	JobBackend string // "simulator" or "docker"

	ResumeCallbackURL string // Workflow engine endpoint receiving resume events
	ResumeSigningKey  string // HMAC key for signing resume events, empty = no signing

	ReaperInterval time.Duration // 0 disables the timeout reaper
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		Store:             GetEnv("STORE", StoreMemory),
		JobBackend:        GetEnv("JOB_BACKEND", BackendSimulator),
		ResumeCallbackURL: GetEnv("RESUME_CALLBACK_URL", ""),
		ResumeSigningKey:  GetSecretFile(GetEnv("RESUME_SIGNING_KEY_FILE", "")),
		ReaperInterval:    GetDurationEnv("REAPER_INTERVAL", 0),
	}
}
