// Package config loads server configuration from the environment and the
// embedded default authority profile.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	StoreDriver  string // postgres | sqlite | memory
	DatabaseURL  string
	ArtifactRoot string
	RedisAddr    string // optional distributed rate limiter
	OTELEndpoint string // optional OTLP gRPC endpoint
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		switch driver {
		case "sqlite":
			dbURL = "dealkernel.db"
		default:
			dbURL = "postgres://dealkernel@localhost:5432/dealkernel?sslmode=disable"
		}
	}

	artifactRoot := os.Getenv("ARTIFACT_ROOT")
	if artifactRoot == "" {
		artifactRoot = "./data"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		StoreDriver:  driver,
		DatabaseURL:  dbURL,
		ArtifactRoot: artifactRoot,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		OTELEndpoint: os.Getenv("OTEL_ENDPOINT"),
	}
}
