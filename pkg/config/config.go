package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string
	RedisAddr    string
	JWTSecret    string
	ProfilePath  string
	OTLPEndpoint string
	OTLPEnabled  bool
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

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local sqlite file; set a postgres:// URL for server mode.
		dbURL = "verdict.db"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  dbURL,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		ProfilePath:  os.Getenv("PROFILE_PATH"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPEnabled:  os.Getenv("OTEL_METRICS_ENABLED") == "true",
	}
}
