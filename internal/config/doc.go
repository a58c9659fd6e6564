// Package config loads the license service configuration.
//
// # Configuration Sources
//
// Configuration is resolved from the following sources in order of precedence:
//
//	1. Environment variables (highest priority), optionally seeded from a .env file
//	2. A YAML configuration file (GMF_CONFIG_FILE or config.yaml / configs/config.yaml)
//	3. Default values declared in struct tags (lowest priority)
//
// # Environment Variables
//
// All environment variables use the GMF_ prefix followed by the section name:
//
//	GMF_SERVER_PORT=3000
//	GMF_DATABASE_URL=postgres://...
//	GMF_REDIS_URL=redis://localhost:6379
//	GMF_CACHE_TTL=5m
//	GMF_SECURITY_ADMISSION_MAX_ATTEMPTS=5
//	GMF_LOGGING_LEVEL=info
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    slog.Error("failed to load configuration", "error", err)
//	    os.Exit(1)
//	}
//
// Tests should use Default() which requires no environment or external resources.
package config
