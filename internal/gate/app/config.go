package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer        string // issuer claim for access tokens
	JWTSecretFile string // path to the HS256 signing secret (default: ./jwt.secret)

	BaselineBackend string        // baseline storage backend: file or sqlite (default: file)
	BaselineDir     string        // namespace directory for the file backend (default: ./baselines)
	BaselineDB      string        // SQLite file for the sqlite backend (default: ./baselines.db)
	MaxTime         time.Duration // ceiling on learned baselines and applied delays (default: 1s)
	Throttle        time.Duration // minimum interval between baseline updates (default: 1h)
	Debug           bool          // trace every normalizer decision at debug level

	DatabaseFile string // path to the user SQLite database (default: ./gate.db)
	PepperFile   string // path to the password hashing pepper (default: ./pepper)
	SeedUsername string // user created when the user table is empty
	SeedPassword string // optional; generated and logged once when empty

	Env                 string        // dev, staging, prod (default: dev)
	LogLevel            string        // debug, info, warn, error (default: info)
	LogFormat           string        // json, text (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		Issuer:        getEnvOrDefault("LOCKSTEP_ISSUER", "lockstep-gate"),
		JWTSecretFile: getEnvOrDefault("LOCKSTEP_JWT_SECRET_FILE", "jwt.secret"),

		BaselineBackend: getEnvOrDefault("LOCKSTEP_BASELINE_BACKEND", "file"),
		BaselineDir:     getEnvOrDefault("LOCKSTEP_BASELINE_DIR", "baselines"),
		BaselineDB:      getEnvOrDefault("LOCKSTEP_BASELINE_DB", "baselines.db"),
		MaxTime:         getEnvDurationOrDefault("LOCKSTEP_MAX_TIME", time.Second),
		Throttle:        getEnvDurationOrDefault("LOCKSTEP_THROTTLE", time.Hour),
		Debug:           getEnvBoolOrDefault("LOCKSTEP_DEBUG", false),

		DatabaseFile: getEnvOrDefault("LOCKSTEP_DATABASE_FILE", "gate.db"),
		PepperFile:   getEnvOrDefault("LOCKSTEP_PEPPER_FILE", "pepper"),
		SeedUsername: os.Getenv("LOCKSTEP_SEED_USERNAME"),
		SeedPassword: os.Getenv("LOCKSTEP_SEED_PASSWORD"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Duration syntax first (e.g. "1h", "30m", "1500ms"), then bare
	// integer milliseconds for compatibility with older deployments.
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}
