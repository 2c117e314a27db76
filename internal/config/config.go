package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "Payroll"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultMaxRetries       = 3
	defaultBaseDelay        = 2 * time.Second
	defaultLockTTL          = 5 * time.Minute
	defaultLedgerRetryEvery = 30 * time.Second
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFile        string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	TransferMaxRetries  int
	TransferBaseDelay   time.Duration
	DispatchLockTTL     time.Duration
	LedgerRetryInterval time.Duration

	NetworksConfig string
	Networks       []NetworkConfig

	// EmployeesSeed names a YAML/JSON file preloading the in-memory
	// employee directory when no database is configured.
	EmployeesSeed string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFile:             os.Getenv("LOG_FILE"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ShutdownPeriod:      defaultShutdownDelay,
		IdempotencyTTL:      defaultIdempotencyTTL,
		TransferMaxRetries:  defaultMaxRetries,
		TransferBaseDelay:   defaultBaseDelay,
		DispatchLockTTL:     defaultLockTTL,
		LedgerRetryInterval: defaultLedgerRetryEvery,
		NetworksConfig:      os.Getenv("NETWORKS_CONFIG"),
		EmployeesSeed:       os.Getenv("EMPLOYEES_SEED"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TransferBaseDelay, err = durationEnv("", "TRANSFER_BASE_DELAY", cfg.TransferBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.DispatchLockTTL, err = durationEnv("", "DISPATCH_LOCK_TTL", cfg.DispatchLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.LedgerRetryInterval, err = durationEnv("", "LEDGER_RETRY_INTERVAL", cfg.LedgerRetryInterval); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("TRANSFER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid TRANSFER_MAX_RETRIES: %q", v)
		}
		cfg.TransferMaxRetries = n
	}

	if cfg.NetworksConfig != "" {
		networks, err := LoadNetworks(cfg.NetworksConfig)
		if err != nil {
			return Config{}, err
		}
		cfg.Networks = networks
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if len(cfg.Networks) == 0 {
			return Config{}, fmt.Errorf("NETWORKS_CONFIG must be set when APP_ENV=%s", cfg.AppEnv)
		}
	} else if len(cfg.Networks) == 0 {
		cfg.Networks = DevelopmentNetworks()
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether infra dependencies may be replaced by in-memory fakes.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
