package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv" // .env support for local development

	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

// ErrConfig marks configuration that must stop the process from starting.
var ErrConfig = errors.New("configuration error")

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  TTLs keep both the configured string (echoed
// back to clients) and its parsed duration.
type Config struct {
	Env      string // application environment (development, test, production)
	Port     string // HTTP port to listen on
	LogLevel string // zap level name

	DBDriver   string // mysql or sqlite
	DBUser     string // database username
	DBPass     string // database password (optional)
	DBHost     string // database host address
	DBPort     string // database port number
	DBName     string // database name
	SQLitePath string // database file when DBDriver is sqlite

	JWTSecret     string        // secret used to sign access tokens
	AccessTTLRaw  string        // e.g. "15m"
	AccessTTL     time.Duration // parsed AccessTTLRaw
	RefreshTTLRaw string        // e.g. "30d"
	RefreshTTL    time.Duration // parsed RefreshTTLRaw
	BcryptCost    int           // bcrypt cost for password hashing
	HashWorkers   int           // concurrent bcrypt computations

	CleanupEnabled  bool          // run the refresh token sweeper
	CleanupInterval time.Duration // sweeper period

	AMQPURL    string // RabbitMQ url for audit events (empty disables the broker)
	AuditQueue string // queue receiving audit events
}

// IsTest reports whether the process runs under the test environment.
func (c Config) IsTest() bool { return c.Env == "test" }

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool { return c.Env == "production" }

// Load reads an optional .env file and then the environment.  A missing
// JWT secret or an unsupported database driver is reported as ErrConfig.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env file is normal outside development

	cfg := Config{
		Env:      envStr("APP_ENV", "development"),
		Port:     envStr("APP_PORT", envStr("PORT", "3001")),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(envStr("DB_DRIVER", "mysql")),
		DBUser:     envStr("DB_USER", "root"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envStr("DB_PORT", "3306"),
		DBName:     envStr("DB_NAME", "repairs"),
		SQLitePath: envStr("SQLITE_PATH", "repairs.db"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		AccessTTLRaw:  envStr("JWT_ACCESS_EXPIRES_IN", "15m"),
		RefreshTTLRaw: envStr("JWT_REFRESH_EXPIRES_IN", "30d"),
		BcryptCost:    utils.ClampCost(envInt("BCRYPT_ROUNDS", 12)),
		HashWorkers:   envInt("PASSWORD_HASH_WORKERS", runtime.NumCPU()),

		CleanupEnabled:  envBool("CLEANUP_ENABLED", true),
		CleanupInterval: envDur("CLEANUP_INTERVAL", time.Hour),

		AMQPURL:    envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		AuditQueue: envStr("AUDIT_QUEUE", "auth.events"),
	}
	cfg.AccessTTL = utils.ParseTTL(cfg.AccessTTLRaw)
	cfg.RefreshTTL = utils.ParseTTL(cfg.RefreshTTLRaw)
	if cfg.IsTest() {
		cfg.CleanupEnabled = false
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("%w: JWT_SECRET is required", ErrConfig)
	}
	switch cfg.DBDriver {
	case "mysql", "sqlite":
	default:
		return Config{}, fmt.Errorf("%w: unsupported DB_DRIVER %q (supported: mysql, sqlite)", ErrConfig, cfg.DBDriver)
	}
	return cfg, nil
}
