package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Supported rate limit window stores.
const (
	RateLimitBackendSQL   = "sql"
	RateLimitBackendRedis = "redis"
)

const defaultSQLiteURL = "file:data/agentprobe.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Config holds configuration for the AgentProbe API.
type Config struct {
	HTTPPort    string
	Environment string
	LogLevel    string
	JWTSecret   []byte
	AuthRealm   string
	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Security    SecurityConfig
	Export      ExportConfig
	Cleanup     CleanupConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// CacheConfig holds cache settings
type CacheConfig struct {
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
	ExportCacheSize int
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig holds per-key and per-IP limiter settings
type RateLimitConfig struct {
	Backend          string        // "sql" or "redis"
	FailOpen         bool          // admit requests when the window store fails
	Retention        time.Duration // window rows older than this are removed by cleanup
	IPLimit          int           // requests per IP window
	IPWindow         time.Duration
	IPBurstPerSecond float64 // token bucket refill rate per IP, 0 disables
	IPBurst          int
}

// SecurityConfig holds audit log delivery settings
type SecurityConfig struct {
	AsyncEvents  bool
	QueueName    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ExportConfig holds export download settings
type ExportConfig struct {
	URLTTL   time.Duration
	S3Bucket string // S3 store is used when set
	S3Region string
	S3Prefix string
}

// CleanupConfig holds maintenance job settings
type CleanupConfig struct {
	Interval time.Duration // 0 disables the periodic job
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		// Download links then only survive for the life of the process.
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}

	logLevel := getEnvString("LOG_LEVEL", "info")
	if getEnvBool("LOCAL", false) {
		logLevel = "debug"
	}

	driver := strings.ToLower(getEnvString("DATABASE_DRIVER", DriverSQLite))
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" && driver == DriverSQLite {
		dbURL = defaultSQLiteURL
	}

	cfg := &Config{
		HTTPPort:    getEnvString("HTTP_PORT", "8080"),
		Environment: getEnvString("ENVIRONMENT", "development"),
		LogLevel:    logLevel,
		JWTSecret:   jwtSecret,
		AuthRealm:   getEnvString("AUTH_REALM", "AgentProbe API"),
		Database: DatabaseConfig{
			Driver:          driver,
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			APIKeyCacheSize: getEnvInt("CACHE_API_KEY_SIZE", 1000),
			APIKeyCacheTTL:  getEnvDuration("CACHE_API_KEY_TTL", 30*time.Second),
			ExportCacheSize: getEnvInt("CACHE_EXPORT_SIZE", 100),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		RateLimit: RateLimitConfig{
			Backend:          strings.ToLower(getEnvString("RATE_LIMIT_BACKEND", RateLimitBackendSQL)),
			FailOpen:         getEnvBool("RATE_LIMIT_FAIL_OPEN", true),
			Retention:        getEnvDuration("RATE_LIMIT_RETENTION", 24*time.Hour),
			IPLimit:          getEnvInt("IP_RATE_LIMIT", 1000),
			IPWindow:         getEnvDuration("IP_RATE_LIMIT_WINDOW", time.Hour),
			IPBurstPerSecond: getEnvFloat("IP_BURST_PER_SECOND", 0),
			IPBurst:          getEnvInt("IP_BURST", 0),
		},
		Security: SecurityConfig{
			AsyncEvents:  getEnvBool("SECURITY_EVENTS_ASYNC", false),
			QueueName:    getEnvString("SECURITY_QUEUE_NAME", "security_events"),
			BatchSize:    getEnvInt("SECURITY_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("SECURITY_QUEUE_BATCH_TIMEOUT", 2*time.Second),
			MaxRetries:   getEnvInt("SECURITY_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("SECURITY_QUEUE_RETRY_BACKOFF", time.Second),
		},
		Export: ExportConfig{
			URLTTL:   getEnvDuration("EXPORT_URL_TTL", time.Hour),
			S3Bucket: getEnvString("EXPORT_S3_BUCKET", ""),
			S3Region: getEnvString("EXPORT_S3_REGION", "us-east-1"),
			S3Prefix: getEnvString("EXPORT_S3_PREFIX", "exports/"),
		},
		Cleanup: CleanupConfig{
			Interval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres, DriverPgx:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendSQL:
	case RateLimitBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}

	if c.RateLimit.IPLimit <= 0 {
		return fmt.Errorf("IP_RATE_LIMIT must be positive")
	}
	if c.RateLimit.IPWindow <= 0 {
		return fmt.Errorf("IP_RATE_LIMIT_WINDOW must be positive")
	}
	if c.Export.URLTTL <= 0 {
		return fmt.Errorf("EXPORT_URL_TTL must be positive")
	}
	return nil
}

// IsSQLite reports whether the configured driver is the embedded one.
func (c *Config) IsSQLite() bool {
	return c.Database.Driver == DriverSQLite
}
