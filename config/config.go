package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LogLevel string

	TradeMeBaseURL        string
	TradeMeConsumerKey    string
	TradeMeConsumerSecret string
	TradeMeToken          string
	TradeMeTokenSecret    string
	TradeMeCategoryPrefix string
	TradeMePageSize       int
	TradeMeMaxAttempts    int
	TradeMeRetryDelayMs   int
	TradeMeRetryBackoff   bool
	TradeMeRateLimitMs    int
	WatchlistMaxPages     int

	FetchMode       string
	UserAgent       string
	ChromeBin       string
	FetchTimeoutSec int
	SiteRulesPath   string
	TrackedURLs     []string

	ImageConcurrency  int
	ImageChunkPauseMs int
	ImageTimeoutSec   int
	ImageMaxBytes     int64

	StoreBackend     string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisNamespace   string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	BlobBackend    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RunSchedule        string
	MinRunIntervalMin  int
	RecentChangesLimit int
	ChangesCSVPath     string
	MetricsAddr        string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TradeMeBaseURL:        getEnv("TRADEME_BASE_URL", "https://api.trademe.co.nz/v1"),
		TradeMeConsumerKey:    getEnv("TRADEME_CONSUMER_KEY", ""),
		TradeMeConsumerSecret: getEnv("TRADEME_CONSUMER_SECRET", ""),
		TradeMeToken:          getEnv("TRADEME_TOKEN", ""),
		TradeMeTokenSecret:    getEnv("TRADEME_TOKEN_SECRET", ""),
		TradeMeCategoryPrefix: getEnv("TRADEME_CATEGORY_PREFIX", "0350"),
		TradeMePageSize:       getEnvInt("TRADEME_PAGE_SIZE", 50),
		TradeMeMaxAttempts:    getEnvInt("TRADEME_MAX_ATTEMPTS", 3),
		TradeMeRetryDelayMs:   getEnvInt("TRADEME_RETRY_DELAY_MS", 2000),
		TradeMeRetryBackoff:   getEnvBool("TRADEME_RETRY_BACKOFF", false),
		TradeMeRateLimitMs:    getEnvInt("TRADEME_RATE_LIMIT_MS", 500),
		WatchlistMaxPages:     getEnvInt("WATCHLIST_MAX_PAGES", 5),

		FetchMode:       strings.ToLower(getEnv("FETCH_MODE", "http")),
		UserAgent:       getEnv("USER_AGENT", ""),
		ChromeBin:       getEnv("CHROME_BIN", ""),
		FetchTimeoutSec: getEnvInt("FETCH_TIMEOUT_SEC", 30),
		SiteRulesPath:   getEnv("SITE_RULES_PATH", ""),
		TrackedURLs:     getEnvList("TRACKED_URLS"),

		ImageConcurrency:  getEnvInt("IMAGE_CONCURRENCY", 3),
		ImageChunkPauseMs: getEnvInt("IMAGE_CHUNK_PAUSE_MS", 500),
		ImageTimeoutSec:   getEnvInt("IMAGE_TIMEOUT_SEC", 20),
		ImageMaxBytes:     int64(getEnvInt("IMAGE_MAX_BYTES", 15<<20)),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisNamespace:   getEnv("REDIS_NAMESPACE", "listingwatch"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "listingwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "listingwatch"),
		PostgresDB:       getEnv("POSTGRES_DB", "listingwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		BlobBackend:    strings.ToLower(getEnv("BLOB_BACKEND", "memory")),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "listing-images"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		RunSchedule:        getEnv("RUN_SCHEDULE", "0 */6 * * *"),
		MinRunIntervalMin:  getEnvInt("MIN_RUN_INTERVAL_MIN", 60),
		RecentChangesLimit: getEnvInt("RECENT_CHANGES_LIMIT", 100),
		ChangesCSVPath:     getEnv("CHANGES_CSV_PATH", ""),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9102"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// HasTradeMeCredentials reports whether the watchlist can be queried.
func (c *Config) HasTradeMeCredentials() bool {
	return c.TradeMeConsumerKey != "" && c.TradeMeConsumerSecret != ""
}

func (c *Config) MinRunInterval() time.Duration {
	return time.Duration(c.MinRunIntervalMin) * time.Minute
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) TradeMeRetryDelay() time.Duration { return ms(c.TradeMeRetryDelayMs) }
func (c *Config) TradeMeRateLimit() time.Duration { return ms(c.TradeMeRateLimitMs) }
func (c *Config) ImageChunkPause() time.Duration { return ms(c.ImageChunkPauseMs) }
func (c *Config) FetchTimeout() time.Duration { return time.Duration(c.FetchTimeoutSec) * time.Second }
func (c *Config) ImageTimeout() time.Duration { return time.Duration(c.ImageTimeoutSec) * time.Second }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma or whitespace separated value.
func getEnvList(key string) []string {
	return strings.FieldsFunc(os.Getenv(key), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
