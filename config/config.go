package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string

	UserID       string
	RemoteURL    string
	RemoteToken  string
	JWTSecret    string
	JWTExpiryMin int

	CacheBackend string
	CachePath    string
	CacheKey     []byte
	CacheTTL     time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	PageSize       int
	MatchSkew      time.Duration
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInitial   time.Duration

	S3 S3Config
}

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	ACL        string
}

const (
	CacheBackendPebble = "pebble"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		AppPort:        getEnv("APP_PORT", "8090"),
		AppMode:        getEnv("APP_MODE", "debug"),
		UserID:         getEnv("TIMELINE_USER_ID", ""),
		RemoteURL:      getEnv("TIMELINE_REMOTE_URL", "ws://localhost:8080/ws"),
		RemoteToken:    getEnv("TIMELINE_REMOTE_TOKEN", ""),
		JWTSecret:      getEnv("TIMELINE_JWT_SECRET", ""),
		JWTExpiryMin:   getEnvAsInt("TIMELINE_JWT_EXPIRY_MIN", 15),
		CacheBackend:   strings.ToLower(getEnv("TIMELINE_CACHE_BACKEND", CacheBackendPebble)),
		CachePath:      getEnv("TIMELINE_CACHE_PATH", "./data/timeline"),
		CacheTTL:       getEnvAsDuration("TIMELINE_CACHE_TTL", 7*24*time.Hour),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		PageSize:       getEnvAsInt("TIMELINE_PAGE_SIZE", 30),
		MatchSkew:      getEnvAsDuration("TIMELINE_MATCH_SKEW", 60*time.Second),
		ConnectTimeout: getEnvAsDuration("TIMELINE_CONNECT_TIMEOUT", 10*time.Second),
		RetryAttempts:  getEnvAsInt("TIMELINE_RETRY_ATTEMPTS", 4),
		RetryInitial:   getEnvAsDuration("TIMELINE_RETRY_INITIAL", 500*time.Millisecond),
		S3: S3Config{
			Region:     getEnv("S3_REGION", ""),
			Bucket:     getEnv("S3_BUCKET", ""),
			AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			SecretKey:  getEnv("S3_SECRET_KEY", ""),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PublicBase: getEnv("S3_PUBLIC_BASE", ""),
			ACL:        getEnv("S3_ACL", ""),
		},
	}

	if raw := getEnv("TIMELINE_CACHE_KEY", ""); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("TIMELINE_CACHE_KEY: %w", err)
		}
		cfg.CacheKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the session cannot run with.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("TIMELINE_USER_ID is required")
	}
	switch c.CacheBackend {
	case CacheBackendPebble, CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.CacheKey != nil && len(c.CacheKey) != 32 {
		return fmt.Errorf("TIMELINE_CACHE_KEY must be 32 bytes, got %d", len(c.CacheKey))
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("TIMELINE_PAGE_SIZE must be positive")
	}
	if c.MatchSkew <= 0 {
		return fmt.Errorf("TIMELINE_MATCH_SKEW must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("TIMELINE_CONNECT_TIMEOUT must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("TIMELINE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// UploadsEnabled reports whether file sends have somewhere to put the bytes.
func (c *Config) UploadsEnabled() bool {
	return c.S3.Region != "" && c.S3.Bucket != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
