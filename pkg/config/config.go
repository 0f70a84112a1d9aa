package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the call service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Media    MediaConfig
	Log      LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port               int
	Environment        string // development, staging, production
	ServiceName        string
	CORSAllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL/CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// MediaConfig holds media engine configuration
type MediaConfig struct {
	// ListenIP is the local IP the engine binds RTC traffic to
	ListenIP string
	// AnnouncedIP is the public IP advertised to clients in transport candidates
	AnnouncedIP string
	// RTCMinPort / RTCMaxPort bound the UDP port range used for transports
	RTCMinPort int
	RTCMaxPort int
	// InitialAvailableOutgoingBitrate seeds transport congestion control
	InitialAvailableOutgoingBitrate int
	// WorkerExitGrace is how long the process lingers after a worker dies
	// before exiting so the supervisor can restart it
	WorkerExitGrace time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("PORT", 8083),
			Environment:        getEnv("ENV", "development"),
			ServiceName:        getEnv("SERVICE_NAME", "call-service"),
			CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 26257),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "callcore"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_EXPIRY", 15)) * time.Minute,
		},
		Media: MediaConfig{
			ListenIP:                        getEnv("MEDIA_LISTEN_IP", "0.0.0.0"),
			AnnouncedIP:                     getEnv("MEDIA_ANNOUNCED_IP", "127.0.0.1"),
			RTCMinPort:                      getEnvAsInt("MEDIA_RTC_MIN_PORT", 40000),
			RTCMaxPort:                      getEnvAsInt("MEDIA_RTC_MAX_PORT", 49999),
			InitialAvailableOutgoingBitrate: getEnvAsInt("MEDIA_INITIAL_BITRATE", 1000000),
			WorkerExitGrace:                 time.Duration(getEnvAsInt("MEDIA_WORKER_EXIT_GRACE", 2)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Media.RTCMinPort >= c.Media.RTCMaxPort {
		return fmt.Errorf("MEDIA_RTC_MIN_PORT must be below MEDIA_RTC_MAX_PORT")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
