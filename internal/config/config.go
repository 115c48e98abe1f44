package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Storage backends for transfer metadata
const (
	BackendTiDB   = "tidb"
	BackendMemory = "memory"
)

// Config holds the backend service configuration
type Config struct {
	// Service configuration
	ServicePort    string
	ServiceName    string
	ChunkSizeMB    int
	MaxUploadMB    int
	SessionTTLMin  int
	StorageBackend string
	LogLevel       string
	LogFormat      string

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// TiDB configuration
	TiDBHost     string
	TiDBPort     string
	TiDBUser     string
	TiDBPassword string
	TiDBDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Tracing configuration
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		ServicePort:    getEnv("SERVICE_PORT", "8080"),
		ServiceName:    getEnv("SERVICE_NAME", "qrshare-backend"),
		ChunkSizeMB:    getEnvAsInt("CHUNK_SIZE_MB", 1),
		MaxUploadMB:    getEnvAsInt("MAX_UPLOAD_MB", 256),
		SessionTTLMin:  getEnvAsInt("SESSION_TTL_MINUTES", 30),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendTiDB),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),

		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "qrshare"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		TiDBHost:     getEnv("TIDB_HOST", "localhost"),
		TiDBPort:     getEnv("TIDB_PORT", "4000"),
		TiDBUser:     getEnv("TIDB_USER", "root"),
		TiDBPassword: getEnv("TIDB_PASSWORD", ""),
		TiDBDatabase: getEnv("TIDB_DATABASE", "qrshare"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	if config.StorageBackend != BackendTiDB && config.StorageBackend != BackendMemory {
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", config.StorageBackend)
	}
	if config.ChunkSizeMB <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE_MB must be positive, got %d", config.ChunkSizeMB)
	}
	if config.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", config.MaxUploadMB)
	}
	if config.SessionTTLMin <= 0 {
		return nil, fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", config.SessionTTLMin)
	}

	return config, nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// GetMaxUploadBytes returns the upload body limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// GetSessionTTL returns how long a session code remains claimable
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// ClientConfig holds the device-side settings
type ClientConfig struct {
	ServerURL      string
	StateDir       string
	DownloadDir    string
	ChunkSize      int64
	LogLevel       string
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadClientConfig reads QRSHARE_* environment variables. Flags may
// override the result afterwards.
func LoadClientConfig() (*ClientConfig, error) {
	stateDir := getEnv("QRSHARE_STATE_DIR", "")
	if stateDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		stateDir = filepath.Join(dir, "qrshare")
	}

	downloadDir := getEnv("QRSHARE_DOWNLOAD_DIR", "")
	if downloadDir == "" {
		downloadDir = filepath.Join(stateDir, "Downloads")
	}

	return &ClientConfig{
		ServerURL:      getEnv("QRSHARE_SERVER_URL", "http://localhost:8080"),
		StateDir:       stateDir,
		DownloadDir:    downloadDir,
		ChunkSize:      int64(getEnvAsInt("QRSHARE_CHUNK_SIZE", 1048576)),
		LogLevel:       getEnv("QRSHARE_LOG_LEVEL", "warn"),
		TracingEnabled: getEnvAsBool("QRSHARE_TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
