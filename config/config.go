package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "BOOMBOT_"

// Config stores the application configuration.
type Config struct {
	// Request server
	ListenAddr     string
	ListenPort     int
	InEncodings    []string // Tried in order when decoding nick and message
	OutEncodings   []string // Tried in order when encoding the reply
	ReadTimeout    time.Duration
	ReplyTimeout   time.Duration
	MaxConnections int

	// Icecast source client
	IcecastHost       string
	IcecastPort       int
	IcecastUser       string
	IcecastPassword   string
	IcecastMount      string
	IcecastFormat     string // Content type, e.g. "audio/mpeg"
	IcecastName       string
	IcecastGenre      string
	IcecastURL        string
	IcecastPublic     bool
	IcecastBitrate    int // kbps
	IcecastSampleRate int
	IcecastChannels   int

	// Feeder
	ChunkSize          int
	MaxConnectAttempts int
	ConnectRetryDelay  time.Duration
	FallbackPath       string // Local fallback clip
	FallbackObject     string // Object key in MinIO, used when FallbackPath is empty
	WatchFallback      bool
	MetadataTimeout    time.Duration

	// Search
	ProviderTimeout time.Duration
	Providers       []string // Provider names in tie-break order
	NeteaseAPIURL   string
	NeteaseLimit    int
	LibraryPrefix   string
	LibraryLimit    int
	SearchCacheTTL  time.Duration
	DownloadTimeout time.Duration
	MaxDownloadSize int64 // Bytes

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// MySQL request history
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// HTTP status API
	HTTPAddr         string
	ControlJWTSecret string

	// Logging
	LogLevel string
	LogFile  string
}

// getEnv gets a prefixed environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets a prefixed environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("2s") or plain seconds ("2", "1.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(envPrefix + key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(envPrefix + key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load loads configuration from the environment (via .env file) or defaults.
// A missing .env file is not an error; the returned bool reports whether one was read.
func Load() (*Config, bool) {
	// godotenv.Load() does not override variables that are already set.
	loaded := godotenv.Load() == nil

	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", "0.0.0.0"),
		ListenPort:     getEnvInt("LISTEN_PORT", 1234),
		InEncodings:    getEnvList("IN_ENCODINGS", []string{"utf-8", "windows-1251"}),
		OutEncodings:   getEnvList("OUT_ENCODINGS", []string{"windows-1251", "utf-8"}),
		ReadTimeout:    getEnvDuration("READ_TIMEOUT", 10*time.Second),
		ReplyTimeout:   getEnvDuration("REPLY_TIMEOUT", 2*time.Minute),
		MaxConnections: getEnvInt("MAX_CONNECTIONS", 64),

		IcecastHost:       getEnv("ICECAST_HOST", "127.0.0.1"),
		IcecastPort:       getEnvInt("ICECAST_PORT", 8000),
		IcecastUser:       getEnv("ICECAST_USER", "source"),
		IcecastPassword:   getEnv("ICECAST_PASSWORD", ""),
		IcecastMount:      getEnv("ICECAST_MOUNT", "/boombot.mp3"),
		IcecastFormat:     getEnv("ICECAST_FORMAT", "audio/mpeg"),
		IcecastName:       getEnv("ICECAST_NAME", "Boombot"),
		IcecastGenre:      getEnv("ICECAST_GENRE", ""),
		IcecastURL:        getEnv("ICECAST_URL", ""),
		IcecastPublic:     getEnvBool("ICECAST_PUBLIC", true),
		IcecastBitrate:    getEnvInt("ICECAST_BITRATE", 256),
		IcecastSampleRate: getEnvInt("ICECAST_SAMPLERATE", 48000),
		IcecastChannels:   getEnvInt("ICECAST_CHANNELS", 2),

		ChunkSize:          getEnvInt("CHUNK_SIZE", 4096),
		MaxConnectAttempts: getEnvInt("MAX_CONNECT_ATTEMPTS", 10),
		ConnectRetryDelay:  getEnvDuration("CONNECT_RETRY_DELAY", time.Second),
		FallbackPath:       getEnv("FALLBACK_PATH", "assets/fallback.mp3"),
		FallbackObject:     getEnv("FALLBACK_OBJECT", ""),
		WatchFallback:      getEnvBool("WATCH_FALLBACK", true),
		MetadataTimeout:    getEnvDuration("METADATA_TIMEOUT", time.Second),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 2*time.Second),
		Providers:       getEnvList("PROVIDERS", []string{"netease", "library"}),
		NeteaseAPIURL:   getEnv("NETEASE_API_URL", "http://localhost:3000"),
		NeteaseLimit:    getEnvInt("NETEASE_LIMIT", 10),
		LibraryPrefix:   getEnv("LIBRARY_PREFIX", "library/"),
		LibraryLimit:    getEnvInt("LIBRARY_LIMIT", 10),
		SearchCacheTTL:  getEnvDuration("SEARCH_CACHE_TTL", 10*time.Minute),
		DownloadTimeout: getEnvDuration("DOWNLOAD_TIMEOUT", 90*time.Second),
		MaxDownloadSize: int64(getEnvInt("MAX_DOWNLOAD_SIZE", 64<<20)),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "boombot"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", ""),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "boombot"),

		HTTPAddr:         getEnv("HTTP_ADDR", ""),
		ControlJWTSecret: getEnv("CONTROL_JWT_SECRET", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}, loaded
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ListenPort <= 0 || c.ListenPort > 65535:
		return fmt.Errorf("invalid listen port: %d", c.ListenPort)
	case len(c.InEncodings) == 0:
		return fmt.Errorf("at least one input encoding is required")
	case len(c.OutEncodings) == 0:
		return fmt.Errorf("at least one output encoding is required")
	case c.ChunkSize <= 0:
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	case c.MaxConnectAttempts <= 0:
		return fmt.Errorf("invalid max connect attempts: %d", c.MaxConnectAttempts)
	case c.ProviderTimeout <= 0:
		return fmt.Errorf("invalid provider timeout: %s", c.ProviderTimeout)
	case c.DownloadTimeout <= 0:
		return fmt.Errorf("invalid download timeout: %s", c.DownloadTimeout)
	case c.ReplyTimeout <= c.DownloadTimeout+c.ProviderTimeout:
		return fmt.Errorf("reply timeout %s must exceed download timeout plus provider timeout (%s)",
			c.ReplyTimeout, c.DownloadTimeout+c.ProviderTimeout)
	case c.MaxDownloadSize <= 0:
		return fmt.Errorf("invalid max download size: %d", c.MaxDownloadSize)
	case c.IcecastBitrate <= 0:
		return fmt.Errorf("invalid icecast bitrate: %d", c.IcecastBitrate)
	case c.FallbackPath == "" && c.FallbackObject == "":
		return fmt.Errorf("a fallback clip path or object key is required")
	}
	return nil
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// MinioEnabled reports whether a MinIO endpoint is configured.
func (c *Config) MinioEnabled() bool { return c.MinioEndpoint != "" }

// DBEnabled reports whether a MySQL host is configured.
func (c *Config) DBEnabled() bool { return c.DBHost != "" }

// ListenAddress returns host:port for the request server.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}
