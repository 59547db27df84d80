package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ArchiveNone   = "none"
	ArchiveRedis  = "redis"
	ArchiveDynamo = "dynamo"
)

type Config struct {
	ServerPort  string
	LogLevel    string
	CORSOrigins []string

	WorkerCount       int
	QueueSize         int
	MaxCompletedTasks int
	StageDelay        time.Duration

	CatalogURL   string
	CatalogToken string

	DownloadDir      string
	DownloadTimeout  time.Duration
	DownloadAuthHost string
	MaxRedirects     int

	ArchiveBackend string
	ArchiveTTL     time.Duration
	RedisAddr      string
	RedisPass      string
	RedisDB        int
	AWSRegion      string
	DynamoTable    string
	DynamoEndpoint string

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the environment, seeding it from a .env file in the working
// directory when one exists. Variables already set take precedence.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "*")),

		WorkerCount:       getEnvInt("WORKER_COUNT", 3),
		QueueSize:         getEnvInt("QUEUE_SIZE", 64),
		MaxCompletedTasks: getEnvInt("MAX_COMPLETED_TASKS", 100),
		StageDelay:        getEnvDuration("STAGE_DELAY", 2*time.Second),

		CatalogURL:   getEnv("ASF_SEARCH_URL", "https://api.daac.asf.alaska.edu/services/search/param"),
		CatalogToken: getEnv("ASF_API_TOKEN", ""),

		DownloadDir:      getEnv("DOWNLOAD_DIR", "./data/sentinel1"),
		DownloadTimeout:  getEnvDuration("DOWNLOAD_TIMEOUT", 300*time.Second),
		DownloadAuthHost: getEnv("DOWNLOAD_AUTH_HOST", "datapool.asf.alaska.edu"),
		MaxRedirects:     getEnvInt("MAX_REDIRECTS", 5),

		ArchiveBackend: strings.ToLower(getEnv("ARCHIVE_BACKEND", ArchiveNone)),
		ArchiveTTL:     getEnvDuration("ARCHIVE_TTL", 24*time.Hour),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		AWSRegion:      getEnv("AWS_REGION", "us-east-2"),
		DynamoTable:    getEnv("DYNAMO_TABLE", ""),
		DynamoEndpoint: getEnv("DYNAMO_ENDPOINT", ""),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "sarflow.task-events"),
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.CatalogToken == "" {
		return errors.New("ASF_API_TOKEN is required: set it to an Earthdata bearer token")
	}
	if c.WorkerCount < 1 {
		return errors.New("WORKER_COUNT must be at least 1")
	}
	if c.MaxRedirects < 0 {
		return errors.New("MAX_REDIRECTS must not be negative")
	}

	switch c.ArchiveBackend {
	case ArchiveNone, ArchiveRedis:
	case ArchiveDynamo:
		if c.DynamoTable == "" {
			return errors.New("DYNAMO_TABLE is required when ARCHIVE_BACKEND=dynamo")
		}
	default:
		return errors.New("ARCHIVE_BACKEND must be one of none, redis, dynamo")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
