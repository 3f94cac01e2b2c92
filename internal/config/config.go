// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backup mirror backends
const (
	BackupStorageNone  = "none"
	BackupStorageLocal = "local"
	BackupStorageS3    = "s3"
)

// Config holds the server configuration
type Config struct {
	Port         string
	DataDir      string
	DataFile     string
	ValidatedDir string
	StaticDir    string
	LogDir       string
	LogLevel     string
	DebugMode    bool

	// Validated store and backups
	BackupMinInterval time.Duration
	BackupKeep        int
	RecentBackups     int
	AuditDB           string

	// Backup mirror
	BackupStorage    string
	BackupMirrorPath string
	S3Bucket         string
	S3Region         string
	S3Prefix         string
	AWSAccessKey     string
	AWSSecretKey     string

	// Ingestion
	ResolveWorkers int

	// Saves allowed per client IP per minute
	SaveRateLimit int
}

// Load reads the configuration from the environment, after loading an
// optional .env file
func Load() (*Config, error) {
	godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	validatedDir := getEnv("VALIDATED_DIR", filepath.Join(dataDir, "validated"))

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DataDir:      dataDir,
		DataFile:     getEnv("DATA_FILE", "annotations.jsonl"),
		ValidatedDir: validatedDir,
		StaticDir:    getEnv("STATIC_DIR", "static"),
		LogDir:       getEnv("LOG_DIR", "logs"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DebugMode:    getEnvBool("DEBUG_MODE", true),

		BackupKeep:    20,
		RecentBackups: 5,
		AuditDB:       getEnvAllowEmpty("AUDIT_DB", filepath.Join(validatedDir, "audit.db")),

		BackupStorage:    strings.ToLower(getEnv("BACKUP_STORAGE", BackupStorageNone)),
		BackupMirrorPath: getEnv("BACKUP_MIRROR_PATH", ""),
		S3Bucket:         getEnv("AWS_S3_BUCKET", ""),
		S3Region:         getEnv("AWS_REGION", "us-east-1"),
		S3Prefix:         getEnv("BACKUP_S3_PREFIX", "backups/"),
		AWSAccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),

		ResolveWorkers: 4,
		SaveRateLimit:  60,
	}

	var err error
	if cfg.BackupMinInterval, err = getEnvDuration("BACKUP_MIN_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BackupKeep, err = getEnvInt("BACKUP_KEEP", cfg.BackupKeep); err != nil {
		return nil, err
	}
	if cfg.RecentBackups, err = getEnvInt("RECENT_BACKUPS", cfg.RecentBackups); err != nil {
		return nil, err
	}
	if cfg.ResolveWorkers, err = getEnvInt("RESOLVE_WORKERS", cfg.ResolveWorkers); err != nil {
		return nil, err
	}
	if cfg.SaveRateLimit, err = getEnvInt("SAVE_RATE_LIMIT", cfg.SaveRateLimit); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and backend requirements
func (c *Config) Validate() error {
	if c.ResolveWorkers <= 0 {
		return fmt.Errorf("RESOLVE_WORKERS must be positive, got %d", c.ResolveWorkers)
	}
	if c.SaveRateLimit <= 0 {
		return fmt.Errorf("SAVE_RATE_LIMIT must be positive, got %d", c.SaveRateLimit)
	}
	if c.BackupKeep < 0 {
		return fmt.Errorf("BACKUP_KEEP must not be negative, got %d", c.BackupKeep)
	}
	if c.RecentBackups <= 0 {
		return fmt.Errorf("RECENT_BACKUPS must be positive, got %d", c.RecentBackups)
	}
	if c.BackupMinInterval < 0 {
		return fmt.Errorf("BACKUP_MIN_INTERVAL must not be negative, got %s", c.BackupMinInterval)
	}
	if filepath.Base(c.DataFile) != c.DataFile {
		return fmt.Errorf("DATA_FILE must be a file name inside DATA_DIR, got %q", c.DataFile)
	}

	switch c.BackupStorage {
	case BackupStorageNone:
	case BackupStorageLocal:
		if c.BackupMirrorPath == "" {
			return fmt.Errorf("BACKUP_MIRROR_PATH is required for local backup storage")
		}
	case BackupStorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("AWS_S3_BUCKET is required for s3 backup storage")
		}
	default:
		return fmt.Errorf("unknown BACKUP_STORAGE: %s", c.BackupStorage)
	}
	return nil
}

// Directories returns the directories the server needs at startup
func (c *Config) Directories() []string {
	return []string{
		c.DataDir,
		c.ValidatedDir,
		filepath.Join(c.ValidatedDir, "backups"),
		c.LogDir,
	}
}

// getEnv returns the variable or defaultValue when unset or empty
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAllowEmpty distinguishes an explicitly empty variable from an unset one
func getEnvAllowEmpty(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
