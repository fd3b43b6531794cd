package core

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SUBMISSIONS_"

type Database struct {
	Type             string `yaml:"type" validate:"oneof=sqlite postgres"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type Storage struct {
	Type          string `yaml:"type" validate:"oneof=local s3"`
	Directory     string `yaml:"directory"`
	PublicBaseURL string `yaml:"publicBaseURL" validate:"omitempty,url"`
	S3            S3     `yaml:"s3"`
}

type Cache struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl" validate:"min=0"`
}

type ServiceConfig struct {
	Port                  int      `yaml:"port" validate:"min=1,max=65535"`
	LogLevel              string   `yaml:"logLevel" validate:"oneof=debug info warn error"`
	Database              Database `yaml:"database"`
	Storage               Storage  `yaml:"storage"`
	MaxFilesPerSubmission int      `yaml:"maxFilesPerSubmission" validate:"min=1"`
	MaxUploadSize         string   `yaml:"maxUploadSize"` // echo body limit notation, e.g. 64M
	AllowOrigins          []string `yaml:"allowOrigins"`
	Cache                 Cache    `yaml:"cache"`
}

// LoadConfig loads configuration from the specified YAML file.
// An empty path skips the file; environment overrides and defaults still apply.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	var config ServiceConfig

	if configPath != "" {
		// Read the config file
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}

		// Parse YAML
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := applyEnvironment(&config); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks field constraints and the settings that depend on the storage type.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Same notation the echo body limit middleware parses
	if _, err := bytes.Parse(c.MaxUploadSize); err != nil {
		return fmt.Errorf("maxUploadSize %q is invalid: %w", c.MaxUploadSize, err)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Directory == "" {
			return fmt.Errorf("storage.directory is required for local storage")
		}
		if c.Storage.PublicBaseURL == "" {
			return fmt.Errorf("storage.publicBaseURL is required for local storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
		if c.Storage.S3.Endpoint == "" && c.Storage.PublicBaseURL == "" {
			return fmt.Errorf("storage.publicBaseURL is required for s3 storage without a custom endpoint")
		}
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyDefaults(config *ServiceConfig) {
	if config.Port == 0 {
		config.Port = 5000
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.ConnectionString == "" && config.Database.Type == "sqlite" {
		config.Database.ConnectionString = "./submissions.db"
	}
	if config.Storage.Type == "" {
		config.Storage.Type = "local"
	}
	if config.Storage.Type == "local" {
		if config.Storage.Directory == "" {
			config.Storage.Directory = "./uploads"
		}
		if config.Storage.PublicBaseURL == "" {
			config.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/uploads", config.Port)
		}
	}
	if config.Storage.S3.Region == "" {
		config.Storage.S3.Region = "us-east-1"
	}
	if config.MaxFilesPerSubmission == 0 {
		config.MaxFilesPerSubmission = 10
	}
	if config.MaxUploadSize == "" {
		config.MaxUploadSize = "64M"
	}
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = time.Minute
	}
}

// applyEnvironment overrides file values with SUBMISSIONS_* environment variables.
func applyEnvironment(config *ServiceConfig) error {
	if err := overrideInt(&config.Port, "PORT"); err != nil {
		return err
	}
	if err := overrideInt(&config.MaxFilesPerSubmission, "MAX_FILES_PER_SUBMISSION"); err != nil {
		return err
	}
	overrideString(&config.LogLevel, "LOG_LEVEL")
	overrideString(&config.Database.Type, "DATABASE_TYPE")
	overrideString(&config.Database.ConnectionString, "DATABASE_CONNECTION_STRING")
	overrideString(&config.Storage.Type, "STORAGE_TYPE")
	overrideString(&config.Storage.Directory, "UPLOAD_DIR")
	overrideString(&config.Storage.PublicBaseURL, "PUBLIC_BASE_URL")
	overrideString(&config.Storage.S3.Endpoint, "S3_ENDPOINT")
	overrideString(&config.Storage.S3.Bucket, "S3_BUCKET")
	overrideString(&config.Storage.S3.AccessKey, "S3_ACCESS_KEY")
	overrideString(&config.Storage.S3.SecretKey, "S3_SECRET_KEY")
	overrideString(&config.Cache.RedisAddr, "REDIS_ADDR")
	overrideString(&config.Cache.RedisPassword, "REDIS_PASSWORD")
	if origins := os.Getenv(envPrefix + "ALLOW_ORIGINS"); origins != "" {
		config.AllowOrigins = strings.Split(origins, ",")
	}
	return nil
}

func overrideString(target *string, key string) {
	if value := os.Getenv(envPrefix + key); value != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) error {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s%s must be an integer: %w", envPrefix, key, err)
	}
	*target = value
	return nil
}
