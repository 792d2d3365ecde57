// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for the gateway
type ProductionConfig struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Gemini   GeminiConfig   `json:"gemini"`
	Upload   UploadConfig   `json:"upload"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	ProxyHeader     string        `json:"proxy_header"`
}

type SecurityConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`
}

// GeminiConfig holds credentials and call parameters for the generation API.
type GeminiConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// UploadConfig bounds incoming files and locates transient storage.
type UploadConfig struct {
	Dir          string   `json:"dir"`
	MaxSizeBytes int64    `json:"max_size_bytes"`
	AllowedTypes []string `json:"allowed_types"`
	MaxDimension int      `json:"max_dimension"`
	SweepMaxAge  time.Duration `json:"sweep_max_age"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file when present
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &ProductionConfig{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 3000),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", ""),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
		},
		Gemini: GeminiConfig{
			BaseURL: getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:  getEnvString("GEMINI_API_KEY", ""),
			Model:   getEnvString("GEMINI_MODEL", "gemini-1.5-flash"),
			Timeout: getEnvDuration("GEMINI_TIMEOUT", 60*time.Second),
		},
		Upload: UploadConfig{
			Dir:          getEnvString("UPLOAD_DIR", "data/uploads/tmp"),
			MaxSizeBytes: getEnvInt64("UPLOAD_MAX_SIZE_BYTES", 10*1024*1024),
			AllowedTypes: getEnvStringSlice("UPLOAD_ALLOWED_TYPES", []string{"image/jpeg", "image/png", "image/gif", "image/webp"}),
			MaxDimension: getEnvInt("UPLOAD_MAX_DIMENSION", 2048),
			SweepMaxAge:  getEnvDuration("UPLOAD_SWEEP_MAX_AGE", 1*time.Hour),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "json"),
			File:       getEnvString("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate generation API configuration
	if cfg.Gemini.APIKey == "" {
		errors = append(errors, "GEMINI_API_KEY is required")
	}
	if cfg.Gemini.Model == "" {
		errors = append(errors, "GEMINI_MODEL is required")
	}
	if cfg.Gemini.BaseURL == "" {
		errors = append(errors, "GEMINI_BASE_URL is required")
	}
	if cfg.Gemini.Timeout <= 0 {
		errors = append(errors, "GEMINI_TIMEOUT must be positive")
	}

	// Validate upload configuration
	if cfg.Upload.Dir == "" {
		errors = append(errors, "UPLOAD_DIR is required")
	}
	if cfg.Upload.MaxSizeBytes <= 0 {
		errors = append(errors, "UPLOAD_MAX_SIZE_BYTES must be positive")
	}
	if len(cfg.Upload.AllowedTypes) == 0 {
		errors = append(errors, "UPLOAD_ALLOWED_TYPES must not be empty")
	}
	for _, t := range cfg.Upload.AllowedTypes {
		if !strings.Contains(t, "/") {
			errors = append(errors, fmt.Sprintf("UPLOAD_ALLOWED_TYPES entry %q is not a MIME type", t))
		}
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
