// Package config provides configuration management and environment variable handling for the application
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProductionConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "gemini-1.5-flash", cfg.Gemini.Model)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxSizeBytes)
	assert.Equal(t, "data/uploads/tmp", cfg.Upload.Dir)
	assert.Contains(t, cfg.Upload.AllowedTypes, "image/jpeg")
	assert.Equal(t, 60*time.Second, cfg.Gemini.Timeout)
}

func TestLoadProductionConfig_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SERVER_PORT", "8088")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("UPLOAD_MAX_SIZE_BYTES", "5242880")
	t.Setenv("UPLOAD_ALLOWED_TYPES", "image/jpeg, image/png")
	t.Setenv("GEMINI_TIMEOUT", "30s")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, int64(5242880), cfg.Upload.MaxSizeBytes)
	assert.Equal(t, []string{"image/jpeg", "image/png"}, cfg.Upload.AllowedTypes)
	assert.Equal(t, 30*time.Second, cfg.Gemini.Timeout)
}

func TestLoadProductionConfig_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadProductionConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestValidateProductionConfig_AggregatesErrors(t *testing.T) {
	cfg := &ProductionConfig{}

	err := ValidateProductionConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.Contains(t, err.Error(), "UPLOAD_MAX_SIZE_BYTES")
}

func TestValidateProductionConfig_RejectsBadAllowlistEntry(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("UPLOAD_ALLOWED_TYPES", "jpeg")

	_, err := LoadProductionConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a MIME type")
}
