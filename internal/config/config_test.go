package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  base_url: "https://app.inseam.io"

connector:
  api_key: "test-api-key"
  base_url: "https://api.eu.nylas.com"
  timeout_seconds: 45

openai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
  max_tokens: 2000

pipeline:
  batch_size: 10
  max_concurrency: 8
  auto_refresh: true
  refresh_interval_min: 5

storage:
  dynamodb_table: "inseam-checkpoints"
  s3_archive_bucket: "inseam-raw-mail"
  aws_region: "us-west-2"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://app.inseam.io", cfg.Server.BaseURL)

	assert.Equal(t, "test-api-key", cfg.Connector.APIKey)
	assert.Equal(t, "https://api.eu.nylas.com", cfg.Connector.BaseURL)
	assert.Equal(t, 45, cfg.Connector.TimeoutSeconds)

	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 2000, cfg.OpenAI.MaxTokens)

	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrency)
	assert.True(t, cfg.Pipeline.AutoRefresh)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RefreshInterval())

	assert.Equal(t, "inseam-checkpoints", cfg.Storage.DynamoDBTable)
	assert.Equal(t, "inseam-raw-mail", cfg.Storage.S3ArchiveBucket)
	assert.Equal(t, "us-west-2", cfg.Storage.AWSRegion)
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
connector:
  api_key: "test-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "https://api.us.nylas.com", cfg.Connector.BaseURL)
	assert.Equal(t, 30, cfg.Connector.TimeoutSeconds)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 15, cfg.Pipeline.RefreshIntervalMin)
	assert.Equal(t, 90, cfg.Storage.CheckpointTTLDays)
	assert.Equal(t, "inseam_session", cfg.Auth.CookieName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
connector:
  api_key: "file-key"
  base_url: "https://file-url.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	os.Setenv("NYLAS_API_KEY", "env-key")
	os.Setenv("NYLAS_BASE_URL", "https://env-url.com")
	os.Setenv("OPENAI_API_KEY", "sk-env")
	defer func() {
		os.Unsetenv("NYLAS_API_KEY")
		os.Unsetenv("NYLAS_BASE_URL")
		os.Unsetenv("OPENAI_API_KEY")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-key", cfg.Connector.APIKey)
	assert.Equal(t, "https://env-url.com", cfg.Connector.BaseURL)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestConnectorTimeout(t *testing.T) {
	cfg := ConnectorConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*time.Second, cfg.Timeout())
}

func TestServerAddr(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 9000}
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}
