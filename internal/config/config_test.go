package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.RunAddr)
	assert.Equal(t, EnvDevelopment, cfg.AppEnv)
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.DatabaseURI)
	assert.Equal(t, "jwt", cfg.AuthCookieName)
	assert.Equal(t, 90*24*time.Hour, cfg.JWTExpiresIn)
	assert.Equal(t, 10*time.Minute, cfg.PasswordResetTTL)
	assert.Equal(t, int64(10<<10), cfg.BodyLimitBytes)
	assert.Equal(t, 1000, cfg.RateLimitRequests)
	assert.Equal(t, time.Hour, cfg.RateLimitWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "local", cfg.ImageStorage)
}

const testJSON = `{
	"server_address": ":3000",
	"database": "mongodb://json-host:27017",
	"database_name": "json-db",
	"frontend_url": "https://json-config.com",
	"cors_allowed_origins": ["https://a.example.com", "https://b.example.com"]
}`

func writeTempJSON(t *testing.T, content string) string {
	t.Helper()
	file, err := os.CreateTemp("", "config*.json")
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	t.Cleanup(func() {
		err := os.Remove(file.Name())
		require.NoError(t, err)
	})
	return file.Name()
}

func TestConfigPriorityJSONOnly(t *testing.T) {
	jsonPath := writeTempJSON(t, testJSON)
	t.Setenv("CONFIG", jsonPath)

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.RunAddr)
	assert.Equal(t, "mongodb://json-host:27017", cfg.DatabaseURI)
	assert.Equal(t, "json-db", cfg.DatabaseName)
	assert.Equal(t, "https://json-config.com", cfg.FrontendURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, jsonPath, cfg.ConfigFile)
}

func TestConfigPriorityJSONPlusEnv(t *testing.T) {
	jsonPath := writeTempJSON(t, testJSON)
	t.Setenv("CONFIG", jsonPath)
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://env.example.com")
	t.Setenv("JWT_EXPIRES_IN", "1h")

	cfg, err := New(WithDisableFlagsParsing(true))
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.RunAddr) // env overrides json
	assert.Equal(t, []string{"https://env.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Hour, cfg.JWTExpiresIn)
	assert.Equal(t, "json-db", cfg.DatabaseName) // from JSON
}

func TestConfigPriorityAllSources(t *testing.T) {
	jsonPath := writeTempJSON(t, testJSON)
	t.Setenv("SERVER_ADDRESS", ":4000")
	t.Setenv("DATABASE", "mongodb://env-host:27017")

	cfg, err := New(WithArgs([]string{
		"-c", jsonPath,
		"-a", ":6000",
		"-l", "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.RunAddr) // CLI > ENV > JSON
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mongodb://env-host:27017", cfg.DatabaseURI) // ENV > JSON
	assert.Equal(t, "json-db", cfg.DatabaseName)                 // from JSON
}

func TestValidation(t *testing.T) {
	type tTestCase struct {
		name string
		env  map[string]string
	}
	testCases := []tTestCase{
		{name: "unknown log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "unknown environment", env: map[string]string{"APP_ENV": "staging"}},
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}},
		{name: "development secret in production", env: map[string]string{"APP_ENV": "production"}},
		{name: "s3 without bucket", env: map[string]string{"IMAGE_STORAGE": "s3"}},
		{name: "cloudinary without cloud", env: map[string]string{"IMAGE_STORAGE": "cloudinary"}},
		{name: "bad address", env: map[string]string{"SERVER_ADDRESS": "nowhere"}},
		{name: "bad cost", env: map[string]string{"BCRYPT_COST": "2"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			_, err := New(WithDisableFlagsParsing(true))
			assert.Error(t, err)
		})
	}

	t.Run("production with a secret", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("JWT_SECRET", "a-production-secret-of-at-least-32-chars")

		cfg, err := New(WithDisableFlagsParsing(true))
		require.NoError(t, err)
		assert.True(t, cfg.IsProduction())
	})
}
