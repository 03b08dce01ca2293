package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 500, cfg.TrailMaxLines)
	assert.Equal(t, int64(4), cfg.MaxConcurrentRuns)
	assert.Equal(t, 3*time.Minute, cfg.RunTimeout)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	assert.True(t, cfg.Headless, "no display attached")
	assert.Nil(t, cfg.Proxy)
	assert.Equal(t, "linkedin", cfg.Profile.Name)
	assert.False(t, cfg.StrictConfirmation)
}

func TestFullEnvironment(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"APP_ENV":                "production",
		"DISPLAY":                ":0",
		"SESSION_ENCRYPTION_KEY": "k",
		"PROXY_HOST":             "proxy.internal",
		"PROXY_PORT":             "3128",
		"PROXY_USERNAME":         "u",
		"PROXY_PASSWORD":         "p",
		"BROWSER_BACKEND":        "docker",
		"STRICT_CONFIRMATION":    "yes",
		"RUN_TIMEOUT":            "90s",
		"LOG_LEVEL":              "debug",
		"MAX_CONCURRENT_RUNS":    "2",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.Production)
	assert.True(t, cfg.Headless, "production forces headless")
	assert.Equal(t, "proxy.internal:3128", cfg.Proxy.Address())
	assert.True(t, cfg.Proxy.HasCredentials())
	assert.Equal(t, BackendDocker, cfg.Backend)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)

	ec := cfg.Engine()
	assert.Equal(t, "k", ec.SessionKey)
	assert.True(t, ec.StrictConfirmation)
	assert.Equal(t, 90*time.Second, ec.RunTimeout)
	assert.Same(t, cfg.Proxy, ec.Proxy)
}

func TestInvalidValuesAreAllReported(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"BROWSER_BACKEND": "lambda",
		"RUN_TIMEOUT":     "soon",
		"PROXY_PORT":      "3128",
		"LOG_LEVEL":       "chatty",
	}))
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	for _, name := range []string{"BROWSER_BACKEND", "RUN_TIMEOUT", "PROXY_HOST", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestProxyPortOutOfRange(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"PROXY_HOST": "p", "PROXY_PORT": "70000"}))
	assert.ErrorContains(t, err, "out of range")
}

func TestProfileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_note_length: 200\n"), 0o600))

	cfg, err := FromEnv(env(map[string]string{"PLATFORM_PROFILE": path}))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Profile.MaxNoteLength)

	_, err = FromEnv(env(map[string]string{"PLATFORM_PROFILE": filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.ErrorContains(t, err, "PLATFORM_PROFILE")
}

func TestLoadToleratesMissingDotenv(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}
