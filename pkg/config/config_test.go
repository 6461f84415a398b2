package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"APP_IDENTIFIER":                "demo",
		"DOCKER_IMAGE":                  "demo:latest",
		"TARGET_PORT":                   "8080",
		"HOST_PORT_HTTP_BALANCER":       "9000",
		"HOST_PORT_WS_DEPLOYMENT_AGENT": "9001",
		"REDIS_HOST":                    "localhost",
		"REDIS_PORT":                    "6379",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DefaultContainer)
	assert.Equal(t, 15, cfg.MaxContainers)
	assert.Equal(t, 1000, cfg.CacheCapacity)
	assert.Equal(t, 30, cfg.RequestTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Clearenv()
	_, err := Load()
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoad_MaxBelowDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEFAULT_CONTAINER", "10")
	t.Setenv("MAX_CONTAINERS", "5")

	_, err := Load()
	require.Error(t, err)
}
