// Package config loads process configuration from the environment,
// shared by cmd/balancer and cmd/agent. Missing required variables or
// unparsable values are reported as a ConfigError and are fatal at
// startup per the error-handling design.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// ConfigError wraps a failure to load configuration from the
// environment. It is always fatal: main() exits non-zero on it.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config holds every environment variable read by either binary. Both
// cmd/balancer and cmd/agent load the same struct; each only consults
// the fields relevant to it.
type Config struct {
	AppIdentifier string `env:"APP_IDENTIFIER,required"`
	DockerImage   string `env:"DOCKER_IMAGE,required"`
	TargetPort    int    `env:"TARGET_PORT,required"`

	DefaultContainer int `env:"DEFAULT_CONTAINER" envDefault:"2"`
	MaxContainers    int `env:"MAX_CONTAINERS" envDefault:"15"`

	HostPortHTTPBalancer       int    `env:"HOST_PORT_HTTP_BALANCER,required"`
	HostPortWSDeploymentAgent  int    `env:"HOST_PORT_WS_DEPLOYMENT_AGENT,required"`
	HostIPHostInternal         string `env:"HOST_IP_HOST_INTERNAL" envDefault:"127.0.0.1"`

	CacheCapacity  int `env:"CACHE_CAPACITY" envDefault:"1000"`
	RequestTimeout int `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds

	RedisHost string `env:"REDIS_HOST,required"`
	RedisPort int    `env:"REDIS_PORT,required"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`

	MetricsPort int `env:"METRICS_PORT" envDefault:"9090"`

	ContainerdSocket    string `env:"CONTAINERD_SOCKET" envDefault:"/run/containerd/containerd.sock"`
	ContainerdNamespace string `env:"CONTAINERD_NAMESPACE" envDefault:"ballast"`
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	if cfg.DefaultContainer < 1 {
		return nil, &ConfigError{Err: fmt.Errorf("DEFAULT_CONTAINER must be >= 1, got %d", cfg.DefaultContainer)}
	}
	if cfg.MaxContainers < cfg.DefaultContainer {
		return nil, &ConfigError{Err: fmt.Errorf("MAX_CONTAINERS (%d) must be >= DEFAULT_CONTAINER (%d)", cfg.MaxContainers, cfg.DefaultContainer)}
	}
	return cfg, nil
}

// RedisAddr formats the configured Redis host/port as a dial address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
