// Package config loads the receiver configuration: YAML file first,
// ATON_* environment variables on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the well-known Aton receiver port.
const DefaultPort = 9201

// Config is the complete receiver configuration.
type Config struct {
	InstanceID string `yaml:"instance_id"`

	Server ServerConfig `yaml:"server"`
	Viewer ViewerConfig `yaml:"viewer"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Health HealthConfig `yaml:"health"`
}

// ServerConfig controls the TCP endpoint.
type ServerConfig struct {
	// Port to bind. ATON_PORT overrides the file, matching the sender's
	// convention so both ends agree without extra plumbing.
	Port int `yaml:"port" env:"ATON_PORT"`

	// Host the simulator connects to. ATON_HOST overrides.
	Host string `yaml:"host" env:"ATON_HOST"`

	// PortSearch tries the next 99 ports when Port is taken.
	PortSearch bool `yaml:"port_search"`
}

// ViewerConfig seeds the store's policy toggles and the tick cadence.
type ViewerConfig struct {
	MultiFrame bool `yaml:"multi_frame"`
	EnableAOVs bool `yaml:"enable_aovs"`
	LiveCamera bool `yaml:"live_camera"`

	// TickMS is the updater cadence; the effective frame index is
	// recomputed at most once per tick.
	TickMS int `yaml:"tick_ms"`
}

// Tick returns the updater interval.
func (v ViewerConfig) Tick() time.Duration {
	return time.Duration(v.TickMS) * time.Millisecond
}

// MQTTConfig controls the optional status emitter.
type MQTTConfig struct {
	Enabled bool       `yaml:"enabled"`
	Broker  string     `yaml:"broker"`
	Topics  MQTTTopics `yaml:"topics"`
	QoS     byte       `yaml:"qos"`
}

// MQTTTopics contains topic templates.
type MQTTTopics struct {
	Status string `yaml:"status"`
	Health string `yaml:"health"`
}

// HealthConfig controls the optional HTTP health endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       DefaultPort,
			Host:       "localhost",
			PortSearch: true,
		},
		Viewer: ViewerConfig{
			MultiFrame: true,
			EnableAOVs: true,
			TickMS:     20,
		},
		Health: HealthConfig{Port: "8080"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or
// missing), applies environment overrides and validates. The returned
// config always has a usable instance id.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// No file is fine; env + defaults carry the service.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewInstanceID generates the default instance identity.
func NewInstanceID() string {
	return "aton-" + uuid.NewString()[:8]
}
