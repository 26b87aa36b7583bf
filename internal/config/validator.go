package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = NewInstanceID()
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}

	if cfg.Viewer.TickMS <= 0 {
		cfg.Viewer.TickMS = 20
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("aton/status/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("aton/health/%s", cfg.InstanceID)
		}
	}

	if cfg.Health.Enabled && cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}
	return nil
}
