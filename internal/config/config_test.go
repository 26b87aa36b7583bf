package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if !cfg.Server.PortSearch {
		t.Error("port search should default on")
	}
	if !cfg.Viewer.MultiFrame || !cfg.Viewer.EnableAOVs {
		t.Error("viewer toggles should default on")
	}
	if cfg.Viewer.TickMS != 20 {
		t.Errorf("tick = %dms, want 20", cfg.Viewer.TickMS)
	}
	if cfg.InstanceID == "" {
		t.Error("instance id should be generated")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aton.yaml")
	body := `
instance_id: render-wall-3
server:
  port: 9301
  port_search: false
viewer:
  multi_frame: false
  enable_aovs: true
  tick_ms: 50
mqtt:
  enabled: true
  broker: broker.local:1883
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.InstanceID != "render-wall-3" {
		t.Errorf("instance_id = %q", cfg.InstanceID)
	}
	if cfg.Server.Port != 9301 || cfg.Server.PortSearch {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Viewer.MultiFrame {
		t.Error("multi_frame should be off")
	}
	if cfg.Viewer.TickMS != 50 {
		t.Errorf("tick_ms = %d", cfg.Viewer.TickMS)
	}
	// Derived topic defaults fill in from the instance id.
	if cfg.MQTT.Topics.Status != "aton/status/render-wall-3" {
		t.Errorf("status topic = %q", cfg.MQTT.Topics.Status)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aton.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9301\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The sender and receiver share the ATON_PORT convention; the
	// environment wins over the file so one export aligns both ends.
	t.Setenv("ATON_PORT", "9555")
	t.Setenv("ATON_HOST", "farm-07")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9555 {
		t.Errorf("port = %d, want env override 9555", cfg.Server.Port)
	}
	if cfg.Server.Host != "farm-07" {
		t.Errorf("host = %q, want farm-07", cfg.Server.Host)
	}
}

func TestMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed on missing file: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad instance id", func(c *Config) { c.InstanceID = "Render Wall!" }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
