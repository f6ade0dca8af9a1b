package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
capture:
  interface: eth1
dissector:
  alt_port: 5001
sessions:
  idle_timeout: 90s
output:
  nats_url: nats://127.0.0.1:4222
http:
  enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Capture.Interface != "eth1" {
		t.Errorf("Interface = %q", cfg.Capture.Interface)
	}
	if cfg.Dissector.Port != 23 || cfg.Dissector.AltPort != 5001 {
		t.Errorf("ports = %d/%d, want 23/5001", cfg.Dissector.Port, cfg.Dissector.AltPort)
	}
	if d, _ := cfg.IdleTimeout(); d != 90*time.Second {
		t.Errorf("IdleTimeout = %s", d)
	}
	if cfg.Output.NATSSubject != "ficsniff.events" {
		t.Errorf("default subject lost: %q", cfg.Output.NATSSubject)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "capture: [",
		"same ports":    "dissector:\n  port: 5000\n",
		"zero port":     "dissector:\n  port: 0\n",
		"bad duration":  "sessions:\n  idle_timeout: soon\n",
		"zero duration": "sessions:\n  idle_timeout: 0s\n",
		"no subject":    "output:\n  nats_url: nats://x\n  nats_subject: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}
