package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig selects where packets come from.
type CaptureConfig struct {
	Interface string `yaml:"interface"`
	PcapFile  string `yaml:"pcap_file"`
	BPFFilter string `yaml:"bpf_filter"`
	SnapLen   int    `yaml:"snap_len"`
}

// DissectorConfig holds the FICS server ports.
type DissectorConfig struct {
	Port    uint16 `yaml:"port"`
	AltPort uint16 `yaml:"alt_port"`
}

// SessionConfig bounds the session and flow tables.
type SessionConfig struct {
	MaxSessions int    `yaml:"max_sessions"`
	NumShards   int    `yaml:"num_shards"`
	IdleTimeout string `yaml:"idle_timeout"`
	MaxFlows    int    `yaml:"max_flows"`
}

// OutputConfig configures where events go.
type OutputConfig struct {
	LogFile     string `yaml:"log_file"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// HTTPConfig configures the WebSocket/API server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Dissector DissectorConfig `yaml:"dissector"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Output    OutputConfig    `yaml:"output"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapLen: 65535,
		},
		Dissector: DissectorConfig{
			Port:    23,
			AltPort: 5000,
		},
		Sessions: SessionConfig{
			MaxSessions: 10000,
			NumShards:   16,
			IdleTimeout: "10m",
			MaxFlows:    10000,
		},
		Output: OutputConfig{
			NATSSubject: "ficsniff.events",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the analyzer cannot run with.
func (c *Config) Validate() error {
	if c.Dissector.Port == 0 || c.Dissector.AltPort == 0 {
		return fmt.Errorf("dissector ports must be non-zero")
	}
	if c.Dissector.Port == c.Dissector.AltPort {
		return fmt.Errorf("dissector port and alt_port must differ (both %d)", c.Dissector.Port)
	}
	if _, err := c.IdleTimeout(); err != nil {
		return err
	}
	if c.Output.NATSURL != "" && c.Output.NATSSubject == "" {
		return fmt.Errorf("output.nats_subject is required when nats_url is set")
	}
	return nil
}

// IdleTimeout returns how long an unfinished capture session may stay idle.
func (c *Config) IdleTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Sessions.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid sessions.idle_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sessions.idle_timeout must be a positive duration")
	}
	return d, nil
}
