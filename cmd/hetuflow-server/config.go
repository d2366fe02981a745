package main

import (
	"os"
	"time"

	"github.com/cuemby/hetuflow/pkg/schedsvc"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the YAML shape loaded by --config; every field has a
// flag-settable fallback so the server runs with just flags in dev.
type ServerConfig struct {
	ServerID    string   `yaml:"server_id"`
	BindAddress string   `yaml:"bind_address"`
	DataDir     string   `yaml:"data_dir"`
	Namespaces  []string `yaml:"namespaces"`
	LogLevel    string   `yaml:"log_level"`
	LogJSON     bool     `yaml:"log_json"`

	HeartbeatInterval string `yaml:"heartbeat_interval"`
	TimeoutSweepEvery string `yaml:"timeout_sweep_every"`
	AgentOverdueTTL   string `yaml:"agent_overdue_ttl"`
	ServerOverdueTTL  string `yaml:"server_overdue_ttl"`
	TaskTimeout       string `yaml:"task_timeout"`
	JobCheckInterval  string `yaml:"job_check_interval"`
	JobCheckWindow    string `yaml:"job_check_window"`
}

func loadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// schedsvcConfig overlays any duration knobs the file set onto the
// Scheduler Service's defaults; an unparsable or unset knob keeps the
// default.
func (c *ServerConfig) schedsvcConfig() schedsvc.Config {
	cfg := schedsvc.DefaultConfig()
	overlayDuration(&cfg.HeartbeatInterval, c.HeartbeatInterval)
	overlayDuration(&cfg.TimeoutSweepEvery, c.TimeoutSweepEvery)
	overlayDuration(&cfg.AgentOverdueTTL, c.AgentOverdueTTL)
	overlayDuration(&cfg.ServerOverdueTTL, c.ServerOverdueTTL)
	overlayDuration(&cfg.TaskTimeout, c.TaskTimeout)
	overlayDuration(&cfg.JobCheckInterval, c.JobCheckInterval)
	overlayDuration(&cfg.JobCheckWindow, c.JobCheckWindow)
	return cfg
}

func overlayDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
