package main

import (
	"os"
	"time"

	"github.com/cuemby/hetuflow/pkg/agent/process"
	"github.com/cuemby/hetuflow/pkg/agent/runner"
	"github.com/cuemby/hetuflow/pkg/agent/taskscheduler"
	"gopkg.in/yaml.v3"
)

// AgentConfig is the YAML shape loaded by --config; every field has a
// flag-settable fallback so the agent runs with just flags in dev.
type AgentConfig struct {
	AgentID       string   `yaml:"agent_id"`
	Name          string   `yaml:"name"`
	ServerURL     string   `yaml:"server_url"`
	Token         string   `yaml:"token"`
	Labels        []string `yaml:"labels"`
	Tags          []string `yaml:"tags"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	RunBaseDir    string   `yaml:"run_base_dir"`
	LogLevel      string   `yaml:"log_level"`
	LogJSON       bool     `yaml:"log_json"`

	ConnectTimeout      string  `yaml:"connect_timeout"`
	HeartbeatInterval   string  `yaml:"heartbeat_interval"`
	ReconnectInterval   string  `yaml:"reconnect_interval"`
	PollInterval        string  `yaml:"poll_interval"`
	LoadFactorThreshold float64 `yaml:"load_factor_threshold"`
	KillGracePeriod     string  `yaml:"kill_grace_period"`
}

func loadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
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

// runnerConfig overlays any duration knobs the file set onto the
// Connection Runner's literal defaults.
func (c *AgentConfig) runnerConfig() runner.Config {
	cfg := runner.DefaultConfig(c.ServerURL, c.AgentID)
	cfg.Name = c.Name
	cfg.Token = c.Token
	overlayDuration(&cfg.ConnectTimeout, c.ConnectTimeout)
	overlayDuration(&cfg.HeartbeatInterval, c.HeartbeatInterval)
	overlayDuration(&cfg.ReconnectInterval, c.ReconnectInterval)
	return cfg
}

func (c *AgentConfig) processConfig() process.Config {
	cfg := process.DefaultConfig()
	if c.MaxConcurrent > 0 {
		cfg.MaxConcurrentProcesses = c.MaxConcurrent
	}
	if c.RunBaseDir != "" {
		cfg.RunBaseDir = c.RunBaseDir
	}
	overlayDuration(&cfg.KillGracePeriod, c.KillGracePeriod)
	return cfg
}

func (c *AgentConfig) taskSchedulerConfig() taskscheduler.Config {
	cfg := taskscheduler.DefaultConfig()
	cfg.Tags = c.Tags
	if c.LoadFactorThreshold > 0 {
		cfg.LoadFactorThreshold = c.LoadFactorThreshold
	}
	overlayDuration(&cfg.PollInterval, c.PollInterval)
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
