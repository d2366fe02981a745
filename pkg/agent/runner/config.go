package runner

import "time"

// Config holds the Connection Runner's tunables.
type Config struct {
	ServerURL            string
	AgentID              string
	Name                 string
	Token                string
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	BackoffRate          float64
}

// DefaultConfig returns the source's literal defaults: 360 max
// reconnect attempts with a 1.05 backoff rate (hetuflow-agent's
// `RetryStrategy::new_enable().with_retry_limit(360).with_increase_rate(1.05)`).
func DefaultConfig(serverURL, agentID string) Config {
	return Config{
		ServerURL:            serverURL,
		AgentID:              agentID,
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 360,
		BackoffRate:          1.05,
	}
}
