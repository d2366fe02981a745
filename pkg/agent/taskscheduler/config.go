package taskscheduler

import "time"

// Config holds the Agent Task Scheduler's tunables.
type Config struct {
	PollInterval        time.Duration
	LoadFactorThreshold float64
	Tags                []string
}

// DefaultConfig returns sensible defaults for the load factor threshold
// an Agent polls under.
func DefaultConfig() Config {
	return Config{
		PollInterval:        5 * time.Second,
		LoadFactorThreshold: 0.8,
	}
}
