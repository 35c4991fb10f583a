// Package worker provides bulk refreshes of the dashboard's query cache.
package worker

import (
	"time"
)

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Concurrency is the number of keys refreshed at once.
	// Default: 3
	Concurrency int

	// Timeout bounds the refresh of each key, retries included.
	// Default: 30 seconds
	Timeout time.Duration

	// Kinds restricts a run to keys of these kinds. Empty means every key.
	Kinds []string
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	d := DefaultRefreshConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Includes reports whether keys of kind are refreshed by a run.
func (c RefreshConfig) Includes(kind string) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
