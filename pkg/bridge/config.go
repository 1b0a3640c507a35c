package bridge

import (
	"fmt"
	"time"
)

// Config holds bridge behavior settings
type Config struct {
	// LookupTimeout bounds each enrichment lookup of the tag feed
	LookupTimeout time.Duration `yaml:"lookup_timeout"`

	// LookupConcurrency caps the enrichment lookups in flight for one batch
	LookupConcurrency int `yaml:"lookup_concurrency"`

	// SnapshotOnOpen asks the engine for current values when a name-list
	// feed is opened
	SnapshotOnOpen bool `yaml:"snapshot_on_open"`
}

// DefaultConfig returns the default bridge configuration
func DefaultConfig() Config {
	return Config{
		LookupTimeout:     2 * time.Second,
		LookupConcurrency: 16,
		SnapshotOnOpen:    true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup_timeout must be positive, got %s", c.LookupTimeout)
	}
	if c.LookupConcurrency < 0 {
		return fmt.Errorf("lookup_concurrency must not be negative, got %d", c.LookupConcurrency)
	}
	return nil
}
