package config

import (
	"time"

	"bookmarks/internal/ratelimit/models"
)

// Limit holds the two pool limits for one tier.
type Limit struct {
	Short int
	Long  int
}

// Config holds rate limiting configuration.
type Config struct {
	Limits map[models.Tier]Limit

	ShortWindow time.Duration
	LongWindow  time.Duration

	// StoreTimeout bounds each counter store round trip.
	StoreTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Limits: map[models.Tier]Limit{
			models.TierGeneral:   {Short: 120, Long: 4000},
			models.TierSensitive: {Short: 30, Long: 250},
		},
		ShortWindow:  time.Minute,
		LongWindow:   24 * time.Hour,
		StoreTimeout: 100 * time.Millisecond,
	}
}

// LimitFor returns the limits for tier.
func (c *Config) LimitFor(tier models.Tier) (Limit, bool) {
	l, ok := c.Limits[tier]
	return l, ok
}

// WindowLength returns the configured length for a pool kind.
func (c *Config) WindowLength(kind models.WindowKind) time.Duration {
	if kind == models.WindowLong {
		return c.LongWindow
	}
	return c.ShortWindow
}
