package trigger

import (
	"math"
	"time"
)

// AttributeKey is the custom attribute attached to a conversation when the
// greeting was opened proactively and the page supplied a greeting override.
const AttributeKey = "harbor_trigger"

// AttributeValue marks a proactively triggered greeting.
const AttributeValue = "proactive"

// MaxTimeDelaySeconds is the longest delay a time.Duration can hold.
const MaxTimeDelaySeconds = math.MaxInt64 / int64(time.Second)

// Config is the effective trigger configuration for one page load.
type Config struct {
	TimeDelaySeconds   int     `json:"timeDelaySeconds"`
	ScrollDepthPercent float64 `json:"scrollDepthPercent"`
	ExitIntentEnabled  bool    `json:"exitIntentEnabled"`
	GreetingOverride   *string `json:"greetingOverride"`
}

// Partial is caller-supplied configuration. Nil fields keep the value
// underneath when merged.
type Partial struct {
	TimeDelaySeconds   *int     `json:"timeDelaySeconds,omitempty" yaml:"time_delay_seconds,omitempty"`
	ScrollDepthPercent *float64 `json:"scrollDepthPercent,omitempty" yaml:"scroll_depth_percent,omitempty"`
	ExitIntentEnabled  *bool    `json:"exitIntentEnabled,omitempty" yaml:"exit_intent_enabled,omitempty"`
	GreetingOverride   *string  `json:"greetingOverride,omitempty" yaml:"greeting_override,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		TimeDelaySeconds:   30,
		ScrollDepthPercent: 50,
		ExitIntentEnabled:  true,
	}
}

// Merge applies partials over DefaultConfig in order, then normalizes the
// result. Out-of-range values are clamped rather than rejected.
func Merge(partials ...Partial) Config {
	cfg := DefaultConfig()
	for _, p := range partials {
		cfg = p.apply(cfg)
	}
	return cfg.normalize()
}

func (p Partial) apply(cfg Config) Config {
	if p.TimeDelaySeconds != nil {
		cfg.TimeDelaySeconds = *p.TimeDelaySeconds
	}
	if p.ScrollDepthPercent != nil {
		cfg.ScrollDepthPercent = *p.ScrollDepthPercent
	}
	if p.ExitIntentEnabled != nil {
		cfg.ExitIntentEnabled = *p.ExitIntentEnabled
	}
	if p.GreetingOverride != nil {
		override := *p.GreetingOverride
		cfg.GreetingOverride = &override
	}
	return cfg
}

func (c Config) normalize() Config {
	if c.TimeDelaySeconds < 0 {
		c.TimeDelaySeconds = 0
	}
	if int64(c.TimeDelaySeconds) > MaxTimeDelaySeconds {
		c.TimeDelaySeconds = int(MaxTimeDelaySeconds)
	}
	if math.IsNaN(c.ScrollDepthPercent) || c.ScrollDepthPercent < 0 {
		c.ScrollDepthPercent = 0
	}
	if c.ScrollDepthPercent > 100 {
		c.ScrollDepthPercent = 100
	}
	return c
}

// TimeEnabled reports whether the elapsed-time signal is armed.
func (c Config) TimeEnabled() bool { return c.TimeDelaySeconds > 0 }

// ScrollEnabled reports whether the scroll-depth signal is armed.
func (c Config) ScrollEnabled() bool { return c.ScrollDepthPercent > 0 }
