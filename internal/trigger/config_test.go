package trigger

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TimeDelaySeconds != 30 || cfg.ScrollDepthPercent != 50 || !cfg.ExitIntentEnabled || cfg.GreetingOverride != nil {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestMergeFieldByField(t *testing.T) {
	cfg := Merge(Partial{ScrollDepthPercent: floatPtr(75)})
	if cfg.ScrollDepthPercent != 75 {
		t.Fatalf("scroll: %v", cfg.ScrollDepthPercent)
	}
	if cfg.TimeDelaySeconds != 30 || !cfg.ExitIntentEnabled {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestMergeLayersInOrder(t *testing.T) {
	cfg := Merge(
		Partial{TimeDelaySeconds: intPtr(10), GreetingOverride: stringPtr("persona")},
		Partial{TimeDelaySeconds: intPtr(5)},
	)
	if cfg.TimeDelaySeconds != 5 {
		t.Fatalf("delay: %d", cfg.TimeDelaySeconds)
	}
	if cfg.GreetingOverride == nil || *cfg.GreetingOverride != "persona" {
		t.Fatalf("override: %v", cfg.GreetingOverride)
	}
}

func TestMergeClampsOutOfRange(t *testing.T) {
	cfg := Merge(Partial{TimeDelaySeconds: intPtr(-4), ScrollDepthPercent: floatPtr(-1)})
	if cfg.TimeEnabled() || cfg.ScrollEnabled() {
		t.Fatalf("expected disabled: %+v", cfg)
	}
	cfg = Merge(Partial{ScrollDepthPercent: floatPtr(250)})
	if cfg.ScrollDepthPercent != 100 {
		t.Fatalf("scroll: %v", cfg.ScrollDepthPercent)
	}
}

func TestMergeClampsHugeDelay(t *testing.T) {
	cfg := Merge(Partial{TimeDelaySeconds: intPtr(10_000_000_000)})
	if int64(cfg.TimeDelaySeconds) != MaxTimeDelaySeconds {
		t.Fatalf("delay: %d", cfg.TimeDelaySeconds)
	}
	if d := time.Duration(cfg.TimeDelaySeconds) * time.Second; d <= 0 {
		t.Fatalf("delay overflowed: %v", d)
	}
}

func TestMergeCopiesOverride(t *testing.T) {
	override := "hello"
	cfg := Merge(Partial{GreetingOverride: &override})
	override = "changed"
	if *cfg.GreetingOverride != "hello" {
		t.Fatalf("override aliased caller value")
	}
}

func TestPartialIgnoresUnknownFields(t *testing.T) {
	var p Partial
	data := `{"scrollDepthPercent":20,"colour":"blue","greetingOverride":null}`
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("err: %v", err)
	}
	cfg := Merge(p)
	if cfg.ScrollDepthPercent != 20 || cfg.TimeDelaySeconds != 30 || cfg.GreetingOverride != nil {
		t.Fatalf("cfg: %+v", cfg)
	}
}
