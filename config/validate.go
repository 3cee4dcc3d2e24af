package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	cron "github.com/robfig/cron/v3"
)

// MinUpdateInterval is the shortest accepted update cadence. The watchdog
// restarts the meter on the 4th update without a healthy line cycle, and
// the first one arrives about 5 s after setup begins.
const MinUpdateInterval = 2 * time.Second

// shortestInterval returns the smallest gap between consecutive runs of
// sched over its next few activations.
func shortestInterval(sched cron.Schedule) time.Duration {
	shortest := time.Duration(math.MaxInt64)
	prev := sched.Next(time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 16 && !prev.IsZero(); i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if d := next.Sub(prev); d < shortest {
			shortest = d
		}
		prev = next
	}
	return shortest
}

// Validate checks a normalized configuration. It reports every problem it
// finds and does not mutate cfg.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.DeviceID == "" {
		fail("device_id must be set")
	}
	if cfg.Pins.IRQ0 == "" {
		fail("pins.irq0 must be set")
	}
	if cfg.Phases.A == nil && cfg.Phases.B == nil && cfg.Phases.C == nil {
		fail("at least one of phases.a, phases.b, phases.c must be configured")
	}
	if cfg.Frequency <= 0 || math.IsNaN(cfg.Frequency) || cfg.Frequency > 1000 {
		fail("frequency %g Hz out of range", cfg.Frequency)
	}
	if cfg.PollInterval <= 0 {
		fail("poll_interval must be positive")
	}
	if sched, err := cron.ParseStandard(cfg.UpdateCron); err != nil {
		fail("update_cron %q: %v", cfg.UpdateCron, err)
	} else if d := shortestInterval(sched); d < MinUpdateInterval {
		fail("update_cron %q runs every %v, must be at least %v", cfg.UpdateCron, d, MinUpdateInterval)
	}
	if cfg.HTTPPort < 0 || cfg.HTTPPort > 65535 {
		fail("http_port %d out of range", cfg.HTTPPort)
	}
	if cfg.StatusTTL <= 0 {
		fail("status_ttl must be positive")
	}
	if _, err := cfg.I2C.BusSpeed(); err != nil {
		fail("%v", err)
	}

	if m := cfg.MQTT; m != nil {
		switch {
		case m.Broker == "" && m.AWSDeviceFile == "":
			fail("mqtt: one of broker or aws_device_file must be set")
		case m.Broker != "" && m.AWSDeviceFile != "":
			fail("mqtt: broker and aws_device_file are mutually exclusive")
		}
		if m.Format != "json" && m.Format != "proto" {
			fail("mqtt: unknown format %q", m.Format)
		}
	}

	if db := cfg.InfluxDB; db != nil {
		if db.URL == "" || db.Org == "" || db.Bucket == "" {
			fail("influxdb: url, org and bucket must be set")
		}
	}

	if ps := cfg.PubSub; ps != nil {
		if ps.Project == "" || ps.Topic == "" {
			fail("pubsub: project and topic must be set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
