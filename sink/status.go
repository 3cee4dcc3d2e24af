package sink

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/mtraver/energy-meter/cache"
)

// Status remembers the latest reading of every sensor for ttl.
type Status struct {
	readings *cache.Cache[Reading]
	ttl      time.Duration
}

func NewStatus(ttl time.Duration) *Status {
	return &Status{
		readings: cache.New[Reading](),
		ttl:      ttl,
	}
}

func (s *Status) Write(ctx context.Context, r Reading) error {
	s.readings.Set(r.Device+"/"+r.Sensor, r, s.ttl)
	return nil
}

func (s *Status) Close() error { return nil }

// Latest returns the unexpired readings ordered by device and sensor.
func (s *Status) Latest() []Reading {
	var out []Reading
	for _, k := range s.readings.Keys() {
		if r, ok := s.readings.Get(k); ok {
			out = append(out, r)
		}
	}
	return out
}

// Log writes readings to a logger instead of publishing them.
type Log struct {
	log golog.Logger
}

func NewLog(logger golog.Logger) Log {
	return Log{log: logger}
}

func (l Log) Write(ctx context.Context, r Reading) error {
	l.log.Infof("%s", r)
	return nil
}

func (l Log) Close() error { return nil }
