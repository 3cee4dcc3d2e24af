// Package sink delivers sensor readings to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Reading is one published sensor value. A NaN Value marks a reading that
// could not be taken.
type Reading struct {
	Device string
	Sensor string
	Unit   string
	Value  float64
	Time   time.Time
}

// Available reports whether the reading carries a value.
func (r Reading) Available() bool {
	return !math.IsNaN(r.Value)
}

func (r Reading) String() string {
	if !r.Available() {
		return fmt.Sprintf("%s/%s: unavailable", r.Device, r.Sensor)
	}
	return fmt.Sprintf("%s/%s: %g %s", r.Device, r.Sensor, r.Value, r.Unit)
}

// Slug turns a sensor name into a lower case identifier usable in topics and
// tags.
func Slug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

type Sink interface {
	Write(ctx context.Context, r Reading) error
	Close() error
}

// Fanout writes every reading to all of its sinks concurrently.
type Fanout []Sink

func (f Fanout) Write(ctx context.Context, r Reading) error {
	var wg sync.WaitGroup

	errs := make(chan error, len(f))
	for _, s := range f {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Write(ctx, r); err != nil {
				errs <- err
			}
		}(s)
	}

	wg.Wait()
	close(errs)

	errSlice := []error{}
	for e := range errs {
		errSlice = append(errSlice, e)
	}

	return errors.Join(errSlice...)
}

func (f Fanout) Close() error {
	errSlice := []error{}
	for _, s := range f {
		if err := s.Close(); err != nil {
			errSlice = append(errSlice, err)
		}
	}
	return errors.Join(errSlice...)
}
