// Package sensor holds the named measurements a meter publishes.
package sensor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/mtraver/energy-meter/sink"
)

var (
	sensorsMu sync.Mutex
	sensors   map[string]*Sensor
)

const (
	// writeTimeout bounds how long one published value may take to reach
	// every sink.
	writeTimeout = 15 * time.Second

	// queueSize is the number of readings a sensor buffers while its sink
	// is slow. The oldest is dropped when it overflows.
	queueSize = 16
)

// Sensor is a named measurement. Every published value is kept as the
// sensor's state and written to its sink by a background writer, so
// publishing never waits on the sink.
type Sensor struct {
	Name   string
	Unit   string
	Device string

	sink sink.Sink
	log  golog.Logger
	now  func() time.Time

	mu      sync.Mutex
	state   float64
	updated time.Time

	queue     chan sink.Reading
	closeOnce sync.Once
	done      chan struct{}
}

func New(device, name, unit string, s sink.Sink, logger golog.Logger) *Sensor {
	if logger == nil {
		logger = golog.NewLogger("sensor")
	}
	sen := &Sensor{
		Name:   name,
		Unit:   unit,
		Device: device,
		sink:   s,
		log:    logger,
		now:    time.Now,
		state:  math.NaN(),
		done:   make(chan struct{}),
	}
	if s == nil {
		close(sen.done)
		return sen
	}
	sen.queue = make(chan sink.Reading, queueSize)
	go sen.writer(sen.queue)
	return sen
}

// PublishState records v and queues it for the sink. NaN marks an
// unavailable reading. It does not block; sink errors are logged by the
// writer. Publishing after Close only updates the state.
func (s *Sensor) PublishState(v float64) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = v
	s.updated = now

	if s.queue == nil {
		return
	}

	r := sink.Reading{
		Device: s.Device,
		Sensor: s.Name,
		Unit:   s.Unit,
		Value:  v,
		Time:   now,
	}
	for {
		select {
		case s.queue <- r:
			return
		default:
		}
		select {
		case old := <-s.queue:
			s.log.Warnf("Sink too slow, dropping %s", old)
		default:
		}
	}
}

func (s *Sensor) writer(queue <-chan sink.Reading) {
	defer close(s.done)
	for r := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.sink.Write(ctx, r); err != nil {
			s.log.Warnf("Failed to publish %q: %v", s.Name, err)
		}
		cancel()
	}
}

// Close stops accepting readings and waits for the queued ones to be
// written.
func (s *Sensor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.queue != nil {
			close(s.queue)
			s.queue = nil
		}
		s.mu.Unlock()
	})
	<-s.done
}

// State returns the last published value and when it was published. The
// value is NaN before the first publish.
func (s *Sensor) State() (float64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.updated
}

func (s *Sensor) String() string {
	if s.Unit == "" {
		return fmt.Sprintf("%q", s.Name)
	}
	return fmt.Sprintf("%q (%s)", s.Name, s.Unit)
}

// Register adds a Sensor to the set of available sensors.
func Register(s *Sensor) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	if sensors == nil {
		sensors = make(map[string]*Sensor)
	}
	sensors[s.Name] = s
}

// Get looks up a sensor by name. It returns an error if no sensor with
// the given name is found.
func Get(name string) (*Sensor, error) {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	if _, ok := sensors[name]; !ok {
		return nil, fmt.Errorf("unknown sensor %q", name)
	}
	return sensors[name], nil
}

// CloseAll closes every registered sensor, flushing queued readings.
func CloseAll() {
	sensorsMu.Lock()
	all := make([]*Sensor, 0, len(sensors))
	for _, s := range sensors {
		all = append(all, s)
	}
	sensorsMu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Names returns the names of all registered sensors in order.
func Names() []string {
	sensorsMu.Lock()
	defer sensorsMu.Unlock()

	names := make([]string, 0, len(sensors))
	for name := range sensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
