package sink

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var testTime = time.Date(2023, time.March, 25, 12, 30, 0, 0, time.UTC)

func testReading(v float64) Reading {
	return Reading{
		Device: "meter-1",
		Sensor: "Phase A Voltage",
		Unit:   "V",
		Value:  v,
		Time:   testTime,
	}
}

// memory is a Sink that keeps everything written to it.
type memory struct {
	mu       sync.Mutex
	readings []Reading
	err      error
	closed   bool
}

func (m *memory) Write(ctx context.Context, r Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, r)
	return nil
}

func (m *memory) Close() error {
	m.closed = true
	return m.err
}

func TestFanout(t *testing.T) {
	a, b := &memory{}, &memory{}
	f := Fanout{a, b}

	r := testReading(230)
	if err := f.Write(context.Background(), r); err != nil {
		t.Fatalf("Got error, expected nil: %v", err)
	}
	for _, m := range []*memory{a, b} {
		if diff := cmp.Diff(m.readings, []Reading{r}); diff != "" {
			t.Errorf("Unexpected result (-got +want):\n%s", diff)
		}
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ok := &memory{}
	f := Fanout{&memory{err: errA}, ok, &memory{err: errB}}

	err := f.Write(context.Background(), testReading(1))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Write() = %v, want both errors", err)
	}
	if len(ok.readings) != 1 {
		t.Error("Healthy sink missed the reading")
	}

	err = f.Close()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Close() = %v, want both errors", err)
	}
	if !ok.closed {
		t.Error("Healthy sink not closed")
	}
}

func TestFanoutEmpty(t *testing.T) {
	if err := (Fanout{}).Write(context.Background(), testReading(1)); err != nil {
		t.Errorf("Got error, expected nil: %v", err)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Phase A Voltage", "phase_a_voltage"},
		{"  Neutral   Current ", "neutral_current"},
		{"frequency", "frequency"},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReadingString(t *testing.T) {
	if got, want := testReading(230.5).String(), "meter-1/Phase A Voltage: 230.5 V"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := testReading(math.NaN()).String(), "meter-1/Phase A Voltage: unavailable"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestStatus(t *testing.T) {
	s := NewStatus(time.Hour)
	ctx := context.Background()

	r1 := testReading(230)
	r2 := testReading(231)
	r3 := Reading{Device: "meter-1", Sensor: "Frequency", Unit: "Hz", Value: 50, Time: testTime}
	for _, r := range []Reading{r1, r3, r2} {
		if err := s.Write(ctx, r); err != nil {
			t.Fatalf("Got error, expected nil: %v", err)
		}
	}

	want := []Reading{r3, r2}
	if diff := cmp.Diff(s.Latest(), want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestStatusKeepsUnavailable(t *testing.T) {
	s := NewStatus(time.Hour)
	r := testReading(math.NaN())
	if err := s.Write(context.Background(), r); err != nil {
		t.Fatalf("Got error, expected nil: %v", err)
	}
	if diff := cmp.Diff(s.Latest(), []Reading{r}, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestLog(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	l := NewLog(logger)
	if err := l.Write(context.Background(), testReading(230)); err != nil {
		t.Fatalf("Got error, expected nil: %v", err)
	}
	if n := logs.FilterMessage("meter-1/Phase A Voltage: 230 V").Len(); n != 1 {
		t.Errorf("Got %d log entries, want 1", n)
	}
}
