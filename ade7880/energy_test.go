package ade7880

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnergyAdd(t *testing.T) {
	cases := []struct {
		name      string
		fragments []int32
		want      Energy
	}{
		{
			name:      "below one unit",
			fragments: []int32{999},
			want:      Energy{Delta: 999},
		},
		{
			name:      "exactly one unit",
			fragments: []int32{1000},
			want:      Energy{Delta: 0, Total: 1, Forward: 1},
		},
		{
			name:      "exactly minus one unit",
			fragments: []int32{-1000},
			want:      Energy{Delta: 0, Total: -1, Reverse: 1},
		},
		{
			name:      "one and a half",
			fragments: []int32{1500},
			want:      Energy{Delta: 500, Total: 1, Forward: 1},
		},
		{
			name:      "negative sequence",
			fragments: []int32{-400, -400, -200},
			want:      Energy{Delta: 0, Total: -1, Reverse: 1},
		},
		{
			name:      "several units at once",
			fragments: []int32{2999},
			want:      Energy{Delta: 999, Total: 2, Forward: 2},
		},
		{
			name:      "truncates toward zero",
			fragments: []int32{-2500},
			want:      Energy{Delta: -500, Total: -2, Reverse: 2},
		},
		{
			name:      "direction change",
			fragments: []int32{1200, -700, -1600},
			want:      Energy{Delta: -100, Total: -1, Forward: 1, Reverse: 2},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var e Energy
			for _, f := range c.fragments {
				e.Add(f)
				if e.Delta >= fragmentsPerUnit || e.Delta <= -fragmentsPerUnit {
					t.Fatalf("Delta %d out of range after adding %d", e.Delta, f)
				}
			}
			if diff := cmp.Diff(e, c.want); diff != "" {
				t.Errorf("Unexpected result (-got +want):\n%s", diff)
			}
		})
	}
}

func TestEnergyForwardReverseMonotonic(t *testing.T) {
	var e Energy
	var forward, reverse uint32
	for i, f := range []int32{700, 700, -3000, 50, 2600, -999, -2, 1000, -1000} {
		e.Add(f)
		if e.Forward < forward || e.Reverse < reverse {
			t.Fatalf("step %d: forward %d->%d reverse %d->%d", i, forward, e.Forward, reverse, e.Reverse)
		}
		forward, reverse = e.Forward, e.Reverse
	}
	if got, want := int64(e.Forward)-int64(e.Reverse), int64(e.Total); got != want {
		t.Errorf("Forward-Reverse = %d, want Total %d", got, want)
	}
}

func TestFragments(t *testing.T) {
	cases := []struct {
		raw  int32
		want int32
	}{
		{0, 0},
		{1, 6},
		{75, 512},
		{146, 996},
		{147, 1003},
		{219, 1495},
		{220, 1501},
		{-220, -1501},
		{-1, -6},
		{314572653, 2147482644},
		{314572654, maxFragments},
		{math.MaxInt32, maxFragments},
		{math.MinInt32, -maxFragments},
	}

	for _, c := range cases {
		if got := fragments(c.raw); got != c.want {
			t.Errorf("fragments(%d) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestHugeIncrementKeepsSign(t *testing.T) {
	cases := []struct {
		name  string
		delta int32
		raw   int32
	}{
		{"positive", 999, math.MaxInt32},
		{"negative", -999, math.MinInt32},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := Energy{Delta: c.delta}
			inc := e.Add(fragments(c.raw))
			if (inc > 0) != (c.raw > 0) {
				t.Errorf("Add returned %d for raw %d, want the same sign", inc, c.raw)
			}
			if e.Delta <= -fragmentsPerUnit || e.Delta >= fragmentsPerUnit {
				t.Errorf("Delta = %d, want within (-1000, 1000)", e.Delta)
			}
		})
	}
}

func TestPollAccumulates(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)
	r.settle(t)

	r.chip.set(AWATTHR, 220)
	r.lineCycle()

	got, ok := r.dev.Energy(PhaseA)
	if !ok {
		t.Fatal("Phase A not configured")
	}
	want := Energy{Delta: 501, Total: 1, Forward: 1}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}

	if _, ok := r.dev.Energy(PhaseB); ok {
		t.Error("Phase B reported as configured")
	}
}

func TestPollNegativeEnergy(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)
	r.settle(t)

	r.chip.set(AWATTHR, uint32(0xFFFFFFFF-219)) // -220
	r.lineCycle()

	got, _ := r.dev.Energy(PhaseA)
	want := Energy{Delta: -501, Total: -1, Reverse: 1}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestPollSkipsAfterCalibration(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	r.chip.set(AWATTHR, 220)
	for i := 0; i < postCalibrationSkip; i++ {
		r.lineCycle()
	}
	if n := r.chip.readsOf(AWATTHR); n != 0 {
		t.Errorf("AWATTHR read %d times during settle window, want 0", n)
	}
	if got, _ := r.dev.Energy(PhaseA); got != (Energy{}) {
		t.Errorf("Energy changed during settle window: %+v", got)
	}

	r.lineCycle()
	if got, _ := r.dev.Energy(PhaseA); got.Total != 1 {
		t.Errorf("Total = %d after settle window, want 1", got.Total)
	}
}

func TestPollClearsStatusBeforeReading(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)
	r.settle(t)

	r.lineCycle()
	if got := r.chip.get(STATUS0); got&status0LENERGY != 0 {
		t.Errorf("STATUS0 = 0x%X, LENERGY not cleared", got)
	}
	writes := r.chip.writesTo(STATUS0)
	if diff := cmp.Diff(writes, []uint32{status0LENERGY, status0LENERGY, status0LENERGY}); diff != "" {
		t.Errorf("Unexpected STATUS0 writes (-got +want):\n%s", diff)
	}
}

func TestPollWithoutInterrupt(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)
	r.settle(t)

	before := r.chip.readsOf(STATUS0)
	r.dev.Poll()
	if got := r.chip.readsOf(STATUS0); got != before {
		t.Errorf("Poll without pending interrupt read STATUS0 %d times", got-before)
	}
}

func TestPollCoalescesInterrupts(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)
	r.settle(t)

	r.chip.set(AWATTHR, 147)
	r.dev.interrupt()
	r.dev.interrupt()
	r.dev.interrupt()
	r.dev.Poll()

	got, _ := r.dev.Energy(PhaseA)
	want := Energy{Delta: 3, Total: 1, Forward: 1}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
	if n := r.dev.pending.Load(); n != 0 {
		t.Errorf("pending = %d after Poll, want 0", n)
	}
}

func TestPollReadFailureKeepsWatchdog(t *testing.T) {
	r := newRig(t, func(o *Opts) {
		o.B = &PhaseChannel{}
	})
	r.initialize(t)
	r.settle(t)

	r.chip.set(AWATTHR, 220)
	r.chip.fail[BWATTHR] = true
	r.dev.watchdog = 2
	r.lineCycle()

	if r.dev.watchdog != 2 {
		t.Errorf("watchdog = %d after failed read, want 2", r.dev.watchdog)
	}
	if got, _ := r.dev.Energy(PhaseA); got.Total != 1 {
		t.Errorf("Phase A Total = %d, want 1", got.Total)
	}

	r.chip.fail[BWATTHR] = false
	r.lineCycle()
	if r.dev.watchdog != 0 {
		t.Errorf("watchdog = %d after healthy cycle, want 0", r.dev.watchdog)
	}
}

func TestEndToEnd(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	if got := r.chip.get(AIGAIN); got != 0x001000 {
		t.Errorf("AIGAIN = 0x%X, want 0x1000", got)
	}
	r.settle(t)

	var e Energy
	// One line cycle worth 1500 fragments.
	e.Add(1500)
	if diff := cmp.Diff(e, Energy{Delta: 500, Total: 1, Forward: 1}); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}

	// The closest register value the chip can report.
	r.chip.set(AWATTHR, 220)
	r.lineCycle()
	got, _ := r.dev.Energy(PhaseA)
	if diff := cmp.Diff(got, Energy{Delta: 501, Total: 1, Forward: 1}); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}
