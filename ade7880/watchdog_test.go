package ade7880

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
)

func TestWatchdogTrips(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	for i := 1; i <= watchdogLimit; i++ {
		r.dev.Update()
		if r.dev.Restarts() != 0 {
			t.Fatalf("Restarted after %d ticks", i)
		}
		if !r.dev.Initialized() {
			t.Fatalf("state %s after %d ticks", r.dev.progress, i)
		}
	}

	r.dev.Update()
	if r.dev.Restarts() != 1 {
		t.Fatalf("Restarts() = %d after %d ticks, want 1", r.dev.Restarts(), watchdogLimit+1)
	}
	// Setup re-entered from idle: the first step ran and nothing else.
	if r.dev.progress != resetBegun {
		t.Errorf("state %s after trip, want %s", r.dev.progress, resetBegun)
	}
	if r.reset.Read() != gpio.Low {
		t.Error("Reset line not asserted after trip")
	}
	if r.dev.watchdog != 0 {
		t.Errorf("watchdog = %d after trip, want 0", r.dev.watchdog)
	}

	r.sched.advance(2 * resetStepDelay)
	if !r.dev.Initialized() {
		t.Errorf("state %s after recovery", r.dev.progress)
	}
	if got := len(r.chip.writesTo(Run)); got != 2 {
		t.Errorf("Run written %d times, want 2", got)
	}
}

func TestWatchdogFedByHealthyCycles(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	for i := 0; i < 5*watchdogLimit; i++ {
		r.dev.Update()
		r.lineCycle()
	}
	if r.dev.Restarts() != 0 {
		t.Errorf("Restarts() = %d with healthy cycles, want 0", r.dev.Restarts())
	}
}

func TestWatchdogNotFedBySkippedCycles(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	r.dev.Update()
	r.dev.Update()
	r.lineCycle()
	if r.dev.watchdog != 2 {
		t.Errorf("watchdog = %d after a skipped cycle, want 2", r.dev.watchdog)
	}
}

func TestWatchdogRecoversStalledSetup(t *testing.T) {
	r := newRig(t, nil)
	r.chip.fail[LAST_OP] = true
	r.initialize(t)

	if got := r.chip.writesTo(Run); len(got) != 0 {
		t.Fatalf("Run written with a broken bus: %v", got)
	}

	r.chip.fail[LAST_OP] = false
	for i := 0; i <= watchdogLimit; i++ {
		r.dev.Update()
	}
	if r.dev.Restarts() < 1 {
		t.Fatal("Watchdog did not restart the device")
	}
	r.sched.advance(calibrationRetryDelay)
	if got := r.chip.writesTo(Run); len(got) != 1 {
		t.Errorf("Run written %d times after recovery, want 1", len(got))
	}
}
