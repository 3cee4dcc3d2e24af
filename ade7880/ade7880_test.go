package ade7880

import (
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

func TestNewValidation(t *testing.T) {
	irq := newPin("IRQ0", 17)
	sched := &fakeScheduler{}
	phase := &PhaseChannel{}

	cases := []struct {
		name string
		opts *Opts
	}{
		{"nil", nil},
		{"no irq0", &Opts{Frequency: 50, A: phase, Scheduler: sched}},
		{"no scheduler", &Opts{Frequency: 50, A: phase, IRQ0: irq}},
		{"no phase", &Opts{Frequency: 50, IRQ0: irq, Scheduler: sched}},
		{"no frequency", &Opts{A: phase, IRQ0: irq, Scheduler: sched}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := New(newFakeChip(), c.opts); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSetupRequiresEdgeCapableIRQ0(t *testing.T) {
	r := newRig(t, nil)
	r.irq0.EdgesChan = nil
	if err := r.dev.Setup(); err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestIRQ0EdgesReachPoll(t *testing.T) {
	r := newRig(t, nil)
	r.initialize(t)

	if r.irq0.P != gpio.PullUp {
		t.Errorf("IRQ0 pull = %s, want %s", r.irq0.P, gpio.PullUp)
	}

	r.irq0.EdgesChan <- gpio.Low
	deadline := time.Now().Add(5 * time.Second)
	for r.dev.pending.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("IRQ0 edge not recorded")
		}
		time.Sleep(time.Millisecond)
	}

	before := r.dev.skipCycles
	r.dev.Poll()
	if r.dev.skipCycles != before-1 {
		t.Errorf("skipCycles = %d after Poll, want %d", r.dev.skipCycles, before-1)
	}
}

func TestHaltStopsPolling(t *testing.T) {
	r := newRig(t, nil)
	if err := r.dev.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	r.sched.advance(2 * resetStepDelay)
	if err := r.dev.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if err := r.dev.Halt(); err != nil {
		t.Fatalf("Second Halt: %v", err)
	}

	before := r.chip.readsOf(STATUS0)
	r.dev.interrupt()
	r.dev.Poll()
	r.dev.Update()
	if got := r.chip.readsOf(STATUS0); got != before {
		t.Error("Poll touched the bus after Halt")
	}
	if r.dev.Restarts() != 0 {
		t.Error("Update ran the watchdog after Halt")
	}
}

func TestDump(t *testing.T) {
	r := newRig(t, func(o *Opts) {
		o.A.Calibration.VoltageGain = -12
		o.A.Voltage = &recorder{name: "Phase A Voltage"}
		o.N = &NeutralChannel{CurrentGain: 77, Current: &recorder{name: "Neutral Current"}}
		o.IRQ1 = nil
	})
	var b strings.Builder
	r.dev.Dump(&b)
	out := b.String()

	for _, want := range []string{
		"Connection: fakeChip",
		"IRQ0 Pin: IRQ0(17)",
		"IRQ1 Pin: none",
		"Reset Pin: RESET(22)",
		"Frequency: 50 Hz",
		"State: idle",
		"Channel A:",
		"Voltage: Phase A Voltage",
		"Voltage gain: -12",
		"Current gain: 4096",
		"Neutral:",
		"Current: Neutral Current",
		"Current gain: 77",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Channel B") {
		t.Errorf("Dump output lists unconfigured channel:\n%s", out)
	}
}
