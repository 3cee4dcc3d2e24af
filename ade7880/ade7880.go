// Package ade7880 drives the Analog Devices ADE7880 polyphase energy
// metering IC over I²C.
//
// The device is brought up by an asynchronous reset and calibration sequence
// and then runs in line cycle accumulation mode: at the end of every
// accumulation period the chip pulls IRQ0 low, and Poll folds the per phase
// watt-hour registers into running energy totals. Update publishes the
// instantaneous measurements and restarts the device when Poll has not
// completed a healthy cycle for too long.
//
// Dev is not safe for concurrent use. Setup, Poll, Update, the scheduled
// setup steps and Dump must all run on one goroutine; only the IRQ0 edge
// watcher runs elsewhere and it never touches the bus.
//
// Datasheet
//
//	https://www.analog.com/media/en/technical-documentation/data-sheets/ADE7880.pdf
package ade7880

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddr is the fixed I²C address of the ADE7880.
const DefaultAddr = 0x38

// Scheduler runs fn once after delay on the goroutine that owns the Dev.
// Scheduled calls cannot be cancelled.
type Scheduler interface {
	SetTimeout(name string, delay time.Duration, fn func())
}

// Opts configures a Dev.
type Opts struct {
	// Frequency is the nominal line frequency in Hz.
	Frequency float64

	A, B, C *PhaseChannel
	N       *NeutralChannel

	// IRQ0 signals the end of a line cycle accumulation period. Required.
	IRQ0 gpio.PinIn
	// IRQ1 is only sampled after reset. Optional.
	IRQ1 gpio.PinIn
	// Reset drives the hardware reset line. When nil a software reset is
	// issued instead.
	Reset gpio.PinIO

	Scheduler Scheduler
	Logger    golog.Logger
}

// Dev is an ADE7880 handle.
type Dev struct {
	c   transport
	log golog.Logger

	frequency float64
	phases    [3]*PhaseChannel
	neutral   *NeutralChannel

	irq0  gpio.PinIn
	irq1  gpio.PinIn
	reset gpio.PinIO
	sched Scheduler

	pending irqCounter

	progress   setupState
	epoch      uint32
	skipCycles uint8
	watchdog   int
	restarts   int

	halt     chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
}

// NewI2C returns a Dev talking to the chip at addr on b.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if addr == 0 {
		addr = DefaultAddr
	}
	return New(&i2c.Dev{Bus: b, Addr: addr}, opts)
}

// New returns a Dev using c for register access. The chip is not touched
// until Setup is called.
func New(c conn.Conn, opts *Opts) (*Dev, error) {
	if opts == nil {
		return nil, errors.New("ade7880: nil options")
	}
	if opts.IRQ0 == nil {
		return nil, errors.New("ade7880: IRQ0 pin is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("ade7880: scheduler is required")
	}
	if opts.A == nil && opts.B == nil && opts.C == nil {
		return nil, errors.New("ade7880: at least one phase is required")
	}
	if opts.Frequency <= 0 {
		return nil, fmt.Errorf("ade7880: invalid line frequency %g Hz", opts.Frequency)
	}
	logger := opts.Logger
	if logger == nil {
		logger = golog.NewLogger("ade7880")
	}
	return &Dev{
		c:          transport{c: c},
		log:        logger,
		frequency:  opts.Frequency,
		phases:     [3]*PhaseChannel{opts.A, opts.B, opts.C},
		neutral:    opts.N,
		irq0:       opts.IRQ0,
		irq1:       opts.IRQ1,
		reset:      opts.Reset,
		sched:      opts.Scheduler,
		skipCycles: postCalibrationSkip,
		halt:       make(chan struct{}),
	}, nil
}

// Setup configures the pins, starts watching IRQ0 and begins the reset
// sequence.
func (d *Dev) Setup() error {
	if err := d.irq0.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("ade7880: IRQ0: %w", err)
	}
	d.pending.Store(0)
	if d.irq1 != nil {
		if err := d.irq1.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return fmt.Errorf("ade7880: IRQ1: %w", err)
		}
	}
	if d.reset != nil {
		if err := d.reset.In(gpio.Float, gpio.NoEdge); err != nil {
			return fmt.Errorf("ade7880: reset: %w", err)
		}
	}

	d.wg.Add(1)
	go d.watchIRQ0()

	d.advanceSetup()
	return nil
}

// Halt stops watching IRQ0. Setup steps already scheduled still run but do
// nothing once the device is halted.
func (d *Dev) Halt() error {
	d.haltOnce.Do(func() {
		close(d.halt)
	})
	err := d.irq0.Halt()
	d.wg.Wait()
	return err
}

func (d *Dev) halted() bool {
	select {
	case <-d.halt:
		return true
	default:
		return false
	}
}

// Energy returns a copy of the accumulator of phase p. The second result is
// false if the phase is not configured.
func (d *Dev) Energy(p Phase) (Energy, bool) {
	if p < PhaseA || p > PhaseC || d.phases[p] == nil {
		return Energy{}, false
	}
	return d.phases[p].energy, true
}

// Initialized reports whether the last setup run reached its final step.
func (d *Dev) Initialized() bool {
	return d.progress.has(initDone)
}

// Restarts returns how many times the device was reset after the first
// setup, by the watchdog or a calibration retry.
func (d *Dev) Restarts() int {
	return d.restarts
}

func (d *Dev) String() string {
	return fmt.Sprintf("ade7880{%s}", d.c.c)
}

// Dump writes the configuration in human readable form.
func (d *Dev) Dump(w io.Writer) {
	fmt.Fprintf(w, "ADE7880:\n")
	fmt.Fprintf(w, "  Connection: %s\n", d.c.c)
	fmt.Fprintf(w, "  IRQ0 Pin: %s\n", pinName(d.irq0))
	fmt.Fprintf(w, "  IRQ1 Pin: %s\n", pinName(d.irq1))
	fmt.Fprintf(w, "  Reset Pin: %s\n", pinName(d.reset))
	fmt.Fprintf(w, "  Frequency: %.0f Hz\n", d.frequency)
	fmt.Fprintf(w, "  State: %s (restarts=%d, watchdog=%d)\n", d.progress, d.restarts, d.watchdog)

	for i, ch := range d.phases {
		if ch == nil {
			continue
		}
		fmt.Fprintf(w, "  Channel %s:\n", Phase(i))
		for _, s := range []struct {
			name string
			p    Publisher
		}{
			{"Voltage", ch.Voltage},
			{"Current", ch.Current},
			{"Active Power", ch.ActivePower},
			{"Apparent Power", ch.ApparentPower},
			{"Power Factor", ch.PowerFactor},
			{"Frequency", ch.Frequency},
			{"Forward Active Energy", ch.ForwardActiveEnergy},
			{"Reverse Active Energy", ch.ReverseActiveEnergy},
		} {
			if s.p != nil {
				fmt.Fprintf(w, "    %s: %v\n", s.name, s.p)
			}
		}
		fmt.Fprintf(w, "    Calibration:\n")
		fmt.Fprintf(w, "      Voltage gain: %d\n", ch.VoltageGain)
		fmt.Fprintf(w, "      Current gain: %d\n", ch.CurrentGain)
		fmt.Fprintf(w, "      Power gain: %d\n", ch.PowerGain)
		fmt.Fprintf(w, "      Phase angle: %d\n", ch.PhaseAngle)
		fmt.Fprintf(w, "      Total power gain: %d\n", ch.TotalPowerGain)
		fmt.Fprintf(w, "    Energy: total=%d forward=%d reverse=%d delta=%d\n",
			ch.energy.Total, ch.energy.Forward, ch.energy.Reverse, ch.energy.Delta)
	}

	if d.neutral != nil {
		fmt.Fprintf(w, "  Neutral:\n")
		if d.neutral.Current != nil {
			fmt.Fprintf(w, "    Current: %v\n", d.neutral.Current)
		}
		fmt.Fprintf(w, "    Calibration:\n")
		fmt.Fprintf(w, "      Current gain: %d\n", d.neutral.CurrentGain)
	}
}

func pinName(p interface{ String() string }) string {
	if p == nil {
		return "none"
	}
	return p.String()
}
