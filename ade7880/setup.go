package ade7880

import (
	"errors"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// setupState records which reset and initialization steps have completed.
// Bits are only ever added; a restart clears them all at once.
type setupState uint8

const (
	resetBegun setupState = 1 << iota
	resetDone
	initDone
)

func (s setupState) has(bit setupState) bool { return s&bit != 0 }

func (s setupState) String() string {
	if s == 0 {
		return "idle"
	}
	var parts []string
	if s.has(resetBegun) {
		parts = append(parts, "reset-begun")
	}
	if s.has(resetDone) {
		parts = append(parts, "reset-done")
	}
	if s.has(initDone) {
		parts = append(parts, "init-done")
	}
	return strings.Join(parts, "|")
}

const (
	setupTimeout = "ade7880_setup"

	resetStepDelay        = 1000 * time.Millisecond
	calibrationRetryDelay = 10000 * time.Millisecond

	// postCalibrationSkip is the number of line cycle interrupts ignored
	// after a successful init while the calibrated DSP settles.
	postCalibrationSkip = 2

	calibrationMask = 0xFFFFFF

	// neutralGainWrites is how often NIGAIN must be written to latch.
	neutralGainWrites = 3

	compmodeThresholdHz = 55
)

// advanceSetup runs the next setup step for the current state.
func (d *Dev) advanceSetup() {
	switch {
	case d.halted():
		return
	case !d.progress.has(resetBegun):
		d.beginReset()
	case !d.progress.has(resetDone):
		d.finishReset()
	case !d.progress.has(initDone):
		d.completeInit()
	}
}

// scheduleSetup re-enters the setup sequence after delay unless the state
// has moved on by then.
func (d *Dev) scheduleSetup(delay time.Duration) {
	epoch, state := d.epoch, d.progress
	d.sched.SetTimeout(setupTimeout, delay, func() {
		if d.epoch != epoch || d.progress != state {
			d.log.Debugf("Ignoring stale setup step (state %s, now %s)", state, d.progress)
			return
		}
		d.advanceSetup()
	})
}

// beginReset starts a hardware reset, or performs a software reset when no
// reset pin is wired.
func (d *Dev) beginReset() {
	if d.progress.has(resetBegun) {
		return
	}
	if d.reset != nil {
		d.log.Debugf("Hardware reset begin")
		if err := d.reset.Out(gpio.Low); err != nil {
			d.log.Errorf("Failed to assert reset: %v", err)
		}
	} else {
		d.log.Debugf("Software reset begin")
		if err := d.c.writeVerify(CONFIG, configSWRST); err != nil {
			d.log.Errorf("Failed to request software reset: %v", err)
		}
		d.progress |= resetDone
	}
	d.progress |= resetBegun
	d.scheduleSetup(resetStepDelay)
}

// finishReset releases the hardware reset line.
func (d *Dev) finishReset() {
	if !d.progress.has(resetBegun) || d.progress.has(resetDone) {
		return
	}
	d.log.Debugf("Reset done")
	if d.reset != nil {
		if err := d.reset.Out(gpio.High); err != nil {
			d.log.Errorf("Failed to release reset: %v", err)
		}
		if err := d.reset.In(gpio.Float, gpio.NoEdge); err != nil {
			d.log.Errorf("Failed to float reset: %v", err)
		}
	}
	d.progress |= resetDone
	d.scheduleSetup(resetStepDelay)
}

// completeInit runs the initialization procedure. The device is marked
// initialized whatever the outcome; a failed init is recovered by the
// watchdog or the calibration retry.
func (d *Dev) completeInit() {
	if !d.progress.has(resetDone) || d.progress.has(initDone) {
		return
	}
	if d.irq1 != nil && d.irq1.Read() == gpio.High {
		d.log.Warnf("IRQ1 is high after reset cycle")
	}
	if err := d.init(); err != nil {
		d.log.Errorf("Initialization failed: %v", err)
	} else {
		d.log.Infof("Initialization done")
		d.watchdog = 0
		d.skipCycles = postCalibrationSkip
	}
	d.progress |= initDone
}

// restart clears all setup progress and runs the sequence from the start.
// Pending setup steps of the previous run become no-ops.
func (d *Dev) restart() {
	d.epoch++
	d.restarts++
	d.progress = 0
	d.watchdog = 0
	d.advanceSetup()
}

// scheduleRestart restarts the device after delay unless another restart
// happened first.
func (d *Dev) scheduleRestart(delay time.Duration) {
	epoch := d.epoch
	d.sched.SetTimeout(setupTimeout, delay, func() {
		if d.epoch != epoch || d.halted() {
			return
		}
		d.log.Infof("Retrying setup")
		d.restart()
	})
}

func (d *Dev) init() error {
	d.log.Debugf("ADE7880 init")

	status1, err := d.c.readVerify(STATUS1)
	if err != nil {
		d.log.Debugf("Failed to read STATUS1: %v", err)
	}
	if status1&status1RSTDONE != 0 {
		d.log.Debugf("Power on reset (STATUS1 0x%08X)", status1)
		d.logIfErr(d.c.writeVerify(CONFIG2, config2I2CLock))
		d.logIfErr(d.c.writeVerify(STATUS1, status1Clear))
		_, err := d.c.readVerify(STATUS1)
		d.logIfErr(err)
	}

	if v, err := d.c.readVerify(Version); err != nil {
		d.log.Debugf("Failed to read version: %v", err)
	} else {
		d.log.Infof("Chip version %d", v)
	}

	d.logIfErr(d.c.writeVerify(Gain, 0))
	if d.frequency > compmodeThresholdHz {
		d.logIfErr(d.c.writeVerify(COMPMODE, compmode60Hz))
	}

	for i, ch := range d.phases {
		if ch == nil {
			continue
		}
		regs := phaseRegs[i]
		d.logIfErr(d.c.writeVerify(regs.vgain, uint32(ch.VoltageGain)))
		d.logIfErr(d.c.writeVerify(regs.igain, uint32(ch.CurrentGain)))
		d.logIfErr(d.c.writeVerify(regs.pgain, uint32(ch.PowerGain)))
		d.logIfErr(d.c.writeVerify(regs.phcal, uint32(ch.PhaseAngle)))
	}

	var neutralGain int32
	if d.neutral != nil {
		neutralGain = d.neutral.CurrentGain
	}
	for i := 0; i < neutralGainWrites; i++ {
		d.logIfErr(d.c.writeVerify(NIGAIN, uint32(neutralGain)))
	}

	if !d.checkCalibration() {
		d.scheduleRestart(calibrationRetryDelay)
		return ErrCalibrationCheckFailed
	}

	if err := d.c.writeVerify(LCYCMODE, lcycmodeLWATT|lcycmodeZXSEL0); err != nil {
		return err
	}
	if err := d.c.writeVerify(LINECYC, uint32(d.frequency*2)); err != nil {
		return err
	}
	if err := d.c.writeVerify(MASK0, mask0LENERGY); err != nil {
		return err
	}
	if err := d.c.write(DSPWP_SEL, dspwpSelect); err != nil {
		return err
	}
	if err := d.c.write(DSPWP_SET, dspwpProtect); err != nil {
		return err
	}
	return d.c.writeVerify(Run, runStart)
}

// checkCalibration reads back every calibration register and logs each one
// that does not match. It reports whether all of them matched.
func (d *Dev) checkCalibration() bool {
	ok := true
	check := func(what string, reg Register, want int32) {
		if !d.c.readCheck(reg, uint32(want), calibrationMask) {
			d.log.Errorf("%s calibration failed (%s)", what, reg)
			ok = false
		}
	}
	for i, ch := range d.phases {
		if ch == nil {
			continue
		}
		regs := phaseRegs[i]
		name := "Channel " + Phase(i).String()
		check(name+" voltage gain", regs.vgain, ch.VoltageGain)
		check(name+" current gain", regs.igain, ch.CurrentGain)
		check(name+" power gain", regs.pgain, ch.PowerGain)
		check(name+" phase angle", regs.phcal, ch.PhaseAngle)
	}
	if d.neutral != nil {
		check("Neutral current gain", NIGAIN, d.neutral.CurrentGain)
	}
	return ok
}

func (d *Dev) logIfErr(err error) {
	if err == nil {
		return
	}
	var verr *VerifyError
	if errors.As(err, &verr) {
		d.log.Warnf("%v", err)
		return
	}
	d.log.Errorf("%v", err)
}
