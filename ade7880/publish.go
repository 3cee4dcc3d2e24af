package ade7880

import "math"

// Scale factors of the published measurements.
const (
	voltageFactor     = 10000
	currentFactor     = 100000
	powerFactor       = 100
	powerFactorFactor = 0x7FFF
	energyFactor      = 100

	// periodFactor turns the reciprocal of xPERIOD into Hz.
	periodFactor = 1.0 / 256000
)

type measurement struct {
	reg    Register
	signed bool
	// factor > 1 divides the raw value; factor < 1 publishes the reciprocal
	// of raw*factor.
	factor float64
}

func (m measurement) scale(raw uint32) float64 {
	var v float64
	if m.signed {
		v = float64(signExtend(raw, m.reg.Width()))
	} else {
		v = float64(raw)
	}
	switch {
	case m.factor > 1:
		return v / m.factor
	case m.factor < 1:
		if v == 0 {
			return math.NaN()
		}
		return 1 / (v * m.factor)
	}
	return v
}

func (d *Dev) publishRegister(p Publisher, m measurement) {
	if p == nil {
		return
	}
	raw, err := d.c.readVerify(m.reg)
	if err != nil {
		d.log.Debugf("Failed to read %s: %v", m.reg, err)
		p.PublishState(math.NaN())
		return
	}
	p.PublishState(m.scale(raw))
}

func (d *Dev) publish() {
	for i, ch := range d.phases {
		if ch == nil {
			continue
		}
		regs := phaseRegs[i]
		d.publishRegister(ch.Voltage, measurement{reg: regs.vrms, signed: true, factor: voltageFactor})
		d.publishRegister(ch.Current, measurement{reg: regs.irms, signed: true, factor: currentFactor})
		d.publishRegister(ch.ActivePower, measurement{reg: regs.watt, signed: true, factor: powerFactor})
		d.publishRegister(ch.ApparentPower, measurement{reg: regs.va, signed: true, factor: powerFactor})
		d.publishRegister(ch.PowerFactor, measurement{reg: regs.pf, signed: true, factor: powerFactorFactor})
		d.publishRegister(ch.Frequency, measurement{reg: regs.period, factor: periodFactor})

		if ch.ForwardActiveEnergy != nil {
			ch.ForwardActiveEnergy.PublishState(float64(ch.energy.Forward) / energyFactor)
		}
		if ch.ReverseActiveEnergy != nil {
			ch.ReverseActiveEnergy.PublishState(float64(ch.energy.Reverse) / energyFactor)
		}
	}
	if d.neutral != nil {
		d.publishRegister(d.neutral.Current, measurement{reg: NIRMS, signed: true, factor: currentFactor})
	}
}
