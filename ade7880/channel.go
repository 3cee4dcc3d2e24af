package ade7880

import "math"

// Phase identifies one of the three measured phases.
type Phase int

const (
	PhaseA Phase = iota
	PhaseB
	PhaseC
)

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "A"
	case PhaseB:
		return "B"
	case PhaseC:
		return "C"
	}
	return "?"
}

// Publisher receives a measured value. NaN marks a reading that could not be
// taken.
type Publisher interface {
	PublishState(v float64)
}

// Calibration holds the signed fixed-point gain and phase corrections of a
// phase. TotalPowerGain is carried for reporting only; it is not written.
type Calibration struct {
	VoltageGain    int32
	CurrentGain    int32
	PowerGain      int32
	PhaseAngle     int32
	TotalPowerGain int32
}

// Sensors are the outputs of a phase. Any of them may be nil.
type Sensors struct {
	Voltage             Publisher
	Current             Publisher
	ActivePower         Publisher
	ApparentPower       Publisher
	PowerFactor         Publisher
	Frequency           Publisher
	ForwardActiveEnergy Publisher
	ReverseActiveEnergy Publisher
}

// PhaseChannel is the configuration and energy state of one phase.
type PhaseChannel struct {
	Calibration
	Sensors

	energy Energy
}

// NeutralChannel is the neutral current input.
type NeutralChannel struct {
	CurrentGain int32
	Current     Publisher
}

// fragmentsPerUnit is the number of accumulated fragments that make up one
// unit of Total.
const fragmentsPerUnit = 1000

// Energy is a fixed-point energy accumulator. Delta collects fragments of
// 1/1000 unit; whole units move into Total and, by sign, into Forward or
// Reverse.
type Energy struct {
	Delta   int32
	Total   int32
	Forward uint32
	Reverse uint32
}

// Add folds fragments into the accumulator and returns the whole units moved
// into Total. Division truncates toward zero so the remainder keeps the sign
// of Delta.
func (e *Energy) Add(fragments int32) int32 {
	e.Delta += fragments
	if e.Delta < fragmentsPerUnit && e.Delta > -fragmentsPerUnit {
		return 0
	}
	inc := e.Delta / fragmentsPerUnit
	e.Delta -= inc * fragmentsPerUnit
	e.Total += inc
	if inc > 0 {
		e.Forward += uint32(inc)
	} else {
		e.Reverse += uint32(-inc)
	}
	return inc
}

// LSB weight of the watt-hour registers at the configured accumulation
// period, as a ratio.
const (
	watthrScaleNum = 24576
	watthrScaleDen = 3600
)

// maxFragments bounds one conversion so that adding it to any Delta in
// (-1000, 1000) stays within int32.
const maxFragments = math.MaxInt32 - fragmentsPerUnit

// fragments converts a raw watt-hour register delta to accumulator fragments,
// saturating at ±maxFragments.
func fragments(raw int32) int32 {
	f := int64(raw) * watthrScaleNum / watthrScaleDen
	switch {
	case f > maxFragments:
		return maxFragments
	case f < -maxFragments:
		return -maxFragments
	}
	return int32(f)
}

type phaseRegisters struct {
	vgain, igain, pgain, phcal Register
	watthr                     Register
	vrms, irms, watt, va, pf   Register
	period                     Register
}

var phaseRegs = [3]phaseRegisters{
	PhaseA: {AVGAIN, AIGAIN, APGAIN, APHCAL, AWATTHR, AVRMS, AIRMS, AWATT, AVA, APF, APERIOD},
	PhaseB: {BVGAIN, BIGAIN, BPGAIN, BPHCAL, BWATTHR, BVRMS, BIRMS, BWATT, BVA, BPF, BPERIOD},
	PhaseC: {CVGAIN, CIGAIN, CPGAIN, CPHCAL, CWATTHR, CVRMS, CIRMS, CWATT, CVA, CPF, CPERIOD},
}
