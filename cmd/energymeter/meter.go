package main

import (
	"fmt"

	"github.com/edaniels/golog"
	"github.com/mtraver/energy-meter/ade7880"
	"github.com/mtraver/energy-meter/config"
	"github.com/mtraver/energy-meter/sensor"
	"github.com/mtraver/energy-meter/sink"
)

// newSensor creates and registers a sensor publishing to s.
func newSensor(device, name, unit string, s sink.Sink, logger golog.Logger) *sensor.Sensor {
	sen := sensor.New(device, name, unit, s, logger)
	sensor.Register(sen)
	return sen
}

func phaseChannel(device string, p ade7880.Phase, pc *config.PhaseConfig, s sink.Sink, logger golog.Logger) *ade7880.PhaseChannel {
	if pc == nil {
		return nil
	}

	name := func(what string) string {
		return fmt.Sprintf("Phase %s %s", p, what)
	}

	return &ade7880.PhaseChannel{
		Calibration: ade7880.Calibration{
			VoltageGain:    pc.VoltageGain,
			CurrentGain:    pc.CurrentGain,
			PowerGain:      pc.PowerGain,
			PhaseAngle:     pc.PhaseAngle,
			TotalPowerGain: pc.TotalPowerGain,
		},
		Sensors: ade7880.Sensors{
			Voltage:             newSensor(device, name("Voltage"), "V", s, logger),
			Current:             newSensor(device, name("Current"), "A", s, logger),
			ActivePower:         newSensor(device, name("Active Power"), "W", s, logger),
			ApparentPower:       newSensor(device, name("Apparent Power"), "VA", s, logger),
			PowerFactor:         newSensor(device, name("Power Factor"), "", s, logger),
			Frequency:           newSensor(device, name("Frequency"), "Hz", s, logger),
			ForwardActiveEnergy: newSensor(device, name("Forward Active Energy"), "kWh", s, logger),
			ReverseActiveEnergy: newSensor(device, name("Reverse Active Energy"), "kWh", s, logger),
		},
	}
}

// meterOpts builds the driver options for cfg, creating a sensor for every
// configured measurement. Pins and the scheduler are left for the caller.
func meterOpts(cfg *config.Config, s sink.Sink, logger golog.Logger) *ade7880.Opts {
	opts := &ade7880.Opts{
		Frequency: cfg.Frequency,
		A:         phaseChannel(cfg.DeviceID, ade7880.PhaseA, cfg.Phases.A, s, logger),
		B:         phaseChannel(cfg.DeviceID, ade7880.PhaseB, cfg.Phases.B, s, logger),
		C:         phaseChannel(cfg.DeviceID, ade7880.PhaseC, cfg.Phases.C, s, logger),
	}

	if n := cfg.Neutral; n != nil {
		opts.N = &ade7880.NeutralChannel{
			CurrentGain: n.CurrentGain,
			Current:     newSensor(cfg.DeviceID, "Neutral Current", "A", s, logger),
		}
	}

	return opts
}
