package ade7880

// Poll consumes pending IRQ0 events. At most one accumulation cycle runs per
// call however many events arrived; extra events are reported since they mean
// Poll runs too slowly for the configured line cycle count.
func (d *Dev) Poll() {
	n := d.pending.Swap(0)
	if n == 0 || d.halted() {
		return
	}
	if n > 1 {
		d.log.Warnf("Missed %d line cycle interrupts, poll more often", n-1)
	}
	d.accumulate()
}

func (d *Dev) accumulate() {
	status0, err := d.c.readVerify(STATUS0)
	if err != nil {
		d.log.Warnf("Failed to read STATUS0: %v", err)
	} else if status0&status0LENERGY == 0 {
		d.log.Warnf("IRQ0 without line cycle energy ready (STATUS0 0x%08X)", status0)
	}

	if err := d.c.writeVerify(STATUS0, status0LENERGY); err != nil {
		d.log.Warnf("Failed to clear STATUS0: %v", err)
	}
	if _, err := d.c.readVerify(STATUS0); err != nil {
		d.log.Warnf("Failed to re-read STATUS0: %v", err)
	}

	if d.skipCycles > 0 {
		d.skipCycles--
		d.log.Debugf("Skipping line cycle, %d left", d.skipCycles)
		return
	}

	healthy := true
	for i, ch := range d.phases {
		if ch == nil {
			continue
		}
		reg := phaseRegs[i].watthr
		raw, err := d.c.readVerify(reg)
		if err != nil {
			d.log.Warnf("Failed to read %s: %v", reg, err)
			healthy = false
			continue
		}
		if inc := ch.energy.Add(fragments(int32(raw))); inc != 0 {
			d.log.Debugf("Channel %s energy %+d (total %d)", Phase(i), inc, ch.energy.Total)
		}
	}
	if healthy {
		d.watchdog = 0
	}
}
