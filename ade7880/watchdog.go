package ade7880

// watchdogLimit is the number of Update ticks tolerated without a healthy
// accumulation cycle.
const watchdogLimit = 3

// Update runs one watchdog tick and then publishes the current measurements.
// When the watchdog trips the device is restarted and nothing is published.
func (d *Dev) Update() {
	if d.halted() {
		return
	}
	if d.tickWatchdog() {
		return
	}
	if !d.progress.has(initDone) || d.skipCycles > 0 {
		return
	}
	d.publish()
}

// tickWatchdog reports whether the device was restarted.
func (d *Dev) tickWatchdog() bool {
	d.watchdog++
	if d.watchdog <= watchdogLimit {
		return false
	}
	d.log.Errorf("Watchdog trip after %d updates without a healthy cycle (state %s), restarting", d.watchdog, d.progress)
	d.restart()
	return true
}
