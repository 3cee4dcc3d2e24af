package ade7880

import (
	"sync/atomic"
	"time"
)

// irqCounter hands IRQ0 events from the edge watcher to Poll. The watcher
// only increments; Poll swaps it back to zero.
type irqCounter struct {
	atomic.Uint32
}

// edgeTimeout bounds each wait for an IRQ0 edge so Halt is noticed.
var edgeTimeout = time.Second

// interrupt records one IRQ0 falling edge. It must stay free of bus access
// and blocking calls.
func (d *Dev) interrupt() {
	d.pending.Add(1)
}

func (d *Dev) watchIRQ0() {
	defer d.wg.Done()
	for !d.halted() {
		if d.irq0.WaitForEdge(edgeTimeout) {
			d.interrupt()
		}
	}
}
