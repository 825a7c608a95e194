package kernel

// timer.go is the periodic-interrupt source: programmed for ~60 Hz, it drives the
// round-robin scheduler on every tick and also advances the RTC's alarm counter.

import (
	"context"
	"time"

	"github.com/triosdev/trios/internal/log"
)

// DefaultTimerPeriod approximates a ~60 Hz periodic interrupt. Tests construct a
// Timer with a much shorter period so scheduling behavior can be observed without waiting on a wall
// clock tuned for real hardware.
const DefaultTimerPeriod = time.Second / 60

// Timer drives the scheduler tick. It is the simulation's stand-in for the PIT (8254) and the ISR
// that would run on IRQ0.
type Timer struct {
	pic    *PIC
	period time.Duration
	onTick func()
	log    *log.Logger
}

// NewTimer creates a timer that calls onTick on every period, once enabled.
func NewTimer(pic *PIC, period time.Duration, onTick func()) *Timer {
	if period <= 0 {
		period = DefaultTimerPeriod
	}

	return &Timer{pic: pic, period: period, onTick: onTick, log: log.DefaultLogger()}
}

// Run blocks, firing onTick every period while IRQ0 is enabled, until ctx is done. Each firing
// disables its own IRQ line on entry and re-enables it after the tick handler returns, the same
// discipline every interrupt handler follows.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	t.pic.Enable(irqTimer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.pic.Enabled(irqTimer) {
				continue
			}

			t.pic.Disable(irqTimer)
			t.onTick()
			t.pic.SendEOI(irqTimer)
			t.pic.Enable(irqTimer)
		}
	}
}
