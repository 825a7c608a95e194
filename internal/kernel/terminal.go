package kernel

// terminal.go is the terminal multiplexer: NumTerminals independent (VGA buffer, line buffer)
// pairs, exactly one of which is "foreground" (mirrored to the physical display) at a time.
// Switching foreground is the Alt+Fn ceremony: the outgoing terminal's contents stay in its own
// buffer (each terminal writes its back buffer directly, so the copy a shared frame buffer needs
// is implicit), the incoming terminal's buffer is pushed to the display listeners, and both
// terminals' active tasks get their vidmap alias retargeted between the live frame buffer and
// their back buffer.

import "sync"

// Terminal is one virtual terminal: its own video memory and its own pending input line.
type Terminal struct {
	vga  *VGABuffer
	line *lineBuffer
}

// Terminals owns the fixed array of NumTerminals terminals and notifies registered listeners
// (normally exactly one: the host tty mirror) whenever the foreground buffer's contents should be
// redrawn.
type Terminals struct {
	mu        sync.Mutex
	terms     [NumTerminals]*Terminal
	sched     *Scheduler
	paging    *Paging
	listeners []func(fg int, buf [VGARows * VGACols]byte)
}

// NewTerminals creates NumTerminals blank terminals, with foreground tracked through sched and
// vidmap aliases retargeted through paging on every switch.
func NewTerminals(sched *Scheduler, paging *Paging) *Terminals {
	t := &Terminals{sched: sched, paging: paging}

	for i := range t.terms {
		t.terms[i] = &Terminal{vga: NewVGABuffer(), line: newLineBuffer()}
	}

	return t
}

// Get returns the terminal at index i.
func (t *Terminals) Get(i int) *Terminal {
	return t.terms[i]
}

// Listen registers fn to be called with the foreground buffer's contents after every switch or
// write, the hook internal/tty uses to keep the host console in sync.
func (t *Terminals) Listen(fn func(fg int, buf [VGARows * VGACols]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.listeners = append(t.listeners, fn)
}

// SwitchForeground makes terminal the one mirrored to the physical display: the outgoing
// terminal's active task gets its video alias retargeted at that terminal's back buffer, the
// incoming terminal's active task gets the live frame buffer, and listeners are notified with the
// incoming contents.
func (t *Terminals) SwitchForeground(terminal int) {
	if terminal < 0 || terminal >= NumTerminals {
		return
	}

	outgoing := t.sched.Foreground()
	if task, ok := t.sched.ActiveTask(outgoing); ok && outgoing != terminal {
		t.paging.SetVidmapTarget(task, BackBufferPhysAddr(outgoing))
	}

	t.sched.SetForeground(terminal)

	if task, ok := t.sched.ActiveTask(terminal); ok {
		t.paging.SetVidmapTarget(task, VGAPhysAddr)
	}

	t.notify(terminal)
}

// notify calls every registered listener with the foreground terminal's current buffer.
func (t *Terminals) notify(fg int) {
	t.mu.Lock()
	listeners := append([]func(int, [VGARows * VGACols]byte){}, t.listeners...)
	t.mu.Unlock()

	buf := t.terms[fg].vga.Snapshot()

	for _, fn := range listeners {
		fn(fg, buf)
	}
}

// Refresh re-notifies listeners with the current foreground buffer, called after every VGA write so
// the host console mirror stays current even though the write itself went straight to the back
// buffer.
func (t *Terminals) Refresh() {
	t.notify(t.sched.Foreground())
}

// Write sends s to terminal's VGA buffer, refreshing the host mirror
// immediately if terminal is currently foreground.
func (t *Terminals) Write(terminal int, s string) {
	t.terms[terminal].vga.WriteString(s)

	if t.sched.Foreground() == terminal {
		t.Refresh()
	}
}
