package kernel

// keyboard.go is the keyboard device: it turns decoded key events into per-terminal line buffers
// (canonical, line-buffered input) and handles the three chords the kernel itself must intercept
// before a task ever sees them: Ctrl+C (deliver SignalInterrupt to the foreground task), Ctrl+L
// (clear the foreground VGA buffer without disturbing the in-progress line), and Alt+F1/F2/F3
// (switch the foreground terminal).

import (
	"context"
	"sync"
)

// KeyEvent is a single decoded key press, already translated from whatever raw encoding the host tty
// uses (a real scancode set 1 byte stream on real hardware; an ANSI escape decode here, see
// internal/tty). Keyboard never looks at raw bytes itself, matching how the real driver works from an
// already-decoded make-code table.
type KeyEvent struct {
	Rune        rune
	Ctrl        bool
	Alt         bool
	Enter       bool
	Backspace   bool
	FunctionKey int // 1-3 for F1-F3, 0 otherwise.
}

// LineBufferSize is the maximum bytes one terminal read returns: 127 visible characters plus the
// terminating newline.
const LineBufferSize = 128

// lineBuffer is one terminal's pending input line plus whatever has already been typed toward the
// next one.
type lineBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte // Completed line, ready for terminal_read, or nil if none is ready.
	typing  []byte // In-progress line, echoed to the VGA buffer but not yet newline-terminated.
}

func newLineBuffer() *lineBuffer {
	lb := &lineBuffer{}
	lb.cond = sync.NewCond(&lb.mu)

	return lb
}

// Keyboard is the single physical keyboard device, shared by all terminals but routing every event
// to whichever terminal is currently foreground.
type Keyboard struct {
	terminals *Terminals
	sched     *Scheduler
}

// NewKeyboard creates the keyboard device over terminals, switching foreground through sched.
func NewKeyboard(terminals *Terminals, sched *Scheduler) *Keyboard {
	return &Keyboard{terminals: terminals, sched: sched}
}

// Handle processes one decoded key event against the currently foreground terminal.
func (k *Keyboard) Handle(ev KeyEvent) {
	if ev.Alt && ev.FunctionKey >= 1 && ev.FunctionKey <= NumTerminals {
		k.terminals.SwitchForeground(ev.FunctionKey - 1)
		return
	}

	fg := k.sched.Foreground()
	term := k.terminals.Get(fg)

	if ev.Ctrl && ev.Rune == 'l' {
		term.vga.Clear()
		return
	}

	if ev.Ctrl && ev.Rune == 'c' {
		// The interrupt goes to the foreground terminal's current task, not whichever task the
		// round-robin cursor names this tick.
		if pcb := k.sched.TerminalPCB(fg); pcb != nil {
			pcb.RaiseSignal(SignalInterrupt)
		}

		return
	}

	lb := term.line

	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch {
	case ev.Enter:
		term.vga.Putc('\n')
		line := append([]byte(nil), lb.typing...)
		line = append(line, '\n')
		lb.pending = line
		lb.typing = lb.typing[:0]
		lb.cond.Broadcast()
	case ev.Backspace:
		if len(lb.typing) > 0 {
			lb.typing = lb.typing[:len(lb.typing)-1]
			term.vga.Putc('\b')
		}
	case ev.Rune != 0:
		if len(lb.typing) < LineBufferSize-1 {
			lb.typing = append(lb.typing, byte(ev.Rune))
			term.vga.Putc(byte(ev.Rune))
		}
	}
}

// ReadLine blocks until terminal has a completed line or ctx is done, then copies up to len(buf)
// bytes of it (including the trailing newline) and clears the pending slot.
func (k *Keyboard) ReadLine(ctx context.Context, terminal int, buf []byte) (int, error) {
	lb := k.terminals.Get(terminal).line

	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			lb.mu.Lock()
			lb.cond.Broadcast()
			lb.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	for lb.pending == nil && ctx.Err() == nil {
		lb.cond.Wait()
	}

	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	n := copy(buf, lb.pending)
	lb.pending = nil

	return n, nil
}
