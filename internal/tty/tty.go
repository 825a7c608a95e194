// Package tty adapts the simulated keyboard and terminal devices to a real Unix terminal[^1].
//
// Keys pressed on the console are decoded into key events and fed to the keyboard device, after
// the terminal has been placed in raw mode. Likewise, whenever the foreground terminal's video
// buffer changes, its contents are repainted on the host terminal.
//
// [1]: See: tty(4), termios(4).
package tty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/triosdev/trios/internal/kernel"
)

// Console is a serial console for the simulated machine, driving its virtual terminals over Unix
// terminal I/O.
type Console struct {
	in    *os.File
	out   *os.File
	fd    int
	state *term.State

	// I/O buffers.
	keyCh  chan byte
	drawCh chan frame
}

type frame struct {
	fg  int
	buf [kernel.VGARows * kernel.VGACols]byte
}

// ErrNoTTY is returned if standard input is not a terminal. In this case, asynchronous I/O is
// not supported by the console.
var ErrNoTTY error = errors.New("console: not a TTY")

// ConsoleContext creates a Console context over the standard streams, wiring it to the keyboard
// device and the terminal multiplexer. Calling cancel will restore the terminal state and release
// resources.
func ConsoleContext(parent context.Context, keyboard *kernel.Keyboard, terminals *kernel.Terminals) (
	context.Context, *Console, context.CancelFunc,
) {
	ctx, cause := context.WithCancelCause(parent)

	console, err := NewConsole(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		cause(err)

		return ctx, console, func() { cause(err) }
	}

	terminals.Listen(func(fg int, buf [kernel.VGARows * kernel.VGACols]byte) {
		select {
		case console.drawCh <- frame{fg: fg, buf: buf}:
		default:
			// Dropped repaint; the next one carries the whole screen anyway.
		}
	})

	go console.readTerminal(ctx, cause)
	go console.updateKeyboard(ctx, keyboard)
	go console.updateTerminal(ctx, cause)

	return ctx, console, console.Restore
}

// NewConsole creates a Console using the provided streams. If the input stream is not a terminal,
// ErrNoTTY is returned. Callers are responsible for calling [Restore] to return the terminal to its
// initial state.
func NewConsole(sin, sout, serr *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	cons := Console{
		fd:     fd,
		in:     sin,
		out:    sout,
		state:  saved,
		keyCh:  make(chan byte, 8),
		drawCh: make(chan frame, 1),
	}

	err = cons.setTerminalParams(1, 0)
	if err != nil {
		return nil, err
	}

	return &cons, nil
}

// Press injects a key press into the input stream.
func (c Console) Press(key byte) {
	c.keyCh <- key
}

// Restore returns the terminal to its initial state and cancels in-progress reads.
func (c *Console) Restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	err = unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO)
	if err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads bytes from the terminal and writes them to the key channel until the context
// is cancelled. If reading from the terminal fails, the cancel is called.
func (c Console) readTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	// Make terminal input block on reads.
	_ = syscall.SetNonblock(c.fd, false)

	for { // ever and ever
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			cancel(err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.keyCh <- b:
		}
	}
}

// updateKeyboard takes bytes from the key channel, decodes them into key events, and hands each to
// the keyboard device. The function blocks until the context is cancelled.
func (c Console) updateKeyboard(ctx context.Context, kbd *kernel.Keyboard) {
	dec := decoder{keys: c.keyCh}

	for { // you, a gift.
		ev, ok := dec.next(ctx)
		if !ok {
			return
		}

		kbd.Handle(ev)
	}
}

// updateTerminal waits for foreground-buffer changes and repaints the host terminal with each one.
func (c Console) updateTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	for { // SPARTA!
		select {
		case f := <-c.drawCh:
			if err := c.paint(f); err != nil {
				cancel(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// paint redraws the whole foreground buffer. The screen is small and repaints are driven by
// keystrokes and task writes, so a full redraw per frame is affordable.
func (c Console) paint(f frame) error {
	out := make([]byte, 0, len(f.buf)+kernel.VGARows*2+16)
	out = append(out, "\x1b[H\x1b[2J"...)

	for row := 0; row < kernel.VGARows; row++ {
		out = append(out, f.buf[row*kernel.VGACols:(row+1)*kernel.VGACols]...)
		out = append(out, '\r', '\n')
	}

	_, err := c.out.Write(out)

	return err
}

// decoder turns the raw byte stream of a terminal in raw mode into key events: control bytes,
// backspace, enter, and the escape sequences carrying the F1-F3 terminal-switch keys.
type decoder struct {
	keys chan byte
}

func (d *decoder) next(ctx context.Context) (kernel.KeyEvent, bool) {
	for {
		b, ok := d.read(ctx)
		if !ok {
			return kernel.KeyEvent{}, false
		}

		switch {
		case b == 0x1b:
			if ev, ok := d.escape(ctx); ok {
				return ev, true
			}
		case b == '\r' || b == '\n':
			return kernel.KeyEvent{Enter: true}, true
		case b == 0x7f || b == 0x08:
			return kernel.KeyEvent{Backspace: true}, true
		case b < 0x20:
			// Control chord: Ctrl+A is 0x01 and so on.
			return kernel.KeyEvent{Ctrl: true, Rune: rune(b + 'a' - 1)}, true
		default:
			return kernel.KeyEvent{Rune: rune(b)}, true
		}
	}
}

func (d *decoder) read(ctx context.Context) (byte, bool) {
	select {
	case <-ctx.Done():
		return 0, false
	case b := <-d.keys:
		return b, true
	}
}

// escape consumes one escape sequence, recognizing the F1-F3 variants ("\x1bOP".."\x1bOR" and
// "\x1b[11~".."\x1b[13~") as terminal-switch chords. Unrecognized sequences are swallowed.
func (d *decoder) escape(ctx context.Context) (kernel.KeyEvent, bool) {
	b, ok := d.read(ctx)
	if !ok {
		return kernel.KeyEvent{}, false
	}

	switch b {
	case 'O':
		b, ok = d.read(ctx)
		if !ok {
			return kernel.KeyEvent{}, false
		}

		if b >= 'P' && b <= 'R' {
			return kernel.KeyEvent{Alt: true, FunctionKey: int(b-'P') + 1}, true
		}
	case '[':
		var seq []byte

		for {
			b, ok = d.read(ctx)
			if !ok {
				return kernel.KeyEvent{}, false
			}

			if b == '~' || (b >= 'A' && b <= 'Z') {
				break
			}

			seq = append(seq, b)
		}

		switch string(seq) {
		case "11":
			return kernel.KeyEvent{Alt: true, FunctionKey: 1}, true
		case "12":
			return kernel.KeyEvent{Alt: true, FunctionKey: 2}, true
		case "13":
			return kernel.KeyEvent{Alt: true, FunctionKey: 3}, true
		}
	}

	return kernel.KeyEvent{}, false
}
