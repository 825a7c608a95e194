package kernel

// task.go defines Task, the per-execution context a running Program receives: its PCB, its private
// heap, and handles back to the shared subsystems a syscall needs to touch. Calling a Task method is
// this simulation's stand-in for a user-mode `int 0x80` trap: a Program is already Go code running
// in the kernel process, so there is no ring transition to model, only the argument validation and
// dispatch a trap handler would do.

import (
	"context"
	"errors"
	"fmt"

	"github.com/triosdev/trios/internal/fs"
)

// Task is the execution context passed to a running Program: it bundles the task's own PCB with
// handles to every kernel subsystem a syscall might need, mirroring the parameters a real syscall
// handler would pull from the current task's saved state and the kernel's global tables.
type Task struct {
	ctx context.Context

	pcb *PCB

	k *Kernel

	args string // Raw argument string passed by execute, read back by Getargs.

	// handlers binds the handler addresses a Program installed through SetHandler to the Go
	// functions that stand in for the user-mode handler code at those addresses.
	handlers map[VirtAddr]func(Signal)
}

// errKilled unwinds a task goroutine that a fatal signal's default action terminated. The execute
// wrapper recovers it; any other panic value is a genuine fault.
var errKilled = errors.New("kernel: task killed by signal")

// Halt implements the halt syscall: it records status, unwinds to the parent task in the same
// terminal scheduling slot, and signals the task's goroutine is done. The parent observes the
// status masked to one byte, or ExitException whole.
func (t *Task) Halt(status int32) {
	t.pcb.finish(int(status))
}

// Execute implements the execute syscall: parse the command line, resolve the executable, allocate a
// child PCB, map its image, and run it to completion, returning its exit status the way a blocking
// execute waits for its child. See loader.go and program.go.
func (t *Task) Execute(command string) (int32, error) {
	return t.k.execute(t.ctx, t.pcb.Terminal, t.pcb.Task, command)
}

// Read implements the read syscall, dispatching on the descriptor's kind.
func (t *Task) Read(fd int, buf []byte) (int, error) {
	defer t.checkSignals()

	desc, err := t.pcb.FD(fd)
	if err != nil {
		return 0, err
	}

	switch desc.Kind {
	case FDStdin:
		n, err := t.k.keyboard.ReadLine(t.ctx, t.pcb.Terminal, buf)
		return n, err
	case FDDeviceClock:
		if err := t.k.rtc.Read(t.ctx, t.pcb); err != nil {
			return 0, err
		}

		return 0, nil
	case FDDirectory:
		// The position advances one name-length per entry, so it stays a multiple of the
		// fixed name size; past the last dentry reads return 0.
		d, ok := t.k.fsImage.ReadDentryByIndex(desc.Pos / fs.DentryNameLen)
		if !ok {
			return 0, nil
		}

		n := copy(buf, d.Name)
		for n < fs.DentryNameLen && n < len(buf) {
			buf[n] = 0
			n++
		}

		t.pcb.SetFDPos(fd, desc.Pos+fs.DentryNameLen)

		return n, nil
	case FDRegular:
		n, err := t.k.fsImage.ReadData(desc.Inode, desc.Pos, buf)
		if err != nil {
			return 0, err
		}

		t.pcb.SetFDPos(fd, desc.Pos+uint32(n))

		return n, nil
	case FDStdout:
		return 0, ErrBadFD
	default:
		return 0, ErrBadFD
	}
}

// Write implements the write syscall. Stdout and the device-clock file accept writes; a regular
// file accepts a single write only while freshly created (zero length), up to one data block. The
// filesystem is otherwise read-mostly.
func (t *Task) Write(fd int, buf []byte) (int, error) {
	defer t.checkSignals()

	desc, err := t.pcb.FD(fd)
	if err != nil {
		return 0, err
	}

	switch desc.Kind {
	case FDStdout:
		t.k.terminals.Write(t.pcb.Terminal, string(buf))
		return len(buf), nil
	case FDDeviceClock:
		if len(buf) < 4 {
			return 0, ErrBadArg
		}

		freq := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16 | int(buf[3])<<24
		if err := t.k.rtc.Write(t.pcb, freq); err != nil {
			return 0, err
		}

		return 4, nil
	case FDRegular:
		n, err := t.k.fsImage.Write(desc.Inode, buf)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrWriteNotAllowed, err)
		}

		t.pcb.SetFDPos(fd, desc.Pos+uint32(n))

		return n, nil
	default:
		return 0, ErrBadFD
	}
}

// Open implements the open syscall, resolving filename against the filesystem image (or the two
// well-known pseudo-files) and installing the right descriptor kind.
func (t *Task) Open(filename string) (int, error) {
	defer t.checkSignals()

	if filename == "." {
		return t.pcb.AllocFD(FDDirectory, 0)
	}

	d, ok := t.k.fsImage.ReadDentryByName(filename)
	if !ok {
		return 0, ErrNotFound
	}

	switch d.Type {
	case fs.TypeDirectory:
		return t.pcb.AllocFD(FDDirectory, 0)
	case fs.TypeDeviceClock:
		t.k.rtc.Open(t.pcb)
		return t.pcb.AllocFD(FDDeviceClock, 0)
	default:
		return t.pcb.AllocFD(FDRegular, d.Inode)
	}
}

// Close implements the close syscall.
func (t *Task) Close(fd int) error {
	defer t.checkSignals()

	return t.pcb.CloseFD(fd)
}

// Getargs implements the getargs syscall: copy the command line's argument portion (everything
// after the executable name) into buf, NUL-terminated. An empty argument string still copies its
// terminating NUL and succeeds; a buffer too short for the string plus its NUL fails.
func (t *Task) Getargs(buf []byte) error {
	defer t.checkSignals()

	_, rest := splitCommand(t.args)
	if len(rest)+1 > len(buf) {
		return ErrBadArg
	}

	n := copy(buf, rest)
	buf[n] = 0

	return nil
}

// Vidmap implements the vidmap syscall: rewrite the task's single 4 KiB page-table entry to alias
// video memory at VidmapVirtAddr and return that address. The physical target is the live frame
// buffer while the task's terminal is foreground and the terminal's back buffer otherwise, so a
// background task's writes never corrupt the visible display.
func (t *Task) Vidmap() (VirtAddr, error) {
	defer t.checkSignals()

	phys := BackBufferPhysAddr(t.pcb.Terminal)
	if t.k.scheduler.Foreground() == t.pcb.Terminal {
		phys = VGAPhysAddr
	}

	t.k.paging.SetVidmapTarget(t.pcb.Task, phys)

	return VidmapVirtAddr, nil
}

// SetHandler implements set_handler, installing addr as sig's user-mode handler (0 restores the
// default action). The address must lie in the user image window; a Program binds the Go function
// standing in for the code at that address with BindHandler.
func (t *Task) SetHandler(sig Signal, addr VirtAddr) error {
	if int(sig) >= numSignals {
		return ErrBadArg
	}

	if addr != 0 && !userRangeOK(addr, 0) {
		return ErrBadPointer
	}

	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()

	t.pcb.Signals.SetHandler(sig, addr)

	return nil
}

// BindHandler associates the Go function fn with a handler address previously (or subsequently)
// installed by SetHandler. fn runs with all signals masked, and the interrupted context is restored
// through sigreturn when it returns, exactly the round trip a user-stack trampoline performs.
func (t *Task) BindHandler(addr VirtAddr, fn func(Signal)) {
	if t.handlers == nil {
		t.handlers = make(map[VirtAddr]func(Signal))
	}

	t.handlers[addr] = fn
}

// SigReturn implements sigreturn, restoring the context a trampoline interrupted.
func (t *Task) SigReturn() (VirtAddr, VirtAddr, error) {
	t.pcb.mu.Lock()
	defer t.pcb.mu.Unlock()

	return t.pcb.Signals.SigReturn()
}

// Malloc implements malloc, returning the backing buffer as well as the address so a Program written
// in Go (which has no real pointer into simulated memory) can read and write the allocation directly.
func (t *Task) Malloc(n int) (VirtAddr, []byte, error) {
	defer t.checkSignals()

	return t.pcb.slab.Malloc(n)
}

// Free implements free.
func (t *Task) Free(addr VirtAddr) error {
	defer t.checkSignals()

	return t.pcb.slab.Free(addr)
}

// Touch implements the touch syscall: create an empty regular file in the filesystem image.
func (t *Task) Touch(filename string) error {
	defer t.checkSignals()

	if filename == "" || len(filename) > MaxFilenameLen {
		return ErrBadArg
	}

	_, err := t.k.fsImage.Touch(filename)
	return err
}

// Yield is the cooperative preemption point described in scheduler.go: Programs that run longer than
// one syscall should call this periodically so other terminals' tasks get a fair share of CPU time.
// Like a syscall, returning from Yield passes through the pending-signal check.
func (t *Task) Yield() error {
	defer t.checkSignals()

	return t.k.scheduler.Yield(t.ctx, t.pcb.Terminal)
}

// Context returns the task's cancellation context, for Programs that need it directly (a blocking
// read loop of their own, for instance).
func (t *Task) Context() context.Context { return t.ctx }

// splitCommand separates a command line into its executable name and the remaining argument
// string, trimming the single separating space.
func splitCommand(command string) (string, string) {
	for i := 0; i < len(command); i++ {
		if command[i] == ' ' {
			return command[:i], command[i+1:]
		}
	}

	return command, ""
}

// checkSignals is the return-to-user-mode step every syscall runs on its way out: find the lowest
// pending, unmasked signal and deliver it. With a handler installed, the handler's bound function
// runs with further delivery blocked and the interrupted context is restored through sigreturn on
// its return. With no handler, the default action runs: print a message and terminate for the
// fatal signals, ignore for the rest.
func (t *Task) checkSignals() {
	t.pcb.mu.Lock()
	action, frame := t.pcb.Signals.DeliverPending(t.pcb.SavedIP, t.pcb.SavedSP)
	t.pcb.mu.Unlock()

	switch action {
	case deliverNone:
		return
	case deliverKill:
		t.k.terminals.Write(t.pcb.Terminal, "signal terminated task\n")
		t.pcb.finish(ExitException)
		panic(errKilled)
	case deliverTrampoline:
		if fn := t.handlers[frame.Handler]; fn != nil {
			fn(frame.Signal)
		}

		// The trampoline's normal return: restore the interrupted context.
		t.pcb.mu.Lock()
		_, _, err := t.pcb.Signals.SigReturn()
		t.pcb.mu.Unlock()

		if err != nil {
			t.k.log.Error("sigreturn failed", "task", t.pcb.Task, "error", err)
		}
	}
}

// RaiseException posts sig on the task and delivers it immediately, the way a CPU exception traps
// straight into the kernel and delivers on the way back out. A task with a handler installed
// resumes after its handler returns; otherwise the default action terminates it with ExitException.
func (t *Task) RaiseException(sig Signal) {
	t.pcb.RaiseSignal(sig)
	t.checkSignals()
}

// Divide is the simulation's divide instruction: it returns a/b, raising the divide-by-zero
// exception when b is 0.
func (t *Task) Divide(a, b int) int {
	if b == 0 {
		t.RaiseException(SignalDivZero)
		return 0
	}

	return a / b
}
