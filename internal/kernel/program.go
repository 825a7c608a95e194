package kernel

// program.go is the "user-mode code" half of the simulation: each Program is a registered Go
// function standing in for a compiled executable image, looked up by the name Execute is given. A
// Program only talks to the kernel through *Task's methods, this simulation's substitute for the
// `int 0x80` trap a compiled binary would use.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/triosdev/trios/internal/fs"
)

// Program is a registered executable: a Go function that runs until it halts or its context is
// canceled, communicating with the kernel exclusively through t.
type Program func(t *Task)

// ProgramRegistry maps executable names to their Program, the simulation's substitute for resolving a
// filename to a block of machine code.
type ProgramRegistry struct {
	programs map[string]Program
}

// NewProgramRegistry creates a registry with the kernel's built-in programs installed.
func NewProgramRegistry() *ProgramRegistry {
	r := &ProgramRegistry{programs: map[string]Program{}}

	r.Register("shell", shellProgram)
	r.Register("cat", catProgram)
	r.Register("counter", counterProgram)
	r.Register("touch", touchProgram)
	r.Register("malloctest", malloctestProgram)
	r.Register("sigtest", sigtestProgram)
	r.Register("clock", clockProgram)

	return r
}

// Register installs prog under name, overwriting any previous registration.
func (r *ProgramRegistry) Register(name string, prog Program) {
	r.programs[name] = prog
}

// Lookup returns the program registered for name.
func (r *ProgramRegistry) Lookup(name string) (Program, bool) {
	p, ok := r.programs[name]
	return p, ok
}

// shellProgram is the reserved-slot program run in each terminal at boot: it prompts, reads a
// command line, and executes it, looping until the terminal is torn down.
func shellProgram(t *Task) {
	const prompt = "trios> "

	buf := make([]byte, LineBufferSize)

	for {
		if _, err := t.Write(1, []byte(prompt)); err != nil {
			return
		}

		n, err := t.Read(0, buf)
		if err != nil {
			return
		}

		line := strings.TrimRight(string(buf[:n]), "\n")
		if line == "" {
			continue
		}

		if line == "exit" {
			t.Halt(0)
			return
		}

		if _, err := t.Execute(line); err != nil {
			t.Write(1, []byte(fmt.Sprintf("%s: %v\n", line, err))) //nolint:errcheck
		}

		if err := t.Yield(); err != nil {
			return
		}
	}
}

// catProgram implements `cat [filename]`: with no argument it lists the directory, one entry per
// line; with an argument it streams the named file to stdout.
func catProgram(t *Task) {
	argBuf := make([]byte, MaxArgLen)
	if err := t.Getargs(argBuf); err != nil {
		t.Halt(1)
		return
	}

	name := string(bytes.TrimRight(argBuf, "\x00"))

	if name == "" {
		listDirectory(t)
		return
	}

	fd, err := t.Open(name)
	if err != nil {
		t.Write(1, []byte("cat: file not found\n")) //nolint:errcheck
		t.Halt(1)

		return
	}
	defer t.Close(fd) //nolint:errcheck

	buf := make([]byte, 256)

	for {
		n, err := t.Read(fd, buf)
		if err != nil || n == 0 {
			break
		}

		if _, err := t.Write(1, buf[:n]); err != nil {
			break
		}
	}

	t.Halt(0)
}

func listDirectory(t *Task) {
	fd, err := t.Open(".")
	if err != nil {
		t.Halt(1)
		return
	}
	defer t.Close(fd) //nolint:errcheck

	buf := make([]byte, fs.DentryNameLen)

	for {
		n, err := t.Read(fd, buf)
		if err != nil || n == 0 {
			break
		}

		name := string(bytes.TrimRight(buf[:n], "\x00"))
		if name == "" {
			continue
		}

		t.Write(1, []byte(name+"\n")) //nolint:errcheck
	}

	t.Halt(0)
}

// touchProgram implements `touch <filename>`: create an empty regular file.
func touchProgram(t *Task) {
	argBuf := make([]byte, MaxArgLen)
	if err := t.Getargs(argBuf); err != nil {
		t.Halt(1)
		return
	}

	name := string(bytes.TrimRight(argBuf, "\x00"))
	if name == "" {
		t.Write(1, []byte("touch: missing file name\n")) //nolint:errcheck
		t.Halt(1)

		return
	}

	if err := t.Touch(name); err != nil {
		t.Write(1, []byte(fmt.Sprintf("touch: %v\n", err))) //nolint:errcheck
		t.Halt(1)

		return
	}

	t.Halt(0)
}

// malloctestProgram exercises the slab allocator: it allocates one buffer per size class, writes a
// byte pattern into each, verifies the pattern survives, then frees every buffer.
func malloctestProgram(t *Task) {
	pattern := byte(0xA5)

	var addrs []VirtAddr

	for _, size := range SlabClassSizes {
		addr, buf, err := t.Malloc(size)
		if err != nil {
			t.Write(1, []byte(fmt.Sprintf("malloc(%d) failed: %v\n", size, err))) //nolint:errcheck
			t.Halt(1)

			return
		}

		for i := range buf {
			buf[i] = pattern
		}

		addrs = append(addrs, addr)
	}

	for _, addr := range addrs {
		if err := t.Free(addr); err != nil {
			t.Write(1, []byte(fmt.Sprintf("free(%s) failed: %v\n", addr, err))) //nolint:errcheck
			t.Halt(1)

			return
		}
	}

	t.Write(1, []byte("malloctest: PASS\n")) //nolint:errcheck
	t.Halt(0)
}

// counterProgram prints 0..N (default 100), one number per line, yielding between iterations so the
// other terminals' tasks share the CPU round-robin. The limit comes from the argument string.
func counterProgram(t *Task) {
	argBuf := make([]byte, MaxArgLen)
	if err := t.Getargs(argBuf); err != nil {
		t.Halt(1)
		return
	}

	limit := 100
	if arg := string(bytes.TrimRight(argBuf, "\x00")); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 0 {
			t.Write(1, []byte("counter: bad limit\n")) //nolint:errcheck
			t.Halt(1)

			return
		}

		limit = v
	}

	for i := 0; i <= limit; i++ {
		if _, err := t.Write(1, []byte(fmt.Sprintf("%d\n", i))); err != nil {
			return
		}

		if err := t.Yield(); err != nil {
			return
		}
	}

	t.Halt(0)
}

// sigtestProgram installs a divide-by-zero handler that prints "caught", triggers the exception,
// and continues: the handler's normal return restores the interrupted context through sigreturn, so
// "done" still prints afterward.
func sigtestProgram(t *Task) {
	handlerAddr := UserImageVirtBase + UserImageLoadOffset + 0x100

	t.BindHandler(handlerAddr, func(Signal) {
		t.k.terminals.Write(t.pcb.Terminal, "caught\n")
	})

	if err := t.SetHandler(SignalDivZero, handlerAddr); err != nil {
		t.Halt(1)
		return
	}

	t.Divide(1, 0)

	t.Write(1, []byte("done\n")) //nolint:errcheck
	t.Halt(0)
}

// clockProgram exercises the device-clock file: open it, reprogram the virtual frequency from the
// argument string (default 32 Hz), then block on a handful of virtual ticks, printing one dot per
// tick.
func clockProgram(t *Task) {
	argBuf := make([]byte, MaxArgLen)
	if err := t.Getargs(argBuf); err != nil {
		t.Halt(1)
		return
	}

	freq := 32
	if arg := string(bytes.TrimRight(argBuf, "\x00")); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil {
			t.Halt(1)
			return
		}

		freq = v
	}

	fd, err := t.Open("rtc")
	if err != nil {
		t.Write(1, []byte("clock: no rtc device\n")) //nolint:errcheck
		t.Halt(1)

		return
	}
	defer t.Close(fd) //nolint:errcheck

	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], uint32(freq))

	if _, err := t.Write(fd, buf[:]); err != nil {
		t.Write(1, []byte("clock: bad frequency\n")) //nolint:errcheck
		t.Halt(1)

		return
	}

	for i := 0; i < 8; i++ {
		if _, err := t.Read(fd, nil); err != nil {
			return
		}

		t.Write(1, []byte(".")) //nolint:errcheck
	}

	t.Write(1, []byte("\n")) //nolint:errcheck
	t.Halt(0)
}
