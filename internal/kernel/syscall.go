package kernel

// syscall.go is the syscall dispatch boundary: numbers 1-13 cover the kernel's full call surface.
// Task's methods (task.go) are the actual handlers; Dispatch exists so callers that only have a
// syscall number and raw operands (the trap boundary itself, rather than a Program calling Task
// methods directly) can invoke them the way a real `int 0x80` handler would: validate the number,
// validate any pointer operand against the user window, run the handler, and collapse every
// failure to the single -1 sentinel user mode sees.

import "fmt"

// Syscall is the syscall number passed in EAX by convention.
type Syscall uint8

const (
	SyscallHalt Syscall = iota + 1
	SyscallExecute
	SyscallRead
	SyscallWrite
	SyscallOpen
	SyscallClose
	SyscallGetargs
	SyscallVidmap
	SyscallSetHandler
	SyscallSigReturn
	SyscallMalloc
	SyscallFree
	SyscallTouch

	numSyscalls = 13
)

func (s Syscall) String() string {
	names := [...]string{
		SyscallHalt:       "halt",
		SyscallExecute:    "execute",
		SyscallRead:       "read",
		SyscallWrite:      "write",
		SyscallOpen:       "open",
		SyscallClose:      "close",
		SyscallGetargs:    "getargs",
		SyscallVidmap:     "vidmap",
		SyscallSetHandler: "set_handler",
		SyscallSigReturn:  "sigreturn",
		SyscallMalloc:     "malloc",
		SyscallFree:       "free",
		SyscallTouch:      "touch",
	}

	if int(s) < len(names) && names[s] != "" {
		return names[s]
	}

	return fmt.Sprintf("Syscall(%d)", uint8(s))
}

// Valid reports whether s names one of the 13 defined syscalls.
func (s Syscall) Valid() bool {
	return s >= SyscallHalt && s <= SyscallTouch
}

// SyscallFailure is the single sentinel every failed syscall returns to user mode, whatever the
// internal error was.
const SyscallFailure int32 = -1

// SyscallArgs carries a syscall's operands across the trap boundary. A real trap passes three raw
// registers; the simulation has no user memory to copy strings and buffers out of, so the operands
// arrive pre-typed and Dispatch's job is the validation and dispatch a trap handler performs after
// the copy-in.
type SyscallArgs struct {
	FD     int
	Buf    []byte
	Name   string
	Status int32
	Signal Signal
	Addr   VirtAddr
	Size   int
}

// Dispatch invokes the handler for num against t, returning the value user mode would see in the
// return register. Out-of-range numbers, stdio direction violations, and bad pointer operands all
// collapse to SyscallFailure.
func Dispatch(t *Task, num Syscall, args SyscallArgs) int32 {
	if !num.Valid() {
		return SyscallFailure
	}

	switch num {
	case SyscallHalt:
		t.Halt(args.Status)
		return 0
	case SyscallExecute:
		status, err := t.Execute(args.Name)
		if err != nil {
			return SyscallFailure
		}

		return status
	case SyscallRead:
		if args.FD == 1 {
			return SyscallFailure
		}

		n, err := t.Read(args.FD, args.Buf)
		if err != nil {
			return SyscallFailure
		}

		return int32(n)
	case SyscallWrite:
		if args.FD == 0 {
			return SyscallFailure
		}

		n, err := t.Write(args.FD, args.Buf)
		if err != nil {
			return SyscallFailure
		}

		return int32(n)
	case SyscallOpen:
		fd, err := t.Open(args.Name)
		if err != nil {
			return SyscallFailure
		}

		return int32(fd)
	case SyscallClose:
		if err := t.Close(args.FD); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallGetargs:
		if err := t.Getargs(args.Buf); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallVidmap:
		// The operand is the user pointer the mapped address is written back through; it must
		// itself lie in the user window.
		if !userRangeOK(args.Addr, 4) {
			return SyscallFailure
		}

		if _, err := t.Vidmap(); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallSetHandler:
		if err := t.SetHandler(args.Signal, args.Addr); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallSigReturn:
		if _, _, err := t.SigReturn(); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallMalloc:
		addr, _, err := t.Malloc(args.Size)
		if err != nil {
			return SyscallFailure
		}

		return int32(addr)
	case SyscallFree:
		if err := t.Free(args.Addr); err != nil {
			return SyscallFailure
		}

		return 0
	case SyscallTouch:
		if err := t.Touch(args.Name); err != nil {
			return SyscallFailure
		}

		return 0
	default:
		return SyscallFailure
	}
}
