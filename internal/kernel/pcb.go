package kernel

// pcb.go is the task table: a fixed array of MaxTasks process control blocks, each co-located
// with its kernel stack in a real address space; here the kernel stack is the task goroutine's
// own stack and the PCB holds the shared, lockable state.

import (
	"context"
	"fmt"
	"sync"
)

// TaskFlag is a PCB's scheduling state.
type TaskFlag uint8

const (
	TaskFree TaskFlag = iota
	TaskRunnable
	TaskBlocked
	TaskZombie
)

func (f TaskFlag) String() string {
	switch f {
	case TaskFree:
		return "free"
	case TaskRunnable:
		return "runnable"
	case TaskBlocked:
		return "blocked"
	case TaskZombie:
		return "zombie"
	default:
		return fmt.Sprintf("TaskFlag(%d)", uint8(f))
	}
}

// rtcState is the subset of PCB fields the RTC device reads and writes: whether the task has the
// device-clock file open, its virtual frequency, the software down-counter, and the latch the
// blocking read waits on.
type rtcState struct {
	InUse            bool
	VirtFreq         int
	Counter          int
	InterruptPending bool
}

// FDKind tags which kind of file a descriptor slot refers to, so syscall dispatch and the per-kind
// operations (stdin/stdout/regular/directory/device-clock) can be selected with a type switch
// instead of a capability interface: every kind shares the same operations but each differs enough
// in body and blocking behavior that a tagged variant reads more plainly than an interface with
// mostly-empty methods.
type FDKind uint8

const (
	FDClosed FDKind = iota
	FDStdin
	FDStdout
	FDRegular
	FDDirectory
	FDDeviceClock
)

// FileDescriptor is one entry in a task's open-file table: 8 entries, indices 0 and 1 permanently
// stdin and stdout.
type FileDescriptor struct {
	Kind  FDKind
	Pos   uint32 // Byte offset for regular files, dentry index for directories.
	Inode uint32 // Valid when Kind == FDRegular.
}

// PCB is one task's process control block: scheduling state, the open-file table, signal state, the
// RTC's per-task frequency bookkeeping, and the saved user-mode context a context switch restores.
// One PCB and its kernel stack occupy a single 8 KiB slot in a real address space; here the
// "kernel stack" is simply the goroutine stack of the task's own goroutine, and PCB is the shared,
// lockable state other goroutines (the scheduler, the RTC, signal senders) touch concurrently.
type PCB struct {
	mu sync.Mutex

	Task      int // Index into PCBTable.slots, also the paging directory index.
	Flag      TaskFlag
	Parent    int // Index of the parent task, or -1 for the three shell slots.
	Terminal  int // Which of the NumTerminals scheduling slots owns this task.
	EntryArgs string

	FDs [NumFileDescriptors]FileDescriptor

	Signals SignalState
	RTC     rtcState

	// SavedIP/SavedSP hold the user-mode context across a context switch or signal delivery; in this
	// simulation they are addresses a Program closure reads back after being resumed, not real
	// register contents.
	SavedIP VirtAddr
	SavedSP VirtAddr

	ExitStatus int

	slab    *Slab
	rtcCond *sync.Cond
	done    chan struct{} // closed when the task's goroutine returns, for Halt to wait on.
}

// finish marks the task a zombie and wakes any Wait caller, idempotently: a task that panics after
// already calling Halt, or whose Program returns without calling Halt at all, must not double-close
// the done channel.
func (p *PCB) finish(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Flag == TaskZombie {
		return
	}

	p.ExitStatus = status
	p.Flag = TaskZombie
	close(p.done)
}

// RaiseSignal raises sig on the task and, if the task is parked waiting on the RTC, wakes it so the
// signal can be noticed promptly rather than only at the next blocking call.
func (p *PCB) RaiseSignal(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Signals.Raise(sig)
	p.rtcCond.Broadcast()
}

// PCBTable is the fixed task table: an array of MaxTasks PCBs, indexed by task ID, never resized.
type PCBTable struct {
	mu    sync.Mutex
	slots [MaxTasks]PCB
}

// NewPCBTable creates an empty task table with every slot free.
func NewPCBTable() *PCBTable {
	t := &PCBTable{}

	for i := range t.slots {
		t.slots[i].Task = i
		t.slots[i].Flag = TaskFree
		t.slots[i].rtcCond = sync.NewCond(&t.slots[i].mu)
		t.slots[i].done = make(chan struct{})
	}

	return t
}

// Alloc reserves a slot for a new task, owned by terminal, with parent as its parent task index
// (-1 for a terminal's initial shell). The first NumTerminals slots are reserved one per terminal
// for the permanent shells; slots beyond them are general. It returns ErrNoFreeSlot if no eligible
// slot is free.
func (t *PCBTable) Alloc(terminal, parent int, args string) (*PCB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	first, last := NumTerminals, MaxTasks
	if parent < 0 {
		// A terminal's base shell always lands in its own reserved slot.
		first, last = terminal, terminal+1
	}

	for i := first; i < last; i++ {
		pcb := &t.slots[i]
		if pcb.Flag == TaskFree {
			pcb.Flag = TaskRunnable
			pcb.Parent = parent
			pcb.Terminal = terminal
			pcb.EntryArgs = args
			pcb.FDs = [NumFileDescriptors]FileDescriptor{
				0: {Kind: FDStdin},
				1: {Kind: FDStdout},
			}
			pcb.Signals = SignalState{}
			pcb.RTC = rtcState{}
			pcb.ExitStatus = 0
			pcb.slab = NewSlab()
			pcb.done = make(chan struct{})

			return pcb, nil
		}
	}

	return nil, ErrNoFreeSlot
}

// Free returns a task's slot to the free list once its exit status has been collected, closing
// every non-stdio descriptor the task left open so no live fd can reference a freed slot. Halt
// already closed the slot's done channel to wake any Wait caller; Free only needs to mark the slot
// available for Alloc to reuse (which installs a fresh done channel).
func (t *PCBTable) Free(task int) {
	t.mu.Lock()
	pcb := &t.slots[task]
	t.mu.Unlock()

	pcb.mu.Lock()

	for i := 2; i < NumFileDescriptors; i++ {
		pcb.FDs[i] = FileDescriptor{}
	}

	pcb.Flag = TaskFree
	pcb.mu.Unlock()
}

// Get returns the PCB for task. The index is trusted to be in range: callers derive it from the
// scheduler or from a syscall argument already validated against MaxTasks.
func (t *PCBTable) Get(task int) *PCB {
	return &t.slots[task]
}

// Wait blocks until the task's goroutine has exited, or ctx is done.
func (t *PCBTable) Wait(ctx context.Context, task int) error {
	pcb := &t.slots[task]

	select {
	case <-pcb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AllocFD finds the lowest free descriptor index (2 and up; 0 and 1 are permanently stdin/stdout)
// and installs kind, returning ErrNoFreeResource if all NumFileDescriptors entries are in use.
func (pcb *PCB) AllocFD(kind FDKind, inode uint32) (int, error) {
	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	for i := 2; i < NumFileDescriptors; i++ {
		if pcb.FDs[i].Kind == FDClosed {
			pcb.FDs[i] = FileDescriptor{Kind: kind, Inode: inode}
			return i, nil
		}
	}

	return 0, ErrNoFreeResource
}

// CloseFD releases a descriptor, rejecting stdin/stdout and any already-closed or out-of-range
// index.
func (pcb *PCB) CloseFD(fd int) error {
	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	if fd < 2 || fd >= NumFileDescriptors || pcb.FDs[fd].Kind == FDClosed {
		return ErrBadFD
	}

	pcb.FDs[fd] = FileDescriptor{}

	return nil
}

// FD returns a copy of descriptor fd, or an error if it is out of range or closed.
func (pcb *PCB) FD(fd int) (FileDescriptor, error) {
	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	if fd < 0 || fd >= NumFileDescriptors || pcb.FDs[fd].Kind == FDClosed {
		return FileDescriptor{}, ErrBadFD
	}

	return pcb.FDs[fd], nil
}

// SetFDPos updates a descriptor's cursor after a successful read, under the PCB lock since the RTC
// and signal delivery touch the same PCB concurrently.
func (pcb *PCB) SetFDPos(fd int, pos uint32) {
	pcb.mu.Lock()
	defer pcb.mu.Unlock()

	pcb.FDs[fd].Pos = pos
}
