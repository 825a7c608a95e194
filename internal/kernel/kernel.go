package kernel

// kernel.go wires every subsystem together into Kernel: one struct holding the PIC, timer, RTC,
// paging, task table, scheduler, terminals, keyboard, filesystem image, and program registry, plus
// the goroutines that make them run concurrently the way real interrupt sources and a scheduler
// would.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/triosdev/trios/internal/fs"
	"github.com/triosdev/trios/internal/log"
)

// Kernel is the whole simulated system.
type Kernel struct {
	log *log.Logger

	pic       *PIC
	timer     *Timer
	rtc       *RTC
	paging    *Paging
	pcbs      *PCBTable
	scheduler *Scheduler
	terminals *Terminals
	keyboard  *Keyboard
	programs  *ProgramRegistry
	fsImage   *fs.Image
}

// Option configures a Kernel at construction.
type Option func(*Kernel)

// WithLogger overrides the kernel's logger.
func WithLogger(l *log.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithTimerPeriod overrides the timer's tick period; tests use a short period instead of
// DefaultTimerPeriod so round-robin behavior can be observed quickly.
func WithTimerPeriod(period time.Duration) Option {
	return func(k *Kernel) { k.timer = NewTimer(k.pic, period, k.scheduler.Tick) }
}

// WithRTCPeriod overrides the RTC's internal tick period; tests use a much shorter period than a real
// 1024 Hz source.
func WithRTCPeriod(period time.Duration) Option {
	return func(k *Kernel) { k.rtc = NewRTC(k.pic, k.pcbs, period) }
}

// New creates a Kernel over a parsed filesystem image, wiring the PIC, timer, RTC, paging, task
// table, scheduler, terminals, keyboard, and the built-in program registry.
func New(fsImage *fs.Image, opts ...Option) *Kernel {
	pic := NewPIC()
	pcbs := NewPCBTable()
	sched := NewScheduler(pcbs)

	paging := NewPaging()

	k := &Kernel{
		log:       log.DefaultLogger(),
		pic:       pic,
		paging:    paging,
		pcbs:      pcbs,
		scheduler: sched,
		terminals: NewTerminals(sched, paging),
		programs:  NewProgramRegistry(),
		fsImage:   fsImage,
	}

	k.keyboard = NewKeyboard(k.terminals, sched)
	k.rtc = NewRTC(pic, pcbs, 0)
	k.timer = NewTimer(pic, 0, sched.Tick)

	for _, opt := range opts {
		opt(k)
	}

	return k
}

// Boot starts the timer and RTC interrupt sources and spawns the three permanent shells, one per
// terminal, each respawned whenever the previous one halts. It returns once all three shells have
// exited or ctx is done.
func (k *Kernel) Boot(ctx context.Context) error {
	var wg sync.WaitGroup

	go k.timer.Run(ctx)
	go k.rtc.Run(ctx, k.scheduler)

	for terminal := 0; terminal < NumTerminals; terminal++ {
		wg.Add(1)

		go func(terminal int) {
			defer wg.Done()
			k.runShellLoop(ctx, terminal)
		}(terminal)
	}

	wg.Wait()

	return ctx.Err()
}

// runShellLoop keeps a fresh shell running in terminal for as long as ctx is live, respawning it
// every time the previous one halts (normally only on an explicit "exit").
func (k *Kernel) runShellLoop(ctx context.Context, terminal int) {
	for ctx.Err() == nil {
		if _, err := k.execute(ctx, terminal, -1, "shell"); err != nil {
			k.log.Error("shell exited", "terminal", terminal, "error", err)
			return
		}
	}
}

// execute implements the execute syscall's body: resolve the named program, allocate a PCB, run it
// to completion on its own goroutine, and wait for it, returning its exit status. parentTask is -1
// for a terminal's permanent shell.
func (k *Kernel) execute(ctx context.Context, terminal, parentTask int, command string) (int32, error) {
	name, _ := splitCommand(command)

	prog, ok := k.programs.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	entry := UserImageVirtBase + UserImageLoadOffset

	if d, found := k.fsImage.ReadDentryByName(name); found && d.Type == fs.TypeRegular {
		e, err := readExecHeader(k.fsImage, d.Inode)
		if err != nil {
			return 0, err
		}

		entry = e
	}

	pcb, err := k.pcbs.Alloc(terminal, parentTask, command)
	if err != nil {
		return 0, err
	}

	// The synthetic first frame: execution starts at the header's entry point with the stack at
	// the top of the user region.
	pcb.SavedIP = entry
	pcb.SavedSP = UserStackTop

	k.buildAddressSpace(pcb)
	k.scheduler.PushTask(terminal, pcb.Task)

	task := &Task{ctx: ctx, pcb: pcb, k: k, args: command}

	go func() {
		defer func() {
			// Idempotent: a Program that already called Halt left the slot a zombie and finish is
			// a no-op; one that returned without halting is finished here with a clean status, and
			// one that faulted reports an exception-induced halt.
			status := 0

			if r := recover(); r != nil {
				status = ExitException

				if err, ok := r.(error); !ok || !errors.Is(err, errKilled) {
					k.log.Error("task faulted", "task", pcb.Task, "panic", r)
				}
			}

			pcb.finish(status)
		}()

		prog(task)
	}()

	if err := k.pcbs.Wait(ctx, pcb.Task); err != nil {
		return 0, err
	}

	status := pcb.ExitStatus
	if status != ExitException {
		status &= 0xFF
	}

	k.completeTask(pcb)

	return int32(status), nil
}

// buildAddressSpace rewrites a fresh task's page-directory tree: the kernel's identity-mapped large
// page, the user image large page at the 128 MiB window, the slab-region large page, and the 4 KiB
// video alias (targeted at the live display for a foreground task, the terminal's back buffer
// otherwise). Then the directory is published, standing in for the CR3 reload.
func (k *Kernel) buildAddressSpace(pcb *PCB) {
	k.paging.MapMegaPage(VirtAddr(KernelVirtBase), KernelPhysBase, pcb.Task, Supervisor)
	k.paging.MapMegaPage(UserImageVirtBase, UserImagePhysBase+PhysAddr(pcb.Task)*KernelPageSize, pcb.Task, User)
	k.paging.MapMegaPage(SlabRegionVirtBase, UserImagePhysBase+PhysAddr(MaxTasks)*KernelPageSize+PhysAddr(pcb.Task)*KernelPageSize, pcb.Task, User)

	target := BackBufferPhysAddr(pcb.Terminal)
	if k.scheduler.Foreground() == pcb.Terminal {
		target = VGAPhysAddr
	}

	k.paging.SetVidmapTarget(pcb.Task, target)
	k.paging.LoadDirectory(pcb.Task)
}

// completeTask unwinds the scheduler's stack for the task's terminal, resets the dead task's
// paging, republishes the parent's directory, and frees the PCB slot.
func (k *Kernel) completeTask(pcb *PCB) {
	parent, ok := k.scheduler.PopTask(pcb.Terminal)
	k.paging.ResetTask(pcb.Task)

	if ok {
		k.paging.LoadDirectory(parent)
	}

	k.pcbs.Free(pcb.Task)
}

// Keyboard returns the kernel's keyboard device, so a tty front end can feed it decoded key events.
func (k *Kernel) Keyboard() *Keyboard { return k.keyboard }

// Terminals returns the terminal multiplexer, so a tty front end can register a display listener.
func (k *Kernel) Terminals() *Terminals { return k.terminals }

// Scheduler exposes the scheduler for diagnostics and tests.
func (k *Kernel) Scheduler() *Scheduler { return k.scheduler }

// Programs returns the registry of installed executables, so a boot image can add to the built-in
// set before the shells start.
func (k *Kernel) Programs() *ProgramRegistry { return k.programs }

// FS returns the mounted filesystem image.
func (k *Kernel) FS() *fs.Image { return k.fsImage }
