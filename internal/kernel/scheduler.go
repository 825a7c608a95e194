package kernel

// scheduler.go implements the round-robin scheduler across the fixed NumTerminals scheduling
// slots: one slot per terminal, each running a stack of tasks (the executing shell and whatever it
// has exec'd), round-robined on every timer tick.
//
// A real implementation context-switches on any timer interrupt, mid-instruction. Go cannot
// preempt a goroutine at an arbitrary point without cooperation, so every syscall entry and every
// Program's designated yield points call Yield, which blocks the calling goroutine until the
// round-robin cursor names its terminal again. Round-robin fairness holds without requiring
// instruction-boundary preemption.

import (
	"context"
	"sync"
)

// Scheduler tracks, for each terminal's scheduling slot, the stack of tasks currently running in it
// (the foreground shell at the bottom, any execute()'d descendant above it) and a round-robin cursor
// used both to pick the "active" task for signal delivery and to gate Yield.
type Scheduler struct {
	mu    sync.Mutex
	pcbs  *PCBTable
	stack [NumTerminals][]int

	cursor     int // Round-robin position, 0..NumTerminals-1.
	foreground int // Which terminal's back buffer is shown on the physical display.

	turn    [NumTerminals]chan struct{} // Closed and replaced each time cursor lands on a terminal.
}

// NewScheduler creates a scheduler over pcbs with terminal 0 as the initial foreground.
func NewScheduler(pcbs *PCBTable) *Scheduler {
	s := &Scheduler{pcbs: pcbs}

	for i := range s.turn {
		s.turn[i] = make(chan struct{})
	}

	return s
}

// PushTask installs task as the new top of terminal's stack, run next whenever that terminal's turn
// comes up. Execute calls this for the child it just created.
func (s *Scheduler) PushTask(terminal, task int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stack[terminal] = append(s.stack[terminal], task)
}

// PopTask removes the top of terminal's stack (the task that just halted) and reports the task
// beneath it, if any, so Halt knows which task to resume.
func (s *Scheduler) PopTask(terminal int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.stack[terminal])
	if n == 0 {
		return 0, false
	}

	s.stack[terminal] = s.stack[terminal][:n-1]

	if n-1 == 0 {
		return 0, false
	}

	return s.stack[terminal][n-2], true
}

// TerminalPCB returns the PCB of the task currently running in terminal's slot, or nil if the
// slot is empty. The keyboard uses it to deliver Ctrl+C to the foreground terminal's task, which
// is rarely the task the round-robin cursor happens to name.
func (s *Scheduler) TerminalPCB(terminal int) *PCB {
	task, ok := s.ActiveTask(terminal)
	if !ok {
		return nil
	}

	return s.pcbs.Get(task)
}

// ActiveTask returns the task currently on top of terminal's stack.
func (s *Scheduler) ActiveTask(terminal int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.stack[terminal])
	if n == 0 {
		return 0, false
	}

	return s.stack[terminal][n-1], true
}

// ActivePCB returns the PCB for whichever terminal the round-robin cursor currently names, the task
// the RTC's once-a-second alarm is delivered to.
func (s *Scheduler) ActivePCB() *PCB {
	s.mu.Lock()
	terminal := s.cursor
	task, ok := s.activeTaskLocked(terminal)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	return s.pcbs.Get(task)
}

func (s *Scheduler) activeTaskLocked(terminal int) (int, bool) {
	n := len(s.stack[terminal])
	if n == 0 {
		return 0, false
	}

	return s.stack[terminal][n-1], true
}

// Tick advances the round-robin cursor to the next terminal and releases any task parked in Yield
// waiting for that terminal's turn. Called by the Timer's ~60 Hz handler.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.cursor = (s.cursor + 1) % NumTerminals
	terminal := s.cursor
	old := s.turn[terminal]
	s.turn[terminal] = make(chan struct{})
	s.mu.Unlock()

	close(old)
}

// Yield is the cooperative preemption point: it blocks the calling task until the scheduler's
// round-robin cursor next names terminal, or ctx is done. Syscall entry and long-running Programs
// call this so CPU time is shared round-robin across terminals without requiring true
// instruction-boundary preemption.
func (s *Scheduler) Yield(ctx context.Context, terminal int) error {
	s.mu.Lock()
	ch := s.turn[terminal]
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetForeground records which terminal is mirrored to the physical display; Terminals runs the
// full Alt+F1/F2/F3 switch ceremony around it.
func (s *Scheduler) SetForeground(terminal int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.foreground = terminal
}

// Foreground returns the terminal currently shown on the physical display.
func (s *Scheduler) Foreground() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.foreground
}
