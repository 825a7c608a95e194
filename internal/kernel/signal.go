package kernel

// signal.go implements per-task signal delivery: five signals, a pending/masked/handler triple of
// arrays per task, and the trampoline/sigreturn pair that runs a user handler on the user stack
// and restores the interrupted context afterward.

import "fmt"

// Signal identifies one of the five deliverable signals.
type Signal uint8

const (
	SignalDivZero Signal = iota
	SignalSegfault
	SignalInterrupt
	SignalAlarm
	SignalUser1

	numSignals = 5
)

func (s Signal) String() string {
	switch s {
	case SignalDivZero:
		return "DIV_ZERO"
	case SignalSegfault:
		return "SEGFAULT"
	case SignalInterrupt:
		return "INTERRUPT"
	case SignalAlarm:
		return "ALARM"
	case SignalUser1:
		return "USER1"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

// nonMaskable reports whether a signal ignores a task's mask: the two exception-raised signals
// must always reach the task so a faulting program cannot block its own termination path.
func (s Signal) nonMaskable() bool {
	return s == SignalDivZero || s == SignalSegfault
}

// TrampolineFrame is the saved-context snapshot pushed to the user stack before a handler runs, so
// sigreturn can restore exactly what the handler interrupted. In this simulation there are no real
// registers to save; SavedIP/SavedSP stand in for the program counter and stack pointer a genuine
// implementation would push, and Handler/Signal record which handler is executing.
type TrampolineFrame struct {
	Signal  Signal
	Handler VirtAddr
	SavedIP VirtAddr
	SavedSP VirtAddr
}

// SignalState is the per-task signal bookkeeping: one pending flag, one mask flag, and one
// handler address per signal. Different signals may be pending simultaneously, but delivery works
// one at a time through the trampoline while the others wait.
type SignalState struct {
	pending [numSignals]bool
	masked  [numSignals]bool
	handler [numSignals]VirtAddr

	active *TrampolineFrame // non-nil while a user handler is executing, cleared by sigreturn.
}

// defaultAction describes what happens to a task when a signal with no installed handler fires.
type defaultAction uint8

const (
	actionIgnore defaultAction = iota
	actionKill
)

func (s Signal) defaultAction() defaultAction {
	switch s {
	case SignalDivZero, SignalSegfault, SignalInterrupt:
		return actionKill
	default:
		return actionIgnore
	}
}

// Raise marks sig pending unless it is masked (and not one of the two non-maskable exception
// signals). It returns false if the signal was dropped because it was already pending: repeat
// deliveries of the same signal do not queue.
func (s *SignalState) Raise(sig Signal) bool {
	if s.masked[sig] && !sig.nonMaskable() {
		return false
	}

	if s.pending[sig] {
		return false
	}

	s.pending[sig] = true

	return true
}

// SetHandler installs a user-mode handler address for sig, or clears it (reverting to the default
// action) when addr is 0.
func (s *SignalState) SetHandler(sig Signal, addr VirtAddr) {
	s.handler[sig] = addr
}

// Handler returns the installed handler address for sig, or 0 if none is installed.
func (s *SignalState) Handler(sig Signal) VirtAddr {
	return s.handler[sig]
}

// Mask sets sig's mask bit. Masking a non-maskable signal has no effect on delivery but is still
// recorded.
func (s *SignalState) Mask(sig Signal, masked bool) {
	s.masked[sig] = masked
}

// Masked reports sig's current mask bit.
func (s *SignalState) Masked(sig Signal) bool {
	return s.masked[sig]
}

// nextPending returns the lowest-numbered pending, deliverable signal (DIV_ZERO highest priority,
// USER1 lowest), or false if none is ready. No signal is delivered while another is already being
// handled: they queue in pending until the active one returns via sigreturn.
func (s *SignalState) nextPending() (Signal, bool) {
	if s.active != nil {
		return 0, false
	}

	for sig := Signal(0); int(sig) < numSignals; sig++ {
		if s.pending[sig] {
			return sig, true
		}
	}

	return 0, false
}

// deliveryAction is what DeliverPending asks the caller to do.
type deliveryAction uint8

const (
	deliverNone deliveryAction = iota
	deliverKill
	deliverTrampoline
)

// DeliverPending checks for a ready signal and, depending on whether a handler is installed, either
// asks the caller to terminate the task (default action for an unhandled fatal signal), silently
// discharges it (default action is ignore), or returns a TrampolineFrame the caller installs on the
// task's user stack before resuming it at the handler's entry point.
func (s *SignalState) DeliverPending(savedIP, savedSP VirtAddr) (deliveryAction, *TrampolineFrame) {
	sig, ok := s.nextPending()
	if !ok {
		return deliverNone, nil
	}

	s.pending[sig] = false

	if h := s.handler[sig]; h != 0 {
		frame := &TrampolineFrame{Signal: sig, Handler: h, SavedIP: savedIP, SavedSP: savedSP}
		s.active = frame

		return deliverTrampoline, frame
	}

	if sig.defaultAction() == actionKill {
		return deliverKill, nil
	}

	return deliverNone, nil
}

// SigReturn completes the currently active handler invocation, returning the saved context so the
// caller can resume the task exactly where the signal interrupted it. It reports an error if no
// handler was active.
func (s *SignalState) SigReturn() (VirtAddr, VirtAddr, error) {
	if s.active == nil {
		return 0, 0, fmt.Errorf("%w: sigreturn with no active handler", ErrBadArg)
	}

	ip, sp := s.active.SavedIP, s.active.SavedSP
	s.active = nil

	return ip, sp, nil
}
