package kernel

import "errors"

// Sentinel errors. Every syscall failure surfaced to user mode collapses to the -1 sentinel at
// the dispatch boundary; internally the kernel keeps them distinguishable.
var (
	ErrNoFreeSlot      = errors.New("kernel: no free process slot")
	ErrBadFD           = errors.New("kernel: bad file descriptor")
	ErrBadArg          = errors.New("kernel: invalid argument")
	ErrBadPointer      = errors.New("kernel: pointer out of user range")
	ErrNotFound        = errors.New("kernel: file not found")
	ErrCorruptImage    = errors.New("kernel: corrupt filesystem image")
	ErrWriteNotAllowed = errors.New("kernel: write not allowed")
	ErrNoFreeResource  = errors.New("kernel: resource exhausted")
	ErrBadAlignment    = errors.New("kernel: misaligned page mapping")
	ErrBadFrequency    = errors.New("kernel: invalid rtc frequency")
)
