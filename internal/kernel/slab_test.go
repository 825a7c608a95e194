package kernel

import (
	"errors"
	"testing"
)

func TestSlabMalloc(tt *testing.T) {
	tt.Parallel()

	tt.Run("class selection", func(tt *testing.T) {
		s := NewSlab()

		tests := []struct {
			n    int
			size int
		}{
			{1, 128},
			{64, 128},
			{128, 128},
			{129, 256},
			{256, 256},
			{512, 512},
			{513, 1024},
			{1024, 1024},
		}

		for _, tc := range tests {
			addr, buf, err := s.Malloc(tc.n)
			if err != nil {
				tt.Fatalf("malloc(%d): %s", tc.n, err)
			}

			if len(buf) != tc.n {
				tt.Errorf("malloc(%d) buf len want: %d, got: %d", tc.n, tc.n, len(buf))
			}

			if got, ok := s.bufferFor(addr); !ok || cap(got) != tc.size {
				tt.Errorf("malloc(%d) class want: %d, got: %d (ok=%v)", tc.n, tc.size, cap(got), ok)
			}
		}
	})

	tt.Run("oversized", func(tt *testing.T) {
		s := NewSlab()

		if _, _, err := s.Malloc(1025); !errors.Is(err, ErrBadArg) {
			tt.Errorf("malloc(1025) want: ErrBadArg, got: %v", err)
		}
	})

	tt.Run("exhaustion", func(tt *testing.T) {
		s := NewSlab()

		// Each class carves one page into 4096/size slots: 4 for the 1024-byte class.
		for i := 0; i < pageSize/1024; i++ {
			if _, _, err := s.Malloc(1024); err != nil {
				tt.Fatalf("malloc %d: %s", i, err)
			}
		}

		if _, _, err := s.Malloc(1024); !errors.Is(err, ErrNoFreeResource) {
			tt.Errorf("exhausted class want: ErrNoFreeResource, got: %v", err)
		}

		// The other classes are unaffected, and the smallest holds a full 32 slots.
		for i := 0; i < pageSize/128; i++ {
			if _, _, err := s.Malloc(128); err != nil {
				tt.Fatalf("small class malloc %d: %s", i, err)
			}
		}

		if _, _, err := s.Malloc(128); !errors.Is(err, ErrNoFreeResource) {
			tt.Errorf("exhausted small class want: ErrNoFreeResource, got: %v", err)
		}
	})
}

func TestSlabFree(tt *testing.T) {
	tt.Parallel()

	tt.Run("reuse", func(tt *testing.T) {
		s := NewSlab()

		p1, _, err := s.Malloc(64)
		if err != nil {
			tt.Fatalf("malloc: %s", err)
		}

		p2, _, err := s.Malloc(64)
		if err != nil {
			tt.Fatalf("malloc: %s", err)
		}

		if p1 == p2 {
			tt.Fatalf("distinct allocations share address %s", p1)
		}

		if err := s.Free(p1); err != nil {
			tt.Fatalf("free: %s", err)
		}

		p3, _, err := s.Malloc(64)
		if err != nil {
			tt.Fatalf("malloc: %s", err)
		}

		if p3 != p1 {
			tt.Errorf("freed slot not reused: want %s, got %s", p1, p3)
		}
	})

	tt.Run("bad addresses", func(tt *testing.T) {
		s := NewSlab()

		p, _, err := s.Malloc(200)
		if err != nil {
			tt.Fatalf("malloc: %s", err)
		}

		if err := s.Free(p + 1); !errors.Is(err, ErrBadAlignment) {
			tt.Errorf("interior pointer want: ErrBadAlignment, got: %v", err)
		}

		if err := s.Free(VirtAddr(0x1000)); !errors.Is(err, ErrBadPointer) {
			tt.Errorf("foreign pointer want: ErrBadPointer, got: %v", err)
		}

		if err := s.Free(p); err != nil {
			tt.Fatalf("free: %s", err)
		}

		if err := s.Free(p); !errors.Is(err, ErrBadArg) {
			tt.Errorf("double free want: ErrBadArg, got: %v", err)
		}
	})
}
