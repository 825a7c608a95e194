package kernel

import "testing"

func TestPagingMapMegaPage(tt *testing.T) {
	tt.Parallel()

	tt.Run("translate", func(tt *testing.T) {
		p := NewPaging()

		p.MapMegaPage(UserImageVirtBase, UserImagePhysBase, 0, User)
		p.LoadDirectory(0)

		phys, dpl, ok := p.Translate(UserImageVirtBase + 0x48000)
		if !ok {
			tt.Fatal("user image vaddr does not translate")
		}

		if phys != UserImagePhysBase+0x48000 {
			tt.Errorf("phys want: %s, got: %s", UserImagePhysBase+0x48000, phys)
		}

		if dpl != User {
			tt.Errorf("dpl want: user, got: %s", dpl)
		}
	})

	tt.Run("remap rewrites in place", func(tt *testing.T) {
		p := NewPaging()

		p.MapMegaPage(UserImageVirtBase, UserImagePhysBase, 1, User)
		p.MapMegaPage(UserImageVirtBase, UserImagePhysBase+KernelPageSize, 1, User)
		p.LoadDirectory(1)

		phys, _, ok := p.Translate(UserImageVirtBase)
		if !ok || phys != UserImagePhysBase+KernelPageSize {
			tt.Errorf("remap want: %s, got: %s (ok=%v)", PhysAddr(UserImagePhysBase+KernelPageSize), phys, ok)
		}
	})

	tt.Run("misalignment panics", func(tt *testing.T) {
		defer func() {
			if recover() == nil {
				tt.Error("misaligned mega page did not panic")
			}
		}()

		NewPaging().MapMegaPage(UserImageVirtBase+4096, UserImagePhysBase, 0, User)
	})
}

func TestPagingVidmap(tt *testing.T) {
	tt.Parallel()

	p := NewPaging()

	p.SetVidmapTarget(2, VGAPhysAddr)

	if phys, ok := p.VidmapTarget(2); !ok || phys != VGAPhysAddr {
		tt.Errorf("vidmap target want: %s, got: %s (ok=%v)", VGAPhysAddr, phys, ok)
	}

	// Retargeting rewrites the same lone entry.
	p.SetVidmapTarget(2, BackBufferPhysAddr(1))

	if phys, ok := p.VidmapTarget(2); !ok || phys != BackBufferPhysAddr(1) {
		tt.Errorf("retargeted vidmap want: %s, got: %s (ok=%v)", BackBufferPhysAddr(1), phys, ok)
	}

	// Another task's alias is untouched.
	if _, ok := p.VidmapTarget(3); ok {
		tt.Error("unmapped task reports a vidmap target")
	}

	p.LoadDirectory(2)

	if phys, _, ok := p.Translate(VidmapVirtAddr + 80); !ok || phys != BackBufferPhysAddr(1)+80 {
		tt.Errorf("vidmap translate want: %s, got: %s (ok=%v)", BackBufferPhysAddr(1)+80, phys, ok)
	}
}

func TestPagingResetTask(tt *testing.T) {
	tt.Parallel()

	p := NewPaging()

	p.MapMegaPage(UserImageVirtBase, UserImagePhysBase, 0, User)
	p.ResetTask(0)
	p.LoadDirectory(0)

	if _, _, ok := p.Translate(UserImageVirtBase); ok {
		tt.Error("reset task still translates user image")
	}

	// The kernel's own tree is immune to reset.
	p.ResetTask(kernelDirIdx)
	p.LoadDirectory(kernelDirIdx)

	if _, _, ok := p.Translate(VirtAddr(KernelVirtBase)); !ok {
		tt.Error("kernel mapping lost")
	}
}

func TestUserRangeOK(tt *testing.T) {
	tt.Parallel()

	tests := []struct {
		addr VirtAddr
		n    uint32
		ok   bool
	}{
		{UserImageVirtBase, 4, true},
		{UserImageVirtBase + 0x48000, 128, true},
		{VidmapVirtAddr - 4, 4, true},
		{VidmapVirtAddr - 3, 4, false},
		{UserImageVirtBase - 1, 4, false},
		{0, 4, false},
		{VidmapVirtAddr, 4, false},
	}

	for _, tc := range tests {
		if got := userRangeOK(tc.addr, tc.n); got != tc.ok {
			tt.Errorf("userRangeOK(%s, %d) want: %v, got: %v", tc.addr, tc.n, tc.ok, got)
		}
	}
}
