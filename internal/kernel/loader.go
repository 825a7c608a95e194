package kernel

// loader.go parses an executable's header before Execute runs it: a fixed-length header whose
// first four bytes carry the magic and whose bytes 24..27 encode the little-endian entry point of
// the program image.

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/triosdev/trios/internal/fs"
)

// ExecMagic is the four-byte marker every executable image must start with, the same bytes ELF
// binaries open with.
var ExecMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// ExecHeaderLen is how much of an executable the loader reads: magic, padding, and the entry
// point at execEntryOffset.
const (
	ExecHeaderLen   = 40
	execEntryOffset = 24
)

// readExecHeader reads the first ExecHeaderLen bytes of inode, confirms the magic, and returns
// the entry point, which must land inside the user image window.
func readExecHeader(img *fs.Image, inode uint32) (VirtAddr, error) {
	var header [ExecHeaderLen]byte

	n, err := img.ReadData(inode, 0, header[:])
	if err != nil {
		return 0, fmt.Errorf("%w: reading executable header: %w", ErrCorruptImage, err)
	}

	if n < len(header) || !bytes.Equal(header[:4], ExecMagic[:]) {
		return 0, fmt.Errorf("%w: bad executable header", ErrBadArg)
	}

	entry := VirtAddr(binary.LittleEndian.Uint32(header[execEntryOffset:]))
	if !userRangeOK(entry, 0) {
		return 0, fmt.Errorf("%w: entry point %s outside the user image", ErrBadArg, entry)
	}

	return entry, nil
}
