// Package fs implements the kernel's read-mostly flat filesystem image: a three-layer structure
// of a boot block, inode blocks, and data blocks, laid out contiguously in the physical image and
// decoded with encoding/binary.
package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
)

// Sizes and limits of the on-disk layout.
const (
	BlockSize       = 4096
	DentryNameLen   = 32
	DentryReserved  = 24
	MaxDentries     = 63
	BootReserved    = 52
	InodeBlockCount = 1024 - 1 // Inode holds length + 1023 block indices.
)

// FileType tags a directory entry's kind.
type FileType uint32

const (
	TypeDeviceClock FileType = iota
	TypeDirectory
	TypeRegular
)

func (t FileType) String() string {
	switch t {
	case TypeDeviceClock:
		return "device-clock"
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "regular"
	default:
		return fmt.Sprintf("FileType(%d)", uint32(t))
	}
}

// Dentry is a directory entry: a file name mapped to a kind and an inode index.
type Dentry struct {
	Name  string
	Type  FileType
	Inode uint32
}

// Inode describes a regular file's length and the data blocks holding its bytes.
type Inode struct {
	Length uint32
	Blocks [InodeBlockCount]uint32
}

// Image is the parsed, in-memory filesystem image plus the allocator bitmaps used by Touch/Write.
// The mutex guards the mutable directory and allocator state against concurrent create/write from
// different tasks; the read paths take it too since a Touch can grow the directory under them.
type Image struct {
	mu sync.Mutex

	numDentries    uint32
	numInodes      uint32
	numDataBlocks  uint32
	dentries       [MaxDentries]Dentry
	inodes         []Inode
	data           [][BlockSize]byte
	inodeUsed      []bool
	dataBlockUsed  []bool
}

// normalizeName strips a leading "./", "../", or "/".
func normalizeName(name string) string {
	for _, prefix := range []string{"./", "../", "/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}

	return name
}

// Parse decodes a raw filesystem image: one 4 KiB boot block, then numInodes 4 KiB inode blocks,
// then numDataBlocks 4 KiB data blocks, all contiguous.
func Parse(raw []byte) (*Image, error) {
	if len(raw) < BlockSize {
		return nil, fmt.Errorf("%w: image smaller than one block", errCorrupt)
	}

	boot := raw[:BlockSize]
	r := bytes.NewReader(boot)

	var header struct {
		NumDentries   uint32
		NumInodes     uint32
		NumDataBlocks uint32
		Reserved      [BootReserved]byte
	}

	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: boot block: %w", errCorrupt, err)
	}

	img := &Image{
		numDentries:   header.NumDentries,
		numInodes:     header.NumInodes,
		numDataBlocks: header.NumDataBlocks,
	}

	if header.NumDentries > MaxDentries {
		return nil, fmt.Errorf("%w: %d dentries exceeds max %d", errCorrupt, header.NumDentries, MaxDentries)
	}

	for i := uint32(0); i < header.NumDentries; i++ {
		var raw struct {
			Name     [DentryNameLen]byte
			Type     uint32
			Inode    uint32
			Reserved [DentryReserved]byte
		}

		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: dentry %d: %w", errCorrupt, i, err)
		}

		name := string(bytes.TrimRight(raw.Name[:], "\x00"))
		img.dentries[i] = Dentry{Name: normalizeName(name), Type: FileType(raw.Type), Inode: raw.Inode}
	}

	off := BlockSize

	img.inodes = make([]Inode, header.NumInodes)

	for i := uint32(0); i < header.NumInodes; i++ {
		if off+BlockSize > len(raw) {
			return nil, fmt.Errorf("%w: inode block %d truncated", errCorrupt, i)
		}

		r := bytes.NewReader(raw[off : off+BlockSize])

		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("%w: inode %d: %w", errCorrupt, i, err)
		}

		img.inodes[i].Length = length

		for b := range img.inodes[i].Blocks {
			if err := binary.Read(r, binary.LittleEndian, &img.inodes[i].Blocks[b]); err != nil {
				return nil, fmt.Errorf("%w: inode %d block %d: %w", errCorrupt, i, b, err)
			}
		}

		off += BlockSize
	}

	img.data = make([][BlockSize]byte, header.NumDataBlocks)

	for i := uint32(0); i < header.NumDataBlocks; i++ {
		if off+BlockSize > len(raw) {
			return nil, fmt.Errorf("%w: data block %d truncated", errCorrupt, i)
		}

		copy(img.data[i][:], raw[off:off+BlockSize])
		off += BlockSize
	}

	img.inodeUsed = make([]bool, header.NumInodes)
	img.dataBlockUsed = make([]bool, header.NumDataBlocks)
	img.markLiveBlocks()

	return img, nil
}

// markLiveBlocks walks every live dentry to initialize the allocator bitmaps at mount: every
// inode and data block a live file occupies is unavailable to Touch and Write.
func (img *Image) markLiveBlocks() {
	for i := uint32(0); i < img.numDentries; i++ {
		d := img.dentries[i]
		if d.Type != TypeRegular || d.Inode >= uint32(len(img.inodes)) {
			continue
		}

		img.inodeUsed[d.Inode] = true

		inode := img.inodes[d.Inode]
		nblocks := (inode.Length + BlockSize - 1) / BlockSize

		for b := uint32(0); b < nblocks && b < InodeBlockCount; b++ {
			blk := inode.Blocks[b]
			if blk < uint32(len(img.dataBlockUsed)) {
				img.dataBlockUsed[blk] = true
			}
		}
	}
}

// ReadDentryByName scans dentries comparing both string lengths, so neither a short prefix of a
// long name nor a long name against a short query is mistakenly accepted.
func (img *Image) ReadDentryByName(name string) (Dentry, bool) {
	img.mu.Lock()
	defer img.mu.Unlock()

	return img.readDentryByNameLocked(name)
}

func (img *Image) readDentryByNameLocked(name string) (Dentry, bool) {
	name = normalizeName(name)

	for i := uint32(0); i < img.numDentries; i++ {
		d := img.dentries[i]
		if len(d.Name) == len(name) && d.Name == name {
			return d, true
		}
	}

	return Dentry{}, false
}

// ReadDentryByIndex bounds-checks i and the stored inode number against the boot block's counts.
func (img *Image) ReadDentryByIndex(i uint32) (Dentry, bool) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if i >= img.numDentries {
		return Dentry{}, false
	}

	d := img.dentries[i]
	if d.Type == TypeRegular && d.Inode >= img.numInodes {
		return Dentry{}, false
	}

	return d, true
}

// NumDentries returns the live dentry count, used by directory reads to know when to stop.
func (img *Image) NumDentries() uint32 {
	img.mu.Lock()
	defer img.mu.Unlock()

	return img.numDentries
}

var errCorrupt = fmt.Errorf("fs")

// ReadData walks inode's data-block index array starting at offset, copying up to len(buf) bytes.
// It returns the number of bytes actually copied, 0 at EOF, or an error if a block index is
// out-of-range (a corrupt on-disk structure).
func (img *Image) ReadData(inode uint32, offset uint32, buf []byte) (int, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if inode >= uint32(len(img.inodes)) {
		return 0, fmt.Errorf("%w: inode %d out of range", errCorrupt, inode)
	}

	in := &img.inodes[inode]

	if offset >= in.Length {
		return 0, nil
	}

	toRead := in.Length - offset
	if uint32(len(buf)) < toRead {
		toRead = uint32(len(buf))
	}

	var n uint32

	for n < toRead {
		blockIdx := (offset + n) / BlockSize
		blockOff := (offset + n) % BlockSize

		if blockIdx >= InodeBlockCount {
			return int(n), fmt.Errorf("%w: inode %d block index %d out of range", errCorrupt, inode, blockIdx)
		}

		block := in.Blocks[blockIdx]
		if block >= uint32(len(img.data)) {
			return int(n), fmt.Errorf("%w: data block %d out of range", errCorrupt, block)
		}

		chunk := uint32(BlockSize) - blockOff
		if remain := toRead - n; chunk > remain {
			chunk = remain
		}

		copy(buf[n:n+chunk], img.data[block][blockOff:blockOff+chunk])
		n += chunk
	}

	return int(n), nil
}

// Touch allocates a new inode and a new dentry for name, setting its length to 0. It fails if
// there is no free inode, no free dentry slot, or the name already exists.
func (img *Image) Touch(name string) (Dentry, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	name = normalizeName(name)
	if len(name) == 0 || len(name) > DentryNameLen {
		return Dentry{}, fmt.Errorf("%w: bad file name", errCorrupt)
	}

	if _, ok := img.readDentryByNameLocked(name); ok {
		return Dentry{}, fmt.Errorf("%w: file exists", errCorrupt)
	}

	if img.numDentries >= MaxDentries {
		return Dentry{}, fmt.Errorf("%w: directory full", errCorrupt)
	}

	inodeIdx, ok := img.allocInode()
	if !ok {
		return Dentry{}, fmt.Errorf("%w: no free inode", errCorrupt)
	}

	d := Dentry{Name: name, Type: TypeRegular, Inode: inodeIdx}
	img.dentries[img.numDentries] = d
	img.numDentries++
	img.inodes[inodeIdx] = Inode{}

	return d, nil
}

func (img *Image) allocInode() (uint32, bool) {
	for i := range img.inodeUsed {
		if !img.inodeUsed[i] {
			img.inodeUsed[i] = true
			return uint32(i), true
		}
	}

	return 0, false
}

func (img *Image) allocDataBlock() (uint32, bool) {
	for i := range img.dataBlockUsed {
		if !img.dataBlockUsed[i] {
			img.dataBlockUsed[i] = true
			return uint32(i), true
		}
	}

	return 0, false
}

// Write appends buf into the first data block of a freshly created (zero-length, no blocks
// allocated) regular file, up to a single 4 KiB block; there is no multi-block writeback. It
// fails if the inode already holds data.
func (img *Image) Write(inode uint32, buf []byte) (int, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if inode >= uint32(len(img.inodes)) {
		return 0, fmt.Errorf("%w: inode %d out of range", errCorrupt, inode)
	}

	in := &img.inodes[inode]
	if in.Length != 0 {
		return 0, fmt.Errorf("%w: file already written", errCorrupt)
	}

	n := len(buf)
	if n > BlockSize {
		n = BlockSize
	}

	blockIdx, ok := img.allocDataBlock()
	if !ok {
		return 0, fmt.Errorf("%w: no free data block", errCorrupt)
	}

	copy(img.data[blockIdx][:], buf[:n])
	in.Blocks[0] = blockIdx
	in.Length = uint32(n)

	return n, nil
}
