// Package monitor builds the system's boot image: the flat filesystem image a freshly booted
// kernel mounts, pre-populated with the standard executables and data files. It plays the role of
// firmware: everything the kernel expects to find in memory at entry is staged here.
package monitor

import (
	"encoding/binary"
	"fmt"

	"github.com/triosdev/trios/internal/fs"
	"github.com/triosdev/trios/internal/kernel"
	"github.com/triosdev/trios/internal/log"
)

// FileSpec is one file staged into the boot image.
type FileSpec struct {
	Name string
	Type fs.FileType
	Data []byte
}

// SystemImage holds the files the boot filesystem image is assembled from. After construction the
// image is serialized with Build, or mounted directly with BootWith.
type SystemImage struct {
	Files []FileSpec

	log *log.Logger
}

// Executables staged into the default image. Each one's body is a registered kernel program; the
// on-disk file is only the header the loader validates (magic plus entry point).
var defaultExecutables = []string{
	"shell", "cat", "counter", "touch", "malloctest", "sigtest", "clock",
}

// execHeaderLen is how many bytes of an executable the loader reads: the magic at offset 0 and the
// little-endian entry point at offset 24.
const execHeaderLen = 40

// execEntryPoint is where every staged executable claims to begin: the fixed load address of a user
// image plus the header offset the program bytes land at.
const execEntryPoint = uint32(kernel.UserImageVirtBase) + kernel.UserImageLoadOffset

// ExecutableHeader returns the synthetic header for a staged executable: the loader's magic, then
// the entry point at offset 24.
func ExecutableHeader() []byte {
	hdr := make([]byte, execHeaderLen)
	copy(hdr, kernel.ExecMagic[:])
	binary.LittleEndian.PutUint32(hdr[24:], execEntryPoint)

	return hdr
}

// NewSystemImage creates the default boot image: the directory itself, the device-clock file, the
// standard executables, and a pair of text files for exercising file reads.
func NewSystemImage() *SystemImage {
	img := &SystemImage{log: log.DefaultLogger()}

	img.Files = append(img.Files,
		FileSpec{Name: ".", Type: fs.TypeDirectory},
		FileSpec{Name: "rtc", Type: fs.TypeDeviceClock},
	)

	for _, name := range defaultExecutables {
		img.Files = append(img.Files, FileSpec{Name: name, Type: fs.TypeRegular, Data: ExecutableHeader()})
	}

	img.Files = append(img.Files,
		FileSpec{
			Name: "frame0.txt",
			Type: fs.TypeRegular,
			Data: []byte("/\\/\\/\\/\\/\\\n|  fish  |\n\\/\\/\\/\\/\\/\n"),
		},
		FileSpec{
			Name: "frame1.txt",
			Type: fs.TypeRegular,
			Data: []byte("~~~~~~~~~~\n|  tank  |\n~~~~~~~~~~\n"),
		},
	)

	return img
}

// AddFile stages an extra file into the image.
func (img *SystemImage) AddFile(name string, typ fs.FileType, data []byte) {
	img.Files = append(img.Files, FileSpec{Name: name, Type: typ, Data: data})
}

// Build serializes the staged files into the flat image layout the kernel mounts: one boot block
// (counts plus up to 63 directory entries), the inode blocks, then the data blocks, all contiguous.
func (img *SystemImage) Build() ([]byte, error) {
	if len(img.Files) > fs.MaxDentries {
		return nil, fmt.Errorf("monitor: %d files exceed the %d-entry directory", len(img.Files), fs.MaxDentries)
	}

	// Regular files get an inode each; a few spares are left so the running system can create
	// files of its own. Same for data blocks.
	const spareInodes, spareBlocks = 8, 8

	type placed struct {
		inode  uint32
		blocks []uint32
	}

	var (
		placements = make([]placed, len(img.Files))
		nextInode  uint32
		nextBlock  uint32
		data       [][]byte
	)

	for i, f := range img.Files {
		if f.Type != fs.TypeRegular {
			continue
		}

		p := placed{inode: nextInode}
		nextInode++

		for off := 0; off < len(f.Data); off += fs.BlockSize {
			end := off + fs.BlockSize
			if end > len(f.Data) {
				end = len(f.Data)
			}

			block := make([]byte, fs.BlockSize)
			copy(block, f.Data[off:end])
			data = append(data, block)
			p.blocks = append(p.blocks, nextBlock)
			nextBlock++
		}

		placements[i] = p
	}

	numInodes := nextInode + spareInodes
	numBlocks := nextBlock + spareBlocks

	out := make([]byte, fs.BlockSize*(1+int(numInodes)+int(numBlocks)))

	// Boot block: counts, reserved, then the directory.
	binary.LittleEndian.PutUint32(out[0:], uint32(len(img.Files)))
	binary.LittleEndian.PutUint32(out[4:], numInodes)
	binary.LittleEndian.PutUint32(out[8:], numBlocks)

	dentryOff := 12 + fs.BootReserved

	for i, f := range img.Files {
		d := out[dentryOff+i*64:]
		copy(d[:fs.DentryNameLen], f.Name)
		binary.LittleEndian.PutUint32(d[fs.DentryNameLen:], uint32(f.Type))
		binary.LittleEndian.PutUint32(d[fs.DentryNameLen+4:], placements[i].inode)
	}

	// Inode blocks.
	for i, f := range img.Files {
		if f.Type != fs.TypeRegular {
			continue
		}

		in := out[fs.BlockSize*(1+int(placements[i].inode)):]
		binary.LittleEndian.PutUint32(in, uint32(len(f.Data)))

		for b, blk := range placements[i].blocks {
			binary.LittleEndian.PutUint32(in[4+4*b:], blk)
		}
	}

	// Data blocks.
	for i, block := range data {
		copy(out[fs.BlockSize*(1+int(numInodes)+i):], block)
	}

	return out, nil
}

// Boot assembles the default image, mounts it, and returns a kernel ready to run. Options pass
// through to the kernel's constructor.
func Boot(opts ...kernel.Option) (*kernel.Kernel, error) {
	return NewSystemImage().BootWith(opts...)
}

// BootWith mounts this image and returns a kernel ready to run.
func (img *SystemImage) BootWith(opts ...kernel.Option) (*kernel.Kernel, error) {
	raw, err := img.Build()
	if err != nil {
		return nil, err
	}

	parsed, err := fs.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("monitor: built image does not parse: %w", err)
	}

	img.log.Debug("Boot image assembled", "files", len(img.Files), "bytes", len(raw))

	return kernel.New(parsed, opts...), nil
}
