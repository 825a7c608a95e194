package fs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// makeImage assembles a raw image from (name, type, data) triples: boot block, one inode per
// regular file plus spares, then the data blocks.
type testFile struct {
	name string
	typ  FileType
	data []byte
}

func makeImage(tt *testing.T, files []testFile, spareInodes, spareBlocks int) []byte {
	tt.Helper()

	type placed struct {
		inode  uint32
		blocks []uint32
	}

	var (
		placements = make([]placed, len(files))
		nextInode  uint32
		nextBlock  uint32
		blocks     [][]byte
	)

	for i, f := range files {
		if f.typ != TypeRegular {
			continue
		}

		p := placed{inode: nextInode}
		nextInode++

		for off := 0; off < len(f.data); off += BlockSize {
			end := off + BlockSize
			if end > len(f.data) {
				end = len(f.data)
			}

			blk := make([]byte, BlockSize)
			copy(blk, f.data[off:end])
			blocks = append(blocks, blk)
			p.blocks = append(p.blocks, nextBlock)
			nextBlock++
		}

		placements[i] = p
	}

	numInodes := nextInode + uint32(spareInodes)
	numBlocks := nextBlock + uint32(spareBlocks)

	out := make([]byte, BlockSize*(1+int(numInodes)+int(numBlocks)))

	binary.LittleEndian.PutUint32(out[0:], uint32(len(files)))
	binary.LittleEndian.PutUint32(out[4:], numInodes)
	binary.LittleEndian.PutUint32(out[8:], numBlocks)

	for i, f := range files {
		d := out[64+i*64:]
		copy(d[:DentryNameLen], f.name)
		binary.LittleEndian.PutUint32(d[DentryNameLen:], uint32(f.typ))
		binary.LittleEndian.PutUint32(d[DentryNameLen+4:], placements[i].inode)
	}

	for i, f := range files {
		if f.typ != TypeRegular {
			continue
		}

		in := out[BlockSize*(1+int(placements[i].inode)):]
		binary.LittleEndian.PutUint32(in, uint32(len(f.data)))

		for b, blk := range placements[i].blocks {
			binary.LittleEndian.PutUint32(in[4+4*b:], blk)
		}
	}

	for i, blk := range blocks {
		copy(out[BlockSize*(1+int(numInodes)+i):], blk)
	}

	return out
}

func testFiles() []testFile {
	long := bytes.Repeat([]byte("0123456789abcdef"), 300) // 4800 bytes, spans two blocks.

	return []testFile{
		{name: ".", typ: TypeDirectory},
		{name: "rtc", typ: TypeDeviceClock},
		{name: "frame0.txt", typ: TypeRegular, data: []byte("fish tank\n")},
		{name: "verylargetextwithverylongname.tx", typ: TypeRegular, data: long},
	}
}

func TestParse(tt *testing.T) {
	tt.Parallel()

	tt.Run("ok", func(tt *testing.T) {
		img, err := Parse(makeImage(tt, testFiles(), 4, 4))
		if err != nil {
			tt.Fatalf("parse: %s", err)
		}

		if got := img.NumDentries(); got != 4 {
			tt.Errorf("dentries want: 4, got: %d", got)
		}
	})

	tt.Run("truncated", func(tt *testing.T) {
		raw := makeImage(tt, testFiles(), 4, 4)

		if _, err := Parse(raw[:BlockSize/2]); err == nil {
			tt.Error("want error for short image")
		}

		if _, err := Parse(raw[:BlockSize*2]); err == nil {
			tt.Error("want error for truncated inode blocks")
		}
	})
}

func TestReadDentryByName(tt *testing.T) {
	tt.Parallel()

	img, err := Parse(makeImage(tt, testFiles(), 4, 4))
	if err != nil {
		tt.Fatalf("parse: %s", err)
	}

	tests := []struct {
		name  string
		found bool
	}{
		{"frame0.txt", true},
		{"./frame0.txt", true},
		{"/frame0.txt", true},
		{"../frame0.txt", true},
		{"frame0.tx", false},   // Short prefix of a stored name.
		{"frame0.txtx", false}, // Longer than the stored name.
		{"nope", false},
		{"rtc", true},
	}

	for _, tc := range tests {
		tc := tc

		tt.Run(tc.name, func(tt *testing.T) {
			d, ok := img.ReadDentryByName(tc.name)
			if ok != tc.found {
				tt.Fatalf("found want: %v, got: %v", tc.found, ok)
			}

			if ok && d.Name == "" {
				tt.Error("found dentry has empty name")
			}
		})
	}
}

func TestReadDentryByIndex(tt *testing.T) {
	tt.Parallel()

	img, err := Parse(makeImage(tt, testFiles(), 4, 4))
	if err != nil {
		tt.Fatalf("parse: %s", err)
	}

	var names []string

	for i := uint32(0); ; i++ {
		d, ok := img.ReadDentryByIndex(i)
		if !ok {
			break
		}

		names = append(names, d.Name)
	}

	if len(names) != 4 {
		tt.Errorf("enumerated want: 4, got: %d (%v)", len(names), names)
	}

	if _, ok := img.ReadDentryByIndex(99); ok {
		tt.Error("out-of-range index want: not found")
	}
}

func TestReadData(tt *testing.T) {
	tt.Parallel()

	img, err := Parse(makeImage(tt, testFiles(), 4, 4))
	if err != nil {
		tt.Fatalf("parse: %s", err)
	}

	tt.Run("whole file", func(tt *testing.T) {
		d, _ := img.ReadDentryByName("frame0.txt")

		buf := make([]byte, 64)

		n, err := img.ReadData(d.Inode, 0, buf)
		if err != nil {
			tt.Fatalf("read: %s", err)
		}

		if got := string(buf[:n]); got != "fish tank\n" {
			tt.Errorf("data want: %q, got: %q", "fish tank\n", got)
		}
	})

	tt.Run("spans blocks", func(tt *testing.T) {
		d, _ := img.ReadDentryByName("verylargetextwithverylongname.tx")

		buf := make([]byte, 8192)

		n, err := img.ReadData(d.Inode, 0, buf)
		if err != nil {
			tt.Fatalf("read: %s", err)
		}

		if n != 4800 {
			tt.Errorf("bytes want: 4800, got: %d", n)
		}

		if !bytes.Equal(buf[:16], []byte("0123456789abcdef")) {
			tt.Errorf("first block bytes wrong: %q", buf[:16])
		}

		if !bytes.Equal(buf[4784:4800], []byte("0123456789abcdef")) {
			tt.Errorf("second block bytes wrong: %q", buf[4784:4800])
		}
	})

	tt.Run("offset and eof", func(tt *testing.T) {
		d, _ := img.ReadDentryByName("frame0.txt")

		buf := make([]byte, 64)

		n, err := img.ReadData(d.Inode, 5, buf)
		if err != nil {
			tt.Fatalf("read: %s", err)
		}

		if got := string(buf[:n]); got != "tank\n" {
			tt.Errorf("data want: %q, got: %q", "tank\n", got)
		}

		n, err = img.ReadData(d.Inode, 10, buf)
		if err != nil || n != 0 {
			tt.Errorf("eof want: (0, nil), got: (%d, %v)", n, err)
		}
	})

	tt.Run("bad inode", func(tt *testing.T) {
		if _, err := img.ReadData(999, 0, make([]byte, 8)); err == nil {
			tt.Error("want error for out-of-range inode")
		}
	})

	tt.Run("corrupt block index", func(tt *testing.T) {
		raw := makeImage(tt, testFiles(), 4, 4)

		// Point frame0.txt's first data block far out of range. Its inode is index 0.
		binary.LittleEndian.PutUint32(raw[BlockSize+4:], 0xFFFF)

		img, err := Parse(raw)
		if err != nil {
			tt.Fatalf("parse: %s", err)
		}

		d, _ := img.ReadDentryByName("frame0.txt")

		if _, err := img.ReadData(d.Inode, 0, make([]byte, 8)); err == nil {
			tt.Error("want error for corrupt block index")
		}
	})
}

func TestTouchAndWrite(tt *testing.T) {
	tt.Parallel()

	img, err := Parse(makeImage(tt, testFiles(), 4, 4))
	if err != nil {
		tt.Fatalf("parse: %s", err)
	}

	d, err := img.Touch("notes.txt")
	if err != nil {
		tt.Fatalf("touch: %s", err)
	}

	if _, ok := img.ReadDentryByName("notes.txt"); !ok {
		tt.Fatal("touched file not found by name")
	}

	if _, err := img.Touch("notes.txt"); err == nil {
		tt.Error("want error touching an existing name")
	}

	n, err := img.Write(d.Inode, []byte("hello\n"))
	if err != nil || n != 6 {
		tt.Fatalf("write want: (6, nil), got: (%d, %v)", n, err)
	}

	buf := make([]byte, 16)

	n, err = img.ReadData(d.Inode, 0, buf)
	if err != nil {
		tt.Fatalf("read back: %s", err)
	}

	if got := string(buf[:n]); got != "hello\n" {
		tt.Errorf("read back want: %q, got: %q", "hello\n", got)
	}

	if _, err := img.Write(d.Inode, []byte("again")); err == nil {
		tt.Error("want error writing a file twice")
	}

	tt.Run("write caps at one block", func(tt *testing.T) {
		d, err := img.Touch("big.bin")
		if err != nil {
			tt.Fatalf("touch: %s", err)
		}

		n, err := img.Write(d.Inode, make([]byte, BlockSize+100))
		if err != nil {
			tt.Fatalf("write: %s", err)
		}

		if n != BlockSize {
			tt.Errorf("bytes want: %d, got: %d", BlockSize, n)
		}
	})

	tt.Run("exhaust inodes", func(tt *testing.T) {
		for i := 0; ; i++ {
			if _, err := img.Touch(fileName(i)); err != nil {
				return // Ran dry, as it must eventually.
			}

			if i > MaxDentries {
				tt.Fatal("touch never exhausted the directory")
			}
		}
	})
}

func fileName(i int) string {
	return string([]byte{'f', byte('a' + i%26), byte('a' + (i/26)%26)})
}
