package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/opencoff/maph/slot"
)

// Mmap is the durable Backend: a file holding a 512-byte header block
// (storage/format.go) followed by a contiguous slot array, mapped into
// the process with mmap(2).
type Mmap struct {
	file      *os.File
	data      []byte // the full mapping: header + slot array
	slotCount uint64
	readOnly  bool
	gen       atomic.Uint64
}

var _ Backend = (*Mmap)(nil)

// Create creates a new memory-mapped backend at path with room for
// slotCount slots. It fails if path already exists.
func Create(path string, slotCount uint64) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", path, err)
	}

	size := int64(HeaderSize) + int64(slotCount)*slot.Size
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("storage: truncate %s: %w", path, err)
	}

	hdr := encodeHeader(fileHeader{SlotCount: slotCount})
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("storage: write header %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("storage: sync header %s: %w", path, err)
	}

	return mapFile(f, size, false)
}

// Open opens an existing memory-mapped backend at path. If readOnly is
// true, Write/Clear return ErrPermissionDenied and the mapping is
// PROT_READ only (so even a bug can't corrupt the file).
func Open(path string, readOnly bool) (*Mmap, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}

	m, err := mapFile(f, fi.Size(), readOnly)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func mapFile(f *os.File, size int64, readOnly bool) (*Mmap, error) {
	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s: %w", f.Name(), err)
	}

	hdr, err := decodeHeader(data)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	wantSize := int64(HeaderSize) + int64(hdr.SlotCount)*slot.Size
	if wantSize != size {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("%w: file size %d doesn't match slot count %d", ErrInvalidFormat, size, hdr.SlotCount)
	}

	m := &Mmap{
		file:      f,
		data:      data,
		slotCount: hdr.SlotCount,
		readOnly:  readOnly,
	}
	m.gen.Store(hdr.Generation)
	return m, nil
}

func (m *Mmap) slots() []byte { return m.data[HeaderSize:] }

func (m *Mmap) view(idx uint64) (slot.View, error) {
	if idx >= m.slotCount {
		return slot.View{}, ErrOutOfRange
	}
	return slotAt(m.slots(), idx), nil
}

func (m *Mmap) Read(idx uint64) ([]byte, bool) {
	v, err := m.view(idx)
	if err != nil {
		return nil, false
	}
	return v.Read()
}

func (m *Mmap) Write(idx uint64, tag uint32, payload []byte) error {
	if m.readOnly {
		return ErrPermissionDenied
	}
	v, err := m.view(idx)
	if err != nil {
		return err
	}
	if err := v.Write(tag, payload); err != nil {
		return err
	}
	gen := m.gen.Add(1)
	binary.LittleEndian.PutUint64(m.data[24:32], gen)
	return nil
}

func (m *Mmap) Clear(idx uint64) error {
	if m.readOnly {
		return ErrPermissionDenied
	}
	v, err := m.view(idx)
	if err != nil {
		return err
	}
	v.Clear()
	return nil
}

func (m *Mmap) SlotCount() uint64 { return m.slotCount }

func (m *Mmap) IsEmpty(idx uint64) bool {
	v, err := m.view(idx)
	if err != nil {
		return true
	}
	return v.IsEmpty()
}

func (m *Mmap) TagAt(idx uint64) uint32 {
	v, err := m.view(idx)
	if err != nil {
		return 0
	}
	return v.Tag()
}

// Flush is an advisory msync of the whole mapping; the host OS remains
// the durability authority.
func (m *Mmap) Flush() error {
	if m.readOnly {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *Mmap) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	return m.file.Close()
}
