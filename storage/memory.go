package storage

import "github.com/opencoff/maph/slot"

// Memory is the in-memory Backend: a contiguous slot array on the
// heap. It backs CreateMemory() tables and tests without touching the
// filesystem.
type Memory struct {
	buf       []byte
	slotCount uint64
}

var _ Backend = (*Memory)(nil)

// NewMemory allocates a Memory backend with room for slotCount slots.
func NewMemory(slotCount uint64) *Memory {
	return &Memory{
		buf:       make([]byte, slotCount*slot.Size),
		slotCount: slotCount,
	}
}

func (m *Memory) view(idx uint64) (slot.View, error) {
	if idx >= m.slotCount {
		return slot.View{}, ErrOutOfRange
	}
	return slotAt(m.buf, idx), nil
}

func (m *Memory) Read(idx uint64) ([]byte, bool) {
	v, err := m.view(idx)
	if err != nil {
		return nil, false
	}
	return v.Read()
}

func (m *Memory) Write(idx uint64, tag uint32, payload []byte) error {
	v, err := m.view(idx)
	if err != nil {
		return err
	}
	return v.Write(tag, payload)
}

func (m *Memory) Clear(idx uint64) error {
	v, err := m.view(idx)
	if err != nil {
		return err
	}
	v.Clear()
	return nil
}

func (m *Memory) SlotCount() uint64 { return m.slotCount }

func (m *Memory) IsEmpty(idx uint64) bool {
	v, err := m.view(idx)
	if err != nil {
		return true
	}
	return v.IsEmpty()
}

func (m *Memory) TagAt(idx uint64) uint32 {
	v, err := m.view(idx)
	if err != nil {
		return 0
	}
	return v.Tag()
}

func (m *Memory) Close() error { return nil }
