package phf

import (
	"encoding/binary"
	"fmt"
)

// SeedTable is a width-compacted array of per-bucket seed, pilot, or
// displacement values, stored at the narrowest integer width that
// holds every value in the table.
type SeedTable struct {
	width byte // 1, 2, or 4
	u8    []uint8
	u16   []uint16
	u32   []uint32
}

// NewSeedTable packs vals into the narrowest width that holds their
// maximum value.
func NewSeedTable(vals []uint32) SeedTable {
	var max uint32
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	switch {
	case max < 1<<8:
		u8 := make([]uint8, len(vals))
		for i, v := range vals {
			u8[i] = uint8(v)
		}
		return SeedTable{width: 1, u8: u8}
	case max < 1<<16:
		u16 := make([]uint16, len(vals))
		for i, v := range vals {
			u16[i] = uint16(v)
		}
		return SeedTable{width: 2, u16: u16}
	default:
		u32 := make([]uint32, len(vals))
		copy(u32, vals)
		return SeedTable{width: 4, u32: u32}
	}
}

// Get returns the value at index i.
func (s SeedTable) Get(i uint64) uint32 {
	switch s.width {
	case 1:
		return uint32(s.u8[i])
	case 2:
		return uint32(s.u16[i])
	default:
		return s.u32[i]
	}
}

// Len returns the number of entries in the table.
func (s SeedTable) Len() int {
	switch s.width {
	case 1:
		return len(s.u8)
	case 2:
		return len(s.u16)
	default:
		return len(s.u32)
	}
}

// Width reports the per-entry byte width (1, 2, or 4).
func (s SeedTable) Width() byte { return s.width }

// Encode appends the table's on-wire form (width byte, length u32,
// then the packed values) to buf.
func (s SeedTable) Encode(buf []byte) []byte {
	buf = append(buf, s.width)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(s.Len()))
	buf = append(buf, tmp4[:]...)
	switch s.width {
	case 1:
		buf = append(buf, s.u8...)
	case 2:
		for _, v := range s.u16 {
			var tmp2 [2]byte
			binary.LittleEndian.PutUint16(tmp2[:], v)
			buf = append(buf, tmp2[:]...)
		}
	default:
		for _, v := range s.u32 {
			binary.LittleEndian.PutUint32(tmp4[:], v)
			buf = append(buf, tmp4[:]...)
		}
	}
	return buf
}

// DecodeSeedTable reads a SeedTable from the start of buf and returns
// the remaining bytes.
func DecodeSeedTable(buf []byte) (SeedTable, []byte, error) {
	if len(buf) < 5 {
		return SeedTable{}, nil, fmt.Errorf("%w: seed table header truncated", ErrInvalidFormat)
	}
	width := buf[0]
	n := binary.LittleEndian.Uint32(buf[1:5])
	rest := buf[5:]
	switch width {
	case 1:
		if uint32(len(rest)) < n {
			return SeedTable{}, nil, fmt.Errorf("%w: seed table body truncated", ErrInvalidFormat)
		}
		u8 := make([]uint8, n)
		copy(u8, rest[:n])
		return SeedTable{width: 1, u8: u8}, rest[n:], nil
	case 2:
		if uint64(n)*2 > uint64(len(rest)) {
			return SeedTable{}, nil, fmt.Errorf("%w: seed table body truncated", ErrInvalidFormat)
		}
		u16 := make([]uint16, n)
		for i := range u16 {
			u16[i] = binary.LittleEndian.Uint16(rest[:2])
			rest = rest[2:]
		}
		return SeedTable{width: 2, u16: u16}, rest, nil
	case 4:
		if uint64(n)*4 > uint64(len(rest)) {
			return SeedTable{}, nil, fmt.Errorf("%w: seed table body truncated", ErrInvalidFormat)
		}
		u32 := make([]uint32, n)
		for i := range u32 {
			u32[i] = binary.LittleEndian.Uint32(rest[:4])
			rest = rest[4:]
		}
		return SeedTable{width: 4, u32: u32}, rest, nil
	default:
		return SeedTable{}, nil, fmt.Errorf("%w: unknown seed width %d", ErrInvalidFormat, width)
	}
}
