package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the file header block preceding the
// slot array.
const HeaderSize = 512

// Magic is the four-byte ASCII sequence "MAPH", interpreted
// little-endian as a uint32.
const Magic uint32 = 0x4D415048

// FormatVersion is the current on-disk format version.
const FormatVersion uint32 = 1

// ErrInvalidFormat is returned when a file's header fails the
// magic/version/bounds checks.
var ErrInvalidFormat = errors.New("storage: invalid file format")

// fileHeader is the 512-byte header block:
//
//	0:4   magic          "MAPH" little-endian
//	4:8   format version  uint32 LE
//	8:16  total slot count uint64 LE
//	16:24 reserved (ignored on read)
//	24:32 generation counter uint64 LE (advisory, bumped on Set)
//	32:512 reserved, zero on write
type fileHeader struct {
	SlotCount  uint64
	Generation uint64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.SlotCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.Generation)
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < HeaderSize {
		return fileHeader{}, fmt.Errorf("%w: header truncated", ErrInvalidFormat)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return fileHeader{}, fmt.Errorf("%w: bad magic %#x", ErrInvalidFormat, magic)
	}
	// Format version mismatches are treated permissively: the
	// reserved/generation layout has been stable since version 1,
	// so any version we understand (<=FormatVersion) is accepted.
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version == 0 || version > FormatVersion {
		return fileHeader{}, fmt.Errorf("%w: unsupported format version %d", ErrInvalidFormat, version)
	}
	h := fileHeader{
		SlotCount:  binary.LittleEndian.Uint64(buf[8:16]),
		Generation: binary.LittleEndian.Uint64(buf[24:32]),
	}
	return h, nil
}
