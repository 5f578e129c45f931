package slot

import (
	"encoding/binary"
	"unsafe"
)

// headerPtr reinterprets the first 8 bytes of raw as a *uint64 for
// atomic access. Storage backends (storage.Memory, storage.Mmap) are
// responsible for handing out raw slices whose start is 8-byte
// aligned (heap allocations of Size-byte, 64-byte-aligned-multiple
// buffers and page-aligned mmap regions both satisfy this in
// practice).
func headerPtr(raw []byte) unsafe.Pointer {
	return unsafe.Pointer(&raw[0])
}

// loadSize reads the little-endian size field (bytes 8..12).
func loadSize(raw []byte) uint32 {
	return binary.LittleEndian.Uint32(raw[8:12])
}

// storeSize writes the little-endian size field (bytes 8..12).
func storeSize(raw []byte, size uint32) {
	binary.LittleEndian.PutUint32(raw[8:12], size)
}
