package phf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the four-byte ASCII "MAPH" sequence, little-endian. The
// serialization envelope and the storage file header are independent
// formats that share the same magic.
const Magic uint32 = 0x4D415048

// EnvelopeVersion is the current MPHF serialization format version.
const EnvelopeVersion uint32 = 1

// ErrInvalidFormat is returned when a serialized hasher fails its
// magic/version/algorithm/bounds checks.
var ErrInvalidFormat = errors.New("phf: invalid serialized format")

// Envelope is the shared header every variant's Serialize wraps its
// variant-specific payload in: magic, version, algorithm id,
// algorithm-specific parameters, the fingerprint seed, and the
// perfect/overflow counts.
type Envelope struct {
	Algo          uint32
	Params        []uint32
	FPSeed        [16]byte
	PerfectCount  uint64
	OverflowCount uint64
}

// EncodeEnvelope appends e's header bytes to buf and returns the
// result. All integers are little-endian.
func EncodeEnvelope(buf []byte, e Envelope) []byte {
	var tmp4 [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp4[:], v)
		buf = append(buf, tmp4[:]...)
	}
	putU32(Magic)
	putU32(EnvelopeVersion)
	putU32(e.Algo)
	putU32(uint32(len(e.Params)))
	for _, p := range e.Params {
		putU32(p)
	}
	buf = append(buf, e.FPSeed[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], e.PerfectCount)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], e.OverflowCount)
	buf = append(buf, tmp8[:]...)
	return buf
}

// DecodeEnvelope parses the header at the start of buf, checking magic,
// version, and that the algorithm id matches wantAlgo. It returns the
// decoded envelope and the remaining (variant payload) bytes.
func DecodeEnvelope(buf []byte, wantAlgo uint32) (Envelope, []byte, error) {
	if len(buf) < 16 {
		return Envelope{}, nil, fmt.Errorf("%w: header truncated", ErrInvalidFormat)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Envelope{}, nil, fmt.Errorf("%w: bad magic %#x", ErrInvalidFormat, magic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version == 0 || version > EnvelopeVersion {
		return Envelope{}, nil, fmt.Errorf("%w: unsupported envelope version %d", ErrInvalidFormat, version)
	}
	algo := binary.LittleEndian.Uint32(buf[8:12])
	if algo != wantAlgo {
		return Envelope{}, nil, fmt.Errorf("%w: algorithm id %d, want %d", ErrInvalidFormat, algo, wantAlgo)
	}
	nparams := binary.LittleEndian.Uint32(buf[12:16])
	off := 16
	need := int(nparams)*4 + 16 + 8 + 8
	if len(buf)-off < need {
		return Envelope{}, nil, fmt.Errorf("%w: truncated params or trailer", ErrInvalidFormat)
	}
	params := make([]uint32, nparams)
	for i := range params {
		params[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	var e Envelope
	e.Algo = algo
	e.Params = params
	copy(e.FPSeed[:], buf[off:off+16])
	off += 16
	e.PerfectCount = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	e.OverflowCount = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	return e, buf[off:], nil
}

// EncodeUint64Vector appends a length-prefixed vector of uint64 to buf.
func EncodeUint64Vector(buf []byte, v []uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(len(v)))
	buf = append(buf, tmp[:]...)
	for _, x := range v {
		binary.LittleEndian.PutUint64(tmp[:], x)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// DecodeUint64Vector reads a length-prefixed vector of uint64 from the
// start of buf, bounds-checking the declared length against the
// remaining input before allocating.
func DecodeUint64Vector(buf []byte) ([]uint64, []byte, error) {
	if len(buf) < 8 {
		return nil, nil, fmt.Errorf("%w: vector length truncated", ErrInvalidFormat)
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	rest := buf[8:]
	if n > uint64(len(rest))/8 {
		return nil, nil, fmt.Errorf("%w: vector body truncated (want %d entries, have %d bytes)", ErrInvalidFormat, n, len(rest))
	}
	v := make([]uint64, n)
	for i := range v {
		v[i] = binary.LittleEndian.Uint64(rest[:8])
		rest = rest[8:]
	}
	return v, rest, nil
}
