package maph

// Algorithm selects which perfect-hash variant Optimize compiles the
// journal's key set into.
type Algorithm int

const (
	// AlgoCHD is the default: a direct, well-understood
	// bucket/seed-retry construction (phf/chd).
	AlgoCHD Algorithm = iota
	AlgoRecSplit
	AlgoBBHash
	AlgoPTHash
	AlgoFCH
)

func (a Algorithm) String() string {
	switch a {
	case AlgoCHD:
		return "chd"
	case AlgoRecSplit:
		return "recsplit"
	case AlgoBBHash:
		return "bbhash"
	case AlgoPTHash:
		return "pthash"
	case AlgoFCH:
		return "fch"
	default:
		return "unknown"
	}
}

// Config configures a DB.
type Config struct {
	// SlotCount is the initial open-addressing slot count. Ignored
	// once a DB has been Optimize'd (the hasher then dictates slot
	// count).
	SlotCount uint64

	// MaxProbes bounds the open-addressing probe sequence. Zero
	// means every probe sequence is empty.
	MaxProbes int

	// EnableJournal turns on live-key tracking, required for
	// Optimize to have anything to rebuild from.
	EnableJournal bool

	// EnableCache wraps the storage backend in a storage.Cached
	// decorator.
	EnableCache bool

	// CacheSize is the Cached decorator's slot capacity, used only
	// when EnableCache is true.
	CacheSize int

	// Algorithm selects the perfect-hash variant Optimize builds.
	Algorithm Algorithm
}

// DefaultConfig returns the Config new DBs use when none is supplied.
func DefaultConfig() Config {
	return Config{
		SlotCount:     1024,
		MaxProbes:     10,
		EnableJournal: true,
		EnableCache:   false,
		CacheSize:     128,
		Algorithm:     AlgoCHD,
	}
}
