package maph

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func TestMemoryBasicRoundTrip(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 64
	cfg.MaxProbes = 10

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	assert(db.Set([]byte("alpha"), []byte("one")) == nil, "set failed")
	assert(db.Set([]byte("beta"), []byte("two")) == nil, "set failed")

	v, err := db.Get([]byte("alpha"))
	assert(err == nil, "get failed: %v", err)
	assert(bytes.Equal(v, []byte("one")), "value mismatch: got %q", v)

	assert(db.Contains([]byte("beta")), "expected beta to be present")
	assert(!db.Contains([]byte("gamma")), "gamma should be absent")
	assert(bytes.Equal(db.GetOr([]byte("gamma"), []byte("default")), []byte("default")), "GetOr fallback failed")
}

func TestUpdate(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 32

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	// Update never creates: an absent key fails and leaves nothing
	// behind.
	err = db.Update([]byte("counter"), func(old []byte) []byte {
		return []byte{1}
	})
	assert(err == ErrKeyNotFound, "update of absent key should fail, got %v", err)
	assert(!db.Contains([]byte("counter")), "failed update must not create the key")

	assert(db.Set([]byte("counter"), []byte{1}) == nil, "set failed")
	for i := 0; i < 4; i++ {
		err = db.Update([]byte("counter"), func(old []byte) []byte {
			return []byte{old[0] + 1}
		})
		assert(err == nil, "update %d failed: %v", i, err)
	}

	v, err := db.Get([]byte("counter"))
	assert(err == nil, "get failed: %v", err)
	assert(v[0] == 5, "expected counter 5, got %d", v[0])
}

func TestRemoveThenReinsert(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 32

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	key := []byte("ephemeral")
	assert(db.Set(key, []byte("v1")) == nil, "set failed")
	assert(db.Remove(key) == nil, "remove failed")

	_, err = db.Get(key)
	assert(err == ErrKeyNotFound, "expected ErrKeyNotFound after remove, got %v", err)

	assert(db.Set(key, []byte("v2")) == nil, "reinsert failed")
	v, err := db.Get(key)
	assert(err == nil, "get after reinsert failed: %v", err)
	assert(bytes.Equal(v, []byte("v2")), "reinsert value mismatch: got %q", v)
}

func TestPersistenceCreateOpenReadOnly(t *testing.T) {
	assert := testutil.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "store.maph")

	cfg := DefaultConfig()
	cfg.SlotCount = 64

	db, err := Create(path, cfg)
	assert(err == nil, "create failed: %v", err)
	assert(db.Set([]byte("k1"), []byte("v1")) == nil, "set failed")
	assert(db.Close() == nil, "close failed")

	ro, err := Open(path, true)
	assert(err == nil, "open read-only failed: %v", err)
	defer ro.Close()

	v, err := ro.Get([]byte("k1"))
	assert(err == nil, "get on reopened store failed: %v", err)
	assert(bytes.Equal(v, []byte("v1")), "persisted value mismatch: got %q", v)

	err = ro.Set([]byte("k2"), []byte("v2"))
	assert(err == ErrPermissionDenied, "expected ErrPermissionDenied on read-only store, got %v", err)
}

func TestOptimizeRebuildsPerfectHash(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 64
	cfg.Algorithm = AlgoCHD

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	keys := make([][]byte, 30)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("k-%03d", i))
		assert(db.Set(keys[i], []byte(fmt.Sprintf("v-%03d", i))) == nil, "set failed for %q", keys[i])
	}

	assert(db.Optimize() == nil, "optimize failed")

	for i, k := range keys {
		v, err := db.Get(k)
		assert(err == nil, "get after optimize failed for %q: %v", k, err)
		want := []byte(fmt.Sprintf("v-%03d", i))
		assert(bytes.Equal(v, want), "value mismatch after optimize for %q: got %q want %q", k, v, want)
	}

	// Updating a build-set key stays possible; a brand-new key has no
	// slot in the perfect table.
	assert(db.Set(keys[0], []byte("updated")) == nil, "update of build-set key after optimize failed")
	v, err := db.Get(keys[0])
	assert(err == nil, "get of updated key failed: %v", err)
	assert(bytes.Equal(v, []byte("updated")), "updated value mismatch")

	err = db.Set([]byte("post-optimize"), []byte("late"))
	assert(err == ErrKeyNotFound, "set of a never-seen key on a perfect table should fail, got %v", err)

	st := db.Stats()
	assert(st.Hasher != nil, "expected hasher stats after optimize")
	assert(st.Hasher.PerfectCount+st.Hasher.OverflowCount == uint64(len(keys)), "hasher slot accounting mismatch: %d+%d != %d", st.Hasher.PerfectCount, st.Hasher.OverflowCount, len(keys))
}

func TestOptimizeWithoutJournalFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlotCount = 16
	cfg.EnableJournal = false

	db, err := CreateMemory(cfg)
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	defer db.Close()

	if err := db.Set([]byte("x"), []byte("y")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := db.Optimize(); err == nil {
		t.Fatalf("expected optimize to fail without a journal")
	}
}

func TestSetAllIsNotAtomic(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 8
	cfg.MaxProbes = 1

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	pairs := []Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: bytes.Repeat([]byte("x"), 1024)},
	}
	err = db.SetAll(pairs)
	assert(err == ErrValueTooLarge, "expected SetAll to fail on the oversized second pair, got %v", err)

	// The first pair stays committed even though a later one failed;
	// SetAll is not atomic.
	assert(db.Contains([]byte("a")), "first pair of SetAll should have been committed")
}

func TestConcurrentReaderWriter(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 16384
	cfg.MaxProbes = 64
	cfg.EnableJournal = false

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	for i := 0; i < 10000; i++ {
		k := []byte(fmt.Sprintf("fill-%05d", i))
		if err := db.Set(k, []byte("x")); err != nil && err != ErrTableFull {
			t.Fatalf("pre-populate failed at %d: %v", i, err)
		}
	}

	key := []byte("hot-key")
	assert(db.Set(key, []byte("0")) == nil, "seed of hot key failed")

	reads := 1000000
	if testing.Short() {
		reads = 50000
	}

	var counter atomic.Int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			counter.Store(i)
			if err := db.Set(key, []byte(strconv.FormatInt(i, 10))); err != nil {
				t.Errorf("writer failed at %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < reads; i++ {
		v, err := db.Get(key)
		if err == ErrKeyNotFound {
			// A read that raced the writer past the retry budget is
			// reported as a miss, never as torn bytes.
			continue
		}
		assert(err == nil, "reader failed: %v", err)
		n, perr := strconv.ParseInt(string(v), 10, 64)
		assert(perr == nil, "torn read: %q is not an integer", v)
		upper := counter.Load()
		assert(n >= 0 && n <= upper, "reader saw %d, writer only at %d", n, upper)
	}
	close(stop)
	<-done
}

func TestRecSplitEndToEnd(t *testing.T) {
	assert := testutil.New(t)

	cfg := DefaultConfig()
	cfg.SlotCount = 32
	cfg.Algorithm = AlgoRecSplit

	db, err := CreateMemory(cfg)
	assert(err == nil, "CreateMemory failed: %v", err)
	defer db.Close()

	keys := [][]byte{[]byte("r1"), []byte("r2"), []byte("r3"), []byte("r4"), []byte("r5"), []byte("r6")}
	for i, k := range keys {
		assert(db.Set(k, []byte(fmt.Sprintf("v%d", i))) == nil, "set failed")
	}
	assert(db.Optimize() == nil, "optimize with recsplit failed")

	for i, k := range keys {
		v, err := db.Get(k)
		assert(err == nil, "get failed for %q: %v", k, err)
		assert(bytes.Equal(v, []byte(fmt.Sprintf("v%d", i))), "value mismatch for %q", k)
	}
}
