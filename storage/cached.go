package storage

import lru "github.com/opencoff/golang-lru"

// Cached decorates any Backend with an ARC cache that memoizes reads
// keyed by slot index, bounded by a fixed capacity.
//
// Cached is NOT safe for concurrent mutation of the underlying
// backend: a writer bypassing the cache (or a second Cached wrapping
// the same backend) can leave it serving stale reads. Coordinating
// that is the caller's responsibility.
type Cached struct {
	inner Backend
	cache *lru.ARCCache
}

var _ Backend = (*Cached)(nil)

// NewCached wraps inner with an LRU of the given capacity.
func NewCached(inner Backend, capacity int) (*Cached, error) {
	if capacity <= 0 {
		capacity = 128
	}
	c, err := lru.NewARC(capacity)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Read(idx uint64) ([]byte, bool) {
	if v, ok := c.cache.Get(idx); ok {
		val, _ := v.([]byte)
		return val, val != nil
	}
	v, ok := c.inner.Read(idx)
	if ok {
		c.cache.Add(idx, v)
	}
	return v, ok
}

func (c *Cached) Write(idx uint64, tag uint32, payload []byte) error {
	if err := c.inner.Write(idx, tag, payload); err != nil {
		return err
	}
	c.cache.Remove(idx)
	return nil
}

func (c *Cached) Clear(idx uint64) error {
	if err := c.inner.Clear(idx); err != nil {
		return err
	}
	c.cache.Remove(idx)
	return nil
}

func (c *Cached) SlotCount() uint64 { return c.inner.SlotCount() }

func (c *Cached) IsEmpty(idx uint64) bool {
	if v, ok := c.cache.Get(idx); ok {
		return v == nil
	}
	return c.inner.IsEmpty(idx)
}

func (c *Cached) TagAt(idx uint64) uint32 { return c.inner.TagAt(idx) }

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Underlying returns the backend Cached decorates, for callers that
// need to see through the decorator.
func (c *Cached) Underlying() Backend { return c.inner }
