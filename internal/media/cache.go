package media

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RefCountedBytes wraps a byte slice that may be shared between the cache
// and one or more in-flight readers. Eviction decrements the count instead
// of freeing the backing array outright, so a caller mid-read never sees
// its buffer mutated out from under it.
type RefCountedBytes struct {
	mu    sync.Mutex
	data  []byte
	count int
}

func newRefCountedBytes(data []byte) *RefCountedBytes {
	return &RefCountedBytes{data: data, count: 1}
}

// Retain increments the reference count and returns the underlying bytes.
// Release undoes one Retain.
func (b *RefCountedBytes) Retain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	return b.data
}

// Release decrements the reference count.
func (b *RefCountedBytes) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count--
}

// Cache is an in-memory LRU of decoded blob bytes, keyed by the
// repository-relative path. Capacity is measured in entries, not bytes —
// avatar and thumbnail files are small and roughly uniform in size.
type Cache struct {
	lru *lru.Cache[string, *RefCountedBytes]
}

// DefaultCacheCapacity is the number of blobs kept warm at once.
const DefaultCacheCapacity = 128

// NewCache builds an LRU cache of the given capacity.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.NewWithEvict(capacity, func(_ string, v *RefCountedBytes) {
		v.Release()
	})
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Get returns the cached bytes for relPath, incrementing the entry's
// reference count. The returned slice carries no handle to Release; the
// count is decremented only when the entry is evicted.
func (c *Cache) Get(relPath string) ([]byte, bool) {
	entry, ok := c.lru.Get(relPath)
	if !ok {
		return nil, false
	}
	return entry.Retain(), true
}

// Put inserts data for relPath, taking ownership of the slice. The
// initial reference belongs to the cache itself; it is released on
// eviction.
func (c *Cache) Put(relPath string, data []byte) {
	c.lru.Add(relPath, newRefCountedBytes(data))
}

// Open returns the bytes for relPath, reading through to the repository
// and populating the cache on a miss.
func (repo *Repository) Open(cache *Cache, relPath string) ([]byte, error) {
	if cache != nil {
		if data, ok := cache.Get(relPath); ok {
			return data, nil
		}
	}
	data, err := repo.Read(relPath)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Put(relPath, data)
	}
	return data, nil
}
