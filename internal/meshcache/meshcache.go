// Package meshcache is the client-side opaque mesh blob cache backing
// Context.PushMesh/Mesh/HasMesh. Raw mesh binary handling itself is an
// external collaborator (§1 Non-goals); this package only avoids
// re-transmitting a blob the client already holds, treating mesh bytes
// as opaque.
//
// This is a DOMAIN STACK addition, not something spec.md calls for
// directly: it is the one place in the module positioned to exercise
// otter (bounded, high-throughput in-memory cache) and xxh3 (fast
// content hashing for push dedup), the way the rest of the pack uses
// them for hot-path lookup caches.
package meshcache

import (
	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
)

type entry struct {
	hash uint64
	data []byte
}

// Cache is a bounded, content-hash-deduplicating store of mesh blobs
// keyed by mesh id.
type Cache struct {
	blobs otter.Cache[string, entry]
}

// New builds a Cache holding at most maxEntries blobs, evicting least
// valuable entries past that bound (otter's admission/eviction policy).
func New(maxEntries int) (*Cache, error) {
	blobs, err := otter.MustBuilder[string, entry](maxEntries).
		Cost(func(_ string, _ entry) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &Cache{blobs: blobs}, nil
}

// Has reports whether id is currently cached.
func (c *Cache) Has(id string) bool {
	_, ok := c.blobs.Get(id)
	return ok
}

// Get returns a copy of the cached blob for id.
func (c *Cache) Get(id string) ([]byte, bool) {
	e, ok := c.blobs.Get(id)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Push stores data under id, skipping the write if the content hash
// matches what is already cached for id. Reports whether the blob was
// (re)stored.
func (c *Cache) Push(id string, data []byte) bool {
	h := xxh3.Hash(data)
	if e, ok := c.blobs.Get(id); ok && e.hash == h {
		return false
	}
	cp := append([]byte(nil), data...)
	c.blobs.Set(id, entry{hash: h, data: cp})
	return true
}

// Delete evicts id from the cache.
func (c *Cache) Delete(id string) {
	c.blobs.Delete(id)
}

// Close releases the cache's background resources.
func (c *Cache) Close() {
	c.blobs.Close()
}
