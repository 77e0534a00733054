package modulefinder

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type Builder interface {
	Enumerate() []Module
}

// Cache holds the module list of a process once it has been built. The list
// is built lazily on the first Get and kept until Clear.
type Cache struct {
	builder Builder

	mu       sync.Mutex // serialises builds and clears
	snapshot atomic.Pointer[Snapshot]
}

func NewCache(builder Builder) *Cache {
	return &Cache{builder: builder}
}

// Get returns the cached snapshot, building it first if needed. Callers that
// arrive while a build is running wait for it and share its result.
func (c *Cache) Get() *Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.snapshot.Load(); s != nil {
		return s
	}
	slog.Debug("Reading modules from memory map")
	s := NewSnapshot(c.builder.Enumerate())
	slog.Debug("Read modules from memory map", "count", s.Len())
	c.snapshot.Store(s)
	return s
}

// Clear drops the cached snapshot; the next Get rebuilds it. Snapshots handed
// out earlier are unaffected.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.Store(nil)
}

var defaultCache = NewCache(NewEnumerator(DefaultOptions()))

// GetModules returns the modules loaded into the current process.
func GetModules() *Snapshot {
	return defaultCache.Get()
}

// ClearModuleCache forces the next GetModules call to rebuild the list.
func ClearModuleCache() {
	defaultCache.Clear()
}
