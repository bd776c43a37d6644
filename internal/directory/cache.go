package directory

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/keyrange"
	"github.com/dreamware/keydir/internal/wire"
)

// CacheEntry is a worker's view of one peer: name always, address and
// range once a MAST_WORKER_INFO for the name has arrived.
type CacheEntry struct {
	Addr  wire.NetAddress
	Range keyrange.Range
	Name  uint32
}

// Complete reports whether the entry carries an address yet. Entries
// learned from a bare name list stay incomplete until their info arrives.
func (e CacheEntry) Complete() bool { return !e.Addr.IsZero() }

// Cache is a worker's name-keyed directory of its peers. It lags the
// master's registry; routing decisions made from it are best-effort, and a
// miss just means the client retries after the next refresh.
type Cache struct {
	log    *zap.Logger
	byName map[uint32]*CacheEntry
	mu     sync.Mutex
}

// NewCache returns an empty cache.
func NewCache(log *zap.Logger) *Cache {
	return &Cache{log: log, byName: make(map[uint32]*CacheEntry)}
}

// EnsureName creates a placeholder entry for name if none exists,
// returning true when the name is new. The worker core hangs an info
// request item off every new name.
func (c *Cache) EnsureName(name uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; ok {
		return false
	}
	c.byName[name] = &CacheEntry{Name: name}
	return true
}

// Update records the address and, when valid, the range for name. Entries
// are created as needed, so info pushes arriving before the name list
// still land.
func (c *Cache) Update(name uint32, addr wire.NetAddress, spec wire.RangeSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byName[name]
	if !ok {
		e = &CacheEntry{Name: name}
		c.byName[name] = e
	}
	e.Addr = addr
	if spec.Valid {
		if err := e.Range.SetMinMax(spec.Min, spec.Max, spec.Unlimited); err != nil {
			c.log.Warn("rejected range update",
				zap.Uint32("name", name), zap.Error(err))
		}
	}
}

// Get returns a copy of name's entry.
func (c *Cache) Get(name uint32) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byName[name]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// FindWorkerForKey returns the peer whose range covers key. A miss means
// the cache lags the cluster; the caller drops the request and lets the
// client retry.
func (c *Cache) FindWorkerForKey(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byName {
		if e.Complete() && e.Range.In(key) {
			return *e, true
		}
	}
	return CacheEntry{}, false
}

// Incomplete returns the names with no address yet, ascending.
func (c *Cache) Incomplete() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []uint32
	for n, e := range c.byName {
		if !e.Complete() {
			names = append(names, n)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Names returns every known name, ascending. Tests use this to check that
// two workers' caches agree.
func (c *Cache) Names() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]uint32, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Len returns the number of known names.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}
