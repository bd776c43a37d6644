package directory

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/keyrange"
	"github.com/dreamware/keydir/internal/wire"
)

// PushNotifier is the hook between a registry entry and its do-list item:
// raising it re-arms the item that pushes the worker list to that entry's
// worker. The registry calls it under its own lock, so implementations
// must not call back into the registry.
type PushNotifier interface {
	SetNeedsInfo()
}

// Entry is the master's record for one worker. Fields are mutated only
// through Registry methods; Snapshot and Get return copies.
type Entry struct {
	pushItem    PushNotifier
	lastContact time.Time
	addr        wire.NetAddress
	rng         keyrange.Range
	name        uint32
}

// EntryInfo is a copy-out view of an Entry, safe to hold without locks.
type EntryInfo struct {
	LastContact time.Time
	Addr        wire.NetAddress
	Range       keyrange.Range
	Name        uint32
}

// Registry is the master's authoritative worker directory: the same
// entries keyed independently by name and by address. Name allocation is
// monotonic, so names are never reused even if a worker re-registers.
//
// Every mutation raises the push flag on every entry: the cheapest way to
// guarantee that each worker eventually sees each list change, given that
// push success is never acknowledged.
type Registry struct {
	log    *zap.Logger
	byName map[uint32]*Entry
	byAddr map[wire.NetAddress]*Entry
	mu     sync.Mutex
	seq    uint32
	first  bool // true once the bootstrap range has been handed out
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:    log,
		byName: make(map[uint32]*Entry),
		byAddr: make(map[wire.NetAddress]*Entry),
	}
}

// AddWorker registers the worker at addr and returns its record. A fresh
// address gets the next name, and the first worker ever registered gets
// the all-inclusive range; that seed is the only range write the master
// ever performs. A duplicate address returns the existing record with
// added=false and no renaming.
func (r *Registry) AddWorker(addr wire.NetAddress) (EntryInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byAddr[addr]; ok {
		r.log.Warn("worker already registered",
			zap.Stringer("addr", addr), zap.Uint32("name", e.name))
		e.lastContact = time.Now()
		return e.info(), false
	}

	r.seq++
	e := &Entry{name: r.seq, addr: addr, lastContact: time.Now()}
	if !r.first {
		r.first = true
		e.rng.SetAllInclusive()
		r.log.Info("bootstrap range assigned",
			zap.Uint32("name", e.name), zap.Stringer("range", e.rng))
	}
	r.byName[e.name] = e
	r.byAddr[addr] = e
	r.log.Info("worker added", zap.Uint32("name", e.name), zap.Stringer("addr", addr))
	r.flagListChange()
	return e.info(), true
}

// SetPushNotifier attaches the do-list hook for name's entry and arms it,
// so a freshly added worker receives its first list push.
func (r *Registry) SetPushNotifier(name uint32, n PushNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		e.pushItem = n
		n.SetNeedsInfo()
	}
}

// flagListChange raises the push flag on every entry. Callers hold r.mu.
func (r *Registry) flagListChange() {
	for _, e := range r.byName {
		if e.pushItem != nil {
			e.pushItem.SetNeedsInfo()
		}
	}
}

// Get returns the record for name.
func (r *Registry) Get(name uint32) (EntryInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return EntryInfo{}, false
	}
	return e.info(), true
}

// Touch records contact from the worker at addr and returns its name.
func (r *Registry) Touch(addr wire.NetAddress) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	e.lastContact = time.Now()
	return e.name, true
}

// Names returns all registered names in ascending order.
func (r *Registry) Names() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]uint32, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Snapshot returns copies of every entry, in name order.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryInfo, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

func (e *Entry) info() EntryInfo {
	return EntryInfo{
		Name:        e.name,
		Addr:        e.addr,
		Range:       e.rng,
		LastContact: e.lastContact,
	}
}

// RangeSpec converts the entry's range to its wire form.
func (i EntryInfo) RangeSpec() wire.RangeSpec {
	return wire.RangeSpec{
		Valid:     i.Range.Valid(),
		Min:       i.Range.Min(),
		Max:       i.Range.Max(),
		Unlimited: i.Range.Unlimited(),
	}
}
