package dolist

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Item is an entry on the do-list. Implementations embed ItemBase for the
// flag and timing bookkeeping and provide the command factory.
type Item interface {
	// CreateCommand returns the unit of work to enqueue, or nil when the
	// factory cannot produce one right now; the item stays armed either way.
	CreateCommand() Command

	// Ready reports whether the item should fire now, re-arming the item
	// first when its refresh interval has lapsed since the last InfoReceived.
	Ready(now time.Time) bool

	// MarkRun records that the item's command was enqueued at now.
	MarkRun(now time.Time)

	// SetNeedsInfo arms the item: the state it monitors is stale or unset.
	SetNeedsInfo()

	// InfoReceived disarms the item: the awaited state has arrived.
	InfoReceived()

	// NeedsInfo reports whether the item is currently armed.
	NeedsInfo() bool

	// OneShot reports whether the item should be removed once satisfied.
	OneShot() bool

	// OwnerLive reports whether the owning component still exists. Items
	// whose owner is gone are dropped on the next sweep.
	OwnerLive() bool
}

// ItemBase carries the shared do-list item state. The zero value is not
// usable; call Init before adding the item to a list.
//
// Two durations govern firing:
//   - interval: minimum time between fires while the item is armed. This is
//     the retry pacing; raising it between fires gives back-off.
//   - refresh: time after InfoReceived before the item re-arms itself.
//     Zero means the item stays idle until someone calls SetNeedsInfo.
type ItemBase struct {
	mu        sync.Mutex
	owner     func() bool
	clock     clockwork.Clock
	lastRun   time.Time
	lastInfo  time.Time
	interval  time.Duration
	refresh   time.Duration
	needsInfo bool
	oneShot   bool
}

// Init prepares the base: armed, with the given fire interval and refresh
// period. A zero interval fires on every sweep.
func (i *ItemBase) Init(interval, refresh time.Duration, oneShot bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.interval = interval
	i.refresh = refresh
	i.oneShot = oneShot
	i.needsInfo = true
	if i.clock == nil {
		i.clock = clockwork.NewRealClock()
	}
}

// SetClock replaces the clock used to stamp InfoReceived. DoList.Add calls
// this so items share the list's clock; tests rely on it.
func (i *ItemBase) SetClock(c clockwork.Clock) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clock = c
}

// SetOwner installs the owner liveness probe. A nil probe means the owner
// lives as long as the list does.
func (i *ItemBase) SetOwner(live func() bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.owner = live
}

// SetInterval replaces the fire interval. Client one-shots walk this up a
// back-off schedule between fires.
func (i *ItemBase) SetInterval(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.interval = d
}

// SetNeedsInfo arms the item.
func (i *ItemBase) SetNeedsInfo() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.needsInfo = true
}

// InfoReceived disarms the item and starts the refresh period.
func (i *ItemBase) InfoReceived() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.needsInfo = false
	if i.clock == nil {
		i.clock = clockwork.NewRealClock()
	}
	i.lastInfo = i.clock.Now()
}

// NeedsInfo reports whether the item is armed.
func (i *ItemBase) NeedsInfo() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.needsInfo
}

// OneShot reports whether the item is removed once satisfied.
func (i *ItemBase) OneShot() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.oneShot
}

// OwnerLive reports whether the owning component still exists.
func (i *ItemBase) OwnerLive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.owner == nil || i.owner()
}

// Ready reports whether the item should fire at now. An idle item whose
// refresh period has lapsed re-arms first; an armed item is ready once its
// interval has passed since the last fire.
func (i *ItemBase) Ready(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.needsInfo {
		if i.refresh > 0 && now.Sub(i.lastInfo) >= i.refresh {
			i.needsInfo = true
		} else {
			return false
		}
	}
	return i.lastRun.IsZero() || now.Sub(i.lastRun) >= i.interval
}

// MarkRun records the fire time.
func (i *ItemBase) MarkRun(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastRun = now
}
