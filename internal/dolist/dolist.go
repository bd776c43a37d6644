package dolist

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultTick is the coarse sweep interval. It bounds the retry rate of
// every item on the list.
const DefaultTick = time.Second

// DoList is the registry of maintenance items for one process. A single
// checker goroutine sweeps the list; ready items have their commands
// enqueued on the shared pool. All methods are safe for concurrent use.
type DoList struct {
	log   *zap.Logger
	clock clockwork.Clock
	pool  *Pool
	tick  time.Duration

	mu    sync.Mutex
	items []Item
}

// New returns a DoList sweeping at tick intervals (DefaultTick when zero)
// and running commands on pool. The clock is injectable for tests.
func New(pool *Pool, tick time.Duration, clock clockwork.Clock, log *zap.Logger) *DoList {
	if tick <= 0 {
		tick = DefaultTick
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DoList{log: log, clock: clock, pool: pool, tick: tick}
}

// Add puts item on the list. Adding the same item twice is a no-op. The
// item inherits the list's clock.
func (d *DoList) Add(item Item) bool {
	if c, ok := item.(interface{ SetClock(clockwork.Clock) }); ok {
		c.SetClock(d.clock)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range d.items {
		if it == item {
			return false
		}
	}
	d.items = append(d.items, item)
	return true
}

// Remove takes item off the list if present.
func (d *DoList) Remove(item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, it := range d.items {
		if it == item {
			d.items = append(d.items[:i], d.items[i+1:]...)
			return
		}
	}
}

// RunItemNow enqueues item's command immediately, outside the sweep, and
// adds the item so it keeps re-firing until satisfied. Registration uses
// this to send the first request without waiting a tick.
func (d *DoList) RunItemNow(item Item) bool {
	now := d.clock.Now()
	if cmd := item.CreateCommand(); cmd != nil {
		item.MarkRun(now)
		d.pool.Enqueue(cmd)
	}
	return d.Add(item)
}

// Len returns the number of items currently on the list.
func (d *DoList) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Check performs one sweep: drops items whose owner is gone and one-shots
// that are satisfied, then enqueues a command for every ready item. A
// factory returning nil leaves its item armed for the next sweep.
func (d *DoList) Check() {
	now := d.clock.Now()

	d.mu.Lock()
	kept := d.items[:0]
	var ready []Item
	for _, item := range d.items {
		if !item.OwnerLive() {
			continue
		}
		if item.OneShot() && !item.NeedsInfo() {
			continue
		}
		kept = append(kept, item)
		if item.Ready(now) {
			ready = append(ready, item)
		}
	}
	d.items = kept
	d.mu.Unlock()

	for _, item := range ready {
		cmd := item.CreateCommand()
		if cmd == nil {
			continue
		}
		item.MarkRun(now)
		d.pool.Enqueue(cmd)
	}
}

// Loop sweeps the list at the tick interval until ctx is canceled. Run it
// on its own goroutine; it is the process's only timer.
func (d *DoList) Loop(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			d.Check()
		}
	}
}
