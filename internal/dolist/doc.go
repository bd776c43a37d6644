// Package dolist implements the cooperative task list that drives all
// periodic maintenance in a keydir process: worker registration, list
// refresh, per-worker info requests, master list pushes, and client
// retries.
//
// A do-list item pairs a "needs info" flag with a command factory. A
// checker goroutine sweeps the list at a coarse interval; every armed item
// whose minimum interval has elapsed gets its command enqueued on a shared
// worker pool. Commands clear the flag via InfoReceived when the awaited
// state arrives; until then the item stays armed and re-fires, which is the
// only retry mechanism in the system: datagram loss simply means the
// clearer never ran.
//
// Item lifecycle:
//
//	CREATED ──Add──► ARMED ──tick&ready──► ENQUEUED ──InfoReceived──► IDLE
//	                  ▲                                                 │
//	                  └───────── refresh interval elapsed ──────────────┘
//	any state ── owner gone / one-shot satisfied ──► REMOVED
//
// Items hold their owner weakly, as a liveness probe: once the owning
// component reports itself gone, the next sweep drops the item. One-shot
// items are dropped as soon as they are satisfied.
//
// The checker never blocks on component mutexes and handlers never run on
// the checker goroutine; all work happens on the pool.
package dolist
