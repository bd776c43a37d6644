package dolist

import (
	"sync"

	"go.uber.org/zap"
)

// Command is a unit of work produced by a do-list item's factory or queued
// directly by a message handler.
type Command interface {
	Run()
}

// CommandFunc adapts a plain function to the Command interface.
type CommandFunc func()

// Run calls f.
func (f CommandFunc) Run() { f() }

// Pool is a bounded worker pool with a FIFO queue. Every keydir process
// runs one pool shared between the do-list checker and the UDP dispatcher,
// so handler work and periodic maintenance never block the I/O loop.
type Pool struct {
	log    *zap.Logger
	queue  chan Command
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// DefaultWorkers is the pool size used by every process unless configured
// otherwise.
const DefaultWorkers = 10

// NewPool starts workers goroutines draining a queue of the given depth.
func NewPool(workers, depth int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if depth <= 0 {
		depth = workers * 16
	}
	p := &Pool{
		log:   log,
		queue: make(chan Command, depth),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for cmd := range p.queue {
		cmd.Run()
	}
}

// Enqueue queues cmd for execution. It returns false when the pool has
// been shut down or the queue is full; the caller's do-list item stays
// armed and will re-fire, so dropping here is safe.
func (p *Pool) Enqueue(cmd Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- cmd:
		return true
	default:
		p.log.Warn("pool queue full, dropping command")
		return false
	}
}

// Shutdown stops accepting work and blocks until queued commands finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
