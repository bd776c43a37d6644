package central

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/metrics"
	"github.com/dreamware/keydir/internal/transport"
	"github.com/dreamware/keydir/internal/wire"
)

// Options configures a process core. Self and (for workers and clients)
// Master are required; everything else has a sensible default.
type Options struct {
	Log    *zap.Logger
	Clock  clockwork.Clock
	Prom   prometheus.Registerer
	Self   wire.NetAddress
	Master wire.NetAddress

	// Tick is the do-list sweep interval; it bounds every retry rate in
	// the process. Defaults to dolist.DefaultTick.
	Tick time.Duration

	// PoolWorkers is the handler pool size. Defaults to
	// dolist.DefaultWorkers.
	PoolWorkers int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Log == nil {
		out.Log = zap.NewNop()
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Prom == nil {
		out.Prom = prometheus.NewRegistry()
	}
	if out.Tick <= 0 {
		out.Tick = dolist.DefaultTick
	}
	if out.PoolWorkers <= 0 {
		out.PoolWorkers = dolist.DefaultWorkers
	}
	return out
}

// Central is the shared core of every process: socket, pool, do-list,
// message-id sequence, and the master's address.
type Central struct {
	log     *zap.Logger
	clock   clockwork.Clock
	met     *metrics.Metrics
	pool    *dolist.Pool
	doList  *dolist.DoList
	server  *transport.Server
	master  wire.NetAddress
	started time.Time
	tick    time.Duration
	seq     atomic.Uint64
	alive   atomic.Bool
}

// newCentral binds the socket and builds the shared plumbing. The returned
// core is not running yet; Run starts the loops.
func newCentral(opts Options) (*Central, error) {
	opts = opts.withDefaults()
	if opts.Self.IsZero() {
		return nil, errors.New("central: self address required")
	}
	met := metrics.New(opts.Prom)
	pool := dolist.NewPool(opts.PoolWorkers, 0, opts.Log)
	server, err := transport.NewServer(opts.Self, pool, met, opts.Log)
	if err != nil {
		pool.Shutdown()
		return nil, err
	}
	c := &Central{
		log:     opts.Log,
		clock:   opts.Clock,
		met:     met,
		pool:    pool,
		doList:  dolist.New(pool, opts.Tick, opts.Clock, opts.Log),
		server:  server,
		master:  opts.Master,
		started: time.Now(),
		tick:    opts.Tick,
	}
	c.alive.Store(true)
	return c, nil
}

// NextMsgID returns the next message id for this process. Ids start at 1
// and never repeat within a process lifetime.
func (c *Central) NextMsgID() uint64 { return c.seq.Add(1) }

// Self returns the address this process is bound to.
func (c *Central) Self() wire.NetAddress { return c.server.Self() }

// MasterAddr returns the configured master endpoint.
func (c *Central) MasterAddr() wire.NetAddress { return c.master }

// ErrCount returns the transport's parse-error count.
func (c *Central) ErrCount() int64 { return c.server.ErrCount() }

// SendTo sends the already-framed buf as one datagram to addr.
func (c *Central) SendTo(addr wire.NetAddress, buf *wire.Buffer) error {
	return c.server.SendTo(addr, buf)
}

// AddDoListItem puts item on the do-list.
func (c *Central) AddDoListItem(item dolist.Item) bool { return c.doList.Add(item) }

// RunAndAddDoListItem fires item immediately and keeps it on the list.
func (c *Central) RunAndAddDoListItem(item dolist.Item) bool { return c.doList.RunItemNow(item) }

// RemoveDoListItem takes item off the do-list.
func (c *Central) RemoveDoListItem(item dolist.Item) { c.doList.Remove(item) }

// QueueCmd runs cmd on the worker pool.
func (c *Central) QueueCmd(cmd dolist.Command) { c.pool.Enqueue(cmd) }

// ownerLive is the liveness probe handed to do-list items owned by this
// core; once Run returns, every item is dropped on the next sweep.
func (c *Central) ownerLive() bool { return c.alive.Load() }

// doListTick exposes the configured sweep interval to role constructors,
// which derive their item intervals from it.
func (c *Central) doListTick() time.Duration { return c.tick }

// Run drives the receive loop and the do-list sweep until ctx is canceled,
// then drains the pool. It returns nil on a clean shutdown.
func (c *Central) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.server.Run(ctx) })
	g.Go(func() error { return c.doList.Loop(ctx) })
	err := g.Wait()
	c.alive.Store(false)
	c.pool.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildMsg serializes an envelope of the given kind plus payloads into a
// fresh buffer.
func (c *Central) buildMsg(kind uint16, id uint64, payloads ...wire.Payload) (*wire.Buffer, error) {
	out := wire.NewBuffer(wire.MaxMsgSize)
	env := wire.NewMsg(kind, id, c.Self())
	if err := env.SerializeTo(out); err != nil {
		return nil, err
	}
	for _, p := range payloads {
		if err := wire.AppendPayload(out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sendMsg builds and sends in one step, logging (not returning) transport
// failures: the caller's do-list item stays armed and the send re-fires.
func (c *Central) sendMsg(to wire.NetAddress, kind uint16, id uint64, payloads ...wire.Payload) {
	buf, err := c.buildMsg(kind, id, payloads...)
	if err != nil {
		c.log.Error("build message", zap.String("kind", wire.KindName(kind)), zap.Error(err))
		return
	}
	if err := c.SendTo(to, buf); err != nil {
		c.log.Warn("send failed",
			zap.String("kind", wire.KindName(kind)), zap.Stringer("to", to), zap.Error(err))
	}
}
