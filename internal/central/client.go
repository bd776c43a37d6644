package central

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/keymap"
	"github.com/dreamware/keydir/internal/wire"
)

// ErrKeyConflict is returned by KeyInsert when the key is already mapped
// to a different (chunk, subchunk). The stored mapping wins; it is carried
// in the error text.
var ErrKeyConflict = errors.New("central: key already mapped to a different chunk")

// ErrPending is returned when an insert or lookup for the same key is
// already in flight on this client.
var ErrPending = errors.New("central: request for this key already pending")

// Client submits inserts and lookups to an entry worker and retries them
// through one-shot do-list items until the reply arrives. Retries are safe:
// inserts are idempotent on the same triple and lookups are read-only.
type Client struct {
	*Central
	worker wire.NetAddress

	mu      sync.Mutex
	inserts map[string]*pendingInsert
	lookups map[string]*pendingLookup
	stats   *pendingStats
}

type pendingInsert struct {
	item *clientRetryItem
	done chan error
	once sync.Once
	want keymap.ChunkSubchunk
}

func (p *pendingInsert) resolve(err error) {
	p.once.Do(func() {
		p.item.InfoReceived()
		p.done <- err
	})
}

type pendingLookup struct {
	item *clientRetryItem
	done chan wire.KeyInfo
	once sync.Once
}

func (p *pendingLookup) resolve(info wire.KeyInfo) {
	p.once.Do(func() {
		p.item.InfoReceived()
		p.done <- info
	})
}

type pendingStats struct {
	item *clientRetryItem
	done chan wire.MasterStats
	once sync.Once
}

func (p *pendingStats) resolve(stats wire.MasterStats) {
	p.once.Do(func() {
		p.item.InfoReceived()
		p.done <- stats
	})
}

// NewClient builds a client bound to opts.Self that talks to the cluster
// through the worker at entry. Any worker serves; out-of-range requests
// are forwarded inside the cluster and answered directly to this client.
func NewClient(opts Options, entry wire.NetAddress) (*Client, error) {
	if entry.IsZero() {
		return nil, errors.New("central: client requires a worker address")
	}
	core, err := newCentral(opts)
	if err != nil {
		return nil, err
	}
	c := &Client{
		Central: core,
		worker:  entry,
		inserts: make(map[string]*pendingInsert),
		lookups: make(map[string]*pendingLookup),
	}
	s := core.server
	s.Handle(wire.KindMsgReceived, c.handleMsgReceived)
	s.Handle(wire.KindKeyInsertComplete, c.handleInsertComplete)
	s.Handle(wire.KindKeyInfo, c.handleKeyInfo)
	s.Handle(wire.KindMastInfo, c.handleMastInfo)
	return c, nil
}

// KeyInsert stores key → (chunk, subchunk) in the cluster, blocking until
// the insert is acknowledged or ctx ends. A retry that lands on an entry
// this client already stored reads as success; a duplicate with a
// different stored mapping returns ErrKeyConflict.
func (c *Client) KeyInsert(ctx context.Context, key string, chunk, subchunk int32) error {
	want := keymap.ChunkSubchunk{Chunk: chunk, Subchunk: subchunk}
	p := &pendingInsert{done: make(chan error, 1), want: want}
	p.item = c.newRetryItem(func() {
		req := wire.KeyInsert{Requester: c.Self(), Key: key, Chunk: chunk, Subchunk: subchunk}
		c.sendMsg(c.worker, wire.KindWorkerInsertKeyReq, c.NextMsgID(), &req)
	})

	c.mu.Lock()
	if _, busy := c.inserts[key]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: insert %q", ErrPending, key)
	}
	c.inserts[key] = p
	c.mu.Unlock()

	c.RunAndAddDoListItem(p.item)
	defer func() {
		c.RemoveDoListItem(p.item)
		c.mu.Lock()
		delete(c.inserts, key)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		p.resolve(ctx.Err()) // unblock any late reply delivery
		return ctx.Err()
	case err := <-p.done:
		return err
	}
}

// KeyLookup resolves key to its stored mapping. found is false when no
// worker has the key.
func (c *Client) KeyLookup(ctx context.Context, key string) (cs keymap.ChunkSubchunk, found bool, err error) {
	p := &pendingLookup{done: make(chan wire.KeyInfo, 1)}
	p.item = c.newRetryItem(func() {
		req := wire.KeyLookup{Requester: c.Self(), Key: key}
		c.sendMsg(c.worker, wire.KindKeyInfoReq, c.NextMsgID(), &req)
	})

	c.mu.Lock()
	if _, busy := c.lookups[key]; busy {
		c.mu.Unlock()
		return keymap.ChunkSubchunk{}, false, fmt.Errorf("%w: lookup %q", ErrPending, key)
	}
	c.lookups[key] = p
	c.mu.Unlock()

	c.RunAndAddDoListItem(p.item)
	defer func() {
		c.RemoveDoListItem(p.item)
		c.mu.Lock()
		delete(c.lookups, key)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		p.resolve(wire.KeyInfo{})
		return keymap.ChunkSubchunk{}, false, ctx.Err()
	case info := <-p.done:
		return keymap.ChunkSubchunk{Chunk: info.Chunk, Subchunk: info.Subchunk}, info.Success, nil
	}
}

// MasterInfo asks the master for its stats, retrying until a MAST_INFO
// reply arrives or ctx ends.
func (c *Client) MasterInfo(ctx context.Context) (wire.MasterStats, error) {
	p := &pendingStats{done: make(chan wire.MasterStats, 1)}
	p.item = c.newRetryItem(func() {
		c.sendMsg(c.MasterAddr(), wire.KindMastInfoReq, c.NextMsgID())
	})

	c.mu.Lock()
	if c.stats != nil {
		c.mu.Unlock()
		return wire.MasterStats{}, fmt.Errorf("%w: master info", ErrPending)
	}
	c.stats = p
	c.mu.Unlock()

	c.RunAndAddDoListItem(p.item)
	defer func() {
		c.RemoveDoListItem(p.item)
		c.mu.Lock()
		c.stats = nil
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		p.resolve(wire.MasterStats{})
		return wire.MasterStats{}, ctx.Err()
	case stats := <-p.done:
		return stats, nil
	}
}

// handleMastInfo resolves a pending master-stats request.
func (c *Client) handleMastInfo(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var stats wire.MasterStats
	if err := wire.RetrievePayload(data, &stats); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p := c.stats
	c.mu.Unlock()
	if p != nil {
		p.resolve(stats)
	}
	return nil, nil
}

// newRetryItem wraps send in a one-shot do-list item whose interval walks
// an exponential back-off between re-sends.
func (c *Client) newRetryItem(send func()) *clientRetryItem {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.doListTick()
	bo.MaxInterval = 10 * c.doListTick()
	bo.MaxElapsedTime = 0 // the caller's context bounds the attempt

	item := &clientRetryItem{send: send, bo: bo}
	item.Init(c.doListTick(), 0, true)
	item.SetOwner(c.ownerLive)
	return item
}

// handleInsertComplete resolves the pending insert for the acknowledged
// key.
func (c *Client) handleInsertComplete(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var info wire.KeyInfo
	if err := wire.RetrievePayload(data, &info); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p := c.inserts[info.Key]
	c.mu.Unlock()
	if p == nil {
		c.log.Debug("insert ack for no pending key", zap.String("key", info.Key))
		return nil, nil
	}
	c.log.Info("key insert complete",
		zap.String("key", info.Key),
		zap.Int32("chunk", info.Chunk), zap.Int32("subchunk", info.Subchunk))
	p.resolve(nil)
	return nil, nil
}

// handleKeyInfo resolves the pending lookup for the answered key.
func (c *Client) handleKeyInfo(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var info wire.KeyInfo
	if err := wire.RetrievePayload(data, &info); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p := c.lookups[info.Key]
	c.mu.Unlock()
	if p == nil {
		c.log.Debug("lookup reply for no pending key", zap.String("key", info.Key))
		return nil, nil
	}
	p.resolve(info)
	return nil, nil
}

// handleMsgReceived examines error replies. A duplicate-key reply carries
// the stored mapping; when it matches what we asked to insert, the insert
// landed on an earlier retry and resolves as success.
func (c *Client) handleMsgReceived(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var body wire.MsgReceived
	if err := wire.RetrievePayload(data, &body); err != nil {
		return nil, err
	}
	if body.Status != wire.StatusDuplicateKey {
		if body.Status != wire.StatusSuccess {
			c.log.Warn("peer reported error",
				zap.Stringer("from", msg.Sender()),
				zap.Uint16("status", body.Status),
				zap.String("errmsg", body.ErrMsg))
		}
		return nil, nil
	}

	var stored wire.KeyInfo
	if err := wire.RetrievePayload(data, &stored); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p := c.inserts[stored.Key]
	c.mu.Unlock()
	if p == nil {
		return nil, nil
	}
	got := keymap.ChunkSubchunk{Chunk: stored.Chunk, Subchunk: stored.Subchunk}
	if got == p.want {
		p.resolve(nil)
		return nil, nil
	}
	p.resolve(fmt.Errorf("%w: %q is (%d, %d)", ErrKeyConflict, stored.Key, stored.Chunk, stored.Subchunk))
	return nil, nil
}

// clientRetryItem is the client's one-shot: it re-sends its request every
// interval, stretching the interval along a back-off schedule, until
// InfoReceived removes it from the list.
type clientRetryItem struct {
	dolist.ItemBase
	send func()
	bo   backoff.BackOff
}

func (i *clientRetryItem) CreateCommand() dolist.Command {
	return dolist.CommandFunc(func() {
		i.send()
		if d := i.bo.NextBackOff(); d != backoff.Stop {
			i.SetInterval(d)
		}
	})
}
