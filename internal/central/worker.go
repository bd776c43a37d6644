package central

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/directory"
	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/keymap"
	"github.com/dreamware/keydir/internal/keyrange"
	"github.com/dreamware/keydir/internal/transport"
	"github.com/dreamware/keydir/internal/wire"
)

// Worker owns a contiguous slice of the keyspace. It registers with the
// master until it is given a name, keeps a directory cache of its peers,
// and serves or forwards insert and lookup requests.
type Worker struct {
	*Central
	cache *directory.Cache
	keys  *keymap.Map

	mu        sync.Mutex // guards name, nameValid, rng
	rng       keyrange.Range
	name      uint32
	nameValid bool

	itemsMu   sync.Mutex
	infoItems map[uint32]*workerInfoItem

	registerItem *registerItem
	listItem     *listRefreshItem

	infoRefresh time.Duration
}

// NewWorker builds a worker bound to opts.Self that coordinates through
// opts.Master.
func NewWorker(opts Options) (*Worker, error) {
	if opts.Master.IsZero() {
		return nil, errors.New("central: worker requires a master address")
	}
	core, err := newCentral(opts)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		Central:     core,
		cache:       directory.NewCache(core.log.Named("cache")),
		keys:        keymap.New(),
		infoItems:   make(map[uint32]*workerInfoItem),
		infoRefresh: 15 * core.doListTick(),
	}

	w.registerItem = &registerItem{worker: w}
	w.registerItem.Init(2*core.doListTick(), 0, false)
	w.registerItem.SetOwner(core.ownerLive)

	w.listItem = &listRefreshItem{worker: w}
	w.listItem.Init(2*core.doListTick(), 5*core.doListTick(), false)
	w.listItem.SetOwner(core.ownerLive)

	s := core.server
	s.Handle(wire.KindMsgReceived, w.handleMsgReceived)
	s.Handle(wire.KindMastWorkerList, w.handleWorkerList)
	s.Handle(wire.KindMastWorkerInfo, w.handleWorkerInfo)
	s.Handle(wire.KindWorkerInsertKeyReq, w.handleInsert)
	s.Handle(wire.KindKeyInfoReq, w.handleLookup)
	return w, nil
}

// Run registers with the master and serves until ctx is canceled. The
// registration item fires immediately and keeps re-firing until the master
// hands back our name through a worker-info message.
func (w *Worker) Run(ctx context.Context) error {
	w.RunAndAddDoListItem(w.registerItem)
	w.AddDoListItem(w.listItem)
	return w.Central.Run(ctx)
}

// Name returns the master-assigned name, and false while unassigned.
func (w *Worker) Name() (uint32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.name, w.nameValid
}

// Range returns a copy of the owned range.
func (w *Worker) Range() keyrange.Range {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng
}

// SetRange replaces the owned range. Only the owning worker mutates its
// range after bootstrap; this is the administrative entry point for it.
func (w *Worker) SetRange(min, max string, unlimited bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.SetMinMax(min, max, unlimited)
}

// Cache returns the worker's directory cache.
func (w *Worker) Cache() *directory.Cache { return w.cache }

// Keys returns the worker's key map.
func (w *Worker) Keys() *keymap.Map { return w.keys }

// handleMsgReceived absorbs acknowledgments addressed to the worker.
func (w *Worker) handleMsgReceived(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var body wire.MsgReceived
	if err := wire.RetrievePayload(data, &body); err != nil {
		return nil, err
	}
	if body.Status != wire.StatusSuccess {
		w.log.Warn("peer reported error",
			zap.Stringer("from", msg.Sender()),
			zap.Uint16("status", body.Status),
			zap.String("errmsg", body.ErrMsg))
	}
	return nil, nil
}

// handleWorkerList records every name the master lists and hangs an info
// request off each new one.
func (w *Worker) handleWorkerList(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var list wire.WorkerList
	if err := wire.RetrievePayload(data, &list); err != nil {
		return nil, err
	}
	for _, name := range list.Names {
		if w.cache.EnsureName(name) {
			w.ensureInfoItem(name)
		}
	}
	w.listItem.InfoReceived()
	return nil, nil
}

// handleWorkerInfo merges one worker record into the cache. A record
// naming our own address carries our name and, at bootstrap, our range.
func (w *Worker) handleWorkerInfo(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var info wire.WorkerInfo
	if err := wire.RetrievePayload(data, &info); err != nil {
		return nil, err
	}

	if info.Address == w.Self() {
		w.adoptSelf(info)
	}

	w.cache.Update(info.Name, info.Address, info.Range)

	w.itemsMu.Lock()
	item := w.infoItems[info.Name]
	w.itemsMu.Unlock()
	if item != nil {
		item.InfoReceived()
	}
	return nil, nil
}

// adoptSelf takes the name (once) and, while our range is invalid, the
// range from a record describing this worker. The range hand-off is how
// the first worker receives the all-inclusive range.
func (w *Worker) adoptSelf(info wire.WorkerInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.nameValid:
		w.name = info.Name
		w.nameValid = true
		w.log.Info("name assigned", zap.Uint32("name", info.Name))
		w.registerItem.InfoReceived()
	case w.name != info.Name:
		w.log.Error("master disagrees about our name",
			zap.Uint32("ours", w.name), zap.Uint32("masters", info.Name))
	}
	if info.Range.Valid && !w.rng.Valid() {
		if err := w.rng.SetMinMax(info.Range.Min, info.Range.Max, info.Range.Unlimited); err != nil {
			w.log.Error("rejected range from master", zap.Error(err))
			return
		}
		w.log.Info("range adopted", zap.Stringer("range", w.rng))
	}
}

// handleInsert serves WORKER_INSERT_KEY_REQ: store locally when the key is
// ours, otherwise forward to the owner. All replies go to the requester
// address inside the payload, not to the message sender, so forwarded
// requests are answered directly to the client.
func (w *Worker) handleInsert(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var req wire.KeyInsert
	if err := wire.RetrievePayload(data, &req); err != nil {
		return nil, err
	}

	w.mu.Lock()
	local := w.rng.In(req.Key)
	w.mu.Unlock()

	if !local {
		w.forward(msg, wire.KindWorkerInsertKeyReq, req.Key, &req)
		return nil, nil
	}

	stored, err := w.keys.Insert(req.Key, keymap.ChunkSubchunk{Chunk: req.Chunk, Subchunk: req.Subchunk})
	if errors.Is(err, keymap.ErrDuplicateKey) {
		w.log.Info("duplicate key insert",
			zap.String("key", req.Key),
			zap.Int32("chunk", stored.Chunk), zap.Int32("subchunk", stored.Subchunk))
		existing := wire.KeyInfo{Key: req.Key, Chunk: stored.Chunk, Subchunk: stored.Subchunk, Success: true}
		reply, berr := transport.BuildMsgReceived(w.Self(), msg, wire.StatusDuplicateKey, "duplicate key", &existing)
		if berr != nil {
			return nil, berr
		}
		if serr := w.SendTo(req.Requester, reply); serr != nil {
			w.log.Warn("duplicate reply send failed", zap.Error(serr))
		}
		return nil, nil
	}

	w.met.KeysInserted.Inc()
	w.log.Info("key inserted",
		zap.String("key", req.Key),
		zap.Int32("chunk", stored.Chunk), zap.Int32("subchunk", stored.Subchunk))
	done := wire.KeyInfo{Key: req.Key, Chunk: stored.Chunk, Subchunk: stored.Subchunk, Success: true}
	w.sendMsg(req.Requester, wire.KindKeyInsertComplete, msg.ID, &done)
	return nil, nil
}

// handleLookup serves KEY_INFO_REQ the same way: local answer or forward.
func (w *Worker) handleLookup(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var req wire.KeyLookup
	if err := wire.RetrievePayload(data, &req); err != nil {
		return nil, err
	}

	w.mu.Lock()
	local := w.rng.In(req.Key)
	w.mu.Unlock()

	if !local {
		w.forward(msg, wire.KindKeyInfoReq, req.Key, &req)
		return nil, nil
	}

	reply := wire.KeyInfo{Key: req.Key}
	if cs, ok := w.keys.Lookup(req.Key); ok {
		reply.Chunk = cs.Chunk
		reply.Subchunk = cs.Subchunk
		reply.Success = true
	}
	w.sendMsg(req.Requester, wire.KindKeyInfo, msg.ID, &reply)
	return nil, nil
}

// forward re-serializes a request for the worker whose range covers key.
// When the cache has no owner for the key yet, the request is dropped and
// the client's one-shot retries after the cache catches up.
func (w *Worker) forward(msg wire.Msg, kind uint16, key string, payload wire.Payload) {
	target, ok := w.cache.FindWorkerForKey(key)
	if !ok {
		w.log.Debug("no owner for key, dropping", zap.String("key", key))
		return
	}
	if target.Addr == w.Self() {
		// The cache claims we own the key but the local range says
		// otherwise: the cache is stale. Never forward to ourselves.
		w.log.Debug("stale cache points key at us, dropping", zap.String("key", key))
		return
	}
	w.met.Forwards.Inc()
	w.log.Debug("forwarding",
		zap.String("kind", wire.KindName(kind)),
		zap.String("key", key), zap.Uint32("to", target.Name))
	w.sendMsg(target.Addr, kind, msg.ID, payload)
}

// ensureInfoItem hangs a worker-info request off name if none exists yet.
func (w *Worker) ensureInfoItem(name uint32) {
	w.itemsMu.Lock()
	defer w.itemsMu.Unlock()
	if _, ok := w.infoItems[name]; ok {
		return
	}
	item := &workerInfoItem{worker: w, name: name}
	item.Init(2*w.doListTick(), w.infoRefresh, false)
	item.SetOwner(w.ownerLive)
	w.infoItems[name] = item
	w.AddDoListItem(item)
}

// registerItem re-sends MAST_WORKER_ADD_REQ until a worker-info reply from
// the master reveals our name.
type registerItem struct {
	dolist.ItemBase
	worker *Worker
}

func (i *registerItem) CreateCommand() dolist.Command {
	w := i.worker
	return dolist.CommandFunc(func() {
		self := w.Self()
		w.log.Debug("registering with master", zap.Stringer("master", w.MasterAddr()))
		w.sendMsg(w.MasterAddr(), wire.KindMastWorkerAddReq, w.NextMsgID(), &self)
	})
}

// listRefreshItem periodically asks the master for the worker list; its
// refresh interval keeps the cache from going stale between pushes.
type listRefreshItem struct {
	dolist.ItemBase
	worker *Worker
}

func (i *listRefreshItem) CreateCommand() dolist.Command {
	w := i.worker
	return dolist.CommandFunc(func() {
		self := w.Self()
		w.sendMsg(w.MasterAddr(), wire.KindMastWorkerListReq, w.NextMsgID(), &self)
	})
}

// workerInfoItem asks the master for one worker's record until address and
// range arrive, then re-checks at the refresh interval so later range
// changes propagate.
type workerInfoItem struct {
	dolist.ItemBase
	worker *Worker
	name   uint32
}

func (i *workerInfoItem) CreateCommand() dolist.Command {
	w := i.worker
	name := i.name
	return dolist.CommandFunc(func() {
		req := wire.WorkerInfoReq{Requester: w.Self(), Name: name}
		w.sendMsg(w.MasterAddr(), wire.KindMastWorkerInfoReq, w.NextMsgID(), &req)
	})
}
