package central

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keydir/internal/directory"
	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/wire"
)

// Master is the cluster controller: it accepts worker registrations,
// allocates names, seeds the bootstrap range, and pushes the worker list
// to every worker whose push flag is raised.
type Master struct {
	*Central
	registry *directory.Registry
	monitor  *directory.ContactMonitor

	// pushInterval paces per-worker list pushes between sweeps.
	pushInterval time.Duration
}

// NewMaster builds a master bound to opts.Self. The master ignores
// opts.Master; it is its own coordinator.
func NewMaster(opts Options) (*Master, error) {
	core, err := newCentral(opts)
	if err != nil {
		return nil, err
	}
	m := &Master{
		Central:      core,
		registry:     directory.NewRegistry(core.log.Named("registry")),
		pushInterval: 2 * core.doListTick(),
	}
	m.monitor = directory.NewContactMonitor(m.registry, 10*time.Second, time.Minute, core.log.Named("contact"))

	s := core.server
	s.Handle(wire.KindMsgReceived, m.handleMsgReceived)
	s.Handle(wire.KindMastInfoReq, m.handleInfoReq)
	s.Handle(wire.KindMastWorkerAddReq, m.handleWorkerAdd)
	s.Handle(wire.KindMastWorkerListReq, m.handleWorkerListReq)
	s.Handle(wire.KindMastWorkerInfoReq, m.handleWorkerInfoReq)
	return m, nil
}

// Registry exposes the authoritative directory, mainly for tests.
func (m *Master) Registry() *directory.Registry { return m.registry }

// Run starts the core loops plus the contact monitor and blocks until ctx
// is canceled.
func (m *Master) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Central.Run(ctx) })
	g.Go(func() error { return m.monitor.Run(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleMsgReceived absorbs acknowledgments. The master sends list pushes
// optimistically and does not track acks, so there is nothing to do beyond
// noting the contact.
func (m *Master) handleMsgReceived(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var body wire.MsgReceived
	if err := wire.RetrievePayload(data, &body); err != nil {
		return nil, err
	}
	if body.Status != wire.StatusSuccess {
		m.log.Warn("peer reported error",
			zap.Stringer("from", msg.Sender()),
			zap.Uint16("status", body.Status),
			zap.String("errmsg", body.ErrMsg))
	}
	return nil, nil
}

// handleInfoReq replies with coarse master stats.
func (m *Master) handleInfoReq(msg wire.Msg, _ *wire.Buffer) (*wire.Buffer, error) {
	stats := wire.MasterStats{
		WorkerCount: uint32(m.registry.Len()),
		UptimeSec:   uint32(time.Since(m.started) / time.Second),
		ErrCount:    uint32(m.ErrCount()),
	}
	return m.buildMsg(wire.KindMastInfo, msg.ID, &stats)
}

// handleWorkerAdd registers the worker whose address is in the payload.
// No reply is sent; the subsequent list push conveys the assignment, and
// the worker keeps re-sending the registration until it learns its name.
func (m *Master) handleWorkerAdd(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var addr wire.NetAddress
	if err := wire.RetrievePayload(data, &addr); err != nil {
		return nil, err
	}
	info, added := m.registry.AddWorker(addr)
	if added {
		item := &sendListItem{master: m, target: addr, name: info.Name}
		item.Init(m.pushInterval, 0, false)
		item.SetOwner(m.ownerLive)
		m.registry.SetPushNotifier(info.Name, item)
		m.AddDoListItem(item)
	}
	return nil, nil
}

// handleWorkerListReq sends the current worker list to the requester
// address carried in the payload.
func (m *Master) handleWorkerListReq(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var addr wire.NetAddress
	if err := wire.RetrievePayload(data, &addr); err != nil {
		return nil, err
	}
	m.registry.Touch(addr)
	m.sendWorkerList(msg.ID, addr)
	return nil, nil
}

// handleWorkerInfoReq sends one worker's full record to the requester.
// An unknown name gets no reply; the asker's do-list item re-fires after
// the next list refresh corrects it.
func (m *Master) handleWorkerInfoReq(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
	var req wire.WorkerInfoReq
	if err := wire.RetrievePayload(data, &req); err != nil {
		return nil, err
	}
	m.registry.Touch(req.Requester)
	info, ok := m.registry.Get(req.Name)
	if !ok {
		m.log.Warn("info request for unknown worker",
			zap.Uint32("name", req.Name), zap.Stringer("from", req.Requester))
		return nil, nil
	}
	payload := wire.WorkerInfo{Name: info.Name, Address: info.Addr, Range: info.RangeSpec()}
	m.sendMsg(req.Requester, wire.KindMastWorkerInfo, m.NextMsgID(), &payload)
	return nil, nil
}

// sendWorkerList serializes the current list and sends it to addr.
func (m *Master) sendWorkerList(id uint64, addr wire.NetAddress) {
	names := m.registry.Names()
	payload := wire.WorkerList{Count: uint32(len(names)), Names: names}
	m.sendMsg(addr, wire.KindMastWorkerList, id, &payload)
}

// sendListItem is the per-worker do-list item that pushes the list to its
// worker whenever the registry raises the push flag. Push success is
// assumed; the registry re-raises the flag on every later mutation, and a
// worker that missed a push asks for the list itself.
type sendListItem struct {
	dolist.ItemBase
	master *Master
	target wire.NetAddress
	name   uint32
}

// CreateCommand serializes the current list and sends it to the item's
// worker, then disarms the item.
func (i *sendListItem) CreateCommand() dolist.Command {
	return dolist.CommandFunc(func() {
		i.master.sendWorkerList(i.master.NextMsgID(), i.target)
		i.InfoReceived()
	})
}
