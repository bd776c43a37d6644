// Package integration spins up a master, two workers, and a client inside
// one test process, on loopback UDP with ephemeral ports, and walks the
// cluster through its life: bootstrap, second-worker agreement, local
// insert, forwarded lookup, and the duplicate-key path.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/keydir/internal/central"
	"github.com/dreamware/keydir/internal/keymap"
	"github.com/dreamware/keydir/internal/wire"
)

// tick is the do-list sweep interval for the test cluster: fast enough
// that registration and list pushes settle in well under a second.
const tick = 25 * time.Millisecond

const (
	waitFor = 5 * time.Second
	poll    = 25 * time.Millisecond
)

func startMaster(t *testing.T, ctx context.Context) *central.Master {
	t.Helper()
	m, err := central.NewMaster(central.Options{
		Log:  zaptest.NewLogger(t).Named("master"),
		Self: wire.NetAddress{Host: "127.0.0.1", Port: 0},
		Tick: tick,
	})
	require.NoError(t, err)
	go func() { _ = m.Run(ctx) }()
	return m
}

func startWorker(t *testing.T, ctx context.Context, name string, master wire.NetAddress) *central.Worker {
	t.Helper()
	w, err := central.NewWorker(central.Options{
		Log:    zaptest.NewLogger(t).Named(name),
		Self:   wire.NetAddress{Host: "127.0.0.1", Port: 0},
		Master: master,
		Tick:   tick,
	})
	require.NoError(t, err)
	go func() { _ = w.Run(ctx) }()
	return w
}

func startClient(t *testing.T, ctx context.Context, master, entry wire.NetAddress) *central.Client {
	t.Helper()
	c, err := central.NewClient(central.Options{
		Log:    zaptest.NewLogger(t).Named("client"),
		Self:   wire.NetAddress{Host: "127.0.0.1", Port: 0},
		Master: master,
		Tick:   tick,
	}, entry)
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()
	return c
}

func TestClusterLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	master := startMaster(t, ctx)

	// Bootstrap: worker A registers, the master assigns it a name and the
	// all-inclusive range, and A's list refresh reveals both.
	workerA := startWorker(t, ctx, "workerA", master.Self())
	require.Eventually(t, func() bool {
		_, named := workerA.Name()
		return named
	}, waitFor, poll, "worker A never learned its name")

	nameA, _ := workerA.Name()
	require.Eventually(t, func() bool {
		return workerA.Range().Valid()
	}, waitFor, poll, "worker A never adopted the bootstrap range")

	rngA := workerA.Range()
	assert.True(t, rngA.Unlimited(), "first worker gets the unlimited range")
	assert.Equal(t, "", rngA.Min())

	// Second worker: B registers and within the agreement window both
	// caches hold the same name set {A, B}.
	workerB := startWorker(t, ctx, "workerB", master.Self())
	require.Eventually(t, func() bool {
		_, named := workerB.Name()
		return named
	}, waitFor, poll, "worker B never learned its name")
	nameB, _ := workerB.Name()
	assert.NotEqual(t, nameA, nameB)
	assert.False(t, workerB.Range().Valid(), "only the first worker is seeded with a range")

	require.Eventually(t, func() bool {
		a, b := workerA.Cache().Names(), workerB.Cache().Names()
		return len(a) == 2 && assert.ObjectsAreEqual(a, b)
	}, waitFor, poll, "worker caches never agreed on the name set")

	// Local insert: A owns everything, so the insert lands on A and the
	// ack carries the stored mapping.
	client := startClient(t, ctx, master.Self(), workerA.Self())
	insertCtx, cancelInsert := context.WithTimeout(ctx, waitFor)
	defer cancelInsert()
	require.NoError(t, client.KeyInsert(insertCtx, "object42", 7, 3))

	cs, ok := workerA.Keys().Lookup("object42")
	require.True(t, ok)
	assert.Equal(t, keymap.ChunkSubchunk{Chunk: 7, Subchunk: 3}, cs)

	// Duplicate insert: same key, different mapping. The stored (7, 3)
	// wins and comes back inside the duplicate-key reply.
	dupCtx, cancelDup := context.WithTimeout(ctx, waitFor)
	defer cancelDup()
	err := client.KeyInsert(dupCtx, "object42", 9, 9)
	require.ErrorIs(t, err, central.ErrKeyConflict)
	cs, _ = workerA.Keys().Lookup("object42")
	assert.Equal(t, keymap.ChunkSubchunk{Chunk: 7, Subchunk: 3}, cs, "duplicate must not overwrite")

	// Idempotent retry: re-inserting the identical triple reads as
	// success even though the worker reports a duplicate.
	retryCtx, cancelRetry := context.WithTimeout(ctx, waitFor)
	defer cancelRetry()
	require.NoError(t, client.KeyInsert(retryCtx, "object42", 7, 3))

	// Forwarded lookup: split the keyspace by hand (A takes ["", "m"],
	// B takes ["m", ∞)) and teach A's cache where B's range now is by hand;
	// the master never learns of this split. A key past "m" sent to A must
	// be answered by B, directly to the client.
	require.NoError(t, workerA.SetRange("", "m", false))
	require.NoError(t, workerB.SetRange("m", "", true))
	workerA.Cache().Update(nameB, workerB.Self(),
		wire.RangeSpec{Valid: true, Min: "m", Unlimited: true})
	workerA.Cache().Update(nameA, workerA.Self(),
		wire.RangeSpec{Valid: true, Min: "", Max: "m"})

	lookupCtx, cancelLookup := context.WithTimeout(ctx, waitFor)
	defer cancelLookup()
	cs, found, err := client.KeyLookup(lookupCtx, "zulu")
	require.NoError(t, err)
	assert.False(t, found, "zulu was never inserted")
	assert.Equal(t, keymap.ChunkSubchunk{}, cs, "not-found zeroes the mapping")

	// And a forwarded lookup that hits: insert via B's side of the split,
	// then read it back through A.
	insertCtx2, cancelInsert2 := context.WithTimeout(ctx, waitFor)
	defer cancelInsert2()
	require.NoError(t, client.KeyInsert(insertCtx2, "zebra", 11, 4))
	_, ok = workerB.Keys().Lookup("zebra")
	assert.True(t, ok, "zebra belongs to B's range")

	lookupCtx2, cancelLookup2 := context.WithTimeout(ctx, waitFor)
	defer cancelLookup2()
	cs, found, err = client.KeyLookup(lookupCtx2, "zebra")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, keymap.ChunkSubchunk{Chunk: 11, Subchunk: 4}, cs)

	// Master stats round-trip: both workers are registered.
	infoCtx, cancelInfo := context.WithTimeout(ctx, waitFor)
	defer cancelInfo()
	stats, err := client.MasterInfo(infoCtx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), stats.WorkerCount)
}

// TestReRegistrationKeepsName drives re-registration end to end: a worker
// that registers repeatedly keeps its first name.
func TestReRegistrationKeepsName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	master := startMaster(t, ctx)
	worker := startWorker(t, ctx, "worker", master.Self())

	require.Eventually(t, func() bool {
		_, named := worker.Name()
		return named
	}, waitFor, poll)
	name, _ := worker.Name()

	// The register item keeps running inside the worker until named; the
	// master must have absorbed the repeats without renaming.
	assert.Equal(t, 1, master.Registry().Len())
	got, ok := master.Registry().Get(name)
	require.True(t, ok)
	assert.Equal(t, worker.Self(), got.Addr)
}
