package directory

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/keydir/internal/wire"
)

type fakeNotifier struct {
	raised atomic.Int32
}

func (n *fakeNotifier) SetNeedsInfo() { n.raised.Add(1) }

func TestAddWorkerAssignsUniqueNames(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	a, added := r.AddWorker(wire.NetAddress{Host: "127.0.0.1", Port: 10043})
	require.True(t, added)
	b, added := r.AddWorker(wire.NetAddress{Host: "127.0.0.1", Port: 10044})
	require.True(t, added)

	assert.NotEqual(t, a.Name, b.Name)
	assert.Equal(t, 2, r.Len())

	seen := map[uint32]bool{}
	for _, e := range r.Snapshot() {
		require.False(t, seen[e.Name], "names must be unique")
		seen[e.Name] = true
	}
}

func TestDuplicateAddressKeepsName(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	addr := wire.NetAddress{Host: "127.0.0.1", Port: 10043}

	first, added := r.AddWorker(addr)
	require.True(t, added)
	again, added := r.AddWorker(addr)
	assert.False(t, added)
	assert.Equal(t, first.Name, again.Name, "re-registration must not rename")
	assert.Equal(t, 1, r.Len())
}

func TestFirstWorkerGetsAllInclusiveRange(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	a, _ := r.AddWorker(wire.NetAddress{Host: "127.0.0.1", Port: 10043})
	require.True(t, a.Range.Valid())
	assert.True(t, a.Range.Unlimited())
	assert.Equal(t, "", a.Range.Min())
	assert.True(t, a.Range.In("anything at all"))

	b, _ := r.AddWorker(wire.NetAddress{Host: "127.0.0.1", Port: 10044})
	assert.False(t, b.Range.Valid(), "only the first worker is seeded")
}

func TestMutationRaisesEveryPushFlag(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	a, _ := r.AddWorker(wire.NetAddress{Host: "h", Port: 1})
	na := &fakeNotifier{}
	r.SetPushNotifier(a.Name, na)
	attached := na.raised.Load() // attaching arms once
	require.GreaterOrEqual(t, attached, int32(1))

	// A new registration re-raises a's push flag.
	b, _ := r.AddWorker(wire.NetAddress{Host: "h", Port: 2})
	assert.Greater(t, na.raised.Load(), attached)

	nb := &fakeNotifier{}
	r.SetPushNotifier(b.Name, nb)
	prevA, prevB := na.raised.Load(), nb.raised.Load()

	r.AddWorker(wire.NetAddress{Host: "h", Port: 3})
	assert.Greater(t, na.raised.Load(), prevA)
	assert.Greater(t, nb.raised.Load(), prevB)
}

func TestGetAndNames(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a, _ := r.AddWorker(wire.NetAddress{Host: "h", Port: 1})
	b, _ := r.AddWorker(wire.NetAddress{Host: "h", Port: 2})

	got, ok := r.Get(a.Name)
	require.True(t, ok)
	assert.Equal(t, wire.NetAddress{Host: "h", Port: 1}, got.Addr)

	_, ok = r.Get(999)
	assert.False(t, ok)

	assert.Equal(t, []uint32{a.Name, b.Name}, r.Names())
}

func TestTouch(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	addr := wire.NetAddress{Host: "h", Port: 1}
	a, _ := r.AddWorker(addr)

	before, _ := r.Get(a.Name)
	name, ok := r.Touch(addr)
	require.True(t, ok)
	assert.Equal(t, a.Name, name)
	after, _ := r.Get(a.Name)
	assert.False(t, after.LastContact.Before(before.LastContact))

	_, ok = r.Touch(wire.NetAddress{Host: "h", Port: 99})
	assert.False(t, ok)
}

func TestRangeSpecConversion(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	a, _ := r.AddWorker(wire.NetAddress{Host: "h", Port: 1})

	spec := a.RangeSpec()
	assert.True(t, spec.Valid)
	assert.True(t, spec.Unlimited)
	assert.Equal(t, "", spec.Min)
}
