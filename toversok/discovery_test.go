package toversok

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/toversok/poll"
	"github.com/edup2p/peerprobe/toversok/runtime/memnet"
	"github.com/edup2p/peerprobe/types/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Direct(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	rn := nw.AddNode(true)

	target := rn.Address()

	id, err := NewResolver(in, testConfig()).Resolve(testContext(t), &target)
	require.NoError(t, err)

	assert.Equal(t, rn.Identity(), id)
	assert.Equal(t, 0, in.Refreshes())
}

func TestResolve_FallbackToDiscovery(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	rn := nw.AddNode(true)

	// stale port, nobody listens there
	target := peer.Address{ID: rn.Identity(), AddrPort: mustAddrPort("203.0.113.9:1")}

	go func() {
		time.Sleep(50 * time.Millisecond)
		nw.Announce(rn)
	}()

	id, err := NewResolver(in, testConfig()).Resolve(testContext(t), &target)
	require.NoError(t, err)

	assert.Equal(t, rn.Identity(), id)
	assert.GreaterOrEqual(t, in.Refreshes(), 1)
	assert.Contains(t, in.ConnectedPeers(), rn.Identity())
}

func TestResolve_FirstWins(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	rn := nw.AddNode(true)

	go func() {
		time.Sleep(30 * time.Millisecond)
		nw.Announce(rn)
	}()

	id, err := NewResolver(in, testConfig()).Resolve(testContext(t), nil)
	require.NoError(t, err)

	assert.Equal(t, rn.Identity(), id)
}

func TestResolve_RequireTarget(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)

	cfg := testConfig()
	cfg.RequireTarget = true

	_, err := NewResolver(in, cfg).Resolve(testContext(t), nil)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestResolve_DiscoveryTimeout(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)

	cfg := testConfig()
	cfg.DiscoveryTimeout = 100 * time.Millisecond

	_, err := NewResolver(in, cfg).Resolve(testContext(t), nil)
	assert.ErrorIs(t, err, ErrDiscoveryTimeout)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StepDiscovery, se.Step)

	var te *poll.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StepDiscovery, te.Label)
}

func TestResolve_RefreshErrorSwallowed(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	rn := nw.AddNode(true)

	in.RefreshErr = errors.New("refresh exploded")
	nw.Announce(rn)

	id, err := NewResolver(in, testConfig()).Resolve(testContext(t), nil)
	require.NoError(t, err)
	assert.Equal(t, rn.Identity(), id)
}

func TestResolve_ConnectionFailure(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	rn := nw.AddNode(false)

	nw.Announce(rn)

	cfg := testConfig()
	cfg.ConnectTimeout = 150 * time.Millisecond

	_, err := NewResolver(in, cfg).Resolve(testContext(t), nil)
	assert.ErrorIs(t, err, ErrConnectionFailure)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepConnect, se.Step)

	// refresh is retriggered while waiting
	assert.GreaterOrEqual(t, in.Refreshes(), 2)
}

func TestAwaitRecord(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	other := nw.AddNode(false)

	cfg := testConfig()
	cfg.RecordTimeout = 50 * time.Millisecond
	r := NewResolver(in, cfg)

	in.Registry().Upsert(peer.Record{ID: other.Identity()})

	err := r.awaitRecord(testContext(t), other.Identity())
	assert.ErrorIs(t, err, ErrDiscoveryTimeout)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StepRecord, se.Step)

	in.Registry().Upsert(peer.WithAddress(other.Identity(), other.Address().AddrPort))
	assert.NoError(t, r.awaitRecord(testContext(t), other.Identity()))
}

func TestResolve_Cancelled(t *testing.T) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)

	ctx, cancel := context.WithCancelCause(testContext(t))
	stop := errors.New("operator gave up")
	cancel(stop)

	_, err := NewResolver(in, testConfig()).Resolve(ctx, nil)
	assert.ErrorIs(t, err, stop)

	var se *StepError
	assert.False(t, errors.As(err, &se), "cancellation is not a step timeout")
}
