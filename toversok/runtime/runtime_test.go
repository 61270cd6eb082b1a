package runtime

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func newTestRuntime(t *testing.T) *Runtime {
	r, err := New(context.Background(), Options{
		NodeKey:         key.NewNode(),
		ListenAddr:      loopback,
		DisableAnnounce: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})

	return r
}

func addressOf(r *Runtime) peer.Address {
	return peer.Address{ID: r.Identity(), AddrPort: netip.AddrPortFrom(loopback, r.Port())}
}

func testCtx(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectAndSend(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)

	require.NoError(t, a.Connect(testCtx(t, 5*time.Second), addressOf(b)))

	assert.Contains(t, a.ConnectedPeers(), b.Identity())
	assert.Contains(t, b.ConnectedPeers(), a.Identity())

	recB, ok := a.Registry().Get(b.Identity())
	require.True(t, ok)
	assert.Equal(t, b.Session(), recB.PublicKey.Val)

	recA, ok := b.Registry().Get(a.Identity())
	require.True(t, ok)
	assert.False(t, recA.HasKey(), "hello does not carry a session key")
	assert.Equal(t, addressOf(a).AddrPort, recA.Address.Val)

	got := make(chan []byte, 1)
	b.OnPrivateMessage(func(payload []byte, from peer.Identity) {
		assert.Equal(t, a.Identity(), from)
		got <- payload
	})

	require.NoError(t, a.SendPrivate(context.Background(), b.Identity(), []byte("sealed hello")))

	select {
	case p := <-got:
		assert.Equal(t, []byte("sealed hello"), p)
	case <-time.After(5 * time.Second):
		t.Fatal("private message not delivered")
	}

	assert.ErrorIs(t, b.SendPrivate(context.Background(), a.Identity(), []byte("reply")), ErrNoKey)
}

func TestConnect_IdentityMismatch(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)

	wrong := addressOf(b)
	wrong.ID = peer.IdentityOf(key.NewNode().Public())

	assert.ErrorIs(t, a.Connect(testCtx(t, 5*time.Second), wrong), ErrIdentityMismatch)
}

func TestConnect_NoAnswer(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)

	silent := addressOf(b)
	require.NoError(t, b.Close())

	err := a.Connect(testCtx(t, 300*time.Millisecond), silent)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, a.ConnectedPeers())
}

func TestRefresh(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)

	a.Registry().Upsert(peer.WithAddress(b.Identity(), addressOf(b).AddrPort))

	assert.NoError(t, a.Refresh(context.Background()))

	assert.Eventually(t, func() bool {
		for _, id := range a.ConnectedPeers() {
			if id == b.Identity() {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocalAddresses(t *testing.T) {
	a := newTestRuntime(t)

	assert.Contains(t, a.LocalAddresses(), addressOf(a))
}

func testAnnouncer(t *testing.T, r *Runtime, prefixes ...netip.Prefix) *Announcer {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   AnnounceTokens,
		Interval: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	a := &Announcer{r: r, rlStore: store}

	if len(prefixes) > 0 {
		var b netipx.IPSetBuilder
		for _, p := range prefixes {
			b.AddPrefix(p)
		}
		a.allowed, err = b.IPSet()
		require.NoError(t, err)
	}

	return a
}

func TestAnnouncer_Handle(t *testing.T) {
	r := newTestRuntime(t)
	a := testAnnouncer(t, r, netip.MustParsePrefix("192.0.2.0/24"))

	other := key.NewNode().Public()
	sess := key.NewSession().Public()
	src := netip.MustParseAddrPort("192.0.2.10:4000")

	a.handle(&msgwire.Announce{
		NodeKey:     other,
		SessionKey:  sess,
		MyAddresses: []netip.AddrPort{netip.MustParseAddrPort("192.0.2.10:4000"), netip.MustParseAddrPort("198.51.100.1:4000")},
	}, src)

	rec, ok := r.Registry().Get(peer.IdentityOf(other))
	require.True(t, ok)
	assert.Equal(t, src, rec.Address.Val)
	assert.Equal(t, sess, rec.PublicKey.Val)

	// filtered
	assert.Equal(t, []netip.AddrPort{src}, r.candidates[peer.IdentityOf(other)])
}

func TestAnnouncer_DisallowedSource(t *testing.T) {
	r := newTestRuntime(t)
	a := testAnnouncer(t, r, netip.MustParsePrefix("192.0.2.0/24"))

	other := key.NewNode().Public()

	a.handle(&msgwire.Announce{NodeKey: other, SessionKey: key.NewSession().Public()}, netip.MustParseAddrPort("203.0.113.5:4000"))

	assert.False(t, r.Registry().Has(peer.IdentityOf(other)))
}

func TestAnnouncer_IgnoresSelf(t *testing.T) {
	r := newTestRuntime(t)
	a := testAnnouncer(t, r)

	a.handle(a.message(), addressOf(r).AddrPort)

	assert.Equal(t, 0, r.Registry().Len())
}

func TestAnnouncer_RateLimit(t *testing.T) {
	r := newTestRuntime(t)
	a := testAnnouncer(t, r)

	other := key.NewNode().Public()
	id := peer.IdentityOf(other)

	announce := func(port uint16) {
		a.handle(&msgwire.Announce{
			NodeKey:     other,
			SessionKey:  key.NewSession().Public(),
			MyAddresses: []netip.AddrPort{netip.AddrPortFrom(loopback, port)},
		}, netip.AddrPortFrom(loopback, 1))
	}

	for i := 0; i < AnnounceTokens; i++ {
		announce(uint16(1000 + i))
	}
	last := r.candidates[id]

	announce(2000)
	assert.Equal(t, last, r.candidates[id], "announcement over the limit must be dropped")
}
