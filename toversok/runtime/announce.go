package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"syscall"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"go4.org/netipx"
	"golang.org/x/net/ipv4"
)

// Announcer multicasts this node's keys and addresses on the local network, and feeds
// announcements of other nodes into the registry.
type Announcer struct {
	r *Runtime

	group    netip.AddrPort
	interval time.Duration

	// nil allows every source
	allowed *netipx.IPSet

	rlStore limiter.Store

	// listens on the group
	mconn *net.UDPConn
	// sends from the runtime socket, so receivers learn its unicast address
	out *ipv4.PacketConn
}

func newAnnouncer(r *Runtime, opts Options) (*Announcer, error) {
	a := &Announcer{
		r:        r,
		group:    opts.AnnounceGroup,
		interval: opts.AnnounceInterval,
	}

	if !a.group.IsValid() {
		a.group = DefaultAnnounceGroup
	}

	if a.interval <= 0 {
		a.interval = DefaultAnnounceInterval
	}

	if len(opts.AllowedPrefixes) > 0 {
		var b netipx.IPSetBuilder
		for _, p := range opts.AllowedPrefixes {
			b.AddPrefix(p)
		}

		set, err := b.IPSet()
		if err != nil {
			return nil, fmt.Errorf("invalid allowed prefixes: %w", err)
		}
		a.allowed = set
	}

	store, err := memorystore.New(&memorystore.Config{
		// Number of tokens allowed per interval.
		Tokens: AnnounceTokens,

		// Interval until tokens reset.
		Interval: a.interval,

		SweepInterval: 1 * time.Minute,
		SweepMinTTL:   1 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create rate limiter: %w", err)
	}
	a.rlStore = store

	if err := a.listen(); err != nil {
		_ = store.Close(context.Background())
		return nil, err
	}

	return a, nil
}

func (a *Announcer) listen() error {
	mconn, err := net.ListenMulticastUDP("udp4", nil, net.UDPAddrFromAddrPort(a.group))
	if err != nil {
		return fmt.Errorf("could not listen on announce group %s: %w", a.group, err)
	}

	p4 := ipv4.NewPacketConn(mconn)

	ift, err := net.Interfaces()
	if err != nil {
		mconn.Close()
		return fmt.Errorf("cannot get interfaces: %w", err)
	}
	for _, ifi := range ift {
		if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagPointToPoint == 0 {
			if err := p4.JoinGroup(&ifi, &net.UDPAddr{IP: a.group.Addr().AsSlice()}); err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
				L(a).Debug("multicast JoinGroup failed", "err", err, "iface", ifi.Name)
			}
		}
	}

	out := ipv4.NewPacketConn(a.r.udp)

	if err := out.SetMulticastTTL(AnnounceTTL); err != nil {
		L(a).Warn("could not set multicast ttl", "err", err)
	}

	if loop, err := out.MulticastLoopback(); err == nil && !loop {
		if err := out.SetMulticastLoopback(true); err != nil {
			L(a).Warn("cannot set multicast loopback", "err", err)
		}
	}

	a.mconn = mconn
	a.out = out

	return nil
}

func (a *Announcer) start(ctx context.Context) {
	frames := make(chan recvFrame, SockRecvFrameChanBuffer)

	a.r.wg.Add(3)
	go a.r.sockRecv(a.mconn, frames)
	go a.recvLoop(frames)
	go a.sendLoop(ctx)
}

func (a *Announcer) close() error {
	return errors.Join(a.mconn.Close(), a.rlStore.Close(context.Background()))
}

func (a *Announcer) recvLoop(frames <-chan recvFrame) {
	defer a.r.wg.Done()

	for frame := range frames {
		msg, err := msgwire.ParseWireMessage(frame.pkt)
		if err != nil {
			continue
		}

		if ann, ok := msg.(*msgwire.Announce); ok {
			a.handle(ann, frame.src)
		}
	}
}

func (a *Announcer) sendLoop(ctx context.Context) {
	defer a.r.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.announce()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Announcer) message() *msgwire.Announce {
	return &msgwire.Announce{
		NodeKey:    a.r.nodePub,
		SessionKey: a.r.sessPub,
		MyAddresses: types.Map(a.r.LocalAddresses(), func(addr peer.Address) netip.AddrPort {
			return addr.AddrPort
		}),
	}
}

func (a *Announcer) announce() {
	b := a.message().MarshalWireMessage()

	if _, err := a.out.WriteTo(b, nil, net.UDPAddrFromAddrPort(a.group)); err != nil {
		L(a).Debug("could not send announcement", "err", err)
	}
}

func (a *Announcer) allows(addr netip.Addr) bool {
	return a.allowed == nil || a.allowed.Contains(types.NormaliseAddr(addr))
}

// handle merges an announcement into the registry, if it passes the source filter and rate limit.
func (a *Announcer) handle(m *msgwire.Announce, src netip.AddrPort) {
	from := peer.IdentityOf(m.NodeKey)
	if from == a.r.id {
		return
	}

	if !a.allows(src.Addr()) {
		L(a).Log(a.r.ctx, types.LevelTrace, "dropping announcement from disallowed source", "from", src)
		return
	}

	if _, _, _, ok, _ := a.rlStore.Take(context.Background(), m.NodeKey.HexString()); !ok {
		return
	}

	var aps []netip.AddrPort
	for _, ap := range slices.Concat(m.MyAddresses, []netip.AddrPort{src}) {
		if ap.IsValid() && a.allows(ap.Addr()) {
			aps = append(aps, types.NormaliseAddrPort(ap))
		}
	}
	aps = types.SetUnion(aps, nil)

	a.r.mu.Lock()
	a.r.candidates[from] = aps
	a.r.mu.Unlock()

	// the observed source address is preferred over self-reported ones
	merged, created := a.r.reg.Upsert(peer.Record{
		ID:        from,
		Address:   gonull.NewNullable(types.NormaliseAddrPort(src)),
		PublicKey: gonull.NewNullable(m.SessionKey),
	})
	if created {
		L(a).Info("discovered peer through announcement", "peer", from.Short(), "addr", src)
	}

	L(a).Log(a.r.ctx, types.LevelTrace, "processed announcement", "record", merged.Debug(), "candidates", types.PrettyAddrPortSlice(aps))
}
