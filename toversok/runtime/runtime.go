// Package runtime is the network runtime of a probe node: a single UDP socket carrying hellos and
// sealed private messages, plus a multicast announcer that fills the peer registry.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
	"golang.org/x/exp/maps"
)

var _ ifaces.Runtime = (*Runtime)(nil)

type Options struct {
	NodeKey key.NodePrivate

	// ListenPort is the UDP port to bind, 0 picks a random one.
	ListenPort uint16
	// ListenAddr restricts the bind address, unspecified binds all.
	ListenAddr netip.Addr

	AnnounceGroup    netip.AddrPort
	AnnounceInterval time.Duration
	DisableAnnounce  bool

	// AllowedPrefixes restricts which source addresses announcements are accepted from, empty allows all.
	AllowedPrefixes []netip.Prefix
}

type pendingHello struct {
	to netip.AddrPort
	ch chan *msgwire.HelloAck
	at time.Time
}

type Runtime struct {
	ctx context.Context
	ccc context.CancelCauseFunc

	nodePriv key.NodePrivate
	nodePub  key.NodePublic
	id       peer.Identity

	sessPriv key.SessionPrivate
	sessPub  key.SessionPublic

	udp  *net.UDPConn
	conn *types.UDPConnCloseCatcher
	port uint16

	reg *peer.Registry

	announcer *Announcer

	mu         sync.Mutex
	connected  map[peer.Identity]bool
	pending    map[msgwire.TxID]pendingHello
	reach      map[peer.Identity]*reachTracker
	candidates map[peer.Identity][]netip.AddrPort
	onMessage  func(payload []byte, from peer.Identity)

	wg sync.WaitGroup
}

// New binds the socket and starts the receive loop, and the announcer unless disabled.
func New(pCtx context.Context, opts Options) (*Runtime, error) {
	if opts.NodeKey.IsZero() {
		return nil, errors.New("runtime needs a node key")
	}

	bindAddr := opts.ListenAddr
	if !bindAddr.IsValid() {
		bindAddr = netip.IPv4Unspecified()
	}

	network := "udp4"
	if bindAddr.Is6() {
		network = "udp6"
	}

	udp, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(bindAddr, opts.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("could not bind udp port %d: %w", opts.ListenPort, err)
	}

	ctx, ccc := context.WithCancelCause(pCtx)

	sessPriv := key.NewSession()

	r := &Runtime{
		ctx: ctx,
		ccc: ccc,

		nodePriv: opts.NodeKey,
		nodePub:  opts.NodeKey.Public(),
		id:       peer.IdentityOf(opts.NodeKey.Public()),

		sessPriv: sessPriv,
		sessPub:  sessPriv.Public(),

		udp:  udp,
		conn: &types.UDPConnCloseCatcher{UDPConn: udp},
		port: netip.MustParseAddrPort(udp.LocalAddr().String()).Port(),

		reg: peer.NewRegistry(),

		connected:  make(map[peer.Identity]bool),
		pending:    make(map[msgwire.TxID]pendingHello),
		reach:      make(map[peer.Identity]*reachTracker),
		candidates: make(map[peer.Identity][]netip.AddrPort),
	}

	if !opts.DisableAnnounce {
		if r.announcer, err = newAnnouncer(r, opts); err != nil {
			r.Close()
			return nil, fmt.Errorf("could not start announcer: %w", err)
		}
	}

	frames := make(chan recvFrame, SockRecvFrameChanBuffer)

	r.wg.Add(2)
	go r.sockRecv(r.conn, frames)
	go r.dispatchLoop(frames)

	if r.announcer != nil {
		r.announcer.start(ctx)
	}

	L(r).Info("runtime started", "identity", r.id, "port", r.port)

	return r, nil
}

func L(a any) *slog.Logger {
	return slog.With("actor", fmt.Sprintf("%T", a))
}

func (r *Runtime) Port() uint16 {
	return r.port
}

func (r *Runtime) Identity() peer.Identity {
	return r.id
}

func (r *Runtime) Session() key.SessionPublic {
	return r.sessPub
}

func (r *Runtime) Registry() *peer.Registry {
	return r.reg
}

func (r *Runtime) ParseAddress(s string) (peer.Address, error) {
	return peer.ParseAddress(s)
}

func (r *Runtime) ConnectedPeers() []peer.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Keys(r.connected)
}

func (r *Runtime) OnPrivateMessage(f func(payload []byte, from peer.Identity)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onMessage = f
}

func (r *Runtime) Close() error {
	r.ccc(errors.New("runtime closed"))

	var errs []error

	if r.announcer != nil {
		errs = append(errs, r.announcer.close())
	}

	if !r.conn.Closed {
		errs = append(errs, r.conn.Close())
	}

	r.wg.Wait()

	return errors.Join(errs...)
}

func (r *Runtime) markConnected(id peer.Identity, ap netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected[id] {
		L(r).Info("peer connected", "peer", id.Short(), "addr", ap)
	}

	r.connected[id] = true

	rt, ok := r.reach[id]
	if !ok {
		rt = newReachTracker()
		r.reach[id] = rt
	}
	rt.gotAnswer(ap)
}

// addrFor picks the addrport to send to id at.
func (r *Runtime) addrFor(id peer.Identity) (netip.AddrPort, bool) {
	r.mu.Lock()
	rt := r.reach[id]
	r.mu.Unlock()

	if rt != nil {
		if ap, err := rt.best(); err == nil {
			return ap, true
		}
	}

	if rec, ok := r.reg.Get(id); ok && rec.Address.Valid {
		return rec.Address.Val, true
	}

	return netip.AddrPort{}, false
}

func (r *Runtime) write(msg msgwire.WireMessage, to netip.AddrPort) error {
	L(r).Log(r.ctx, types.LevelTrace, "sending", "to", to, "msg", msg.Debug())

	if _, err := r.conn.WriteToUDPAddrPort(msg.MarshalWireMessage(), to); err != nil {
		return fmt.Errorf("could not write to %s: %w", to, err)
	}

	return nil
}
