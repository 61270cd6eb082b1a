package memnet

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/peer"
	"golang.org/x/exp/maps"
)

var _ ifaces.Runtime = (*Node)(nil)

type Node struct {
	nw *Network

	id      peer.Identity
	ap      netip.AddrPort
	sessKey key.SessionPrivate
	sessPub key.SessionPublic

	reg *peer.Registry

	reachable atomic.Bool
	closed    atomic.Bool

	mu        sync.Mutex
	connected map[peer.Identity]bool
	onMessage func(payload []byte, from peer.Identity)

	// RefreshErr, when set, is returned by Refresh after it did its work.
	RefreshErr error

	sent      atomic.Int64
	refreshes atomic.Int64
}

func newNode(nw *Network, ap netip.AddrPort, reachable bool) *Node {
	nodeKey := key.NewNode()
	sessKey := key.NewSession()

	n := &Node{
		nw:        nw,
		id:        peer.IdentityOf(nodeKey.Public()),
		ap:        ap,
		sessKey:   sessKey,
		sessPub:   sessKey.Public(),
		reg:       peer.NewRegistry(),
		connected: make(map[peer.Identity]bool),
	}

	n.reachable.Store(reachable)

	return n
}

func (n *Node) Address() peer.Address {
	return peer.Address{ID: n.id, AddrPort: n.ap}
}

func (n *Node) SetReachable(r bool) {
	n.reachable.Store(r)
}

func (n *Node) Reachable() bool {
	return n.reachable.Load()
}

// Sent returns how many private messages this node attempted to send.
func (n *Node) Sent() int {
	return int(n.sent.Load())
}

// Refreshes returns how many times Refresh was called.
func (n *Node) Refreshes() int {
	return int(n.refreshes.Load())
}

func (n *Node) countSent() {
	n.sent.Add(1)
}

func (n *Node) isClosed() bool {
	return n.closed.Load()
}

func (n *Node) markConnected(id peer.Identity) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.connected[id] = true
}

func (n *Node) handle(from peer.Identity, sealed []byte) {
	payload, ok := n.sessKey.OpenAnonymous(sealed)
	if !ok {
		slog.Warn("memnet: could not open private message", "node", n.id.Short(), "from", from.Short())
		return
	}

	n.mu.Lock()
	cb := n.onMessage
	n.mu.Unlock()

	if cb != nil {
		cb(payload, from)
	}
}

func (n *Node) ParseAddress(s string) (peer.Address, error) {
	return peer.ParseAddress(s)
}

func (n *Node) LocalAddresses() []peer.Address {
	return []peer.Address{n.Address()}
}

func (n *Node) Connect(ctx context.Context, addr peer.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return n.nw.dial(n, addr)
}

func (n *Node) ConnectedPeers() []peer.Identity {
	n.mu.Lock()
	defer n.mu.Unlock()

	return maps.Keys(n.connected)
}

func (n *Node) Refresh(ctx context.Context) error {
	n.refreshes.Add(1)

	var errs []error

	for _, rec := range n.reg.Snapshot() {
		if !rec.Address.Valid {
			continue
		}

		if err := n.nw.dial(n, peer.Address{ID: rec.ID, AddrPort: rec.Address.Val}); err != nil {
			errs = append(errs, err)
		}
	}

	if n.RefreshErr != nil {
		errs = append(errs, n.RefreshErr)
	}

	return errors.Join(errs...)
}

func (n *Node) SendPrivate(ctx context.Context, to peer.Identity, payload []byte) error {
	if n.isClosed() {
		return ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return n.nw.deliver(n, to, payload)
}

func (n *Node) OnPrivateMessage(f func(payload []byte, from peer.Identity)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.onMessage = f
}

func (n *Node) Identity() peer.Identity {
	return n.id
}

func (n *Node) Session() key.SessionPublic {
	return n.sessPub
}

func (n *Node) Registry() *peer.Registry {
	return n.reg
}

func (n *Node) Close() error {
	n.closed.Store(true)
	return nil
}
