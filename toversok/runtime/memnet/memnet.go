// Package memnet is an in-memory network of nodes implementing ifaces.Runtime, for tests.
//
// Nodes get connected through Connect and Refresh, and learn about each other through the registry, just like on the
// real runtime. Private payloads are sealed to the recipient's session key and opened on delivery.
package memnet

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types/peer"
)

var (
	ErrUnreachable = errors.New("address unreachable")
	ErrNoKey       = errors.New("no session key known for peer")
	ErrClosed      = errors.New("node closed")
)

type Network struct {
	mu sync.Mutex

	nodes  map[peer.Identity]*Node
	byAddr map[netip.AddrPort]*Node

	next byte

	drop int
}

func NewNetwork() *Network {
	return &Network{
		nodes:  make(map[peer.Identity]*Node),
		byAddr: make(map[netip.AddrPort]*Node),
	}
}

// AddNode creates a node; an unreachable node refuses inbound direct connections, but can still connect out.
func (nw *Network) AddNode(reachable bool) *Node {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	nw.next++

	n := newNode(nw, netip.AddrPortFrom(netip.AddrFrom4([4]byte{198, 51, 100, nw.next}), 4242), reachable)

	nw.nodes[n.id] = n
	nw.byAddr[n.ap] = n

	return n
}

// Announce makes every other node learn the address and session key of n, as an announcement would.
func (nw *Network) Announce(n *Node) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	for _, other := range nw.nodes {
		if other == n {
			continue
		}

		other.reg.Upsert(peer.Record{
			ID:        n.id,
			Address:   gonull.NewNullable(n.ap),
			PublicKey: gonull.NewNullable(n.sessPub),
		})
	}
}

// DropNext makes the network lose the next count private messages.
func (nw *Network) DropNext(count int) {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	nw.drop = count
}

func (nw *Network) shouldDrop() bool {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	if nw.drop > 0 {
		nw.drop--
		return true
	}

	return false
}

func (nw *Network) lookup(ap netip.AddrPort) *Node {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	return nw.byAddr[ap]
}

func (nw *Network) node(id peer.Identity) *Node {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	return nw.nodes[id]
}

func (nw *Network) dial(from *Node, addr peer.Address) error {
	to := nw.lookup(addr.AddrPort)

	if to == nil || !to.Reachable() || to.id != addr.ID || to.isClosed() {
		return fmt.Errorf("could not connect to %s: %w", addr.AddrPort, ErrUnreachable)
	}

	// the dialed node learns the dialer's address, the dialer also learns the session key
	to.reg.Upsert(peer.WithAddress(from.id, from.ap))
	from.reg.Upsert(peer.WithAddress(to.id, to.ap))
	from.reg.Upsert(peer.WithKey(to.id, to.sessPub))

	to.markConnected(from.id)
	from.markConnected(to.id)

	return nil
}

func (nw *Network) deliver(from *Node, to peer.Identity, payload []byte) error {
	rec, ok := from.reg.Get(to)
	if !ok || !rec.HasKey() {
		return fmt.Errorf("could not send to %s: %w", to.Short(), ErrNoKey)
	}

	sealed, err := rec.PublicKey.Val.SealAnonymous(payload)
	if err != nil {
		return fmt.Errorf("could not seal payload: %w", err)
	}

	from.countSent()

	dst := nw.node(to)
	if dst == nil || dst.isClosed() || nw.shouldDrop() {
		// lost, like a datagram would be
		return nil
	}

	go dst.handle(from.id, sealed)

	return nil
}
