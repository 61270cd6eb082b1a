package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
)

var (
	ErrNoKey     = errors.New("no session key known for peer")
	ErrNoAddress = errors.New("no address known for peer")
)

// SendPrivate seals payload to the registry key of the peer, and sends it to its best address.
func (r *Runtime) SendPrivate(ctx context.Context, to peer.Identity, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, ok := r.reg.Get(to)
	if !ok || !rec.HasKey() {
		return fmt.Errorf("cannot send to %s: %w", to.Short(), ErrNoKey)
	}

	ap, ok := r.addrFor(to)
	if !ok {
		return fmt.Errorf("cannot send to %s: %w", to.Short(), ErrNoAddress)
	}

	sealed, err := rec.PublicKey.Val.SealAnonymous(payload)
	if err != nil {
		return fmt.Errorf("could not seal payload: %w", err)
	}

	return r.write(&msgwire.Private{From: r.nodePub, Sealed: sealed}, ap)
}

// LocalAddresses lists an address for every unicast interface address matching the socket's family,
// loopback addresses last.
func (r *Runtime) LocalAddresses() []peer.Address {
	ifAddrs, err := net.InterfaceAddrs()
	if err != nil {
		L(r).Warn("could not list interface addresses", "err", err)
		return nil
	}

	local := netip.MustParseAddrPort(r.udp.LocalAddr().String()).Addr()

	var aps []netip.AddrPort

	for _, ia := range ifAddrs {
		ipnet, ok := ia.(*net.IPNet)
		if !ok {
			continue
		}

		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = types.NormaliseAddr(addr)

		if addr.Is4() != local.Is4() || addr.IsLinkLocalUnicast() || addr.IsMulticast() {
			continue
		}

		if !local.IsUnspecified() && addr != local {
			continue
		}

		aps = append(aps, netip.AddrPortFrom(addr, r.port))
	}

	slices.SortStableFunc(aps, func(a, b netip.AddrPort) int {
		return gradeLoopback(b, a)
	})

	return types.Map(aps, func(ap netip.AddrPort) peer.Address {
		return peer.Address{ID: r.id, AddrPort: ap}
	})
}
