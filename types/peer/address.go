package peer

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/edup2p/peerprobe/types"
)

// Address is a reachable transport address that carries the identity of the node behind it.
//
// Its text form is "<identity>@<ip>:<port>", for example:
//
//	nodekey:3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29@198.51.100.7:4242
type Address struct {
	ID       Identity
	AddrPort netip.AddrPort
}

var ErrNoIdentity = errors.New("address does not contain an identity")

// ParseAddress splits a self-describing address into identity and transport details,
// without touching the network.
func ParseAddress(s string) (Address, error) {
	idStr, apStr, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || idStr == "" {
		return Address{}, fmt.Errorf("could not parse address %q: %w", s, ErrNoIdentity)
	}

	id, err := ParseIdentity(idStr)
	if err != nil {
		return Address{}, fmt.Errorf("could not parse address %q: %w", s, err)
	}

	ap, err := netip.ParseAddrPort(apStr)
	if err != nil {
		return Address{}, fmt.Errorf("could not parse address %q: %w", s, err)
	}

	return Address{
		ID:       id,
		AddrPort: types.NormaliseAddrPort(ap),
	}, nil
}

func (a Address) String() string {
	return string(a.ID) + "@" + a.AddrPort.String()
}

func (a Address) IsValid() bool {
	return !a.ID.IsZero() && a.AddrPort.IsValid()
}
