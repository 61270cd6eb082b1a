// Package msgwire contains the datagrams the network runtime exchanges, and their parsing methods.
//
// Wire header: Magic (8) + Version (1) + Type (1) + Data.
//
// Wire message interface definitions are sealed within this package.
package msgwire

import (
	crand "crypto/rand"
	"fmt"
	"net/netip"
	"slices"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/key"
)

type WireMessage interface {
	MarshalWireMessage() []byte

	Debug() string
}

func header(t MessageType) []byte {
	return slices.Concat(MagicBytes, []byte{byte(v1), byte(t)})
}

type TxID [12]byte

func NewTxID() TxID {
	var tx TxID
	if _, err := crand.Read(tx[:]); err != nil {
		panic(err)
	}
	return tx
}

// Hello asks the receiver to confirm a direct path.
type Hello struct {
	TxID TxID

	// Allegedly the sender's nodekey
	NodeKey key.NodePublic
}

func (h *Hello) MarshalWireMessage() []byte {
	return slices.Concat(header(HelloMessage), h.TxID[:], h.NodeKey[:])
}

func (h *Hello) Debug() string {
	return fmt.Sprintf("hello tx=%x", h.TxID)
}

// HelloAck confirms a direct path, and hands the hello sender our session key.
type HelloAck struct {
	TxID TxID

	NodeKey    key.NodePublic
	SessionKey key.SessionPublic

	// Src is the addrport the hello was received from, v4-mapped ipv6 for IPv4 on the wire.
	Src netip.AddrPort
}

func (h *HelloAck) MarshalWireMessage() []byte {
	return slices.Concat(header(HelloAckMessage), h.TxID[:], h.NodeKey[:], h.SessionKey[:], types.PutAddrPort(h.Src))
}

func (h *HelloAck) Debug() string {
	return fmt.Sprintf("hello-ack tx=%x src=%s", h.TxID, h.Src)
}

// Announce is periodically multicast to the local network.
type Announce struct {
	NodeKey    key.NodePublic
	SessionKey key.SessionPublic

	MyAddresses []netip.AddrPort
}

func (a *Announce) MarshalWireMessage() []byte {
	b := make([]byte, 0, len(a.MyAddresses)*addrPortLen)

	for _, ap := range a.MyAddresses {
		b = append(b, types.PutAddrPort(ap)...)
	}

	return slices.Concat(header(AnnounceMessage), a.NodeKey[:], a.SessionKey[:], b)
}

func (a *Announce) Debug() string {
	return fmt.Sprintf("announce node=%s addresses=%s", a.NodeKey.Debug()[:8], types.PrettyAddrPortSlice(a.MyAddresses))
}

// Private carries a payload sealed anonymously to the receiver's session key.
//
// The sender's session key is deliberately absent; only its node key is given.
type Private struct {
	From key.NodePublic

	Sealed []byte
}

func (p *Private) MarshalWireMessage() []byte {
	return slices.Concat(header(PrivateMessage), p.From[:], p.Sealed)
}

func (p *Private) Debug() string {
	return fmt.Sprintf("private from=%s len=%d", p.From.Debug()[:8], len(p.Sealed))
}
