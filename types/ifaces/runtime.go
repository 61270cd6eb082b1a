// Package ifaces contains the interfaces the probe workflow consumes from a network runtime.
package ifaces

import (
	"context"

	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/peer"
)

// Addressing turns address strings into identities.
type Addressing interface {
	// ParseAddress extracts the identity embedded in an address string, without any network round trip.
	ParseAddress(s string) (peer.Address, error)

	// LocalAddresses lists the addresses this node can be reached at.
	LocalAddresses() []peer.Address
}

type Transport interface {
	// Connect attempts a direct connection to addr, and returns once the identity behind addr confirmed it,
	// or ctx is done.
	Connect(ctx context.Context, addr peer.Address) error

	// ConnectedPeers returns the peers that currently have an active, confirmed connection.
	ConnectedPeers() []peer.Identity

	// Refresh retries connections to every addressable known peer.
	//
	// Best effort; the outcome must be observed through ConnectedPeers.
	Refresh(ctx context.Context) error
}

type Messenger interface {
	// SendPrivate seals payload to the session key of peer and sends it.
	SendPrivate(ctx context.Context, to peer.Identity, payload []byte) error

	// OnPrivateMessage installs the callback invoked with every decrypted inbound payload.
	//
	// Only one callback is kept, installing another replaces it.
	OnPrivateMessage(func(payload []byte, from peer.Identity))
}

// Runtime is a complete network runtime for one node.
//
// Its announcement listener populates Registry as a side effect, outside the control of the probe workflow.
type Runtime interface {
	Addressing
	Transport
	Messenger

	Identity() peer.Identity
	Session() key.SessionPublic

	Registry() *peer.Registry

	Close() error
}
