package peer

import (
	"net/netip"

	"github.com/edup2p/peerprobe/types/key"
)

// Test variables
var (
	dummyAP  = netip.MustParseAddrPort("198.51.100.7:4242")
	dummyAP2 = netip.MustParseAddrPort("[2001:db8::7]:4242")
)

func newTestIdentity() Identity {
	return IdentityOf(key.NewNode().Public())
}

func newTestSessionKey() key.SessionPublic {
	return key.NewSession().Public()
}
