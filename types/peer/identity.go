// Package peer contains peer identities, self-describing addresses, and the per-node peer registry.
package peer

import (
	"fmt"
	"strings"

	"github.com/edup2p/peerprobe/types/key"
)

// Identity is an opaque, globally unique name of a network participant.
//
// It is the text form of the participant's key.NodePublic, and never changes once observed.
type Identity string

func IdentityOf(n key.NodePublic) Identity {
	return Identity(n.String())
}

// NodeKey recovers the node key this identity was derived from.
func (i Identity) NodeKey() (key.NodePublic, error) {
	return key.ParseNodePublic(string(i))
}

func (i Identity) IsZero() bool {
	return i == ""
}

// Short returns an abbreviated form for logging.
func (i Identity) Short() string {
	s := strings.TrimPrefix(string(i), "nodekey:")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// ParseIdentity checks that s is a well-formed identity.
func ParseIdentity(s string) (Identity, error) {
	if _, err := key.ParseNodePublic(s); err != nil {
		return "", fmt.Errorf("invalid peer identity %q: %w", s, err)
	}

	return Identity(s), nil
}
