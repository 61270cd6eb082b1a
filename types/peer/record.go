package peer

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types/key"
)

// Record is everything a node knows about one peer.
type Record struct {
	ID Identity

	// Address is a transport address the peer was last seen or announced at.
	Address gonull.Nullable[netip.AddrPort]

	// PublicKey is the session key messages to this peer must be sealed to.
	//
	// Once set, it is never overwritten or cleared.
	PublicKey gonull.Nullable[key.SessionPublic]

	FirstSeen time.Time
}

// HasData reports whether anything beyond the identity is known.
func (r Record) HasData() bool {
	return r.Address.Valid || r.HasKey()
}

func (r Record) HasKey() bool {
	return r.PublicKey.Valid && !r.PublicKey.Val.IsZero()
}

func (r Record) Debug() string {
	s := fmt.Sprintf("peer=%s", r.ID.Short())

	if r.Address.Valid {
		s += fmt.Sprintf(" addr=%s", r.Address.Val)
	}

	if r.HasKey() {
		s += fmt.Sprintf(" key=%s", r.PublicKey.Val.Debug()[:8])
	}

	return s
}

// WithAddress makes an update record carrying only an address.
func WithAddress(id Identity, ap netip.AddrPort) Record {
	return Record{ID: id, Address: gonull.NewNullable(ap)}
}

// WithKey makes an update record carrying only a session key.
func WithKey(id Identity, k key.SessionPublic) Record {
	return Record{ID: id, PublicKey: gonull.NewNullable(k)}
}
