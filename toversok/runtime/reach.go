package runtime

import (
	"errors"
	"net/netip"
	"slices"
	"sync"

	"github.com/edup2p/peerprobe/types"
)

var errNoAnswers = errors.New("no address answered")

// reachTracker remembers which addrports of one peer answered a hello.
type reachTracker struct {
	rw       sync.RWMutex
	answered map[netip.AddrPort]bool
}

func newReachTracker() *reachTracker {
	return &reachTracker{
		answered: make(map[netip.AddrPort]bool),
	}
}

func (rt *reachTracker) gotAnswer(ap netip.AddrPort) {
	rt.rw.Lock()
	defer rt.rw.Unlock()

	rt.answered[types.NormaliseAddrPort(ap)] = true
}

func (rt *reachTracker) has(ap netip.AddrPort) bool {
	rt.rw.RLock()
	defer rt.rw.RUnlock()

	return rt.answered[types.NormaliseAddrPort(ap)]
}

// best returns the most preferable addrport that answered.
func (rt *reachTracker) best() (netip.AddrPort, error) {
	rt.rw.RLock()
	defer rt.rw.RUnlock()

	var aps []netip.AddrPort
	for ap, ok := range rt.answered {
		if ok {
			aps = append(aps, ap)
		}
	}

	return bestAddrPort(aps)
}

// bestAddrPort picks the most preferable of aps.
func bestAddrPort(aps []netip.AddrPort) (netip.AddrPort, error) {
	if len(aps) == 0 {
		return netip.AddrPort{}, errNoAnswers
	}

	return slices.MaxFunc(aps, gradeAPs), nil
}

const (
	aBetter = 1
	bBetter = -1
	neither = 0
)

func gradeAPs(a, b netip.AddrPort) int {
	if verCmp := gradeVer(a, b); verCmp != neither {
		return verCmp
	}

	if privCmp := gradePriv(a, b); privCmp != neither {
		return privCmp
	}

	if loopCmp := gradeLoopback(a, b); loopCmp != neither {
		return loopCmp
	}

	return a.Compare(b)
}

// IPv6 > IPv4
func gradeVer(ap, bp netip.AddrPort) int {
	a := ap.Addr()
	b := bp.Addr()

	if a.Is4() && b.Is6() {
		return bBetter
	} else if a.Is6() && b.Is4() {
		return aBetter
	}

	return neither
}

// Private/Unique Local > Non-Private/Unique Global
func gradePriv(ap, bp netip.AddrPort) int {
	a := ap.Addr()
	b := bp.Addr()

	if a.IsPrivate() && !b.IsPrivate() {
		return aBetter
	} else if !a.IsPrivate() && b.IsPrivate() {
		return bBetter
	}

	return neither
}

// Non-Loopback > Loopback, a loopback address only works when both ends share a host.
func gradeLoopback(ap, bp netip.AddrPort) int {
	a := ap.Addr()
	b := bp.Addr()

	if !a.IsLoopback() && b.IsLoopback() {
		return aBetter
	} else if a.IsLoopback() && !b.IsLoopback() {
		return bBetter
	}

	return neither
}
