package runtime

import (
	"errors"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
)

type recvFrame struct {
	pkt []byte

	src netip.AddrPort
}

// sockRecv reads frames off conn until the runtime context is done, then closes out.
func (r *Runtime) sockRecv(conn types.UDPConn, out chan<- recvFrame) {
	defer r.wg.Done()
	defer close(out)

	buf := make([]byte, 1<<16)

	for {
		if types.IsContextDone(r.ctx) {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(SockRecvReadTimeout)); err != nil {
			if !types.IsContextDone(r.ctx) {
				L(r).Error("could not set read deadline", "err", err)
				r.ccc(err)
			}
			return
		}

		n, ap, err := conn.ReadFromUDPAddrPort(buf)

		var e net.Error
		if err != nil && (!errors.As(err, &e) || !e.Timeout()) {
			if !types.IsContextDone(r.ctx) {
				L(r).Error("socket read failed", "err", err)
				r.ccc(err)
			}
			return
		}

		if n == 0 {
			continue
		}

		select {
		case <-r.ctx.Done():
			return
		case out <- recvFrame{
			pkt: slices.Clone(buf[:n]),
			src: types.NormaliseAddrPort(ap),
		}:
		}
	}
}

func (r *Runtime) dispatchLoop(frames <-chan recvFrame) {
	defer r.wg.Done()

	for frame := range frames {
		r.dispatch(frame)
	}
}

func (r *Runtime) dispatch(frame recvFrame) {
	if !msgwire.LooksLikeWireMessage(frame.pkt) {
		L(r).Log(r.ctx, types.LevelTrace, "dropping unknown packet", "from", frame.src, "len", len(frame.pkt))
		return
	}

	msg, err := msgwire.ParseWireMessage(frame.pkt)
	if err != nil {
		L(r).Debug("dropping malformed packet", "from", frame.src, "err", err)
		return
	}

	L(r).Log(r.ctx, types.LevelTrace, "received", "from", frame.src, "msg", msg.Debug())

	switch m := msg.(type) {
	case *msgwire.Hello:
		r.handleHello(m, frame.src)
	case *msgwire.HelloAck:
		r.handleHelloAck(m, frame.src)
	case *msgwire.Private:
		r.handlePrivate(m, frame.src)
	case *msgwire.Announce:
		// announcements arrive on the announcer socket; unicast ones are handled all the same
		if r.announcer != nil {
			r.announcer.handle(m, frame.src)
		}
	default:
		L(r).Warn("unhandled wire message", "msg", msg.Debug())
	}
}

// handlePrivate opens a private frame. The claimed sender is not authenticated, the box is anonymous.
func (r *Runtime) handlePrivate(m *msgwire.Private, src netip.AddrPort) {
	from := peer.IdentityOf(m.From)

	payload, ok := r.sessPriv.OpenAnonymous(m.Sealed)
	if !ok {
		L(r).Debug("could not open private message", "from", from.Short(), "addr", src)
		return
	}

	r.mu.Lock()
	cb := r.onMessage
	r.mu.Unlock()

	if cb == nil {
		L(r).Debug("no handler for private message", "from", from.Short())
		return
	}

	cb(payload, from)
}
