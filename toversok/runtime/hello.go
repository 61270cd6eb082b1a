package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/msgwire"
	"github.com/edup2p/peerprobe/types/peer"
)

var ErrIdentityMismatch = errors.New("peer answered with a different identity")

// Connect sends hellos to addr until the peer behind it answers, or ctx is done.
func (r *Runtime) Connect(ctx context.Context, addr peer.Address) error {
	if !addr.IsValid() {
		return fmt.Errorf("invalid address %q", addr)
	}

	txid, ch := r.registerHello(addr.AddrPort, true)
	defer r.forgetHello(txid)

	hello := &msgwire.Hello{TxID: txid, NodeKey: r.nodePub}

	ticker := time.NewTicker(HelloInterval)
	defer ticker.Stop()

	for {
		if err := r.write(hello, addr.AddrPort); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("no answer from %s: %w", addr.AddrPort, context.Cause(ctx))
		case <-r.ctx.Done():
			return context.Cause(r.ctx)
		case ack := <-ch:
			if got := peer.IdentityOf(ack.NodeKey); got != addr.ID {
				return fmt.Errorf("%w: expected %s, got %s", ErrIdentityMismatch, addr.ID.Short(), got.Short())
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh sends a hello to every known address of every registry peer, answers are handled asynchronously.
func (r *Runtime) Refresh(_ context.Context) error {
	r.sweepHellos()

	var errs []error

	for _, rec := range r.reg.Snapshot() {
		r.mu.Lock()
		aps := slices.Clone(r.candidates[rec.ID])
		r.mu.Unlock()

		if rec.Address.Valid {
			aps = append(aps, rec.Address.Val)
		}

		for _, ap := range types.SetUnion(aps, nil) {
			txid, _ := r.registerHello(ap, false)

			if err := r.write(&msgwire.Hello{TxID: txid, NodeKey: r.nodePub}, ap); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) registerHello(to netip.AddrPort, wait bool) (msgwire.TxID, chan *msgwire.HelloAck) {
	txid := msgwire.NewTxID()

	var ch chan *msgwire.HelloAck
	if wait {
		ch = make(chan *msgwire.HelloAck, 1)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[txid] = pendingHello{to: to, ch: ch, at: time.Now()}

	return txid, ch
}

func (r *Runtime) forgetHello(txid msgwire.TxID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, txid)
}

func (r *Runtime) sweepHellos() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for txid, p := range r.pending {
		if time.Since(p.at) > PendingHelloTTL {
			delete(r.pending, txid)
		}
	}
}

func (r *Runtime) handleHello(m *msgwire.Hello, src netip.AddrPort) {
	from := peer.IdentityOf(m.NodeKey)
	if from == r.id {
		return
	}

	// the hello sender only reveals its address, its session key needs an announcement or a probe
	r.reg.Upsert(peer.WithAddress(from, src))
	r.markConnected(from, src)

	if err := r.write(&msgwire.HelloAck{
		TxID:       m.TxID,
		NodeKey:    r.nodePub,
		SessionKey: r.sessPub,
		Src:        src,
	}, src); err != nil {
		L(r).Warn("could not answer hello", "peer", from.Short(), "err", err)
	}
}

func (r *Runtime) handleHelloAck(m *msgwire.HelloAck, src netip.AddrPort) {
	r.mu.Lock()
	p, ok := r.pending[m.TxID]
	r.mu.Unlock()

	if !ok {
		L(r).Debug("dropping hello-ack for unknown transaction", "from", src)
		return
	}

	if p.to != src {
		L(r).Debug("hello-ack came from another address than the hello went to", "to", p.to, "from", src)
	}

	from := peer.IdentityOf(m.NodeKey)

	r.reg.Upsert(peer.Record{
		ID:        from,
		Address:   gonull.NewNullable(src),
		PublicKey: gonull.NewNullable(m.SessionKey),
	})
	r.markConnected(from, src)

	if p.ch != nil {
		select {
		case p.ch <- m:
		default:
		}
	}
}
