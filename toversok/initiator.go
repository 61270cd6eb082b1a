package toversok

import (
	"context"
	"fmt"
	"time"

	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/edup2p/peerprobe/types/peer"
)

// Result is the outcome of a successful initiator run.
type Result struct {
	Peer        peer.Identity
	Correlation uint64
	Ack         *msgprobe.Envelope

	// Probes is how many times the probe was sent before it was acknowledged.
	Probes int

	// RTT is measured against the probe timestamp echoed by the acknowledgment.
	RTT time.Duration
}

// Initiator resolves the responder, sends it a probe, and waits for the acknowledgment.
type Initiator struct {
	rt  ifaces.Runtime
	cfg Config

	sess     *Session
	resolver *Resolver
	coord    *Coordinator
}

func NewInitiator(ctx context.Context, rt ifaces.Runtime, cfg Config) *Initiator {
	sess := NewSession(rt.Identity())

	return &Initiator{
		rt:       rt,
		cfg:      cfg,
		sess:     sess,
		resolver: NewResolver(rt, cfg),
		coord:    NewCoordinator(ctx, rt, sess, cfg),
	}
}

func (i *Initiator) Session() *Session {
	return i.sess
}

func (i *Initiator) Coordinator() *Coordinator {
	return i.coord
}

// Run executes the whole initiator workflow, target may be empty to take the first discovered peer.
func (i *Initiator) Run(ctx context.Context, target string) (*Result, error) {
	var addr *peer.Address

	if target != "" {
		a, err := i.rt.ParseAddress(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		addr = &a
	}

	i.coord.InstallInitiator()

	id, err := i.resolver.Resolve(ctx, addr)
	if err != nil {
		return nil, err
	}

	i.sess.SetTarget(id)

	probe, err := i.coord.SendProbe(ctx, id)
	if err != nil {
		return nil, err
	}

	ack, err := i.coord.AwaitAck(ctx)
	if err != nil {
		return nil, err
	}

	_, _, probes := i.sess.Probe()

	return &Result{
		Peer:        id,
		Correlation: probe.Correlation,
		Ack:         ack,
		Probes:      probes,
		RTT:         msgprobe.RoundTrip(ack, i.coord.now()),
	}, nil
}
