package toversok

import (
	"context"

	"github.com/edup2p/peerprobe/toversok/poll"
	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/peer"
)

// Report is the outcome of a successful responder run.
type Report struct {
	Peer    peer.Identity
	Replies int
}

// Responder waits for a probe, and acknowledges every probe sent by the first peer that probed it.
type Responder struct {
	cfg Config

	sess  *Session
	coord *Coordinator
}

func NewResponder(ctx context.Context, rt ifaces.Runtime, cfg Config) *Responder {
	sess := NewSession(rt.Identity())

	return &Responder{
		cfg:   cfg,
		sess:  sess,
		coord: NewCoordinator(ctx, rt, sess, cfg),
	}
}

func (r *Responder) Session() *Session {
	return r.sess
}

func (r *Responder) Coordinator() *Coordinator {
	return r.coord
}

// Run installs the probe handler and waits until the first probe is acknowledged, or acknowledging it failed.
//
// The handler stays installed after Run returns, so repeated probes keep getting answered.
func (r *Responder) Run(ctx context.Context) (*Report, error) {
	r.coord.InstallResponder()

	L(r).Info("waiting for probe")

	err := poll.AwaitCondition(ctx, func() bool {
		return r.sess.Replies() > 0 || r.sess.Err() != nil
	}, r.cfg.PollInterval, r.cfg.ProbeWaitTimeout, StepProbe)
	if err != nil {
		return nil, stepError(StepProbe, ErrNoProbe, err)
	}

	if err := r.sess.Err(); err != nil {
		return nil, err
	}

	return &Report{
		Peer:    r.sess.Target(),
		Replies: r.sess.Replies(),
	}, nil
}
