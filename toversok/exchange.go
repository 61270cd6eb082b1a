package toversok

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edup2p/peerprobe/toversok/poll"
	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/edup2p/peerprobe/types/peer"
)

// Inbound is one decrypted inbound message, as seen by pre-processors and role handlers.
type Inbound struct {
	From    peer.Identity
	Payload []byte

	// Envelope is nil when Payload did not parse, in which case ParseErr says why.
	Envelope *msgprobe.Envelope
	ParseErr error

	Received time.Time
}

// Preprocessor runs on every inbound message before the role handler does.
//
// Returning an error drops the message.
type Preprocessor func(ctx context.Context, in *Inbound) error

type handler func(ctx context.Context, in *Inbound)

// Coordinator sends and answers probe envelopes over a runtime's private messaging.
type Coordinator struct {
	ctx  context.Context
	cfg  Config
	rt   ifaces.Runtime
	sess *Session

	bridge *KeyBridge

	mu      sync.RWMutex
	pre     []Preprocessor
	handler handler

	now            func() time.Time
	newCorrelation func() uint64
}

func NewCoordinator(ctx context.Context, rt ifaces.Runtime, sess *Session, cfg Config) *Coordinator {
	c := &Coordinator{
		ctx:    ctx,
		cfg:    cfg,
		rt:     rt,
		sess:   sess,
		bridge: NewKeyBridge(rt.Registry()),

		now:            time.Now,
		newCorrelation: msgprobe.NewCorrelation,
	}

	c.Use(c.bridge.Preprocessor())

	return c
}

func (c *Coordinator) Bridge() *KeyBridge {
	return c.bridge
}

func (c *Coordinator) Session() *Session {
	return c.sess
}

// Use appends pre-processors to the chain, they run in the order they were added.
func (c *Coordinator) Use(p ...Preprocessor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pre = append(c.pre, p...)
}

// InstallInitiator hooks the acknowledgment classifier onto the runtime's inbound path.
func (c *Coordinator) InstallInitiator() {
	c.install(c.handleAck)
}

// InstallResponder hooks the probe handler onto the runtime's inbound path.
func (c *Coordinator) InstallResponder() {
	c.install(c.handleProbe)
}

func (c *Coordinator) install(h handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	c.rt.OnPrivateMessage(c.receive)
}

func (c *Coordinator) receive(payload []byte, from peer.Identity) {
	in := &Inbound{
		From:     from,
		Payload:  payload,
		Received: c.now(),
	}

	in.Envelope, in.ParseErr = msgprobe.Parse(payload)

	if in.ParseErr != nil {
		L(c).Log(c.ctx, types.LevelTrace, "inbound payload is not an envelope", "peer", from.Short(), "err", in.ParseErr)
	} else {
		L(c).Debug("received envelope", "peer", from.Short(), "envelope", in.Envelope.Debug())
	}

	c.mu.RLock()
	pre := c.pre
	h := c.handler
	c.mu.RUnlock()

	for _, p := range pre {
		if err := p(c.ctx, in); err != nil {
			L(c).Warn("pre-processor dropped inbound message", "peer", from.Short(), "err", err)
			return
		}
	}

	if h != nil {
		h(c.ctx, in)
	}
}

// SendProbe sends a probe with a fresh correlation value to the peer.
func (c *Coordinator) SendProbe(ctx context.Context, to peer.Identity) (*msgprobe.Envelope, error) {
	return c.sendProbe(ctx, to, c.newCorrelation())
}

func (c *Coordinator) sendProbe(ctx context.Context, to peer.Identity, correlation uint64) (*msgprobe.Envelope, error) {
	probe := msgprobe.NewProbe(correlation, c.rt.Session(), c.now())

	// the ack can be handled before SendPrivate returns
	c.sess.RecordProbe(correlation, probe.Timestamp)

	if err := c.send(ctx, to, probe); err != nil {
		return nil, err
	}

	L(c).Info("sent probe", "peer", to.Short(), "correlation", correlation)

	return probe, nil
}

func (c *Coordinator) send(ctx context.Context, to peer.Identity, env *msgprobe.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", env.Kind, err)
	}

	if err := c.rt.SendPrivate(ctx, to, b); err != nil {
		return fmt.Errorf("%w: %s to %s: %w", ErrSendFailed, env.Kind, to.Short(), err)
	}

	return nil
}

// AwaitAck waits until an acknowledgment is observed, resending the probe every ProbeResendInterval.
func (c *Coordinator) AwaitAck(ctx context.Context) (*msgprobe.Envelope, error) {
	to := c.sess.Target()
	correlation, _, _ := c.sess.Probe()

	lastSend := c.now()
	var sendErr error

	err := poll.AwaitCondition(ctx, func() bool {
		if c.sess.AckObserved() {
			return true
		}

		if c.cfg.ProbeResendInterval > 0 && c.now().Sub(lastSend) >= c.cfg.ProbeResendInterval {
			lastSend = c.now()
			L(c).Debug("resending unanswered probe", "peer", to.Short())
			if _, sendErr = c.sendProbe(ctx, to, correlation); sendErr != nil {
				return true
			}
		}

		return false
	}, c.cfg.PollInterval, c.cfg.AckTimeout, StepAck)

	if sendErr != nil {
		return nil, sendErr
	}

	if err != nil {
		return nil, stepError(StepAck, ErrNoAck, err)
	}

	return c.sess.Ack(), nil
}

func (c *Coordinator) handleAck(_ context.Context, in *Inbound) {
	if target := c.sess.Target(); in.From != target {
		L(c).Log(c.ctx, types.LevelTrace, "ignoring message from other peer", "peer", in.From.Short())
		return
	}

	env := in.Envelope
	if env == nil || env.Kind != msgprobe.KindAck {
		return
	}

	if correlation, _, _ := c.sess.Probe(); env.Correlation != correlation {
		if c.cfg.StrictCorrelation {
			L(c).Warn("ignoring acknowledgment with mismatching correlation", "peer", in.From.Short(), "want", correlation, "got", env.Correlation)
			return
		}

		L(c).Warn("accepting acknowledgment with mismatching correlation", "peer", in.From.Short(), "want", correlation, "got", env.Correlation)
	}

	if c.sess.ObserveAck(env) {
		L(c).Info("observed acknowledgment", "peer", in.From.Short(), "correlation", env.Correlation)
	}
}

// IsProbe reports whether env is a probe.
//
// Any one of an explicit probe kind, the test flag, the initiator role tag, or a correlation value on a
// non-acknowledgment is enough.
func IsProbe(env *msgprobe.Envelope) bool {
	if env == nil || env.Kind == msgprobe.KindAck {
		return false
	}

	return env.Kind == msgprobe.KindProbe ||
		env.Test ||
		env.Role == msgprobe.RoleInitiator ||
		env.Correlation != 0
}

func (c *Coordinator) handleProbe(ctx context.Context, in *Inbound) {
	if !IsProbe(in.Envelope) {
		return
	}

	if !c.sess.PinPeer(in.From) {
		L(c).Debug("ignoring probe from peer not under test", "peer", in.From.Short())
		return
	}

	c.bridge.Observe(in.From, in.Envelope)

	if err := c.Reply(ctx, in.From, in.Envelope); err != nil {
		L(c).Error("could not acknowledge probe", "peer", in.From.Short(), "err", err)
		c.sess.Fail(err)
		return
	}

	c.sess.CountReply()
}

// Reply acknowledges probe to the peer, which must have a known session key.
//
// Without one ErrMissingPeerKey is returned, and nothing is sent.
func (c *Coordinator) Reply(ctx context.Context, to peer.Identity, probe *msgprobe.Envelope) error {
	if rec, ok := c.rt.Registry().Get(to); !ok || !rec.HasKey() {
		return fmt.Errorf("cannot seal acknowledgment to %s: %w", to.Short(), ErrMissingPeerKey)
	}

	ack := msgprobe.NewAck(probe, c.rt.Session(), c.now())

	if err := c.send(ctx, to, ack); err != nil {
		return err
	}

	L(c).Info("acknowledged probe", "peer", to.Short(), "correlation", ack.Correlation)

	return nil
}
