package toversok

import (
	"context"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/toversok/runtime/memnet"
	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/edup2p/peerprobe/types/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsProbe(t *testing.T) {
	cases := map[string]struct {
		env  *msgprobe.Envelope
		want bool
	}{
		"nil":         {nil, false},
		"probe kind":  {&msgprobe.Envelope{Kind: msgprobe.KindProbe}, true},
		"test flag":   {&msgprobe.Envelope{Test: true}, true},
		"role tag":    {&msgprobe.Envelope{Role: msgprobe.RoleInitiator}, true},
		"correlation": {&msgprobe.Envelope{Correlation: 3}, true},
		"bare":        {&msgprobe.Envelope{}, false},
		"ack":         {&msgprobe.Envelope{Kind: msgprobe.KindAck, Test: true, Correlation: 3}, false},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, IsProbe(c.env))
		})
	}
}

func responderFixture(t *testing.T) (*memnet.Network, *memnet.Node, *Coordinator) {
	nw := memnet.NewNetwork()
	rn := nw.AddNode(true)

	c := NewCoordinator(testContext(t), rn, NewSession(rn.Identity()), testConfig())
	c.InstallResponder()

	return nw, rn, c
}

func TestReply_MissingPeerKey(t *testing.T) {
	nw, rn, c := responderFixture(t)
	in := nw.AddNode(false)

	probe := &msgprobe.Envelope{Kind: msgprobe.KindProbe, Correlation: 99, Timestamp: time.Now()}

	err := c.Reply(context.Background(), in.Identity(), probe)
	assert.ErrorIs(t, err, ErrMissingPeerKey)
	assert.Equal(t, 0, rn.Sent())
}

func TestResponder_KeylessProbeFails(t *testing.T) {
	nw, rn, c := responderFixture(t)
	in := nw.AddNode(false)

	probe := &msgprobe.Envelope{Kind: msgprobe.KindProbe, Correlation: 99, Timestamp: time.Now()}
	c.receive(marshal(t, probe), in.Identity())

	assert.ErrorIs(t, c.Session().Err(), ErrMissingPeerKey)
	assert.Equal(t, 0, c.Session().Replies())
	assert.Equal(t, 0, rn.Sent())
}

func TestResponder_FirstProbePinning(t *testing.T) {
	nw, rn, c := responderFixture(t)
	a := nw.AddNode(false)
	b := nw.AddNode(false)

	c.receive(marshal(t, msgprobe.NewProbe(1, a.Session(), time.Now())), a.Identity())

	assert.Equal(t, a.Identity(), c.Session().Target())
	assert.Equal(t, 1, c.Session().Replies())
	assert.Equal(t, 1, rn.Sent())

	c.receive(marshal(t, msgprobe.NewProbe(2, b.Session(), time.Now())), b.Identity())
	c.receive(marshal(t, msgprobe.NewProbe(3, b.Session(), time.Now())), b.Identity())

	assert.Equal(t, a.Identity(), c.Session().Target())
	assert.Equal(t, 1, c.Session().Replies())
	assert.Equal(t, 1, rn.Sent())
	assert.NoError(t, c.Session().Err())

	// repeat probes from the pinned peer are answered again
	c.receive(marshal(t, msgprobe.NewProbe(1, a.Session(), time.Now())), a.Identity())
	assert.Equal(t, 2, c.Session().Replies())
}

func TestResponder_IgnoresMalformed(t *testing.T) {
	nw, rn, c := responderFixture(t)
	a := nw.AddNode(false)

	c.receive([]byte("hello there"), a.Identity())
	c.receive(marshal(t, &msgprobe.Envelope{Kind: msgprobe.KindAck, Correlation: 1}), a.Identity())

	assert.True(t, c.Session().Target().IsZero())
	assert.Equal(t, 0, rn.Sent())
	assert.NoError(t, c.Session().Err())
}

func TestPreprocessor_DropsMessage(t *testing.T) {
	nw, rn, c := responderFixture(t)
	a := nw.AddNode(false)

	var seen []peer.Identity
	c.Use(func(_ context.Context, in *Inbound) error {
		seen = append(seen, in.From)
		return assert.AnError
	})

	c.receive(marshal(t, msgprobe.NewProbe(1, a.Session(), time.Now())), a.Identity())

	assert.Equal(t, []peer.Identity{a.Identity()}, seen)
	assert.Equal(t, 0, rn.Sent())

	// the key bridge ran first
	assert.True(t, rn.Registry().Has(a.Identity()))
}

func initiatorFixture(t *testing.T, cfg Config) (*Coordinator, peer.Identity) {
	nw := memnet.NewNetwork()
	in := nw.AddNode(false)
	target := peer.IdentityOf(key.NewNode().Public())

	sess := NewSession(in.Identity())
	sess.SetTarget(target)
	sess.RecordProbe(482913, time.Now())

	c := NewCoordinator(testContext(t), in, sess, cfg)
	c.InstallInitiator()

	return c, target
}

func ackFor(correlation uint64) *msgprobe.Envelope {
	probe := msgprobe.NewProbe(correlation, key.NewSession().Public(), time.Now())
	return msgprobe.NewAck(probe, key.NewSession().Public(), time.Now())
}

func TestInitiator_Classification(t *testing.T) {
	c, target := initiatorFixture(t, testConfig())

	other := peer.IdentityOf(key.NewNode().Public())

	c.receive(marshal(t, ackFor(482913)), other)
	assert.False(t, c.Session().AckObserved(), "ack from other peer")

	c.receive([]byte("ack"), target)
	assert.False(t, c.Session().AckObserved(), "malformed payload")

	c.receive(marshal(t, msgprobe.NewProbe(482913, key.NewSession().Public(), time.Now())), target)
	assert.False(t, c.Session().AckObserved(), "probe instead of ack")

	c.receive(marshal(t, ackFor(482913)), target)
	require.True(t, c.Session().AckObserved())
	assert.Equal(t, uint64(482913), c.Session().Ack().Correlation)

	// first match is kept
	c.receive(marshal(t, ackFor(1)), target)
	assert.Equal(t, uint64(482913), c.Session().Ack().Correlation)
}

func TestInitiator_CorrelationPolicy(t *testing.T) {
	loose, target := initiatorFixture(t, testConfig())
	loose.receive(marshal(t, ackFor(7)), target)
	assert.True(t, loose.Session().AckObserved())

	cfg := testConfig()
	cfg.StrictCorrelation = true

	strict, target := initiatorFixture(t, cfg)
	strict.receive(marshal(t, ackFor(7)), target)
	assert.False(t, strict.Session().AckObserved())

	strict.receive(marshal(t, ackFor(482913)), target)
	assert.True(t, strict.Session().AckObserved())
}

func TestAwaitAck_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 100 * time.Millisecond
	cfg.ProbeResendInterval = 0

	c, _ := initiatorFixture(t, cfg)

	_, err := c.AwaitAck(context.Background())
	assert.ErrorIs(t, err, ErrNoAck)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "acknowledgment", se.Step)
}
