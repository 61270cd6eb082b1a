package toversok

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/edup2p/peerprobe/toversok/poll"
	"github.com/edup2p/peerprobe/types/ifaces"
	"github.com/edup2p/peerprobe/types/peer"
)

const (
	StepDiscovery = "discovery"
	StepConnect   = "connect"
	StepRecord    = "record"
	StepAck       = "acknowledgment"
	StepProbe     = "probe"
)

// Resolver decides how to reach the peer under test, and waits until it is connected and addressable.
type Resolver struct {
	rt  ifaces.Runtime
	cfg Config

	now func() time.Time
}

func NewResolver(rt ifaces.Runtime, cfg Config) *Resolver {
	return &Resolver{rt: rt, cfg: cfg, now: time.Now}
}

// Resolve returns the identity of a connected peer with a populated registry record.
//
// With a target, its identity is taken from the address and a direct connection is tried first,
// falling back to discovery when that fails. Without a target, the first other peer that shows up in
// the registry is taken.
func (r *Resolver) Resolve(ctx context.Context, target *peer.Address) (peer.Identity, error) {
	var id peer.Identity
	direct := false

	if target != nil {
		id = target.ID
		direct = r.connectDirect(ctx, *target)
	} else if r.cfg.RequireTarget {
		return "", ErrNoTarget
	}

	if !direct {
		var err error
		if id, err = r.discover(ctx, id); err != nil {
			return "", err
		}
	}

	if err := r.awaitConnected(ctx, id); err != nil {
		return "", err
	}

	if err := r.awaitRecord(ctx, id); err != nil {
		return "", err
	}

	L(r).Info("resolved peer", "peer", id.Short(), "direct", direct)

	return id, nil
}

func (r *Resolver) connectDirect(ctx context.Context, addr peer.Address) bool {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.DirectConnectTimeout)
	defer cancel()

	L(r).Info("trying direct connection", "addr", addr.AddrPort, "peer", addr.ID.Short())

	if err := r.rt.Connect(cctx, addr); err != nil {
		L(r).Warn("direct connection failed, falling back to discovery", "addr", addr.AddrPort, "err", err)
		return false
	}

	return true
}

// discover waits for id to show up in the registry, or for any other peer when id is empty.
func (r *Resolver) discover(ctx context.Context, id peer.Identity) (peer.Identity, error) {
	reg := r.rt.Registry()
	self := r.rt.Identity()

	L(r).Info("waiting for peer discovery", "peer", id.Short())

	found := id
	err := poll.AwaitCondition(ctx, func() bool {
		if !id.IsZero() {
			return reg.Has(id)
		}

		ids := slices.DeleteFunc(reg.Identities(), func(i peer.Identity) bool { return i == self })
		if len(ids) == 0 {
			return false
		}

		found = ids[0]
		return true
	}, r.cfg.PollInterval, r.cfg.DiscoveryTimeout, StepDiscovery)
	if err != nil {
		return "", stepError(StepDiscovery, ErrDiscoveryTimeout, err)
	}

	L(r).Info("discovered peer", "peer", found.Short())

	return found, nil
}

func (r *Resolver) isConnected(id peer.Identity) bool {
	return slices.Contains(r.rt.ConnectedPeers(), id)
}

func (r *Resolver) refresh(ctx context.Context) {
	if err := r.rt.Refresh(ctx); err != nil {
		L(r).Warn("connection refresh failed", "err", fmt.Errorf("%w: %w", ErrRefresh, err))
	}
}

// awaitConnected retriggers a refresh every RefreshEvery until the transport reports id as connected.
func (r *Resolver) awaitConnected(ctx context.Context, id peer.Identity) error {
	var lastRefresh time.Time

	if !r.isConnected(id) {
		r.refresh(ctx)
		lastRefresh = r.now()
	}

	err := poll.AwaitCondition(ctx, func() bool {
		if r.isConnected(id) {
			return true
		}

		if r.now().Sub(lastRefresh) >= r.cfg.RefreshEvery {
			r.refresh(ctx)
			lastRefresh = r.now()
		}

		return false
	}, r.cfg.PollInterval, r.cfg.ConnectTimeout, StepConnect)
	if err != nil {
		return stepError(StepConnect, ErrConnectionFailure, err)
	}

	return nil
}

// awaitRecord waits until the registry holds something beyond the bare identity of id.
func (r *Resolver) awaitRecord(ctx context.Context, id peer.Identity) error {
	reg := r.rt.Registry()

	err := poll.AwaitCondition(ctx, func() bool {
		return slices.ContainsFunc(reg.Filter(id), peer.Record.HasData)
	}, r.cfg.PollInterval, r.cfg.RecordTimeout, StepRecord)
	if err != nil {
		return stepError(StepRecord, ErrDiscoveryTimeout, err)
	}

	return nil
}
