package toversok

import (
	"context"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/edup2p/peerprobe/types/peer"
)

// KeyBridge learns session keys from inbound envelopes, so a reply can be sealed
// before the sender's announcement arrives.
type KeyBridge struct {
	reg *peer.Registry
}

func NewKeyBridge(reg *peer.Registry) *KeyBridge {
	return &KeyBridge{reg: reg}
}

// Observe merges the sender key carried by env into the record of sender.
//
// It reports whether the key was newly learned. Repeated observations are no-ops, and a known key is never replaced.
func (b *KeyBridge) Observe(sender peer.Identity, env *msgprobe.Envelope) (learned bool) {
	if env == nil || !env.HasSenderKey() || sender.IsZero() {
		return false
	}

	offered := env.SenderKey.Val

	if rec, ok := b.reg.Get(sender); ok && rec.HasKey() {
		if rec.PublicKey.Val != offered {
			L(b).Debug("ignoring different key for peer with known key", "peer", sender.Short(), "offered", offered.Debug()[:8])
		}
		return false
	}

	merged, _ := b.reg.Upsert(peer.WithKey(sender, offered))

	learned = merged.HasKey() && merged.PublicKey.Val == offered
	if learned {
		L(b).Log(context.Background(), types.LevelTrace, "learned session key from envelope", "peer", sender.Short())
	}

	return learned
}

// Preprocessor returns the bridge as a hook on the inbound message path.
func (b *KeyBridge) Preprocessor() Preprocessor {
	return func(_ context.Context, in *Inbound) error {
		b.Observe(in.From, in.Envelope)
		return nil
	}
}
