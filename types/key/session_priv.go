package key

import (
	"crypto/subtle"

	"github.com/edup2p/peerprobe/types"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// SessionPrivate is the per-run encryption key of a node.
type SessionPrivate struct {
	_   types.Incomparable
	key NakedKey
}

// NewSession creates and returns a new session private key.
func NewSession() SessionPrivate {
	var ret SessionPrivate
	rand(ret.key[:])
	// Key used for nacl seal/open, so needs to be clamped.
	clamp25519Private(ret.key[:])
	return ret
}

// IsZero reports whether k is the zero value.
func (s SessionPrivate) IsZero() bool {
	return s.Equal(SessionPrivate{})
}

// Equal reports whether k and other are the same key.
func (s SessionPrivate) Equal(other SessionPrivate) bool {
	return subtle.ConstantTimeCompare(s.key[:], other.key[:]) == 1
}

// Public returns the SessionPublic for k.
// Panics if SessionPrivate is zero.
func (s SessionPrivate) Public() SessionPublic {
	if s.IsZero() {
		panic("can't take the public key of a zero SessionPrivate")
	}
	var ret SessionPublic
	curve25519.ScalarBaseMult((*[32]byte)(&ret), (*[32]byte)(&s.key))
	return ret
}

// OpenAnonymous opens a box created by SessionPublic.SealAnonymous for this key.
//
// The sender stays anonymous; nothing about its keys can be learned from the box.
func (s SessionPrivate) OpenAnonymous(ciphertext []byte) (cleartext []byte, ok bool) {
	if s.IsZero() {
		panic("can't open with zero key")
	}
	pub := s.Public()
	return box.OpenAnonymous(nil, ciphertext, (*[32]byte)(&pub), (*[32]byte)(&s.key))
}
