// Package msgprobe contains the probe/acknowledgment envelope exchanged over the encrypted point-to-point channel.
//
// Wire form: Magic (8) + Version (1) + BSON document.
package msgprobe

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerprobe/types/key"
	"go.mongodb.org/mongo-driver/bson"
)

type Envelope struct {
	Kind Kind

	// Correlation ties an acknowledgment to the probe it answers.
	Correlation uint64

	// SenderKey is the session key of the sender, so the receiver can answer without waiting for an announcement.
	SenderKey gonull.Nullable[key.SessionPublic]

	Timestamp time.Time

	// EchoTimestamp is the Timestamp of the probe an acknowledgment answers, zero on probes.
	EchoTimestamp time.Time

	Role string

	// Test marks the envelope as part of a connectivity test.
	Test bool
}

type wireEnvelope struct {
	Kind          string             `bson:"kind"`
	Correlation   int64              `bson:"corr,omitempty"`
	SenderKey     *key.SessionPublic `bson:"key,omitempty"`
	Timestamp     time.Time          `bson:"ts"`
	EchoTimestamp time.Time          `bson:"echo_ts,omitempty"`
	Role          string             `bson:"role,omitempty"`
	Test          bool               `bson:"test,omitempty"`
}

// NewCorrelation returns a fresh random correlation value.
//
// The value fits in 63 bits so it survives the signed BSON integer on the wire.
func NewCorrelation() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint64(b[:]) & math.MaxInt64
}

// NewProbe composes a probe envelope that embeds the sender's session key.
func NewProbe(correlation uint64, sender key.SessionPublic, now time.Time) *Envelope {
	return &Envelope{
		Kind:        KindProbe,
		Correlation: correlation,
		SenderKey:   gonull.NewNullable(sender),
		Timestamp:   now,
		Role:        RoleInitiator,
		Test:        true,
	}
}

// NewAck composes the acknowledgment for probe, echoing its correlation and timestamp.
func NewAck(probe *Envelope, sender key.SessionPublic, now time.Time) *Envelope {
	return &Envelope{
		Kind:          KindAck,
		Correlation:   probe.Correlation,
		SenderKey:     gonull.NewNullable(sender),
		Timestamp:     now,
		EchoTimestamp: probe.Timestamp,
		Role:          RoleResponder,
		Test:          true,
	}
}

func (e *Envelope) HasSenderKey() bool {
	return e.SenderKey.Valid && !e.SenderKey.Val.IsZero()
}

func (e *Envelope) Marshal() ([]byte, error) {
	if e.Correlation > math.MaxInt64 {
		return nil, fmt.Errorf("correlation value %d does not fit the wire format", e.Correlation)
	}

	w := wireEnvelope{
		Kind:          e.Kind.String(),
		Correlation:   int64(e.Correlation),
		Timestamp:     e.Timestamp,
		EchoTimestamp: e.EchoTimestamp,
		Role:          e.Role,
		Test:          e.Test,
	}

	if e.HasSenderKey() {
		k := e.SenderKey.Val
		w.SenderKey = &k
	}

	doc, err := bson.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("could not encode envelope: %w", err)
	}

	return slices.Concat(MagicBytes, []byte{byte(v1)}, doc), nil
}

func (e *Envelope) Debug() string {
	return fmt.Sprintf("%s corr=%d role=%s test=%t key=%t", e.Kind, e.Correlation, e.Role, e.Test, e.HasSenderKey())
}
