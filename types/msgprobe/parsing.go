package msgprobe

import (
	"errors"
	"fmt"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"go.mongodb.org/mongo-driver/bson"
)

const headerLen = len(Magic) + 1

// ErrMalformedPayload is returned for any payload that is not an envelope.
//
// Callers treat it as "not for us" and drop the payload.
var ErrMalformedPayload = errors.New("malformed probe payload")

func LooksLikeEnvelope(b []byte) bool {
	if len(b) < headerLen {
		return false
	}

	return string(b[:len(Magic)]) == Magic
}

func Parse(b []byte) (*Envelope, error) {
	if !LooksLikeEnvelope(b) {
		return nil, fmt.Errorf("%w: missing envelope header", ErrMalformedPayload)
	}

	if version := VersionMarker(b[len(Magic)]); version != v1 {
		return nil, fmt.Errorf("%w: invalid version: %x", ErrMalformedPayload, byte(version))
	}

	var w wireEnvelope
	if err := bson.Unmarshal(b[headerLen:], &w); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}

	kind := parseKind(w.Kind)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedPayload, w.Kind)
	}

	if w.Correlation < 0 {
		return nil, fmt.Errorf("%w: negative correlation", ErrMalformedPayload)
	}

	e := &Envelope{
		Kind:          kind,
		Correlation:   uint64(w.Correlation),
		Timestamp:     w.Timestamp,
		EchoTimestamp: w.EchoTimestamp,
		Role:          w.Role,
		Test:          w.Test,
	}

	if w.SenderKey != nil && !w.SenderKey.IsZero() {
		e.SenderKey = gonull.NewNullable(*w.SenderKey)
	}

	return e, nil
}

// RoundTrip returns how long ago the probe answered by ack was sent, by the probe's own clock.
func RoundTrip(ack *Envelope, now time.Time) time.Duration {
	if ack.EchoTimestamp.IsZero() {
		return 0
	}

	return now.Sub(ack.EchoTimestamp)
}
