package msgprobe

import (
	"math"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/types/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var testSess = key.NewSession().Public()

func TestProbeAndAck(t *testing.T) {
	now := time.Now()

	probe := NewProbe(482913, testSess, now)

	b, err := probe.Marshal()
	require.NoError(t, err)
	assert.True(t, LooksLikeEnvelope(b))

	got, err := Parse(b)
	require.NoError(t, err)

	assert.Equal(t, KindProbe, got.Kind)
	assert.Equal(t, uint64(482913), got.Correlation)
	assert.True(t, got.HasSenderKey())
	assert.Equal(t, testSess, got.SenderKey.Val)
	assert.True(t, got.Timestamp.Equal(now.Truncate(time.Millisecond)), "timestamp survives at millisecond precision")
	assert.True(t, got.EchoTimestamp.IsZero())
	assert.Equal(t, RoleInitiator, got.Role)
	assert.True(t, got.Test)

	later := now.Add(40 * time.Millisecond)
	ack := NewAck(got, key.NewSession().Public(), later)

	b, err = ack.Marshal()
	require.NoError(t, err)

	gotAck, err := Parse(b)
	require.NoError(t, err)

	assert.Equal(t, KindAck, gotAck.Kind)
	assert.Equal(t, uint64(482913), gotAck.Correlation)
	assert.True(t, gotAck.EchoTimestamp.Equal(got.Timestamp))
	assert.Equal(t, RoleResponder, gotAck.Role)
	assert.InDelta(t, float64(40*time.Millisecond), float64(RoundTrip(gotAck, later)), float64(time.Millisecond))
}

func TestEnvelopeWithoutKey(t *testing.T) {
	e := &Envelope{Kind: KindProbe, Correlation: 7, Timestamp: time.Now()}

	b, err := e.Marshal()
	require.NoError(t, err)

	got, err := Parse(b)
	require.NoError(t, err)
	assert.False(t, got.HasSenderKey())
}

func TestParse_Malformed(t *testing.T) {
	good, err := NewProbe(1, testSess, time.Now()).Marshal()
	require.NoError(t, err)

	badVersion := append([]byte(nil), good...)
	badVersion[len(Magic)] = 0x7f

	unknownKind, err := bson.Marshal(wireEnvelope{Kind: "hello"})
	require.NoError(t, err)

	negative, err := bson.Marshal(wireEnvelope{Kind: "ack", Correlation: -5})
	require.NoError(t, err)

	for name, b := range map[string][]byte{
		"empty":        nil,
		"text":         []byte("ack ack ack"),
		"short":        MagicBytes[:4],
		"version":      badVersion,
		"truncated":    good[:len(good)-3],
		"unknown kind": append(append(append([]byte(nil), MagicBytes...), byte(v1)), unknownKind...),
		"negative":     append(append(append([]byte(nil), MagicBytes...), byte(v1)), negative...),
	} {
		_, err := Parse(b)
		assert.ErrorIs(t, err, ErrMalformedPayload, name)
	}
}

func TestNewCorrelation(t *testing.T) {
	seen := make(map[uint64]bool)

	for i := 0; i < 64; i++ {
		c := NewCorrelation()
		assert.LessOrEqual(t, c, uint64(math.MaxInt64))
		seen[c] = true
	}

	assert.Greater(t, len(seen), 60)
}

func TestMarshal_RejectsOversizedCorrelation(t *testing.T) {
	_, err := (&Envelope{Kind: KindProbe, Correlation: math.MaxUint64}).Marshal()
	assert.Error(t, err)
}

func TestHeaderLayout(t *testing.T) {
	assert.Equal(t, 8, len(Magic))
	assert.Equal(t, []byte(Magic), MagicBytes)

	b, err := NewProbe(1, testSess, time.Now()).Marshal()
	require.NoError(t, err)
	assert.Equal(t, MagicBytes, b[:len(Magic)])
	assert.Equal(t, byte(v1), b[headerLen-1])
}
