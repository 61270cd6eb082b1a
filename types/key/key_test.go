package key

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNodePublic_TextRoundTrip(t *testing.T) {
	pub := NewNode().Public()

	s := pub.String()
	assert.Len(t, s, len(nodePublicHexPrefix)+2*Len)

	parsed, err := ParseNodePublic(s)
	assert.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestNodePublic_RejectsWrongPrefix(t *testing.T) {
	pub := NewSession().Public()

	b, err := pub.MarshalText()
	assert.NoError(t, err)

	_, err = ParseNodePublic(string(b))
	assert.Error(t, err)
}

func TestNodePublic_RejectsBadHex(t *testing.T) {
	_, err := ParseNodePublic(nodePublicHexPrefix + "zz")
	assert.Error(t, err)

	bad := []byte(NewNode().Public().String())
	bad[len(bad)-1] = 'x'
	_, err = ParseNodePublic(string(bad))
	assert.ErrorIs(t, err, errInvalidHexChar)
}

func TestNodePrivate_JSON(t *testing.T) {
	priv := NewNode()

	b, err := json.Marshal(priv)
	assert.NoError(t, err)

	var back NodePrivate
	assert.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, priv.Equal(back))

	p, err := UnmarshalPrivate(priv.Marshal())
	assert.NoError(t, err)
	assert.Equal(t, priv.Public(), p.Public())
}

func TestSessionPublic_SealAnonymous(t *testing.T) {
	priv := NewSession()
	other := NewSession()

	ct, err := priv.Public().SealAnonymous([]byte("hello"))
	assert.NoError(t, err)

	pt, ok := priv.OpenAnonymous(ct)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), pt)

	_, ok = other.OpenAnonymous(ct)
	assert.False(t, ok, "box must not open with an unrelated key")
}

func TestSessionPublic_BSON(t *testing.T) {
	type doc struct {
		Key *SessionPublic `bson:"key,omitempty"`
	}

	pub := NewSession().Public()

	b, err := bson.Marshal(doc{Key: &pub})
	assert.NoError(t, err)

	var back doc
	assert.NoError(t, bson.Unmarshal(b, &back))
	if assert.NotNil(t, back.Key) {
		assert.Equal(t, pub, *back.Key)
	}

	b, err = bson.Marshal(doc{})
	assert.NoError(t, err)

	back = doc{}
	assert.NoError(t, bson.Unmarshal(b, &back))
	assert.Nil(t, back.Key)
}
