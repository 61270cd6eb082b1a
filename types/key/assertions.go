package key

import (
	"encoding"

	"go.mongodb.org/mongo-driver/bson"
)

type canTextMarshal interface {
	// We need text encoding for JSON config files and the shell.

	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

type canBsonMarshal interface {
	bson.ValueMarshaler
	bson.ValueUnmarshaler
}

// NODE

var (
	// Identities travel inside addresses and config files.
	_ canTextMarshal = &NodePublic{}
	_ canBsonMarshal = &NodePublic{}

	// We need this to persist node keys to disk.
	_ canTextMarshal = &NodePrivate{}
)

// SESSION

var (
	// Session keys are embedded in probe envelopes.
	_ canTextMarshal = &SessionPublic{}
	_ canBsonMarshal = &SessionPublic{}
)
