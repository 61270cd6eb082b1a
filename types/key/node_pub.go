package key

import (
	"encoding/hex"
	"fmt"

	"go4.org/mem"
)

type NodePublic NakedKey

func (n NodePublic) Debug() string {
	return fmt.Sprintf("%x", n)
}

func (n NodePublic) HexString() string {
	return hex.EncodeToString(n[:])
}

func (n NodePublic) IsZero() bool {
	return n == NodePublic{}
}

// AppendText implements encoding.TextAppender. It appends a typed prefix
// followed by hex encoded represtation of k to b.
func (n NodePublic) AppendText(b []byte) ([]byte, error) {
	return appendHexKey(b, nodePublicHexPrefix, n[:]), nil
}

// MarshalText implements encoding.TextMarshaler. It returns a typed prefix
// followed by a hex encoded representation of k.
func (n NodePublic) MarshalText() ([]byte, error) {
	return n.AppendText(nil)
}

// UnmarshalText implements encoding.TextUnmarshaler. It expects a typed prefix
// followed by a hex encoded representation of k.
func (n *NodePublic) UnmarshalText(b []byte) error {
	return parseHex(n[:], mem.B(b), mem.S(nodePublicHexPrefix))
}

// String returns the typed-prefix text form, "nodekey:" followed by 64 hex digits.
func (n NodePublic) String() string {
	b, _ := n.AppendText(nil)
	return string(b)
}

// ParseNodePublic parses the text form produced by NodePublic.String.
func ParseNodePublic(s string) (NodePublic, error) {
	var n NodePublic
	err := n.UnmarshalText([]byte(s))
	return n, err
}
