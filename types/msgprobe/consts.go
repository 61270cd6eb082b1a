package msgprobe

// Magic is the 8 byte header of all probe envelopes
// "🔬🤝"
// F0 9F 94 AC
// F0 9F A4 9D
const Magic = "\xF0\x9F\x94\xAC\xF0\x9F\xA4\x9D"

var MagicBytes = []byte(Magic)

type VersionMarker byte

const v1 = VersionMarker(0x1)

// Kind discriminates probe envelopes.
type Kind byte

const (
	KindUnknown Kind = iota
	KindProbe
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

func parseKind(s string) Kind {
	switch s {
	case "probe":
		return KindProbe
	case "ack":
		return KindAck
	default:
		return KindUnknown
	}
}

// Sender role tags.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"
)
