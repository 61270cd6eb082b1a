package msgwire

// Magic is the 8 byte header of all runtime wire messages
// "📡🪢"
// F0 9F 93 A1
// F0 9F AA A2
const Magic = "\xF0\x9F\x93\xA1\xF0\x9F\xAA\xA2"

var MagicBytes = []byte(Magic)

type VersionMarker byte

const v1 = VersionMarker(0x1)

type MessageType byte

const (
	HelloMessage    = MessageType(0x00)
	HelloAckMessage = MessageType(0x01)
	AnnounceMessage = MessageType(0x02)
	PrivateMessage  = MessageType(0x10)
)

const addrPortLen = 18
