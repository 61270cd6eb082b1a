package msgwire

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/key"
)

const headerLen = len(Magic) + 2

func LooksLikeWireMessage(pkt []byte) bool {
	if len(pkt) < headerLen {
		// too short, cant possibly be a wire message
		return false
	}

	return string(pkt[:len(Magic)]) == Magic
}

func ParseWireMessage(pkt []byte) (WireMessage, error) {
	if !LooksLikeWireMessage(pkt) {
		return nil, errors.New("not a wire message")
	}

	version := pkt[len(Magic)]
	msgType := pkt[len(Magic)+1]

	specificMsg := pkt[headerLen:]

	if VersionMarker(version) != v1 {
		return nil, fmt.Errorf("invalid version: %x", version)
	}

	switch MessageType(msgType) {
	case HelloMessage:
		return parseHello(specificMsg)
	case HelloAckMessage:
		return parseHelloAck(specificMsg)
	case AnnounceMessage:
		return parseAnnounce(specificMsg)
	case PrivateMessage:
		return parsePrivate(specificMsg)
	default:
		return nil, fmt.Errorf("invalid message type: %x", msgType)
	}
}

var errTooSmall = errors.New("wire message too small")

func parseHello(b []byte) (*Hello, error) {
	if len(b) < 12+key.Len {
		return nil, errTooSmall
	}

	txid := TxID(b[:12])
	b = b[12:]

	return &Hello{
		TxID:    txid,
		NodeKey: key.NodePublic(b[:key.Len]),
	}, nil
}

func parseHelloAck(b []byte) (*HelloAck, error) {
	if len(b) < 12+2*key.Len+addrPortLen {
		return nil, errTooSmall
	}

	txid := TxID(b[:12])
	b = b[12:]

	nKey := key.NodePublic(b[:key.Len])
	b = b[key.Len:]

	sKey := key.MakeSessionPublic([key.Len]byte(b[:key.Len]))
	b = b[key.Len:]

	return &HelloAck{
		TxID:       txid,
		NodeKey:    nKey,
		SessionKey: sKey,
		Src:        types.ParseAddrPort([addrPortLen]byte(b[:addrPortLen])),
	}, nil
}

func parseAnnounce(b []byte) (*Announce, error) {
	if len(b) < 2*key.Len {
		return nil, errTooSmall
	}

	nKey := key.NodePublic(b[:key.Len])
	b = b[key.Len:]

	sKey := key.MakeSessionPublic([key.Len]byte(b[:key.Len]))
	b = b[key.Len:]

	if len(b)%addrPortLen != 0 {
		return nil, errors.New("malformed announce addresses")
	}

	aps := make([]netip.AddrPort, 0, len(b)/addrPortLen)

	for len(b) > 0 {
		aps = append(aps, types.ParseAddrPort([addrPortLen]byte(b[:addrPortLen])))
		b = b[addrPortLen:]
	}

	return &Announce{
		NodeKey:     nKey,
		SessionKey:  sKey,
		MyAddresses: aps,
	}, nil
}

func parsePrivate(b []byte) (*Private, error) {
	if len(b) < key.Len+1 {
		return nil, errTooSmall
	}

	return &Private{
		From:   key.NodePublic(b[:key.Len]),
		Sealed: b[key.Len:],
	}, nil
}
