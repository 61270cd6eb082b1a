package runtime

import (
	"net/netip"
	"time"
)

const (
	SockRecvReadTimeout = 5 * time.Second

	// HelloInterval is how often an unanswered hello is resent while connecting.
	HelloInterval = 500 * time.Millisecond

	// PendingHelloTTL is how long a sent hello is remembered, for matching late acks.
	PendingHelloTTL = 30 * time.Second

	DefaultAnnounceInterval = 1 * time.Second

	// AnnounceTokens is how many announcements per AnnounceInterval are processed per sender.
	AnnounceTokens = 2

	// AnnounceTTL keeps announcements on the local network.
	AnnounceTTL = 1

	SockRecvFrameChanBuffer = 256
)

var DefaultAnnounceGroup = netip.MustParseAddrPort("239.255.42.99:4299")
