package types

import (
	"net"
	"net/netip"
	"time"
)

// UDPConn is the minimal socket surface the runtime needs, satisfied by *net.UDPConn.
type UDPConn interface {
	SetReadDeadline(t time.Time) error

	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)

	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)

	LocalAddr() net.Addr

	Close() error
}

type UDPConnCloseCatcher struct {
	UDPConn

	Closed bool
}

func (c *UDPConnCloseCatcher) Close() error {
	c.Closed = true

	return c.UDPConn.Close()
}
