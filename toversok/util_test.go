package toversok

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/types/msgprobe"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		DirectConnectTimeout: 100 * time.Millisecond,
		DiscoveryTimeout:     time.Second,
		ConnectTimeout:       time.Second,
		RecordTimeout:        500 * time.Millisecond,
		AckTimeout:           time.Second,
		ProbeWaitTimeout:     2 * time.Second,
		PollInterval:         10 * time.Millisecond,
		RefreshEvery:         20 * time.Millisecond,
		ProbeResendInterval:  50 * time.Millisecond,
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func marshal(t *testing.T, env *msgprobe.Envelope) []byte {
	b, err := env.Marshal()
	require.NoError(t, err)
	return b
}

func mustAddrPort(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}
