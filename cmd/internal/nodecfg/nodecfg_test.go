package nodecfg

import (
	"flag"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edup2p/peerprobe/toversok"
	"github.com/edup2p/peerprobe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrGenerate(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.json")

	c, err := GetOrGenerate(file, 4242)
	require.NoError(t, err)
	assert.False(t, c.PrivateKey.IsZero())
	assert.Equal(t, uint16(4242), c.ListenPort)

	// second load reads the generated key back
	again, err := GetOrGenerate(file, 0)
	require.NoError(t, err)
	assert.True(t, c.PrivateKey.Equal(again.PrivateKey))
	assert.Equal(t, uint16(4242), again.ListenPort)
}

func TestGetOrGenerate_Garbage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0600))

	_, err := GetOrGenerate(file, 0)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0600))

	_, err = GetOrGenerate(file, 0)
	assert.Error(t, err, "config without key")
}

func TestOverridePort(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.json")

	c, err := GetOrGenerate(file, 1000)
	require.NoError(t, err)

	require.NoError(t, OverridePort(c, file, 2000))

	again, err := GetOrGenerate(file, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), again.ListenPort)
}

func TestNormalisePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p, err := NormalisePath("  ~/probe.json ")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "probe.json"), p)

	p, err = NormalisePath("probe.json")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"trace": types.LevelTrace,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	for in, want := range cases {
		got, err := ParseLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestParsePrefixes(t *testing.T) {
	ps, err := ParsePrefixes("10.1.2.3/8, 192.0.2.0/24,")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.0.2.0/24")}, ps)

	ps, err = ParsePrefixes("")
	require.NoError(t, err)
	assert.Empty(t, ps)

	_, err = ParsePrefixes("10.0.0.0")
	assert.Error(t, err)
}

func TestRegisterTimingFlags(t *testing.T) {
	cfg := toversok.DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)

	RegisterTimingFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"-ack-timeout", "3s", "-resend-every", "0"}))

	assert.Equal(t, 3*time.Second, cfg.AckTimeout)
	assert.Equal(t, time.Duration(0), cfg.ProbeResendInterval)
	assert.Equal(t, toversok.DefaultConfig().DiscoveryTimeout, cfg.DiscoveryTimeout)
}

func TestCheckPort(t *testing.T) {
	p, err := CheckPort(4242)
	assert.NoError(t, err)
	assert.Equal(t, uint16(4242), p)

	_, err = CheckPort(70000)
	assert.Error(t, err)
}
