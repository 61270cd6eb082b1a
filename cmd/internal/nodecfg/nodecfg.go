// Package nodecfg holds the on-disk node config, logging setup, and flag helpers shared by the probe commands.
package nodecfg

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/edup2p/peerprobe/toversok"
	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/key"
)

type Config struct {
	PrivateKey key.NodePrivate

	ListenPort uint16

	// Target is the responder address the initiator falls back on when none is given.
	Target string `json:",omitempty"`
}

// SetupLogging installs a text handler on stderr, and returns the level var it is controlled by.
func SetupLogging() *slog.LevelVar {
	programLevel := new(slog.LevelVar) // Info by default

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel, AddSource: true})
	slog.SetDefault(slog.New(h))

	return programLevel
}

// ParseLevel parses a -log-level value, where empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return types.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unrecognised log level %q", s)
	}
}

// ApplyLevel sets lvl from a -log-level value, warning and keeping info on garbage.
func ApplyLevel(lvl *slog.LevelVar, s string) {
	level, err := ParseLevel(s)
	if err != nil {
		slog.Warn("could not recognise flag --log-level, will use log level info", "unrecognised-argument", s)
	}

	lvl.Set(level)
}

// RegisterTimingFlags exposes the workflow timeouts of cfg on fs, with cfg's current values as defaults.
func RegisterTimingFlags(fs *flag.FlagSet, cfg *toversok.Config) {
	fs.DurationVar(&cfg.DirectConnectTimeout, "direct-timeout", cfg.DirectConnectTimeout, "timeout of the direct connection attempt")
	fs.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", cfg.DiscoveryTimeout, "timeout of peer discovery")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "timeout of waiting for the peer to be connected")
	fs.DurationVar(&cfg.RecordTimeout, "record-timeout", cfg.RecordTimeout, "timeout of waiting for the peer's record")
	fs.DurationVar(&cfg.AckTimeout, "ack-timeout", cfg.AckTimeout, "timeout of waiting for the acknowledgment")
	fs.DurationVar(&cfg.ProbeWaitTimeout, "probe-timeout", cfg.ProbeWaitTimeout, "timeout of waiting for a probe")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "interval between condition checks")
	fs.DurationVar(&cfg.RefreshEvery, "refresh-every", cfg.RefreshEvery, "interval between connection refreshes")
	fs.DurationVar(&cfg.ProbeResendInterval, "resend-every", cfg.ProbeResendInterval, "interval between probe resends, 0 disables")
}

// ParsePrefixes parses a comma separated list of prefixes, empty gives none.
func ParsePrefixes(s string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid prefix %q: %w", part, err)
		}

		prefixes = append(prefixes, p.Masked())
	}

	return prefixes, nil
}

// CheckPort range checks a port flag.
func CheckPort(port int) (uint16, error) {
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 0-65535", port)
	}

	return uint16(port), nil
}

func NormalisePath(file string) (string, error) {
	var err error

	file = strings.TrimSpace(file)

	if strings.HasPrefix(file, "~/") {
		dirname, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not find home directory: %w", err)
		}

		file = filepath.Join(dirname, file[2:])
	}

	if file, err = filepath.Abs(file); err != nil {
		return "", fmt.Errorf("failed to normalise path: %w", err)
	}

	return file, nil
}

// GetOrGenerate loads the config at file, or generates one with a fresh node key and writes it there.
func GetOrGenerate(file string, port uint16) (*Config, error) {
	var c *Config

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file does not exist, generating new config...", "file", file)

			c = &Config{
				PrivateKey: key.NewNode(),
				ListenPort: port,
			}

			slog.Info("config generated, writing to file...")

			if err = Write(c, file); err != nil {
				return nil, err
			}

			return c, nil
		}

		return nil, fmt.Errorf("cannot read config file %s: %w", file, err)
	}

	if err = json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if c.PrivateKey.IsZero() {
		return nil, fmt.Errorf("config file %s has no private key", file)
	}

	slog.Info("loaded config from file", "file", file)

	return c, nil
}

func Write(c *Config, file string) error {
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(file, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write config to file: %w", err)
	}

	return nil
}

// OverridePort makes the config follow a port given on the command line, rewriting the file when they disagree.
func OverridePort(c *Config, file string, port uint16) error {
	if port == 0 || c.ListenPort == port {
		return nil
	}

	slog.Warn("config port and given port disagree, overwriting config", "config", c.ListenPort, "cli-given", port)
	c.ListenPort = port

	return Write(c, file)
}
