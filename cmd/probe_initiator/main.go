package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edup2p/peerprobe/cmd/internal/nodecfg"
	"github.com/edup2p/peerprobe/toversok"
	"github.com/edup2p/peerprobe/toversok/runtime"
)

// Flags
var (
	configFile string
	logLevel   string
	port       int
	target     string

	announceInterval time.Duration
	noAnnounce       bool
	allowPrefixes    string

	cfg = toversok.DefaultConfig()
)

func init() {
	flag.StringVar(&configFile, "config", "./probe_initiator.json", "path to config file")
	flag.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.IntVar(&port, "port", 0, "udp port to listen on, 0 picks one")
	flag.StringVar(&target, "target", "", "responder address, <nodekey>@<ip>:<port>; empty takes the config target, or the first discovered peer")

	flag.DurationVar(&announceInterval, "announce-interval", runtime.DefaultAnnounceInterval, "interval between announcements")
	flag.BoolVar(&noAnnounce, "no-announce", false, "do not announce or listen for announcements")
	flag.StringVar(&allowPrefixes, "allow", "", "comma separated prefixes to accept announcements from, empty accepts all")

	flag.BoolVar(&cfg.StrictCorrelation, "strict", false, "ignore acknowledgments that do not echo the probe's correlation value")
	flag.BoolVar(&cfg.RequireTarget, "require-target", false, "refuse to take the first discovered peer when no target is given")

	nodecfg.RegisterTimingFlags(flag.CommandLine, &cfg)
}

func main() {
	programLevel := nodecfg.SetupLogging()

	flag.Parse()

	nodecfg.ApplyLevel(programLevel, logLevel)

	listenPort, err := nodecfg.CheckPort(port)
	if err != nil {
		slog.Error("invalid port, aborting", "err", err)
		os.Exit(1)
	}

	prefixes, err := nodecfg.ParsePrefixes(allowPrefixes)
	if err != nil {
		slog.Error("could not parse allowed prefixes", "err", err)
		os.Exit(1)
	}

	file, err := nodecfg.NormalisePath(configFile)
	if err != nil {
		slog.Error("could not normalise config file", "err", err, "file", configFile)
		os.Exit(1)
	}

	config, err := nodecfg.GetOrGenerate(file, listenPort)
	if err != nil {
		slog.Error("could not get or generate config file", "err", err)
		os.Exit(1)
	}

	if err = nodecfg.OverridePort(config, file, listenPort); err != nil {
		slog.Error("could not write config file", "err", err)
		os.Exit(1)
	}

	if target == "" {
		target = config.Target
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rt, err := runtime.New(ctx, runtime.Options{
		NodeKey:          config.PrivateKey,
		ListenPort:       config.ListenPort,
		AnnounceInterval: announceInterval,
		DisableAnnounce:  noAnnounce,
		AllowedPrefixes:  prefixes,
	})
	if err != nil {
		slog.Error("could not start runtime", "err", err)
		os.Exit(1)
	}

	res, err := toversok.NewInitiator(ctx, rt, cfg).Run(ctx, target)
	if err != nil {
		slog.Error("initiator failed", "err", err)
		_ = rt.Close()
		os.Exit(1)
	}

	slog.Info("probe acknowledged",
		"peer", res.Peer,
		"correlation", res.Correlation,
		"echoed", res.Ack.Correlation,
		"probes", res.Probes,
		"rtt", res.RTT,
	)

	if err := rt.Close(); err != nil {
		slog.Warn("error while closing runtime", "err", err)
	}
}
