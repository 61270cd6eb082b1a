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

	announceInterval time.Duration
	noAnnounce       bool
	allowPrefixes    string

	stay bool

	cfg = toversok.DefaultConfig()
)

func init() {
	flag.StringVar(&configFile, "config", "./probe_responder.json", "path to config file")
	flag.StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.IntVar(&port, "port", 4242, "udp port to listen on")

	flag.DurationVar(&announceInterval, "announce-interval", runtime.DefaultAnnounceInterval, "interval between announcements")
	flag.BoolVar(&noAnnounce, "no-announce", false, "do not announce or listen for announcements")
	flag.StringVar(&allowPrefixes, "allow", "", "comma separated prefixes to accept announcements from, empty accepts all")

	flag.BoolVar(&stay, "stay", false, "keep answering probes after the first one, until interrupted")

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

	for _, addr := range rt.LocalAddresses() {
		slog.Info("reachable at", "address", addr.String())
	}

	report, err := toversok.NewResponder(ctx, rt, cfg).Run(ctx)
	if err != nil {
		slog.Error("responder failed", "err", err)
		_ = rt.Close()
		os.Exit(1)
	}

	slog.Info("acknowledged probe", "peer", report.Peer, "replies", report.Replies)

	if stay {
		slog.Info("answering further probes until interrupted")
		<-ctx.Done()
	}

	if err := rt.Close(); err != nil {
		slog.Warn("error while closing runtime", "err", err)
	}
}
