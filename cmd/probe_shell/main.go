package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/edup2p/peerprobe/cmd/internal/nodecfg"
	"github.com/edup2p/peerprobe/toversok"
	"github.com/edup2p/peerprobe/toversok/runtime"
	"github.com/edup2p/peerprobe/types"
	"github.com/edup2p/peerprobe/types/key"
	"github.com/edup2p/peerprobe/types/peer"
)

var (
	programLevel *slog.LevelVar

	privKey *key.NodePrivate

	cfg = toversok.DefaultConfig()

	rtCtx context.Context
	rtCcc context.CancelFunc
	rt    *runtime.Runtime

	resolved peer.Identity

	initiator *toversok.Coordinator
	responder *toversok.Responder
)

var errNotUp = errors.New("runtime is not up, run 'up' first")

func main() {
	programLevel = nodecfg.SetupLogging()
	programLevel.Set(slog.LevelDebug)

	shell := ishell.New()

	shell.SetHomeHistoryPath(".probe_shell_history")

	shell.Println("Peer Probe Interactive Shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "trace",
		Help: "set log level to trace",
		Func: func(c *ishell.Context) {
			programLevel.Set(types.LevelTrace)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelDebug)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelInfo)
		},
	})

	shell.AddCmd(keyCmd())
	shell.AddCmd(cfgCmd())
	shell.AddCmd(upCmd())
	shell.AddCmd(downCmd())
	shell.AddCmd(regCmd())
	shell.AddCmd(netCmd())
	shell.AddCmd(probeCmd())
	shell.AddCmd(respondCmd())
	shell.AddCmd(statusCmd())

	shell.Run()

	if rt != nil {
		_ = rt.Close()
	}
}

func argOrLine(c *ishell.Context, prompt string) string {
	if len(c.Args) > 0 {
		return c.Args[0]
	}

	c.Println(prompt)
	return c.ReadLine()
}

// Key commands
func keyCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "key",
		Help: "node key setting, generating, and reading",
		Func: func(c *ishell.Context) {
			if privKey == nil {
				c.Println("key: nil")
			} else {
				c.Println("key:", privKey.Marshal())
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "gen",
		Help: "generate a new key",
		Func: func(c *ishell.Context) {
			k := key.NewNode()
			privKey = &k

			c.Println("key generated:", privKey.Marshal())
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "set",
		Help: "set a key",
		Func: func(c *ishell.Context) {
			p, err := key.UnmarshalPrivate(argOrLine(c, "enter the key, with 'privkey:' prefix"))
			if err != nil {
				c.Err(err)
				return
			}
			privKey = p
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "load",
		Help: "load the key from a probe config file: <file>",
		Func: func(c *ishell.Context) {
			file, err := nodecfg.NormalisePath(argOrLine(c, "enter the config file path"))
			if err != nil {
				c.Err(err)
				return
			}

			conf, err := nodecfg.GetOrGenerate(file, 0)
			if err != nil {
				c.Err(err)
				return
			}

			privKey = &conf.PrivateKey
			c.Println("identity:", peer.IdentityOf(privKey.Public()))
		},
	})

	return c
}

func cfgCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "cfg",
		Help: "show or change workflow settings",
		Func: func(c *ishell.Context) {
			c.Printf("%+v\n", cfg)
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "strict",
		Help: "enforce correlation matching: on|off",
		Func: func(c *ishell.Context) {
			cfg.StrictCorrelation = argOrLine(c, "on or off?") == "on"
			c.Println("strict correlation:", cfg.StrictCorrelation)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "ack-timeout",
		Help: "set the acknowledgment timeout: <duration>",
		Func: func(c *ishell.Context) {
			d, err := time.ParseDuration(argOrLine(c, "enter a duration"))
			if err != nil {
				c.Err(err)
				return
			}
			cfg.AckTimeout = d
		},
	})

	return c
}

func upCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "up",
		Help: "start the runtime: [port] [no-announce]",
		Func: func(c *ishell.Context) {
			if rt != nil {
				c.Err(errors.New("runtime already up"))
				return
			}

			if privKey == nil {
				k := key.NewNode()
				privKey = &k
				c.Println("no key set, generated one")
			}

			opts := runtime.Options{NodeKey: *privKey}

			if len(c.Args) > 0 {
				p, err := strconv.ParseUint(c.Args[0], 10, 16)
				if err != nil {
					c.Err(err)
					return
				}
				opts.ListenPort = uint16(p)
			}

			opts.DisableAnnounce = len(c.Args) > 1 && c.Args[1] == "no-announce"

			rtCtx, rtCcc = context.WithCancel(context.Background())

			var err error
			if rt, err = runtime.New(rtCtx, opts); err != nil {
				rtCcc()
				rt = nil
				c.Err(err)
				return
			}

			for _, addr := range rt.LocalAddresses() {
				c.Println(addr.String())
			}
		},
	}
}

func downCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "down",
		Help: "stop the runtime",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			if err := rt.Close(); err != nil {
				c.Err(err)
			}
			rtCcc()

			rt = nil
			resolved = ""
			initiator = nil
			responder = nil
		},
	}
}

func regCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "reg",
		Help: "peer registry",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			for _, rec := range rt.Registry().Snapshot() {
				c.Println(rec.Debug())
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "save",
		Help: "save a registry snapshot: <file>",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			b, err := rt.Registry().MarshalBSON()
			if err != nil {
				c.Err(err)
				return
			}

			if err := os.WriteFile(argOrLine(c, "enter the file path"), b, 0600); err != nil {
				c.Err(err)
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "load",
		Help: "merge a registry snapshot: <file>",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			b, err := os.ReadFile(argOrLine(c, "enter the file path"))
			if err != nil {
				c.Err(err)
				return
			}

			if err := rt.Registry().UnmarshalBSON(b); err != nil {
				c.Err(err)
				return
			}

			c.Println(rt.Registry().String())
		},
	})

	return c
}

func netCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "net",
		Help: "connection handling",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			for _, id := range rt.ConnectedPeers() {
				c.Println("connected:", id)
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "connect directly: <nodekey>@<ip>:<port>",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			addr, err := rt.ParseAddress(argOrLine(c, "enter the address"))
			if err != nil {
				c.Err(err)
				return
			}

			ctx, cancel := context.WithTimeout(rtCtx, cfg.DirectConnectTimeout)
			defer cancel()

			if err := rt.Connect(ctx, addr); err != nil {
				c.Err(err)
				return
			}

			c.Println("connected")
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "refresh",
		Help: "hello every known peer",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			if err := rt.Refresh(rtCtx); err != nil {
				c.Err(err)
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "resolve",
		Help: "resolve the peer under test: [address]",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			var target *peer.Address
			if len(c.Args) > 0 {
				addr, err := rt.ParseAddress(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				target = &addr
			}

			id, err := toversok.NewResolver(rt, cfg).Resolve(rtCtx, target)
			if err != nil {
				c.Err(err)
				return
			}

			resolved = id
			c.Println("resolved:", id)
		},
	})

	return c
}

func probeCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "probe",
		Help: "send a probe to the resolved peer, and wait for the acknowledgment",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			if resolved.IsZero() {
				c.Err(errors.New("no peer resolved, run 'net resolve' first"))
				return
			}

			// every probe gets a fresh session, so an earlier acknowledgment does not count
			initiator = toversok.NewCoordinator(rtCtx, rt, toversok.NewSession(rt.Identity()), cfg)
			initiator.InstallInitiator()
			responder = nil

			initiator.Session().SetTarget(resolved)

			probe, err := initiator.SendProbe(rtCtx, resolved)
			if err != nil {
				c.Err(err)
				return
			}

			ack, err := initiator.AwaitAck(rtCtx)
			if err != nil {
				c.Err(err)
				return
			}

			c.Printf("ack: %s (sent correlation %d)\n", ack.Debug(), probe.Correlation)
		},
	}
}

func respondCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "respond",
		Help: "answer probes in the background",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Err(errNotUp)
				return
			}

			responder = toversok.NewResponder(rtCtx, rt, cfg)
			initiator = nil

			r := responder
			go func() {
				report, err := r.Run(rtCtx)
				if err != nil {
					slog.Error("responder failed", "err", err)
					return
				}
				slog.Info("acknowledged probe", "peer", report.Peer, "replies", report.Replies)
			}()
		},
	}
}

func statusCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "status",
		Help: "show the state of the current run",
		Func: func(c *ishell.Context) {
			if rt == nil {
				c.Println("runtime: down")
				return
			}

			c.Println("identity:", rt.Identity())
			c.Println("session:", rt.Session().Debug())
			c.Println("registry:", rt.Registry().String())
			c.Println("resolved:", resolved)

			if initiator != nil {
				sess := initiator.Session()
				corr, sentAt, n := sess.Probe()
				c.Println("initiator: correlation", corr, "sent", n, "times, first at", sentAt.Format(time.TimeOnly), "ack", sess.AckObserved())
			}

			if responder != nil {
				sess := responder.Session()
				c.Println("responder: pinned", sess.Target(), "replies", sess.Replies(), "err", sess.Err())
			}
		},
	}
}
