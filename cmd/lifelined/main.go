package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ganeshkbhat/lifeline/app"
	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	lnet "github.com/ganeshkbhat/lifeline/net"
	"github.com/ganeshkbhat/lifeline/net/dgram"
	"github.com/ganeshkbhat/lifeline/net/stream"
	"github.com/ganeshkbhat/lifeline/net/ws"
	"github.com/ganeshkbhat/lifeline/safe"
	"github.com/pkg/errors"
)

type serverConf struct {
	Name      string `yaml:"name" json:"name" toml:"name"`
	Transport string `yaml:"transport" json:"transport" toml:"transport"`
	Network   string `yaml:"network" json:"network" toml:"network"`
	Addr      string `yaml:"addr" json:"addr" toml:"addr"`
}

func main() {
	var (
		confPath  string
		transport string
		network   string
		addr      string
		verbose   bool
	)
	fs := flag.NewFlagSet("lifelined", flag.ContinueOnError)
	fs.StringVarP(&confPath, "config", "c", "", "Config file (.yaml/.json/.toml)")
	fs.StringVarP(&transport, "transport", "t", "dgram", "Transport kind (stream|dgram|ws)")
	fs.StringVarP(&network, "network", "n", "", "Network (tcp, tcp4, udp, udp4, ...)")
	fs.StringVarP(&addr, "addr", "a", ":41234", "Listen address")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conf := serverConf{Name: "lifelined", Transport: transport, Network: network, Addr: addr}
	if confPath != "" {
		if err := app.LoadConf(confPath, &conf); err != nil {
			fmt.Fprintf(os.Stderr, "lifelined: %+v\n", err)
			os.Exit(1)
		}
	}

	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewStdLogger(level)
	defer logger.Shutdown()
	defer safe.Recover(logger)

	disp := lifecycle.NewDispatcher(echoChains(logger), logger)
	s, err := newServer(conf, disp, logger)
	if err != nil {
		logger.Error("main: %+v", err)
		return
	}

	a := app.New(logger)
	a.AddService(
		func() error {
			if err := s.Listen(); err != nil {
				return err
			}
			logger.Info("main: %s server %s listen", conf.Transport, s.Addr())
			return s.Serve()
		},
		func() error {
			s.Shutdown()
			return nil
		},
	)
	if err := a.Run(); err != nil {
		logger.Error("main: app run err: %+v", err)
	}
	logger.Info("main: %s server exit", conf.Transport)
}

func newServer(conf serverConf, disp *lifecycle.Dispatcher,
	logger log.Logger) (lnet.Server, error) {
	switch conf.Transport {
	case "stream":
		return stream.NewServer(conf.Name, orDefault(conf.Network, "tcp"),
			conf.Addr, disp, logger), nil
	case "dgram":
		return dgram.NewServer(conf.Name, orDefault(conf.Network, "udp"),
			conf.Addr, disp, logger), nil
	case "ws":
		return ws.NewServer(conf.Name, orDefault(conf.Network, "tcp"),
			conf.Addr, disp, logger), nil
	}
	return nil, errors.Errorf("main: unknown transport %q", conf.Transport)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// echoChains registers a logging handler on every stage so the strict
// no-handlers policy stays quiet while the daemon runs.
func echoChains(logger log.Logger) lifecycle.Chains {
	on := func(stage lifecycle.Stage) []lifecycle.Handler {
		return []lifecycle.Handler{func(ev *lifecycle.Event) error {
			switch stage {
			case lifecycle.StageListening:
				logger.Info("main: [%s] local %s", stage, ev.Local)
			case lifecycle.StageReceiveMessage, lifecycle.StageProcessMessage,
				lifecycle.StageRespondMessage:
				logger.Info("main: [%s] peer %s data %q", stage, ev.Peer, ev.Data)
			default:
				logger.Info("main: [%s] peer %s", stage, ev.Peer)
			}
			return nil
		}}
	}
	chains := lifecycle.Chains{}
	for _, stage := range []lifecycle.Stage{
		lifecycle.StageInit,
		lifecycle.StageListening,
		lifecycle.StageHandshake,
		lifecycle.StageConnect,
		lifecycle.StageReceiveMessage,
		lifecycle.StageProcessMessage,
		lifecycle.StageRespondMessage,
		lifecycle.StageDisconnect,
		lifecycle.StageShutdown,
	} {
		chains[stage] = on(stage)
	}
	chains[lifecycle.StageError] = []lifecycle.Handler{func(ev *lifecycle.Event) error {
		logger.Error("main: [error][tag:%s][stage:%s] err: %+v", ev.Tag, ev.From, ev.Err)
		return nil
	}}
	return chains
}
