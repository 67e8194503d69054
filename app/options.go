package app

import (
	"os"
	"syscall"
)

type SignalHandler func(a *App, sig os.Signal) (done bool)

type options struct {
	sigs       []os.Signal
	sigHandler SignalHandler
}

func defaultOptions() options {
	return options{
		sigs: []os.Signal{
			syscall.SIGTERM,
			syscall.SIGQUIT,
			syscall.SIGINT,
		},
		sigHandler: func(a *App, sig os.Signal) bool {
			switch sig {
			case syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT:
				a.logger.Info("app: handle shutdown signal: %s", sig)
				return true
			default:
				a.logger.Info("app: unhandled signal: %s", sig)
				return false
			}
		},
	}
}

func (opts *options) ensure() {
	if opts.sigHandler == nil {
		panic("app: options sigHandler == nil")
	}
}

type Option func(o *options)

func AddSignals(sigs ...os.Signal) Option {
	return func(o *options) {
		m := make(map[os.Signal]struct{})
		for _, v := range o.sigs {
			m[v] = struct{}{}
		}
		for _, v := range sigs {
			if _, ok := m[v]; !ok {
				m[v] = struct{}{}
				o.sigs = append(o.sigs, v)
			}
		}
	}
}

func SetSignalHandler(sigHandler SignalHandler) Option {
	return func(o *options) {
		o.sigHandler = sigHandler
	}
}
