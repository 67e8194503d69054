package stream

import (
	"crypto/tls"
	"fmt"
	"time"
)

type connOptions struct {
	readBufSize int
	writePeriod time.Duration
}

type serverOptions struct {
	connOptions
	maxConnNum      int
	keepAlivePeriod time.Duration
	tlsConfig       *tls.Config
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		connOptions: connOptions{
			readBufSize: 64 * 1024,
			writePeriod: 30 * time.Second,
		},
		keepAlivePeriod: 3 * time.Minute,
	}
}

func (opts *serverOptions) ensure() {
	if opts.readBufSize <= 0 {
		panic(fmt.Sprintf("stream: serverOptions readBufSize:%d <= 0", opts.readBufSize))
	}
	if opts.writePeriod <= 0 {
		panic(fmt.Sprintf("stream: serverOptions writePeriod:%d <= 0", opts.writePeriod))
	}
}

type ServerOption func(o *serverOptions)

func ServerReadBufSize(readBufSize int) ServerOption {
	return func(o *serverOptions) {
		o.readBufSize = readBufSize
	}
}

func ServerWritePeriod(writePeriod time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.writePeriod = writePeriod
	}
}

func ServerMaxConnNum(maxConnNum int) ServerOption {
	return func(o *serverOptions) {
		o.maxConnNum = maxConnNum
	}
}

func ServerKeepAlivePeriod(keepAlivePeriod time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.keepAlivePeriod = keepAlivePeriod
	}
}

// ServerTLSConfig wraps the listener with a caller-provisioned TLS
// config. Certificate setup stays with the caller.
func ServerTLSConfig(tlsConfig *tls.Config) ServerOption {
	return func(o *serverOptions) {
		o.tlsConfig = tlsConfig
	}
}
