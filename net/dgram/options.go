package dgram

import (
	"fmt"
	"time"
)

type serverOptions struct {
	readBufSize int
	writePeriod time.Duration
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		readBufSize: 64 * 1024,
		writePeriod: 10 * time.Second,
	}
}

func (opts *serverOptions) ensure() {
	if opts.readBufSize <= 0 {
		panic(fmt.Sprintf("dgram: serverOptions readBufSize:%d <= 0", opts.readBufSize))
	}
	if opts.writePeriod <= 0 {
		panic(fmt.Sprintf("dgram: serverOptions writePeriod:%d <= 0", opts.writePeriod))
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
