package ws

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BinaryMessage = websocket.BinaryMessage
	TextMessage   = websocket.TextMessage
)

type connOptions struct {
	msgType     int
	writePeriod time.Duration
}

type serverOptions struct {
	connOptions
	pattern          string
	maxConnNum       int
	keepAlivePeriod  time.Duration
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	checkOrigin      bool
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		connOptions: connOptions{
			msgType:     TextMessage,
			writePeriod: 30 * time.Second,
		},
		pattern:         "/",
		keepAlivePeriod: 3 * time.Minute,
		checkOrigin:     true,
	}
}

func (opts *serverOptions) ensure() {
	if opts.writePeriod <= 0 {
		panic(fmt.Sprintf("ws: serverOptions writePeriod:%d <= 0", opts.writePeriod))
	}
	switch opts.msgType {
	case BinaryMessage, TextMessage:
	default:
		panic("ws: serverOptions msgType not in (BinaryMessage, TextMessage)")
	}
}

type ServerOption func(o *serverOptions)

func ServerMsgType(msgType int) ServerOption {
	return func(o *serverOptions) {
		o.msgType = msgType
	}
}

func ServerWritePeriod(writePeriod time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.writePeriod = writePeriod
	}
}

func ServerPattern(pattern string) ServerOption {
	return func(o *serverOptions) {
		o.pattern = pattern
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

func ServerHandshakeTimeout(handshakeTimeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.handshakeTimeout = handshakeTimeout
	}
}

func ServerReadTimeout(readTimeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = readTimeout
	}
}

func ServerWriteTimeout(writeTimeout time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.writeTimeout = writeTimeout
	}
}

func ServerCheckOrigin(checkOrigin bool) ServerOption {
	return func(o *serverOptions) {
		o.checkOrigin = checkOrigin
	}
}
