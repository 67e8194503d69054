package stream

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	"github.com/ganeshkbhat/lifeline/pool/bytespool"
	"github.com/pkg/errors"
)

// Conn serves one accepted connection. It is the Responder for its own
// peer: Respond writes bytes directly to the still-open connection.
type Conn struct {
	opts       connOptions
	name       string
	conn       net.Conn
	disp       *lifecycle.Dispatcher
	peer       lifecycle.Peer
	writeMu    sync.Mutex
	closeOnce  sync.Once
	doneChan   chan struct{}
	readBytes  uint64
	writeBytes uint64
	logger     log.Logger
}

func newConn(name string, conn net.Conn, disp *lifecycle.Dispatcher,
	opts connOptions, logger log.Logger) *Conn {
	return &Conn{
		opts:     opts,
		name:     name,
		conn:     conn,
		disp:     disp,
		peer:     lifecycle.PeerFromAddr(conn.RemoteAddr()),
		doneChan: make(chan struct{}),
		logger:   logger,
	}
}

func (c *Conn) String() string {
	return fmt.Sprintf("[name:%s][local_addr:%s][remote_addr:%s]",
		c.name, c.conn.LocalAddr(), c.conn.RemoteAddr())
}

func (c *Conn) Name() string {
	return c.name
}

func (c *Conn) Peer() lifecycle.Peer {
	return c.peer
}

func (c *Conn) ReadBytes() uint64 {
	return atomic.LoadUint64(&c.readBytes)
}

func (c *Conn) WriteBytes() uint64 {
	return atomic.LoadUint64(&c.writeBytes)
}

func (c *Conn) Shutdown() {
	c.close()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.doneChan)
		if err := c.conn.Close(); err != nil {
			c.logger.Error("stream: conn %s close err: %+v",
				c, errors.WithStack(err))
		}
	})
}

func (c *Conn) isDone() bool {
	select {
	case <-c.doneChan:
		return true
	default:
	}
	return false
}

// Respond writes data to the open connection under the write deadline.
func (c *Conn) Respond(_ lifecycle.Peer, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isDone() {
		return errors.Errorf("stream: conn %s respond after close", c)
	}
	if c.opts.writePeriod > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.writePeriod)); err != nil {
			return errors.WithStack(err)
		}
	}
	n, err := c.conn.Write(data)
	if err != nil {
		return errors.Wrapf(err, "stream: conn %s write", c)
	}
	atomic.AddUint64(&c.writeBytes, uint64(n))
	return nil
}

func (c *Conn) serve() {
	defer c.disp.Closed(c.peer)
	defer c.close()
	c.disp.Open(c.peer)
	buf := make([]byte, c.opts.readBufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			atomic.AddUint64(&c.readBytes, uint64(n))
			data := bytespool.Get(n)
			copy(data, buf[:n])
			c.disp.Data(c.peer, data, c)
			bytespool.Put(data)
		}
		if err != nil {
			if !c.isDone() {
				if errors.Is(err, io.EOF) {
					c.logger.Info("stream: conn %s read err: %v", c, err)
				} else {
					c.logger.Error("stream: conn %s read err: %+v",
						c, errors.WithStack(err))
				}
			}
			return
		}
	}
}
