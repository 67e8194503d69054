package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn serves one upgraded websocket connection and is the Responder
// for its own peer.
type Conn struct {
	opts      connOptions
	name      string
	conn      *websocket.Conn
	disp      *lifecycle.Dispatcher
	peer      lifecycle.Peer
	writeMu   sync.Mutex
	closeOnce sync.Once
	doneChan  chan struct{}
	logger    log.Logger
}

func newConn(name string, conn *websocket.Conn, disp *lifecycle.Dispatcher,
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

func (c *Conn) Shutdown() {
	c.close()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.doneChan)
		if err := c.conn.Close(); err != nil {
			c.logger.Error("ws: conn %s close err: %+v",
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

// Respond writes one websocket message to the open connection.
func (c *Conn) Respond(_ lifecycle.Peer, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isDone() {
		return errors.Errorf("ws: conn %s respond after close", c)
	}
	if c.opts.writePeriod > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.writePeriod)); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := c.conn.WriteMessage(c.opts.msgType, data); err != nil {
		return errors.Wrapf(err, "ws: conn %s write", c)
	}
	return nil
}

func (c *Conn) serve() {
	defer c.disp.Closed(c.peer)
	defer c.close()
	c.disp.Handshake(c.peer)
	c.disp.Open(c.peer)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isDone() {
				c.logger.Info("ws: conn %s read err: %v", c, err)
			}
			return
		}
		if msgType != c.opts.msgType {
			c.logger.Error("ws: conn %s read msg type %d != %d",
				c, msgType, c.opts.msgType)
			return
		}
		c.disp.Data(c.peer, data, c)
	}
}
