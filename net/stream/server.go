package stream

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	"github.com/ganeshkbhat/lifeline/safe"
	"github.com/pkg/errors"
)

// Server is the connection-oriented transport adapter. Every accepted
// connection is wired to one dispatcher lifecycle sequence: connect,
// then receiveMessage/processMessage/respondMessage per inbound chunk,
// then disconnect on peer close or teardown.
type Server struct {
	opts         serverOptions
	name         string
	network      string
	addr         string
	disp         *lifecycle.Dispatcher
	mu           sync.Mutex
	closeLisOnce sync.Once
	lis          net.Listener
	lisAddr      atomic.Value
	serveWg      sync.WaitGroup
	connsWg      sync.WaitGroup
	connsMu      sync.Mutex
	conns        map[*Conn]struct{}
	connId       uint64
	served       bool
	shutdown     bool
	doneChan     chan struct{}
	logger       log.Logger
}

func NewServer(name, network, addr string, disp *lifecycle.Dispatcher,
	logger log.Logger, opt ...ServerOption) *Server {
	opts := defaultServerOptions()
	for _, o := range opt {
		o(&opts)
	}
	opts.ensure()
	return &Server{
		opts:     opts,
		name:     name,
		network:  network,
		addr:     addr,
		disp:     disp,
		conns:    make(map[*Conn]struct{}),
		doneChan: make(chan struct{}),
		logger:   logger,
	}
}

func (s *Server) String() string {
	return fmt.Sprintf("[name:%s][listen_addr:%s]", s.Name(), s.Addr())
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Addr() string {
	if lisAddr := s.lisAddr.Load(); lisAddr != nil {
		return lisAddr.(string)
	}
	return s.addr
}

func (s *Server) ConnNum() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return errors.Errorf("stream: server %s already shutdown", s)
	}
	if s.lis != nil {
		return errors.Errorf("stream: server %s already listened", s)
	}
	s.disp.Init()
	lis, err := net.Listen(s.network, s.addr)
	if err != nil {
		err = errors.Wrapf(err, "stream: server %s listen", s.addr)
		s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
		return err
	}
	if s.opts.tlsConfig != nil {
		lis = tls.NewListener(lis, s.opts.tlsConfig)
	}
	s.lis = lis
	s.lisAddr.Store(lis.Addr().String())
	s.disp.Listening(lifecycle.PeerFromAddr(lis.Addr()))
	return nil
}

func (s *Server) Serve() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.Errorf("stream: server %s already shutdown", s)
	}
	if s.served {
		s.mu.Unlock()
		return errors.Errorf("stream: server %s already served", s)
	}
	if s.lis == nil {
		s.mu.Unlock()
		return errors.Errorf("stream: server %s no listener", s)
	}
	s.served = true
	s.serveWg.Add(1)
	defer s.serveWg.Done()
	s.mu.Unlock()
	defer func() {
		if err := s.closeListener(); err != nil {
			s.logger.Error("stream: server %s close listener err: %+v", s, err)
		}
	}()
	var tempDelay time.Duration
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			select {
			case <-s.doneChan:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.logger.Error("stream: server %s accept retry err: %+v",
					s, errors.WithStack(err))
				timer := time.NewTimer(tempDelay)
				select {
				case <-timer.C:
				case <-s.doneChan:
					timer.Stop()
					return nil
				}
				continue
			}
			err = errors.Wrapf(err, "stream: server %s accept", s)
			s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
			return err
		}
		tempDelay = 0
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	s.connsMu.Lock()
	if s.opts.maxConnNum > 0 && len(s.conns) >= s.opts.maxConnNum {
		s.connsMu.Unlock()
		s.logger.Warn("stream: server %s accept too many conns", s)
		if err := conn.Close(); err != nil {
			s.logger.Error("stream: server %s close overflow conn err: %+v",
				s, errors.WithStack(err))
		}
		return
	}
	if err := setConnOptions(conn, s.opts.keepAlivePeriod); err != nil {
		s.connsMu.Unlock()
		s.logger.Error("stream: server %s set conn options err: %+v", s, err)
		if err := conn.Close(); err != nil {
			s.logger.Error("stream: server %s close set options conn err: %+v",
				s, errors.WithStack(err))
		}
		return
	}
	s.connId++
	name := fmt.Sprintf("%s_%d", s.name, s.connId)
	c := newConn(name, conn, s.disp, s.opts.connOptions, s.logger)
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	s.connsWg.Add(1)
	safe.Go(s.logger, func() {
		defer s.connsWg.Done()
		c.serve()
		s.connsMu.Lock()
		delete(s.conns, c)
		s.connsMu.Unlock()
	})
}

// Shutdown closes the listener, shuts every live connection down (each
// fires its own disconnect) and then runs the dispatcher teardown. It
// is safe to invoke more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()
	close(s.doneChan)
	if s.lis != nil {
		if err := s.closeListener(); err != nil {
			s.logger.Error("stream: server %s close listener err: %+v", s, err)
		}
	}
	s.serveWg.Wait()
	s.connsMu.Lock()
	for c := range s.conns {
		c.Shutdown()
	}
	s.conns = make(map[*Conn]struct{})
	s.connsMu.Unlock()
	s.connsWg.Wait()
	s.disp.Teardown()
}

func (s *Server) closeListener() error {
	var err error
	s.closeLisOnce.Do(func() {
		err = errors.WithStack(s.lis.Close())
	})
	return err
}

func setConnOptions(conn net.Conn, keepAlivePeriod time.Duration) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok || keepAlivePeriod <= 0 {
		return nil
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return errors.Wrapf(err, "stream: set conn keep alive, conn %+v", conn)
	}
	if err := tc.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
		return errors.Wrapf(err, "stream: set conn keep alive period, conn %+v", conn)
	}
	return nil
}
