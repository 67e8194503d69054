package ws

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	"github.com/ganeshkbhat/lifeline/safe"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Server is a stream-kind adapter over websocket. Unlike a plain
// stream, a websocket connection has a real opening handshake, so this
// adapter fires the handshake stage before connect on every upgrade.
type Server struct {
	opts         serverOptions
	name         string
	network      string
	addr         string
	disp         *lifecycle.Dispatcher
	upgrader     *websocket.Upgrader
	hs           *http.Server
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
	s := &Server{
		opts:    opts,
		name:    name,
		network: network,
		addr:    addr,
		disp:    disp,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: opts.handshakeTimeout,
			CheckOrigin:      func(_ *http.Request) bool { return opts.checkOrigin },
		},
		conns:    make(map[*Conn]struct{}),
		doneChan: make(chan struct{}),
		logger:   logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(opts.pattern, s.serve)
	s.hs = &http.Server{
		Handler:      mux,
		ReadTimeout:  opts.readTimeout,
		WriteTimeout: opts.writeTimeout,
	}
	return s
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
		return errors.Errorf("ws: server %s already shutdown", s)
	}
	if s.lis != nil {
		return errors.Errorf("ws: server %s already listened", s)
	}
	s.disp.Init()
	lis, err := net.Listen(s.network, s.addr)
	if err != nil {
		err = errors.Wrapf(err, "ws: server %s listen", s.addr)
		s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
		return err
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
		return errors.Errorf("ws: server %s already shutdown", s)
	}
	if s.served {
		s.mu.Unlock()
		return errors.Errorf("ws: server %s already served", s)
	}
	if s.lis == nil {
		s.mu.Unlock()
		return errors.Errorf("ws: server %s no listener", s)
	}
	s.served = true
	s.serveWg.Add(1)
	defer s.serveWg.Done()
	s.mu.Unlock()
	err := s.hs.Serve(s.lis)
	select {
	case <-s.doneChan:
		return nil
	default:
	}
	if err != nil && err != http.ErrServerClosed {
		err = errors.Wrapf(err, "ws: server %s serve", s)
		s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
		return err
	}
	return nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	defer safe.Recover(s.logger)
	if r.Method != http.MethodGet {
		s.logger.Error("ws: server %s method %s not allowed", s, r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws: server %s upgrade err: %+v", s, errors.WithStack(err))
		return
	}
	s.connsMu.Lock()
	// An upgrade can finish after Shutdown swept the conns map; a conn
	// registered past that point would never be shut down.
	select {
	case <-s.doneChan:
		s.connsMu.Unlock()
		if err := conn.Close(); err != nil {
			s.logger.Error("ws: server %s close conn on shutdown err: %+v",
				s, errors.WithStack(err))
		}
		return
	default:
	}
	if s.opts.maxConnNum > 0 && len(s.conns) >= s.opts.maxConnNum {
		s.connsMu.Unlock()
		s.logger.Warn("ws: server %s accept too many conns", s)
		if err := conn.Close(); err != nil {
			s.logger.Error("ws: server %s close overflow conn err: %+v",
				s, errors.WithStack(err))
		}
		return
	}
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok && s.opts.keepAlivePeriod > 0 {
		if err := tc.SetKeepAlive(true); err == nil {
			tc.SetKeepAlivePeriod(s.opts.keepAlivePeriod)
		}
	}
	connId := atomic.AddUint64(&s.connId, 1)
	name := fmt.Sprintf("%s_%d", s.Name(), connId)
	c := newConn(name, conn, s.disp, s.opts.connOptions, s.logger)
	s.conns[c] = struct{}{}
	s.connsWg.Add(1)
	s.connsMu.Unlock()
	defer s.connsWg.Done()
	c.serve()
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// Shutdown closes the listener, shuts every live connection down and
// runs the dispatcher teardown. Safe to invoke more than once.
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
			s.logger.Error("ws: server %s close listener err: %+v", s, err)
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
