package dgram

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/ganeshkbhat/lifeline/log"
	"github.com/ganeshkbhat/lifeline/pool/bytespool"
	"github.com/pkg/errors"
)

// Server is the connectionless transport adapter. One shared socket
// serves every peer; session novelty is the dispatcher's business, the
// adapter only delivers datagrams and sends acknowledgments back to
// explicit peer addresses.
type Server struct {
	opts      serverOptions
	name      string
	network   string
	addr      string
	disp      *lifecycle.Dispatcher
	mu        sync.Mutex
	closeOnce sync.Once
	conn      *net.UDPConn
	lisAddr   atomic.Value
	serveWg   sync.WaitGroup
	served    bool
	shutdown  bool
	doneChan  chan struct{}
	logger    log.Logger
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
		return errors.Errorf("dgram: server %s already shutdown", s)
	}
	if s.conn != nil {
		return errors.Errorf("dgram: server %s already listened", s)
	}
	s.disp.Init()
	udpAddr, err := net.ResolveUDPAddr(s.network, s.addr)
	if err != nil {
		err = errors.Wrapf(err, "dgram: server %s resolve addr", s.addr)
		s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
		return err
	}
	conn, err := net.ListenUDP(s.network, udpAddr)
	if err != nil {
		err = errors.Wrapf(err, "dgram: server %s listen", s.addr)
		s.disp.Report(lifecycle.StageListening, lifecycle.TagBind, err)
		return err
	}
	s.conn = conn
	s.lisAddr.Store(conn.LocalAddr().String())
	s.disp.Listening(lifecycle.PeerFromAddr(conn.LocalAddr()))
	return nil
}

func (s *Server) Serve() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return errors.Errorf("dgram: server %s already shutdown", s)
	}
	if s.served {
		s.mu.Unlock()
		return errors.Errorf("dgram: server %s already served", s)
	}
	if s.conn == nil {
		s.mu.Unlock()
		return errors.Errorf("dgram: server %s no socket", s)
	}
	s.served = true
	s.serveWg.Add(1)
	defer s.serveWg.Done()
	s.mu.Unlock()
	defer s.closeConn()
	var tempDelay time.Duration
	buf := make([]byte, s.opts.readBufSize)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		// A zero-length datagram is a valid delivery; raddr is the
		// dispatch condition, not n.
		if raddr != nil {
			peer := lifecycle.Peer{IP: raddr.IP.String(), Port: raddr.Port}
			var data []byte
			if n > 0 {
				data = bytespool.Get(n)
				copy(data, buf[:n])
			}
			s.disp.Datagram(peer, data, s)
			if n > 0 {
				bytespool.Put(data)
			}
		}
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
				s.logger.Error("dgram: server %s read retry err: %+v",
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
			err = errors.Wrapf(err, "dgram: server %s read", s)
			s.disp.Report(lifecycle.StageReceiveMessage, lifecycle.TagReceive, err)
			return err
		}
		tempDelay = 0
	}
}

// Respond sends data to the explicit peer address; the shared socket
// has no notion of a current peer.
func (s *Server) Respond(peer lifecycle.Peer, data []byte) error {
	ip := net.ParseIP(peer.IP)
	if ip == nil {
		return errors.Errorf("dgram: server %s respond bad peer ip %q", s, peer.IP)
	}
	if s.opts.writePeriod > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.writePeriod)); err != nil {
			return errors.WithStack(err)
		}
	}
	_, err := s.conn.WriteToUDP(data, &net.UDPAddr{IP: ip, Port: peer.Port})
	if err != nil {
		return errors.Wrapf(err, "dgram: server %s respond to %s", s, peer)
	}
	return nil
}

// Shutdown closes the socket, waits for the read loop and runs the
// dispatcher teardown: one disconnect per tracked peer, then a single
// shutdown. Invoking it again is a no-op.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()
	close(s.doneChan)
	if s.conn != nil {
		s.closeConn()
	}
	s.serveWg.Wait()
	s.disp.Teardown()
}

func (s *Server) closeConn() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("dgram: server %s close socket err: %+v",
				s, errors.WithStack(err))
		}
	})
}
