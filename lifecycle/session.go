package lifecycle

import (
	"net"
	"strconv"
)

// Peer identifies a remote endpoint by its (address, port) tuple.
type Peer struct {
	IP   string
	Port int
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

func PeerFromAddr(addr net.Addr) Peer {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return Peer{IP: a.IP.String(), Port: a.Port}
	case *net.TCPAddr:
		return Peer{IP: a.IP.String(), Port: a.Port}
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Peer{IP: addr.String()}
	}
	n, _ := strconv.Atoi(port)
	return Peer{IP: host, Port: n}
}

// SessionMap tracks which peers have completed the synthetic
// handshake/connect pair on a connectionless transport. Entries are
// only added from the dispatch path and only cleared in bulk at
// teardown; the owning dispatcher serializes access.
type SessionMap struct {
	set   map[Peer]struct{}
	order []Peer
}

func NewSessionMap() *SessionMap {
	return &SessionMap{set: make(map[Peer]struct{})}
}

func (m *SessionMap) Contains(p Peer) bool {
	_, ok := m.set[p]
	return ok
}

func (m *SessionMap) Add(p Peer) {
	if _, ok := m.set[p]; ok {
		return
	}
	m.set[p] = struct{}{}
	m.order = append(m.order, p)
}

func (m *SessionMap) Len() int {
	return len(m.set)
}

// ForEach visits every tracked peer in insertion order.
func (m *SessionMap) ForEach(f func(Peer)) {
	for _, p := range m.order {
		f(p)
	}
}

func (m *SessionMap) Clear() {
	m.set = make(map[Peer]struct{})
	m.order = nil
}
