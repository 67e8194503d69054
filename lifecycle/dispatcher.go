package lifecycle

import (
	"sync"

	"github.com/ganeshkbhat/lifeline/log"
	"github.com/ganeshkbhat/lifeline/safe"
	"github.com/pkg/errors"
)

// Dispatcher maps raw transport events onto the staged lifecycle and
// runs the registered handler chains in order, isolating failures per
// handler. A single mutex serializes every entry point, so adapters
// may deliver events from any number of goroutines without racing the
// session map or the at-most-once connect contract.
type Dispatcher struct {
	mu       sync.Mutex
	reg      *registry
	sessions *SessionMap
	inited   bool
	bound    bool
	down     bool
	logger   log.Logger
}

func NewDispatcher(chains Chains, logger log.Logger) *Dispatcher {
	d := &Dispatcher{
		reg:      newRegistry(),
		sessions: NewSessionMap(),
		logger:   logger,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for s := Stage(0); s < numStages; s++ {
		for _, h := range chains[s] {
			d.reg.add(s, h)
		}
	}
	for s := range chains {
		if s >= numStages {
			d.fail(s, TagRegister,
				errors.Errorf("lifecycle: register chain for unknown stage %d", uint8(s)), nil)
		}
	}
	return d
}

// On appends h to the stage's chain. The first handler registered on
// the error stage permanently evicts the default fallback; further
// error handlers append as usual.
func (d *Dispatcher) On(stage Stage, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stage >= numStages {
		d.fail(stage, TagRegister,
			errors.Errorf("lifecycle: register on unknown stage %d", uint8(stage)), nil)
		return
	}
	d.reg.add(stage, h)
}

// OnName registers by stage name, the form configuration files use.
// An unrecognized name is reported as a register-tagged error event
// and otherwise ignored; it does not abort startup.
func (d *Dispatcher) OnName(name string, h Handler) {
	s, err := ParseStage(name)
	if err != nil {
		d.mu.Lock()
		d.fail(StageError, TagRegister, err, nil)
		d.mu.Unlock()
		return
	}
	d.On(s, h)
}

// Init fires the init stage, exactly once, before the adapter binds
// its socket.
func (d *Dispatcher) Init() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inited {
		return
	}
	d.inited = true
	d.fire(StageInit, &Event{Stage: StageInit})
}

// Listening fires the listening stage, exactly once, with the bound
// local address.
func (d *Dispatcher) Listening(local Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bound {
		return
	}
	d.bound = true
	d.fire(StageListening, &Event{Stage: StageListening, Local: local})
}

// Handshake fires the handshake stage for peer. Stream adapters whose
// transport has a real opening handshake call this before Open; plain
// stream connections skip it.
func (d *Dispatcher) Handshake(peer Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.fire(StageHandshake, &Event{Stage: StageHandshake, Peer: peer})
}

// Open fires the connect stage for a newly established stream
// connection. Stream connections never enter the session map; their
// lifecycle is the connection itself.
func (d *Dispatcher) Open(peer Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.fire(StageConnect, &Event{Stage: StageConnect, Peer: peer})
}

// Closed fires the disconnect stage for a stream connection that
// ended, whether by peer close or adapter teardown.
func (d *Dispatcher) Closed(peer Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.fire(StageDisconnect, &Event{Stage: StageDisconnect, Peer: peer})
}

// Data dispatches one inbound stream chunk: receiveMessage,
// processMessage, then the acknowledgment send, and respondMessage
// only if the send succeeded. Deliveries after teardown began are
// dropped.
func (d *Dispatcher) Data(peer Peer, data []byte, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.fire(StageReceiveMessage, &Event{Stage: StageReceiveMessage, Peer: peer, Data: data})
	d.fire(StageProcessMessage, &Event{Stage: StageProcessMessage, Peer: peer, Data: data})
	d.respond(peer, data, r)
}

// Datagram dispatches one inbound datagram. The first datagram from an
// unseen peer fires handshake then connect, each exactly once for the
// lifetime of the server, before that peer's first processMessage.
func (d *Dispatcher) Datagram(peer Peer, data []byte, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.fire(StageReceiveMessage, &Event{Stage: StageReceiveMessage, Peer: peer, Data: data})
	if !d.sessions.Contains(peer) {
		d.fire(StageHandshake, &Event{Stage: StageHandshake, Peer: peer})
		d.fire(StageConnect, &Event{Stage: StageConnect, Peer: peer})
		d.sessions.Add(peer)
	}
	d.fire(StageProcessMessage, &Event{Stage: StageProcessMessage, Peer: peer, Data: data})
	d.respond(peer, data, r)
}

// Report routes a transport-originated failure through the error
// stage. Errors never propagate out of the dispatcher.
func (d *Dispatcher) Report(from Stage, tag string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail(from, tag, err, nil)
}

// Teardown fires disconnect once per tracked peer in insertion order,
// clears the session map, then fires shutdown exactly once. Invoking
// it again is a no-op, as is any later event delivery.
func (d *Dispatcher) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.down = true
	d.sessions.ForEach(func(p Peer) {
		d.fire(StageDisconnect, &Event{Stage: StageDisconnect, Peer: p})
	})
	d.sessions.Clear()
	d.fire(StageShutdown, &Event{Stage: StageShutdown})
}

// SessionNum reports how many peers currently hold a tracked session.
func (d *Dispatcher) SessionNum() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions.Len()
}

func (d *Dispatcher) respond(peer Peer, data []byte, r Responder) {
	if r == nil {
		return
	}
	ack := Ack(data)
	if err := r.Respond(peer, ack); err != nil {
		d.fail(StageRespondMessage, TagRespond, err,
			&Event{Peer: peer, Data: data})
		return
	}
	d.fire(StageRespondMessage, &Event{Stage: StageRespondMessage, Peer: peer, Data: ack})
}

// fire runs a stage's chain. Callers hold d.mu.
func (d *Dispatcher) fire(stage Stage, ev *Event) {
	hs := d.reg.handlers(stage)
	if stage == StageError {
		if d.reg.defaultErr {
			d.fallback(ev)
			return
		}
		for _, h := range hs {
			if err := call(h, ev); err != nil {
				d.logger.Error("lifecycle: error handler for stage %s err: %+v",
					ev.From, err)
			}
		}
		return
	}
	if len(hs) == 0 {
		d.fail(stage, TagHandler,
			errors.Errorf("lifecycle: no handlers for stage %s", stage), ev)
		return
	}
	for _, h := range hs {
		if err := call(h, ev); err != nil {
			d.fail(stage, TagHandler, err, ev)
		}
	}
}

// fail forces a failure into an error dispatch so a caller that only
// listens on the error stage observes it. Callers hold d.mu.
func (d *Dispatcher) fail(from Stage, tag string, err error, cause *Event) {
	ev := &Event{Stage: StageError, From: from, Tag: tag, Err: err}
	if cause != nil {
		ev.Peer = cause.Peer
		ev.Local = cause.Local
		ev.Data = cause.Data
	}
	d.fire(StageError, ev)
}

// fallback reports failures through the logger until the caller
// registers an error handler of their own.
func (d *Dispatcher) fallback(ev *Event) {
	d.logger.Error("lifecycle: [tag:%s][stage:%s][peer:%s] err: %+v",
		ev.Tag, ev.From, ev.Peer, ev.Err)
}

func call(h Handler, ev *Event) (err error) {
	defer safe.RecoverError(&err)
	return h(ev)
}
