package lifecycle_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ganeshkbhat/lifeline/lifecycle"
	"github.com/pkg/errors"
)

type testLogger struct {
	mu   sync.Mutex
	errs []string
}

func (l *testLogger) Debug(format string, args ...interface{}) {}
func (l *testLogger) Info(format string, args ...interface{})  {}
func (l *testLogger) Warn(format string, args ...interface{})  {}
func (l *testLogger) Shutdown()                                {}

func (l *testLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Sprintf(format, args...))
}

func (l *testLogger) errNum() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

type fakeResponder struct {
	sent [][]byte
	err  error
}

func (r *fakeResponder) Respond(_ lifecycle.Peer, data []byte) error {
	if r.err != nil {
		return r.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	r.sent = append(r.sent, cp)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	stages []string
	events []lifecycle.Event
}

func (r *recorder) on(d *lifecycle.Dispatcher, stages ...lifecycle.Stage) {
	for _, s := range stages {
		d.On(s, func(ev *lifecycle.Event) error {
			r.record(ev)
			return nil
		})
	}
}

func (r *recorder) record(ev *lifecycle.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, ev.Stage.String())
	r.events = append(r.events, *ev)
}

func (r *recorder) sequence() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.stages, ",")
}

func (r *recorder) count(stage lifecycle.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.stages {
		if s == stage.String() {
			n++
		}
	}
	return n
}

func (r *recorder) errorEvents() []lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evs []lifecycle.Event
	for _, ev := range r.events {
		if ev.Stage == lifecycle.StageError {
			evs = append(evs, ev)
		}
	}
	return evs
}

var messageStages = []lifecycle.Stage{
	lifecycle.StageHandshake,
	lifecycle.StageConnect,
	lifecycle.StageReceiveMessage,
	lifecycle.StageProcessMessage,
	lifecycle.StageRespondMessage,
	lifecycle.StageDisconnect,
	lifecycle.StageShutdown,
	lifecycle.StageError,
}

func TestDatagramFirstSeen(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{}
	peer := lifecycle.Peer{IP: "127.0.0.1", Port: 50001}
	d.Datagram(peer, []byte("Hello"), r)
	want := "receiveMessage,handshake,connect,processMessage,respondMessage"
	if got := rec.sequence(); got != want {
		t.Fatalf("stage sequence %q, want %q", got, want)
	}
	if len(r.sent) != 1 || !bytes.Equal(r.sent[0], []byte("ACK: Hello")) {
		t.Fatalf("responder sent %q, want [ACK: Hello]", r.sent)
	}
	if d.SessionNum() != 1 {
		t.Fatalf("session num %d, want 1", d.SessionNum())
	}
}

func TestDatagramKnownPeerSkipsHandshake(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{}
	peer := lifecycle.Peer{IP: "127.0.0.1", Port: 50002}
	for i := 0; i < 3; i++ {
		d.Datagram(peer, []byte("m"), r)
	}
	if n := rec.count(lifecycle.StageHandshake); n != 1 {
		t.Fatalf("handshake fired %d times, want 1", n)
	}
	if n := rec.count(lifecycle.StageConnect); n != 1 {
		t.Fatalf("connect fired %d times, want 1", n)
	}
	if n := rec.count(lifecycle.StageProcessMessage); n != 3 {
		t.Fatalf("processMessage fired %d times, want 3", n)
	}
	if d.SessionNum() != 1 {
		t.Fatalf("session num %d, want 1", d.SessionNum())
	}
}

func TestDatagramDistinctPeersEachConnect(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{}
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50003}, []byte("a"), r)
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50004}, []byte("b"), r)
	if n := rec.count(lifecycle.StageConnect); n != 2 {
		t.Fatalf("connect fired %d times, want 2", n)
	}
	if d.SessionNum() != 2 {
		t.Fatalf("session num %d, want 2", d.SessionNum())
	}
}

func TestTeardownIdempotent(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{}
	p1 := lifecycle.Peer{IP: "127.0.0.1", Port: 50005}
	p2 := lifecycle.Peer{IP: "127.0.0.1", Port: 50006}
	d.Datagram(p1, []byte("a"), r)
	d.Datagram(p2, []byte("b"), r)
	d.Teardown()
	d.Teardown()
	if n := rec.count(lifecycle.StageDisconnect); n != 2 {
		t.Fatalf("disconnect fired %d times, want 2", n)
	}
	if n := rec.count(lifecycle.StageShutdown); n != 1 {
		t.Fatalf("shutdown fired %d times, want 1", n)
	}
	evs := rec.events
	var disconnects []lifecycle.Peer
	for _, ev := range evs {
		if ev.Stage == lifecycle.StageDisconnect {
			disconnects = append(disconnects, ev.Peer)
		}
	}
	if disconnects[0] != p1 || disconnects[1] != p2 {
		t.Fatalf("disconnect order %v, want [%v %v]", disconnects, p1, p2)
	}
	if d.SessionNum() != 0 {
		t.Fatalf("session num %d after teardown, want 0", d.SessionNum())
	}
}

func TestDatagramAfterTeardownDropped(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	d.Teardown()
	before := rec.count(lifecycle.StageReceiveMessage)
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50007}, []byte("x"), &fakeResponder{})
	if got := rec.count(lifecycle.StageReceiveMessage); got != before {
		t.Fatal("datagram dispatched after teardown")
	}
}

func TestHandlerFailureIsolation(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageReceiveMessage, lifecycle.StageHandshake,
		lifecycle.StageConnect, lifecycle.StageRespondMessage, lifecycle.StageError)
	var order []string
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		order = append(order, "first")
		return nil
	})
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		order = append(order, "second")
		return errors.New("boom")
	})
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		order = append(order, "third")
		return nil
	})
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50008}, []byte("x"), &fakeResponder{})
	if got := strings.Join(order, ","); got != "first,second,third" {
		t.Fatalf("handler order %q, want first,second,third", got)
	}
	evs := rec.errorEvents()
	if len(evs) != 1 {
		t.Fatalf("error events %d, want 1", len(evs))
	}
	if evs[0].From != lifecycle.StageProcessMessage || evs[0].Tag != lifecycle.TagHandler {
		t.Fatalf("error event from %s tag %s, want processMessage/handler",
			evs[0].From, evs[0].Tag)
	}
	if !bytes.Equal(evs[0].Data, []byte("x")) {
		t.Fatalf("error event data %q, want %q", evs[0].Data, "x")
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageReceiveMessage, lifecycle.StageHandshake,
		lifecycle.StageConnect, lifecycle.StageRespondMessage, lifecycle.StageError)
	ran := false
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		panic("kaboom")
	})
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		ran = true
		return nil
	})
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50009}, []byte("x"), &fakeResponder{})
	if !ran {
		t.Fatal("handler after panicking handler did not run")
	}
	evs := rec.errorEvents()
	if len(evs) != 1 {
		t.Fatalf("error events %d, want 1", len(evs))
	}
	if !strings.Contains(evs[0].Err.Error(), "kaboom") {
		t.Fatalf("error event err %v does not mention panic value", evs[0].Err)
	}
}

func TestNoHandlersSynthesizesError(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageError)
	d.Data(lifecycle.Peer{IP: "127.0.0.1", Port: 50010}, []byte("x"), nil)
	evs := rec.errorEvents()
	if len(evs) != 2 {
		t.Fatalf("error events %d, want 2 (receiveMessage, processMessage)", len(evs))
	}
	if evs[0].From != lifecycle.StageReceiveMessage ||
		evs[1].From != lifecycle.StageProcessMessage {
		t.Fatalf("error events from %s,%s, want receiveMessage,processMessage",
			evs[0].From, evs[1].From)
	}
	for _, ev := range evs {
		if !strings.Contains(ev.Err.Error(), "no handlers for stage") {
			t.Fatalf("error event err %v, want no-handlers message", ev.Err)
		}
	}
}

func TestDefaultErrorFallbackEviction(t *testing.T) {
	logger := &testLogger{}
	d := lifecycle.NewDispatcher(nil, logger)
	rec := &recorder{}
	rec.on(d, lifecycle.StageReceiveMessage, lifecycle.StageHandshake,
		lifecycle.StageConnect, lifecycle.StageRespondMessage)
	d.On(lifecycle.StageProcessMessage, func(ev *lifecycle.Event) error {
		return errors.New("boom")
	})
	peer := lifecycle.Peer{IP: "127.0.0.1", Port: 50011}
	d.Datagram(peer, []byte("x"), &fakeResponder{})
	if logger.errNum() != 1 {
		t.Fatalf("fallback logged %d errors, want 1", logger.errNum())
	}
	d.On(lifecycle.StageError, func(ev *lifecycle.Event) error {
		rec.record(ev)
		return nil
	})
	d.Datagram(peer, []byte("y"), &fakeResponder{})
	if logger.errNum() != 1 {
		t.Fatal("fallback still active after user error handler registered")
	}
	if len(rec.errorEvents()) != 1 {
		t.Fatalf("user error handler saw %d events, want 1", len(rec.errorEvents()))
	}
}

func TestSecondErrorHandlerAppends(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	var order []string
	d.On(lifecycle.StageError, func(ev *lifecycle.Event) error {
		order = append(order, "first")
		return nil
	})
	d.On(lifecycle.StageError, func(ev *lifecycle.Event) error {
		order = append(order, "second")
		return nil
	})
	d.Report(lifecycle.StageListening, lifecycle.TagBind, errors.New("in use"))
	if got := strings.Join(order, ","); got != "first,second" {
		t.Fatalf("error chain order %q, want first,second", got)
	}
}

func TestRespondFailureSuppressesRespondStage(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{err: errors.New("network down")}
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50012}, []byte("x"), r)
	if n := rec.count(lifecycle.StageRespondMessage); n != 0 {
		t.Fatalf("respondMessage fired %d times after send failure, want 0", n)
	}
	evs := rec.errorEvents()
	if len(evs) != 1 {
		t.Fatalf("error events %d, want 1", len(evs))
	}
	if evs[0].Tag != lifecycle.TagRespond || evs[0].From != lifecycle.StageRespondMessage {
		t.Fatalf("error event tag %s from %s, want respond/respondMessage",
			evs[0].Tag, evs[0].From)
	}
}

func TestInitAndListeningFireOnce(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageInit, lifecycle.StageListening, lifecycle.StageError)
	local := lifecycle.Peer{IP: "127.0.0.1", Port: 41234}
	d.Init()
	d.Init()
	d.Listening(local)
	d.Listening(local)
	if n := rec.count(lifecycle.StageInit); n != 1 {
		t.Fatalf("init fired %d times, want 1", n)
	}
	if n := rec.count(lifecycle.StageListening); n != 1 {
		t.Fatalf("listening fired %d times, want 1", n)
	}
	for _, ev := range rec.events {
		if ev.Stage == lifecycle.StageListening && ev.Local != local {
			t.Fatalf("listening event local %v, want %v", ev.Local, local)
		}
	}
}

func TestOnNameUnknownStage(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageError)
	d.OnName("bogus", func(ev *lifecycle.Event) error { return nil })
	evs := rec.errorEvents()
	if len(evs) != 1 {
		t.Fatalf("error events %d, want 1", len(evs))
	}
	if evs[0].Tag != lifecycle.TagRegister {
		t.Fatalf("error event tag %s, want register", evs[0].Tag)
	}
}

func TestOnNameRegisters(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, lifecycle.StageError)
	called := false
	d.OnName("connect", func(ev *lifecycle.Event) error {
		called = true
		return nil
	})
	d.Open(lifecycle.Peer{IP: "127.0.0.1", Port: 50013})
	if !called {
		t.Fatal("handler registered by name did not run")
	}
}

func TestStreamPathSkipsHandshakeAndSessions(t *testing.T) {
	d := lifecycle.NewDispatcher(nil, &testLogger{})
	rec := &recorder{}
	rec.on(d, messageStages...)
	r := &fakeResponder{}
	peer := lifecycle.Peer{IP: "127.0.0.1", Port: 50014}
	d.Open(peer)
	d.Data(peer, []byte("ping"), r)
	d.Closed(peer)
	want := "connect,receiveMessage,processMessage,respondMessage,disconnect"
	if got := rec.sequence(); got != want {
		t.Fatalf("stage sequence %q, want %q", got, want)
	}
	if d.SessionNum() != 0 {
		t.Fatalf("stream peer entered session map: %d entries", d.SessionNum())
	}
	if len(r.sent) != 1 || !bytes.Equal(r.sent[0], []byte("ACK: ping")) {
		t.Fatalf("responder sent %q, want [ACK: ping]", r.sent)
	}
}

func TestChainsConfiguration(t *testing.T) {
	rec := &recorder{}
	h := func(ev *lifecycle.Event) error {
		rec.record(ev)
		return nil
	}
	d := lifecycle.NewDispatcher(lifecycle.Chains{
		lifecycle.StageReceiveMessage: {h, h},
		lifecycle.StageHandshake:      {h},
		lifecycle.StageConnect:        {h},
		lifecycle.StageProcessMessage: {h},
		lifecycle.StageError:          {h},
	}, &testLogger{})
	d.Datagram(lifecycle.Peer{IP: "127.0.0.1", Port: 50015}, []byte("x"), nil)
	if n := rec.count(lifecycle.StageReceiveMessage); n != 2 {
		t.Fatalf("duplicate receiveMessage handler ran %d times, want 2", n)
	}
	if n := rec.count(lifecycle.StageError); n != 0 {
		t.Fatalf("unexpected error events: %d", n)
	}
}

func TestAck(t *testing.T) {
	if got := string(lifecycle.Ack([]byte("Hello"))); got != "ACK: Hello" {
		t.Fatalf("ack %q, want %q", got, "ACK: Hello")
	}
	if got := string(lifecycle.Ack(nil)); got != "ACK: " {
		t.Fatalf("ack of empty payload %q, want %q", got, "ACK: ")
	}
	if got := string(lifecycle.Ack([]byte("  a \n"))); got != "ACK:   a \n" {
		t.Fatalf("ack %q, want untrimmed %q", got, "ACK:   a \n")
	}
}
