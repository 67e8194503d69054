package lifecycle

// Error event tags, classifying where a failure was caught.
const (
	TagBind     = "bind"     // bind/socket setup failure, fatal to the socket
	TagReceive  = "receive"  // post-bind transport read failure, fatal to the socket
	TagHandler  = "handler"  // handler chain failure, recovered at the invoker
	TagRespond  = "respond"  // acknowledgment transmission failure
	TagRegister = "register" // registration on an unknown stage, warning class
)

const ackPrefix = "ACK: "

// Ack returns the acknowledgment payload for an inbound payload: the
// bytes of "ACK: " followed by the raw payload, untrimmed and
// unescaped. Clients may depend on this exact form.
func Ack(data []byte) []byte {
	ack := make([]byte, 0, len(ackPrefix)+len(data))
	ack = append(ack, ackPrefix...)
	return append(ack, data...)
}

// Event carries the context of one stage invocation. Data is only
// valid for the duration of the dispatch; handlers that retain it must
// copy it.
type Event struct {
	Stage Stage
	Peer  Peer   // remote identity, zero on init/listening/shutdown
	Local Peer   // bound local address, set on listening
	Data  []byte // inbound payload, or the transmitted ack on respondMessage

	// Error context, set only on error events. From is the stage during
	// which the failure occurred; Tag is one of the Tag constants.
	From Stage
	Tag  string
	Err  error
}

type Handler func(ev *Event) error

// Chains maps stages to ordered handler chains. Absent stages default
// to an empty chain; within a chain, registration order is invocation
// order and duplicates run once per registration.
type Chains map[Stage][]Handler

// Responder is the uniform response path an adapter supplies with each
// inbound payload: a bound stream writes to its open connection, a
// datagram socket sends to the explicit peer address.
type Responder interface {
	Respond(peer Peer, data []byte) error
}
