package net

// Server is the common surface of the transport adapters. Listen fires
// the init stage, binds the socket and fires listening; Serve blocks
// delivering raw transport events to the dispatcher; Shutdown is
// idempotent and runs the dispatcher teardown sequence.
type Server interface {
	Listen() error
	Serve() error
	ListenAndServe() error
	Shutdown()
	Name() string
	Addr() string
}
