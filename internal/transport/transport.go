// Package transport provides the collaborator external to the node core:
// process identity, message send, timer scheduling, and inbound delivery.
// internal/node depends only on the Transport interface below; this package
// supplies two concrete implementations — an in-memory, fuzzable Bus for the
// workload harness and tests, and an HTTP binding for running real node
// processes (http.go), whose receiving end is internal/api's Gin handler.
package transport

import "time"

// Client is the reserved principal that injects requests and observes
// responses. There is exactly one in any run.
const Client = "$client"

// Envelope is one unit of inbound delivery: a message along with the id of
// whoever sent it.
type Envelope struct {
	From string
	Msg  any
}

// Inbox is anything that can accept delivery of an Envelope. A Node
// implements this with a buffered channel so delivery never blocks the
// transport.
type Inbox interface {
	Deliver(Envelope)
}

// Transport is the interface the node state machine is built against. It
// deliberately does not expose crash/recover or fuzzing controls — those
// are test/harness concerns layered on top of a concrete Bus, not something
// the core state machine should know about.
type Transport interface {
	// Send delivers msg to "to", purportedly from "from". Best-effort,
	// non-blocking — the transport may drop, delay, reorder, or duplicate
	// it.
	Send(from, to string, msg any)
	// Timer arranges for msg to be delivered back to "self" after d,
	// tagged exactly as given — the timer payload doubles as the message
	// body once it fires.
	Timer(self string, d time.Duration, msg any)
}
