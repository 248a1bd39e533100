package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WireEnvelope is the JSON shape POSTed between node processes: the sender's
// id, the registered name of the message's concrete type, and its encoded
// body. internal/api's /internal/deliver handler decodes it back via
// DecodeMessage before calling the receiving node's Deliver.
type WireEnvelope struct {
	From string          `json:"from"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// HTTPTransport implements Transport by POSTing WireEnvelopes to peer
// addresses. Timers never leave the process — they redeliver locally via
// time.AfterFunc, exactly like Bus.Timer — only Send crosses the network.
// Sends to the reserved Client principal are routed to a local ClientSink
// instead of over HTTP, since "$client" names whichever request is
// in-flight on this process's own HTTP handler, not a remote peer.
type HTTPTransport struct {
	self   string
	addrs  map[string]string // node id -> base URL, e.g. "http://host:port"
	client *http.Client
	sink   *ClientSink
	inbox  Inbox // this process's own node; set via SetLocalInbox once it exists
}

// NewHTTPTransport builds an HTTPTransport for node self, given the address
// book of every other known node and the ClientSink that local HTTP
// handlers register their pending client requests against. The owning
// node's own Inbox isn't known yet at this point (Config.Transport must be
// set before node.New returns the *Node that implements Inbox) — call
// SetLocalInbox once it does.
func NewHTTPTransport(self string, addrs map[string]string, sink *ClientSink) *HTTPTransport {
	return &HTTPTransport{
		self:   self,
		addrs:  addrs,
		client: &http.Client{Timeout: 5 * time.Second},
		sink:   sink,
	}
}

// SetLocalInbox wires Timer's self-redelivery path to the node this
// transport belongs to.
func (t *HTTPTransport) SetLocalInbox(inbox Inbox) {
	t.inbox = inbox
}

// Send implements Transport.
func (t *HTTPTransport) Send(from, to string, msg any) {
	if to == Client {
		if t.sink != nil {
			t.sink.Deliver(msg)
		}
		return
	}
	base, ok := t.addrs[to]
	if !ok {
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	payload, err := json.Marshal(WireEnvelope{From: from, Kind: MessageName(msg), Body: body})
	if err != nil {
		return
	}

	// Best-effort, non-blocking: fire the request from its own goroutine so
	// a slow or unreachable peer never stalls the node's dispatch loop.
	go func() {
		resp, err := t.client.Post(fmt.Sprintf("%s/internal/deliver", base), "application/json", bytes.NewReader(payload))
		if err != nil {
			return
		}
		resp.Body.Close()
	}()
}

// Timer implements Transport: it never leaves the process, redelivering
// directly to the local node's inbox once d elapses.
func (t *HTTPTransport) Timer(self string, d time.Duration, msg any) {
	time.AfterFunc(d, func() {
		if t.inbox != nil {
			t.inbox.Deliver(Envelope{From: self, Msg: msg})
		}
	})
}
