package transport

import (
	"math/rand"
	"sync"
	"time"
)

// Noncer is implemented by any client-facing response message so the
// ClientSink can demultiplex replies without depending on internal/node's
// concrete message types.
type Noncer interface {
	GetNonce() uint64
}

// ClientSink stands in for the reserved "$client" principal: it lets a
// caller register interest in a nonce before injecting the request, then
// blocks until the matching response arrives.
type ClientSink struct {
	mu      sync.Mutex
	waiters map[uint64]chan any
}

// NewClientSink returns an empty sink.
func NewClientSink() *ClientSink {
	return &ClientSink{waiters: make(map[uint64]chan any)}
}

// Register opens a one-shot channel for nonce. Callers must call it before
// the request that will produce the matching response is sent.
func (s *ClientSink) Register(nonce uint64) <-chan any {
	ch := make(chan any, 1)
	s.mu.Lock()
	s.waiters[nonce] = ch
	s.mu.Unlock()
	return ch
}

// Forget drops any pending waiter for nonce without a response — used when
// a caller gives up (e.g. its own context deadline) independently of the
// client_timeout the node itself enforces.
func (s *ClientSink) Forget(nonce uint64) {
	s.mu.Lock()
	delete(s.waiters, nonce)
	s.mu.Unlock()
}

// Deliver routes msg to whoever registered its nonce, if anyone still is.
func (s *ClientSink) Deliver(msg any) {
	n, ok := msg.(Noncer)
	if !ok {
		return
	}
	s.mu.Lock()
	ch, ok := s.waiters[n.GetNonce()]
	if ok {
		delete(s.waiters, n.GetNonce())
	}
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// FuzzConfig controls the unreliable-network simulation a Bus applies to
// every peer-to-peer send. Zero value means a perfectly reliable network.
type FuzzConfig struct {
	DropProb  float64       // probability a send is silently dropped
	MaxDelay  time.Duration // sends are delayed by rand[0, MaxDelay)
	Rand      *rand.Rand    // injectable for deterministic fuzz runs
}

// Bus is an in-memory Transport connecting every node in a simulated
// cluster, plus the reserved client principal. It is the harness's stand-in
// for the real network, and the one place crash/recover/fuzz live — the
// node state machine itself never sees any of this, only inbound messages
// and timers.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]Inbox
	crashed map[string]bool
	fuzz    FuzzConfig
	client  *ClientSink
}

// NewBus returns a Bus with the given fuzz configuration and client sink.
// A nil sink creates one.
func NewBus(fuzz FuzzConfig, client *ClientSink) *Bus {
	if fuzz.Rand == nil {
		fuzz.Rand = rand.New(rand.NewSource(1))
	}
	if client == nil {
		client = NewClientSink()
	}
	return &Bus{
		inboxes: make(map[string]Inbox),
		crashed: make(map[string]bool),
		fuzz:    fuzz,
		client:  client,
	}
}

// Client returns the bus's reserved client sink.
func (b *Bus) Client() *ClientSink {
	return b.client
}

// RegisterNode attaches a node's inbox to the bus under id.
func (b *Bus) RegisterNode(id string, inbox Inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[id] = inbox
}

// Crash marks id as down: all sends to it are dropped until Recover.
func (b *Bus) Crash(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.crashed[id] = true
}

// Recover marks id as reachable again.
func (b *Bus) Recover(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.crashed, id)
}

// IsCrashed reports whether id is currently simulated as down.
func (b *Bus) IsCrashed(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.crashed[id]
}

// Send implements Transport. Sends to the client principal always reach the
// client sink (the harness observer is never fuzzed — only inter-node
// traffic is); everything else is subject to drop/delay and the crash set.
func (b *Bus) Send(from, to string, msg any) {
	if to == Client {
		b.client.Deliver(msg)
		return
	}

	b.mu.RLock()
	inbox, ok := b.inboxes[to]
	crashed := b.crashed[to]
	b.mu.RUnlock()
	if !ok || crashed {
		return
	}

	if b.fuzz.DropProb > 0 && b.fuzz.Rand.Float64() < b.fuzz.DropProb {
		return
	}

	deliver := func() { inbox.Deliver(Envelope{From: from, Msg: msg}) }
	if b.fuzz.MaxDelay <= 0 {
		deliver()
		return
	}
	delay := time.Duration(b.fuzz.Rand.Int63n(int64(b.fuzz.MaxDelay)))
	time.AfterFunc(delay, deliver)
}

// Timer implements Transport. Timers are local to the node that armed them
// and are never fuzzed or dropped — only the network is unreliable.
func (b *Bus) Timer(self string, d time.Duration, msg any) {
	time.AfterFunc(d, func() {
		b.mu.RLock()
		inbox, ok := b.inboxes[self]
		crashed := b.crashed[self]
		b.mu.RUnlock()
		if ok && !crashed {
			inbox.Deliver(Envelope{From: self, Msg: msg})
		}
	})
}
