// Package node implements the per-node coordinator/participant state
// machine, built on top of the quorum tracker, the preference/liveness
// helpers, the vector-clock context, and the Merkle tree used for
// anti-entropy.
package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dynamocore/internal/ring"
	"dynamocore/internal/transport"
	"dynamocore/internal/vclock"
)

// Timers bundles every duration the node's timer configuration needs.
type Timers struct {
	ClientTimeout       time.Duration
	RedirectTimeout     time.Duration
	RequestTimeout      time.Duration
	HealthCheckInterval time.Duration
	MerkleSyncInterval  time.Duration
}

// Snapshot is the read-only view returned by GetStateRequest — used only by
// tests and the workload harness.
type Snapshot struct {
	ID      string
	N, R, W int
	Store   map[string]StoredValue
	Alive   map[string]bool
}

// Node is one replica's complete state. Only its own dispatch goroutine
// (started by Run) ever mutates it — there is no internal locking; it is a
// single-threaded cooperative actor.
type Node struct {
	id      string
	n, r, w int

	store map[string]StoredValue
	alive map[string]bool
	ring  ring.Oracle

	transport transport.Transport
	timers    Timers

	gets      map[uint64]*getEntry
	puts      map[uint64]*putEntry
	redirects map[uint64]*redirectEntry
	// handoffs[target][nonce] = in-flight keys and the ctx sent for each.
	handoffs map[string]map[uint64]map[string]vclock.Ctx

	crashed bool

	inbox chan transport.Envelope
}

// Config is everything New needs to build a node.
type Config struct {
	ID            string
	InitialData   map[string][]byte
	AllNodeIDs    []string
	N, R, W       int
	Timers        Timers
	Ring          ring.Oracle
	Transport     transport.Transport
	InboxCapacity int
}

// New constructs a node: initial_data is filtered to keys this node
// naturally owns, stored with an empty version and no hint; every other
// known node starts out marked alive.
func New(cfg Config) *Node {
	cap := cfg.InboxCapacity
	if cap <= 0 {
		cap = 1024
	}
	nd := &Node{
		id:        cfg.ID,
		n:         cfg.N,
		r:         cfg.R,
		w:         cfg.W,
		store:     make(map[string]StoredValue),
		alive:     make(map[string]bool),
		ring:      cfg.Ring,
		transport: cfg.Transport,
		timers:    cfg.Timers,
		gets:      make(map[uint64]*getEntry),
		puts:      make(map[uint64]*putEntry),
		redirects: make(map[uint64]*redirectEntry),
		handoffs:  make(map[string]map[uint64]map[string]vclock.Ctx),
		inbox:     make(chan transport.Envelope, cap),
	}
	for _, id := range cfg.AllNodeIDs {
		if id != nd.id {
			nd.alive[id] = true
		}
	}
	for key, value := range cfg.InitialData {
		if nd.IsCoordinator(key) {
			nd.store[key] = StoredValue{
				Payloads: [][]byte{value},
				Context:  vclock.NewCtx(),
			}
		}
	}
	return nd
}

// ID returns the node's id.
func (nd *Node) ID() string { return nd.id }

// Deliver implements transport.Inbox: enqueue for the dispatch loop.
func (nd *Node) Deliver(env transport.Envelope) {
	nd.inbox <- env
}

// Run drives the dispatch loop until ctx is cancelled. It also arms the two
// periodic timers (health check, Merkle sync) on entry.
func (nd *Node) Run(ctx context.Context) {
	nd.armHealthCheck()
	nd.armMerkleSync()
	for {
		select {
		case env := <-nd.inbox:
			nd.handle(env.From, env.Msg)
		case <-ctx.Done():
			return
		}
	}
}

// nextNonce generates a nonce from a monotonic counter shared by every node
// in the process, shifted left 8 bits, with a one-byte hash of the node id in
// the low byte. Nonces never repeat within one process; nodes in separate
// processes whose ids hash to the same byte can issue the same nonce.
var nonceSeq uint64

func (nd *Node) nextNonce() uint64 {
	return atomic.AddUint64(&nonceSeq, 1)<<8 | uint64(hashByte(nd.id))
}

func hashByte(s string) byte {
	var h byte
	for i := 0; i < len(s); i++ {
		h = h*31 + s[i]
	}
	return h
}

// snapshot returns a copy of the node's store and liveness maps for
// GetStateRequest / test inspection. It reads the live maps, so it is only
// called from the dispatch loop (the GetStateRequest handler); the harness
// goes through the message-passing path.
func (nd *Node) snapshot() Snapshot {
	storeCopy := make(map[string]StoredValue, len(nd.store))
	for k, v := range nd.store {
		storeCopy[k] = v
	}
	aliveCopy := make(map[string]bool, len(nd.alive))
	for k, v := range nd.alive {
		aliveCopy[k] = v
	}
	return Snapshot{ID: nd.id, N: nd.n, R: nd.r, W: nd.w, Store: storeCopy, Alive: aliveCopy}
}

func (nd *Node) handle(from string, msg any) {
	if nd.crashed {
		if _, ok := msg.(RecoverMessage); ok {
			nd.doRecover()
		}
		return
	}

	switch m := msg.(type) {
	case ClientGetRequest:
		nd.onClientGetRequest(from, m)
	case ClientPutRequest:
		nd.onClientPutRequest(from, m)
	case RedirectedClientRequest:
		nd.onRedirected(from, m)
	case RedirectAcknowledgement:
		nd.onRedirectAck(m)
	case RedirectTimeout:
		nd.onRedirectTimeout(m)
	case CoordinatorGetRequest:
		nd.onCoordinatorGetRequest(from, m)
	case CoordinatorGetResponse:
		nd.onCoordinatorGetResponse(from, m)
	case CoordinatorPutRequest:
		nd.onCoordinatorPutRequest(from, m)
	case CoordinatorPutResponse:
		nd.onCoordinatorPutResponse(from, m)
	case CoordinatorRequestTimeout:
		nd.onCoordinatorRequestTimeout(m)
	case ClientTimeout:
		nd.onClientTimeout(m)
	case HandoffRequest:
		nd.onHandoffRequest(from, m)
	case HandoffResponse:
		nd.onHandoffResponse(from, m)
	case HandoffTimeout:
		nd.onHandoffTimeout(m)
	case AliveCheckRequest:
		nd.onAliveCheckRequest(from)
	case AliveCheckResponse:
		nd.onAliveCheckResponse(from)
	case HealthCheckTimeout:
		nd.onHealthCheckTimeout()
	case MerkleSyncTimeout:
		nd.onMerkleSyncTimeout()
	case MerkleSyncRequest:
		nd.onMerkleSyncRequest(from, m)
	case MerkleSyncResponse:
		nd.onMerkleSyncResponse(from, m)
	case MerkleSyncFulfill:
		nd.onMerkleSyncFulfill(from, m)
	case GetStateRequest:
		nd.onGetStateRequest(from, m)
	case CrashMessage:
		nd.doCrash()
	case RecoverMessage:
		// already alive: recover-while-running is a no-op.
	default:
		panic(fmt.Sprintf("node %s: unhandled message type %T", nd.id, msg))
	}
}

func (nd *Node) doCrash() {
	nd.crashed = true
	nd.store = make(map[string]StoredValue)
	nd.gets = make(map[uint64]*getEntry)
	nd.puts = make(map[uint64]*putEntry)
	nd.redirects = make(map[uint64]*redirectEntry)
	nd.handoffs = make(map[string]map[uint64]map[string]vclock.Ctx)
}

func (nd *Node) doRecover() {
	nd.crashed = false
	nd.store = make(map[string]StoredValue)
	// Every peer this node has ever heard of is assumed alive again.
	for id := range nd.alive {
		nd.alive[id] = true
	}
	nd.armHealthCheck()
	nd.armMerkleSync()
}

// Seed re-establishes peer knowledge after a recover, mirroring what a real
// boot-strapped process would learn from static configuration.
func (nd *Node) Seed(allNodeIDs []string) {
	for _, id := range allNodeIDs {
		if id != nd.id {
			nd.alive[id] = true
		}
	}
}

func (nd *Node) armHealthCheck() {
	nd.transport.Timer(nd.id, nd.timers.HealthCheckInterval, HealthCheckTimeout{})
}

func (nd *Node) armMerkleSync() {
	nd.transport.Timer(nd.id, nd.timers.MerkleSyncInterval, MerkleSyncTimeout{})
}
