// Package workload implements the measurement harness: it assembles an
// in-memory cluster over the fuzzable Bus, drives a workload of gets/puts
// (optionally interleaved with crash/recover events), and reports three
// measurable properties of the run — availability, inconsistency, and
// stale reads.
package workload

import (
	"context"
	"sync/atomic"

	"dynamocore/internal/node"
	"dynamocore/internal/ring"
	"dynamocore/internal/transport"
	"dynamocore/internal/vclock"
)

// ClusterConfig is everything needed to stand up a simulated cluster.
type ClusterConfig struct {
	NodeIDs  []string
	Seed     map[string][]byte
	N, R, W  int
	Vnodes   int
	Timers   node.Timers
	Fuzz     transport.FuzzConfig
}

// Cluster is a running in-memory ring of nodes wired together over a single
// fuzzable Bus, plus the reserved client principal used to drive it.
type Cluster struct {
	bus    *transport.Bus
	nodes  map[string]*node.Node
	ring   *ring.Ring
	cancel context.CancelFunc
	nonce  uint64
}

// NewCluster builds and starts a cluster: one goroutine per node running its
// dispatch loop, all sharing cfg.Fuzz's unreliable-network simulation.
func NewCluster(cfg ClusterConfig) *Cluster {
	r := ring.New(cfg.Vnodes)
	for _, id := range cfg.NodeIDs {
		r.AddNode(id)
	}

	bus := transport.NewBus(cfg.Fuzz, nil)
	c := &Cluster{bus: bus, nodes: make(map[string]*node.Node, len(cfg.NodeIDs)), ring: r}

	for _, id := range cfg.NodeIDs {
		nd := node.New(node.Config{
			ID:          id,
			InitialData: cfg.Seed,
			AllNodeIDs:  cfg.NodeIDs,
			N:           cfg.N,
			R:           cfg.R,
			W:           cfg.W,
			Timers:      cfg.Timers,
			Ring:        r,
			Transport:   bus,
		})
		c.nodes[id] = nd
		bus.RegisterNode(id, nd)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, nd := range c.nodes {
		go nd.Run(ctx)
	}
	return c
}

// Stop tears down every node's dispatch loop.
func (c *Cluster) Stop() { c.cancel() }

// Crash simulates id going down: the network stops delivering to or from it,
// and it also processes a real :crash message so its own state is wiped
// immediately rather than merely going silent.
func (c *Cluster) Crash(id string) {
	c.bus.Crash(id)
	if nd, ok := c.nodes[id]; ok {
		nd.Deliver(transport.Envelope{From: "$harness", Msg: node.CrashMessage{}})
	}
}

// Recover reverses Crash.
func (c *Cluster) Recover(id string) {
	c.bus.Recover(id)
	if nd, ok := c.nodes[id]; ok {
		nd.Deliver(transport.Envelope{From: "$harness", Msg: node.RecoverMessage{}})
	}
}

func (c *Cluster) nextNonce() uint64 {
	return atomic.AddUint64(&c.nonce, 1)
}

// Get issues a ClientGetRequest to node at and blocks for its response.
func (c *Cluster) Get(ctx context.Context, at, key string) (node.ClientGetResponse, error) {
	nonce := c.nextNonce()
	ch := c.bus.Client().Register(nonce)
	c.bus.Send(transport.Client, at, node.ClientGetRequest{Nonce: nonce, Key: key})
	select {
	case msg := <-ch:
		return msg.(node.ClientGetResponse), nil
	case <-ctx.Done():
		c.bus.Client().Forget(nonce)
		return node.ClientGetResponse{}, ctx.Err()
	}
}

// Put issues a ClientPutRequest carrying writeCtx as the write's causal
// context and blocks for its response. Pass vclock.NewCtx() for a blind
// write, or a context previously observed via Get for a read-modify-write.
func (c *Cluster) Put(ctx context.Context, at, key string, value []byte, writeCtx vclock.Ctx) (node.ClientPutResponse, error) {
	nonce := c.nextNonce()
	ch := c.bus.Client().Register(nonce)
	c.bus.Send(transport.Client, at, node.ClientPutRequest{Nonce: nonce, Key: key, Value: value, Context: writeCtx})
	select {
	case msg := <-ch:
		return msg.(node.ClientPutResponse), nil
	case <-ctx.Done():
		c.bus.Client().Forget(nonce)
		return node.ClientPutResponse{}, ctx.Err()
	}
}

// State fetches a full snapshot of one node's internal state, for tests and
// harness inspection only.
func (c *Cluster) State(ctx context.Context, at string) (node.Snapshot, error) {
	nonce := c.nextNonce()
	ch := c.bus.Client().Register(nonce)
	c.bus.Send(transport.Client, at, node.GetStateRequest{Nonce: nonce})
	select {
	case msg := <-ch:
		return msg.(node.GetStateResponse).State, nil
	case <-ctx.Done():
		c.bus.Client().Forget(nonce)
		return node.Snapshot{}, ctx.Err()
	}
}
