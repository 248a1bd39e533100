// Package ring implements the consistent-hash ring. The core state machine
// in internal/node treats this as an opaque pref(key, k) oracle — callers
// depend only on the Oracle interface, never on the hashing scheme
// underneath it.
//
// Nodes are placed on the ring via a fixed number of virtual-node replicas
// each, hashed with sha256, with preference lists built by walking the ring
// clockwise from a key's hash and binary-searching for the first replica.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"
)

const defaultVnodes = 150

// Oracle is the interface internal/node depends on: the top-k node ids for a
// key, in ring order.
type Oracle interface {
	Pref(key string, k int) []string
}

// Ring is a concurrency-safe consistent-hash ring with virtual nodes for
// even load distribution.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	points map[uint32]string
	sorted []uint32
	nodes  map[string]bool
}

// New creates an empty ring. vnodes <= 0 uses a sensible default.
func New(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}
	return &Ring{
		vnodes: vnodes,
		points: make(map[uint32]string),
		nodes:  make(map[string]bool),
	}
}

// AddNode places vnodes virtual copies of nodeID on the ring.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nodes[nodeID] {
		return
	}
	r.nodes[nodeID] = true
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", nodeID, i))
		r.points[pos] = nodeID
	}
	r.rebuild()
}

// RemoveNode removes nodeID and all its virtual copies.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.nodes, nodeID)
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", nodeID, i))
		delete(r.points, pos)
	}
	r.rebuild()
}

// Pref returns the k distinct physical nodes responsible for key, walking
// the ring clockwise from key's position.
func (r *Ring) Pref(key string, k int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return nil
	}

	pos := r.hash(key)
	idx := r.search(pos)

	seen := make(map[string]bool, k)
	out := make([]string, 0, k)
	for i := 0; i < len(r.sorted) && len(out) < k; i++ {
		vpos := r.sorted[(idx+i)%len(r.sorted)]
		nodeID := r.points[vpos]
		if !seen[nodeID] {
			seen[nodeID] = true
			out = append(out, nodeID)
		}
	}
	return out
}

// Nodes returns all distinct physical nodes currently on the ring, sorted.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NodeCount returns the number of distinct physical nodes on the ring.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Ring) hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

// rebuild must be called with mu held.
func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.points))
	for pos := range r.points {
		r.sorted = append(r.sorted, pos)
	}
	slices.Sort(r.sorted)
}

func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i] >= pos
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}
