package node

import (
	"encoding/json"
	"sort"

	"dynamocore/internal/merkle"
)

// buildMerkleTree rebuilds an ephemeral snapshot tree over the current
// store, with leaves inserted in sorted-key order so two replicas holding
// the same data produce the same tree regardless of map iteration order.
func (nd *Node) buildMerkleTree() (*merkle.Tree, []string) {
	keys := make([]string, 0, len(nd.store))
	for k := range nd.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := merkle.New(nil)
	for _, k := range keys {
		t.InsertBytes(canonicalLeaf(k, nd.store[k]))
	}
	return t, keys
}

// canonicalLeaf renders a key's leaf input as key ∥ canonical(ctx.version)
// ∥ canonical(sorted(payloads)), using JSON (whose object-key ordering is
// already deterministic) as the canonical form.
func canonicalLeaf(key string, sv StoredValue) []byte {
	sorted := sortUniquePayloads(sv.Payloads, nil)
	versionJSON, _ := json.Marshal(sv.Context.Version)
	payloadJSON, _ := json.Marshal(sorted)

	out := make([]byte, 0, len(key)+len(versionJSON)+len(payloadJSON)+2)
	out = append(out, key...)
	out = append(out, 0)
	out = append(out, versionJSON...)
	out = append(out, 0)
	out = append(out, payloadJSON...)
	return out
}

// firstAlivePeer deterministically picks the lexicographically first peer
// currently believed alive, so anti-entropy rounds are reproducible under
// the fuzzed-delivery harness rather than depending on map iteration order.
func (nd *Node) firstAlivePeer() (string, bool) {
	ids := make([]string, 0, len(nd.alive))
	for id := range nd.alive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if nd.alive[id] {
			return id, true
		}
	}
	return "", false
}

// onMerkleSyncTimeout kicks off one round of the anti-entropy handshake
// (messages.go's three-step MerkleSyncRequest/Response/Fulfill protocol)
// against one alive peer, then re-arms itself.
func (nd *Node) onMerkleSyncTimeout() {
	defer nd.armMerkleSync()

	peer, ok := nd.firstAlivePeer()
	if !ok {
		return
	}
	tree, keys := nd.buildMerkleTree()
	nd.transport.Send(nd.id, peer, MerkleSyncRequest{
		Nonce:  nd.nextNonce(),
		Keys:   keys,
		Leaves: tree.Leaves(),
	})
}

// onMerkleSyncRequest runs compare_tree against the sender's snapshot and
// asks back for whatever keys it finds itself missing.
func (nd *Node) onMerkleSyncRequest(from string, m MerkleSyncRequest) {
	nd.markAlive(from)

	senderTree := merkle.FromDigests(m.Leaves)
	myTree, _ := nd.buildMerkleTree()
	div := myTree.CompareWith(senderTree)

	var need []string
	if div.Kind == merkle.FromIndex && div.Index < len(m.Keys) {
		need = append([]string(nil), m.Keys[div.Index:]...)
	}
	nd.transport.Send(nd.id, from, MerkleSyncResponse{Nonce: m.Nonce, NeedKeys: need})
}

// onMerkleSyncResponse fulfills the peer's request with current (values,
// ctx) pairs for whatever it asked for.
func (nd *Node) onMerkleSyncResponse(from string, m MerkleSyncResponse) {
	nd.markAlive(from)
	if len(m.NeedKeys) == 0 {
		return
	}
	entries := make([]SyncEntry, 0, len(m.NeedKeys))
	for _, k := range m.NeedKeys {
		sv, ok := nd.store[k]
		if !ok {
			continue
		}
		entries = append(entries, SyncEntry{Key: k, Values: sv.Payloads, Context: sv.Context})
	}
	nd.transport.Send(nd.id, from, MerkleSyncFulfill{Nonce: m.Nonce, Entries: entries})
}

// onMerkleSyncFulfill applies received entries via local_put, reconciling
// against whatever this node already has.
func (nd *Node) onMerkleSyncFulfill(from string, m MerkleSyncFulfill) {
	nd.markAlive(from)
	for _, e := range m.Entries {
		nd.localPut(e.Key, e.Values, e.Context)
	}
}
