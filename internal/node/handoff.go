package node

import "dynamocore/internal/vclock"

// attemptHandoff gathers every stored entry whose context hints at target
// and ships them over in one batch. Called both when a dead natural owner
// is first discovered alive again (via markAlive) and when a substitute
// accepts a hinted write for a peer it already believes is alive.
func (nd *Node) attemptHandoff(target string) {
	if target == nd.id {
		return
	}
	inFlight := nd.handoffs[target]

	data := make(map[string]HandoffEntry)
	for key, sv := range nd.store {
		if sv.Context.Hint != target {
			continue
		}
		if sentCtx, pending := findPending(inFlight, key); pending {
			// already in flight and our copy hasn't moved past what was
			// already sent: don't retransmit.
			if vclock.CompareCtx(sv.Context, sentCtx) != vclock.After {
				continue
			}
		}
		data[key] = HandoffEntry{Values: sv.Payloads, Context: sv.Context.WithoutHint()}
	}
	if len(data) == 0 {
		return
	}

	nonce := nd.nextNonce()
	pending := make(map[string]vclock.Ctx, len(data))
	for key, e := range data {
		pending[key] = e.Context
	}
	if nd.handoffs[target] == nil {
		nd.handoffs[target] = make(map[uint64]map[string]vclock.Ctx)
	}
	nd.handoffs[target][nonce] = pending

	nd.transport.Send(nd.id, target, HandoffRequest{Nonce: nonce, Data: data})
	nd.transport.Timer(nd.id, nd.timers.RequestTimeout, HandoffTimeout{Nonce: nonce, Peer: target})
}

func findPending(inFlight map[uint64]map[string]vclock.Ctx, key string) (vclock.Ctx, bool) {
	for _, keys := range inFlight {
		if ctx, ok := keys[key]; ok {
			return ctx, true
		}
	}
	return vclock.Ctx{}, false
}

func (nd *Node) onHandoffRequest(from string, m HandoffRequest) {
	nd.markAlive(from)
	for key, e := range m.Data {
		nd.localPut(key, e.Values, e.Context)
	}
	nd.transport.Send(nd.id, from, HandoffResponse{Nonce: m.Nonce})
}

// onHandoffResponse drops the hint on each handed-off key, provided the
// local copy hasn't been overwritten by a newer write in the meantime.
func (nd *Node) onHandoffResponse(from string, m HandoffResponse) {
	nd.markAlive(from)
	pending, ok := nd.handoffs[from][m.Nonce]
	if !ok {
		return
	}
	for key, sentCtx := range pending {
		sv, exists := nd.store[key]
		if !exists || sv.Context.Hint != from {
			continue
		}
		if vclock.CompareCtx(sv.Context, sentCtx) != vclock.After {
			nd.store[key] = StoredValue{Payloads: sv.Payloads, Context: sv.Context.WithoutHint()}
		}
	}
	delete(nd.handoffs[from], m.Nonce)
}

// onHandoffTimeout forgets the in-flight batch and leaves the store, hints
// included, untouched; it does not change the target's liveness. The next
// handoff attempt toward the target (a mark_alive transition, or another
// hinted write naming it) sends those keys again with whatever the store
// holds at that point.
func (nd *Node) onHandoffTimeout(m HandoffTimeout) {
	delete(nd.handoffs[m.Peer], m.Nonce)
}
