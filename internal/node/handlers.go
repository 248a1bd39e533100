package node

import "dynamocore/internal/vclock"

// ─── Client request entry point ────────────────────────────────────────

func (nd *Node) onClientGetRequest(client string, m ClientGetRequest) {
	nd.armClientTimeout(KindGet, m.Nonce)
	if nd.IsCoordinator(m.Key) {
		nd.coordinateGet(client, m)
		return
	}
	nd.redirect(client, KindGet, m.Key, m.Nonce, &m, nil)
}

func (nd *Node) onClientPutRequest(client string, m ClientPutRequest) {
	nd.armClientTimeout(KindPut, m.Nonce)
	if nd.IsCoordinator(m.Key) {
		nd.coordinatePut(client, m)
		return
	}
	nd.redirect(client, KindPut, m.Key, m.Nonce, nil, &m)
}

func (nd *Node) armClientTimeout(kind RequestKind, nonce uint64) {
	nd.transport.Timer(nd.id, nd.timers.ClientTimeout, ClientTimeout{Kind: kind, Nonce: nonce})
}

func (nd *Node) failClient(client string, kind RequestKind, nonce uint64) {
	if kind == KindGet {
		nd.transport.Send(nd.id, client, ClientGetResponse{Nonce: nonce, Success: false})
		return
	}
	nd.transport.Send(nd.id, client, ClientPutResponse{Nonce: nonce, Success: false})
}

// ─── Redirect ───────────────────────────────────────────────────────────

func (nd *Node) redirect(client string, kind RequestKind, key string, nonce uint64, get *ClientGetRequest, put *ClientPutRequest) {
	coord, ok := nd.FirstAliveCoordinator(key)
	if !ok {
		nd.failClient(client, kind, nonce)
		return
	}
	entry := &redirectEntry{client: client, kind: kind, key: key, get: get, put: put}
	nd.redirects[nonce] = entry
	nd.transport.Send(nd.id, coord, entry.toRedirected())
	nd.transport.Timer(nd.id, nd.timers.RedirectTimeout, RedirectTimeout{Nonce: nonce, FailedCoord: coord})
}

func (nd *Node) onRedirectTimeout(m RedirectTimeout) {
	entry, ok := nd.redirects[m.Nonce]
	if !ok {
		return // already acknowledged or already failed
	}
	nd.markDead(m.FailedCoord)
	coord, ok := nd.FirstAliveCoordinator(entry.key)
	if !ok {
		delete(nd.redirects, m.Nonce)
		nd.failClient(entry.client, entry.kind, m.Nonce)
		return
	}
	nd.transport.Send(nd.id, coord, entry.toRedirected())
	nd.transport.Timer(nd.id, nd.timers.RedirectTimeout, RedirectTimeout{Nonce: m.Nonce, FailedCoord: coord})
}

func (nd *Node) onRedirected(from string, m RedirectedClientRequest) {
	nd.markAlive(from)
	switch m.Kind {
	case KindGet:
		nd.transport.Send(nd.id, from, RedirectAcknowledgement{Nonce: m.Get.Nonce})
		nd.armClientTimeout(KindGet, m.Get.Nonce)
		nd.coordinateGet(m.Client, *m.Get)
	case KindPut:
		nd.transport.Send(nd.id, from, RedirectAcknowledgement{Nonce: m.Put.Nonce})
		nd.armClientTimeout(KindPut, m.Put.Nonce)
		nd.coordinatePut(m.Client, *m.Put)
	}
}

func (nd *Node) onRedirectAck(m RedirectAcknowledgement) {
	delete(nd.redirects, m.Nonce)
}

// ─── Client timeout ─────────────────────────────────────────────────────
//
// Armed unconditionally by every node that handles a client request
// directly, whether it ends up redirecting or coordinating. Whichever
// tracker (redirects, gets or puts) still holds the nonce when the timer
// fires is the one that answers the client with failure; the other two
// queues, already resolved, make this a no-op everywhere else the same
// nonce's timer happens to also be armed.
func (nd *Node) onClientTimeout(m ClientTimeout) {
	if entry, ok := nd.redirects[m.Nonce]; ok {
		delete(nd.redirects, m.Nonce)
		nd.failClient(entry.client, entry.kind, m.Nonce)
		return
	}
	switch m.Kind {
	case KindGet:
		if entry, ok := nd.gets[m.Nonce]; ok {
			delete(nd.gets, m.Nonce)
			nd.transport.Send(nd.id, entry.client, ClientGetResponse{Nonce: m.Nonce, Success: false})
		}
	case KindPut:
		if entry, ok := nd.puts[m.Nonce]; ok {
			delete(nd.puts, m.Nonce)
			nd.transport.Send(nd.id, entry.client, ClientPutResponse{Nonce: m.Nonce, Success: false})
		}
	}
}

// ─── Coordinator get ────────────────────────────────────────────────────

func (nd *Node) coordinateGet(client string, m ClientGetRequest) {
	peers := nd.AlivePreference(m.Key)
	entry := &getEntry{
		client:    client,
		key:       m.Key,
		responses: make(map[string]StoredValue),
		requested: make(map[string]bool),
	}
	nd.gets[m.Nonce] = entry
	for _, p := range peers {
		entry.requested[p] = true
		if p == nd.id {
			entry.responses[nd.id] = nd.selfGetValue(m.Key)
			continue
		}
		nd.transport.Send(nd.id, p, CoordinatorGetRequest{Nonce: m.Nonce, Key: m.Key})
		nd.transport.Timer(nd.id, nd.timers.RequestTimeout, CoordinatorRequestTimeout{Kind: KindGet, Nonce: m.Nonce, Peer: p})
	}
	nd.maybeFinishGet(m.Nonce)
}

func (nd *Node) selfGetValue(key string) StoredValue {
	if sv, ok := nd.store[key]; ok {
		return sv
	}
	return StoredValue{Context: vclock.NewCtx()}
}

func (nd *Node) maybeFinishGet(nonce uint64) {
	entry, ok := nd.gets[nonce]
	if !ok || len(entry.responses) < nd.r {
		return
	}
	var merged StoredValue
	first := true
	for _, sv := range entry.responses {
		if first {
			merged = sv
			first = false
			continue
		}
		merged = mergeValues(merged, sv)
	}
	ctx := merged.Context.WithoutHint()
	nd.transport.Send(nd.id, entry.client, ClientGetResponse{Nonce: nonce, Success: true, Values: merged.Payloads, Context: &ctx})
	delete(nd.gets, nonce)
}

// ─── Coordinator put ────────────────────────────────────────────────────

func (nd *Node) coordinatePut(client string, m ClientPutRequest) {
	localCtx := vclock.Ctx{Version: vclock.Tick(m.Context.Version, nd.id)}
	nd.localPut(m.Key, [][]byte{m.Value}, localCtx)

	var entry *putEntry
	if nd.w > 1 {
		entry = &putEntry{
			client:    client,
			key:       m.Key,
			value:     m.Value,
			context:   localCtx,
			acked:     map[string]bool{nd.id: true},
			requested: map[string]string{nd.id: ""},
		}
		nd.puts[m.Nonce] = entry
	}

	for _, hp := range nd.AlivePreferenceWithHints(m.Key) {
		if hp.Node == nd.id {
			continue
		}
		sendCtx := vclock.Ctx{Version: localCtx.Version, Hint: hp.Intended}
		nd.transport.Send(nd.id, hp.Node, CoordinatorPutRequest{Nonce: m.Nonce, Key: m.Key, Value: m.Value, Context: sendCtx})
		if entry != nil {
			entry.requested[hp.Node] = hp.Intended
		}
		nd.transport.Timer(nd.id, nd.timers.RequestTimeout, CoordinatorRequestTimeout{Kind: KindPut, Nonce: m.Nonce, Peer: hp.Node})
	}

	if entry == nil {
		// w <= 1: self alone already satisfies the quorum, answer immediately.
		ctx := localCtx
		nd.transport.Send(nd.id, client, ClientPutResponse{Nonce: m.Nonce, Success: true, Value: m.Value, Context: &ctx})
	}
}

func (nd *Node) maybeFinishPut(nonce uint64) {
	entry, ok := nd.puts[nonce]
	if !ok || len(entry.acked) < nd.w {
		return
	}
	ctx := entry.context
	nd.transport.Send(nd.id, entry.client, ClientPutResponse{Nonce: nonce, Success: true, Value: entry.value, Context: &ctx})
	delete(nd.puts, nonce)
}

// ─── Participant handling of coordinator messages ──────────────────────────

func (nd *Node) onCoordinatorGetRequest(from string, m CoordinatorGetRequest) {
	nd.markAlive(from)
	sv := nd.selfGetValue(m.Key)
	nd.transport.Send(nd.id, from, CoordinatorGetResponse{Nonce: m.Nonce, Values: sv.Payloads, Context: sv.Context.WithoutHint()})
}

func (nd *Node) onCoordinatorGetResponse(from string, m CoordinatorGetResponse) {
	nd.markAlive(from)
	entry, ok := nd.gets[m.Nonce]
	if !ok {
		return
	}
	entry.responses[from] = StoredValue{Payloads: m.Values, Context: m.Context}
	nd.maybeFinishGet(m.Nonce)
}

func (nd *Node) onCoordinatorPutRequest(from string, m CoordinatorPutRequest) {
	nd.markAlive(from)
	nd.localPut(m.Key, [][]byte{m.Value}, m.Context)
	nd.transport.Send(nd.id, from, CoordinatorPutResponse{Nonce: m.Nonce})
	if m.Context.HasHint() && nd.alive[m.Context.Hint] {
		nd.attemptHandoff(m.Context.Hint)
	}
}

func (nd *Node) onCoordinatorPutResponse(from string, m CoordinatorPutResponse) {
	nd.markAlive(from)
	entry, ok := nd.puts[m.Nonce]
	if !ok {
		return
	}
	entry.acked[from] = true
	nd.maybeFinishPut(m.Nonce)
}

// ─── Retry on peer timeout ──────────────────────────────────────────────

func (nd *Node) onCoordinatorRequestTimeout(m CoordinatorRequestTimeout) {
	switch m.Kind {
	case KindGet:
		nd.retryGet(m)
	case KindPut:
		nd.retryPut(m)
	}
}

func (nd *Node) retryGet(m CoordinatorRequestTimeout) {
	entry, ok := nd.gets[m.Nonce]
	if !ok {
		return
	}
	if _, answered := entry.responses[m.Peer]; answered {
		return
	}
	nd.markDead(m.Peer)
	next, ok := nd.nextUnrequestedCandidate(entry.key, entry.requested)
	if !ok {
		return
	}
	entry.requested[next] = true
	if next == nd.id {
		entry.responses[nd.id] = nd.selfGetValue(entry.key)
		nd.maybeFinishGet(m.Nonce)
		return
	}
	nd.transport.Send(nd.id, next, CoordinatorGetRequest{Nonce: m.Nonce, Key: entry.key})
	nd.transport.Timer(nd.id, nd.timers.RequestTimeout, CoordinatorRequestTimeout{Kind: KindGet, Nonce: m.Nonce, Peer: next})
}

func (nd *Node) retryPut(m CoordinatorRequestTimeout) {
	entry, ok := nd.puts[m.Nonce]
	if !ok {
		return
	}
	if entry.acked[m.Peer] {
		return
	}
	nd.markDead(m.Peer)
	next, ok := nd.nextUnrequestedCandidate(entry.key, toBoolSet(entry.requested))
	if !ok {
		return
	}
	// the peer that just timed out becomes the intended owner the fallback
	// candidate is standing in for, unless it was itself already standing in
	// for someone — in which case that hint carries forward unchanged.
	hint := entry.requested[m.Peer]
	if hint == "" {
		hint = m.Peer
	}
	entry.requested[next] = hint
	sendCtx := vclock.Ctx{Version: entry.context.Version, Hint: hint}
	if next == nd.id {
		nd.localPut(entry.key, [][]byte{entry.value}, sendCtx)
		entry.acked[nd.id] = true
		nd.maybeFinishPut(m.Nonce)
		return
	}
	nd.transport.Send(nd.id, next, CoordinatorPutRequest{Nonce: m.Nonce, Key: entry.key, Value: entry.value, Context: sendCtx})
	nd.transport.Timer(nd.id, nd.timers.RequestTimeout, CoordinatorRequestTimeout{Kind: KindPut, Nonce: m.Nonce, Peer: next})
}

func toBoolSet(m map[string]string) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// nextUnrequestedCandidate walks further down the ring than the natural
// top-n preference list to find a fallback replica: the first candidate not
// already in requested that is either self or currently believed alive.
func (nd *Node) nextUnrequestedCandidate(key string, requested map[string]bool) (string, bool) {
	total := len(nd.alive) + 1
	for _, c := range nd.ring.Pref(key, total) {
		if requested[c] {
			continue
		}
		if c == nd.id || nd.alive[c] {
			return c, true
		}
	}
	return "", false
}

// ─── Liveness ───────────────────────────────────────────────────────────

func (nd *Node) onAliveCheckRequest(from string) {
	nd.markAlive(from)
	nd.transport.Send(nd.id, from, AliveCheckResponse{})
}

func (nd *Node) onAliveCheckResponse(from string) {
	nd.markAlive(from)
}

func (nd *Node) onHealthCheckTimeout() {
	defer nd.armHealthCheck()
	for peer, alive := range nd.alive {
		if !alive {
			nd.transport.Send(nd.id, peer, AliveCheckRequest{})
		}
	}
}

// ─── Introspection ──────────────────────────────────────────────────────────

func (nd *Node) onGetStateRequest(from string, m GetStateRequest) {
	nd.transport.Send(nd.id, from, GetStateResponse{Nonce: m.Nonce, State: nd.snapshot()})
}
