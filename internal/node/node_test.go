package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamocore/internal/transport"
	"dynamocore/internal/vclock"
)

// fakeRing is a fixed preference-list Oracle for tests: it never consults a
// real hash, it just returns whatever order was configured for each key, so
// tests can pin down exactly which nodes a coordinator will fan out to.
type fakeRing struct {
	order []string
}

func (f *fakeRing) Pref(key string, k int) []string {
	if k > len(f.order) {
		k = len(f.order)
	}
	return append([]string(nil), f.order[:k]...)
}

// sentMsg records one Send call observed by fakeTransport.
type sentMsg struct {
	From, To string
	Msg      any
}

// fakeTransport is an in-process recorder standing in for transport.Bus: it
// captures every Send and Timer call instead of actually delivering or
// scheduling, so tests can drive a Node's handlers directly and assert on
// exactly what it tried to do next.
type fakeTransport struct {
	sent   []sentMsg
	timers []any
}

func (f *fakeTransport) Send(from, to string, msg any) {
	f.sent = append(f.sent, sentMsg{From: from, To: to, Msg: msg})
}

func (f *fakeTransport) Timer(self string, d time.Duration, msg any) {
	f.timers = append(f.timers, msg)
}

func (f *fakeTransport) sentTo(to string) []any {
	var out []any
	for _, s := range f.sent {
		if s.To == to {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (f *fakeTransport) last() any {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1].Msg
}

func newTestNode(id string, order []string, n, r, w int, ft *fakeTransport) *Node {
	return New(Config{
		ID:         id,
		AllNodeIDs: order,
		N:          n,
		R:          r,
		W:          w,
		Timers: Timers{
			ClientTimeout:       time.Second,
			RedirectTimeout:     time.Second,
			RequestTimeout:      time.Second,
			HealthCheckInterval: time.Minute,
			MerkleSyncInterval:  time.Minute,
		},
		Ring:      &fakeRing{order: order},
		Transport: ft,
	})
}

// ─── Coordinator put quorum ─────────────────────────────────────────────

func TestCoordinatePutWaitsForWMinus1PeerAcks(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2", "p3"}, 3, 2, 3, ft)

	nd.handle(transport.Client, ClientPutRequest{Nonce: 1, Key: "k", Value: []byte("v"), Context: vclock.NewCtx()})

	// local apply counts as one ack; w=3 means two more peer acks are needed.
	require.Len(t, nd.puts, 1)
	puts := []any{}
	for _, s := range ft.sent {
		if _, ok := s.Msg.(CoordinatorPutRequest); ok {
			puts = append(puts, s.Msg)
		}
	}
	assert.Len(t, puts, 2, "fans out to the two peers, not itself")

	nd.handle("p2", CoordinatorPutResponse{Nonce: 1})
	assert.Len(t, nd.puts, 1, "quorum not yet reached with only one peer ack")

	nd.handle("p3", CoordinatorPutResponse{Nonce: 1})
	assert.Len(t, nd.puts, 0, "entry cleared once w acks (including self) are in")

	resp, ok := ft.last().(ClientPutResponse)
	require.True(t, ok, "last send must be the client response")
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.Nonce)
}

func TestCoordinatePutAnswersImmediatelyWhenWIsOne(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2", "p3"}, 3, 1, 1, ft)

	nd.handle(transport.Client, ClientPutRequest{Nonce: 7, Key: "k", Value: []byte("v"), Context: vclock.NewCtx()})

	assert.Empty(t, nd.puts, "w<=1 must not enqueue a tracker entry")
	resp, ok := ft.last().(ClientPutResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
}

// ─── Coordinator get quorum ─────────────────────────────────────────────

func TestCoordinateGetWaitsForRResponsesIncludingSelf(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2", "p3"}, 3, 3, 3, ft)
	nd.store["k"] = StoredValue{Payloads: [][]byte{[]byte("local")}, Context: vclock.NewCtx()}

	nd.handle(transport.Client, ClientGetRequest{Nonce: 2, Key: "k"})

	require.Len(t, nd.gets, 1)
	assert.Len(t, nd.gets[2].responses, 1, "self counts toward R via the fast in-process path")

	nd.handle("p2", CoordinatorGetResponse{Nonce: 2, Values: [][]byte{[]byte("local")}, Context: vclock.NewCtx()})
	assert.Len(t, nd.gets, 1, "R=3, only two responses in so far")

	nd.handle("p3", CoordinatorGetResponse{Nonce: 2, Values: [][]byte{[]byte("local")}, Context: vclock.NewCtx()})
	assert.Len(t, nd.gets, 0)

	resp, ok := ft.last().(ClientGetResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, [][]byte{[]byte("local")}, resp.Values)
}

func TestCoordinateGetMergesConcurrentSiblings(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2"}, 2, 2, 2, ft)
	nd.store["k"] = StoredValue{Payloads: [][]byte{[]byte("a")}, Context: vclock.Ctx{Version: vclock.Clock{"self": 1}}}

	nd.handle(transport.Client, ClientGetRequest{Nonce: 3, Key: "k"})
	nd.handle("p2", CoordinatorGetResponse{
		Nonce:   3,
		Values:  [][]byte{[]byte("b")},
		Context: vclock.Ctx{Version: vclock.Clock{"p2": 1}},
	})

	resp, ok := ft.last().(ClientGetResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, resp.Values, "concurrent versions surface as siblings")
}

// ─── Retry on peer timeout ──────────────────────────────────────────────

func TestRetryGetPicksNextUnrequestedCandidate(t *testing.T) {
	ft := &fakeTransport{}
	// n=2 so the natural preference list is [self, p2]; p3 only shows up as
	// a fallback once the retry walks the ring past the top n, out to
	// alive+1 candidates.
	nd := newTestNode("self", []string{"self", "p2", "p3"}, 2, 2, 2, ft)

	nd.handle(transport.Client, ClientGetRequest{Nonce: 9, Key: "k"})
	require.Contains(t, nd.gets[9].requested, "p2")

	nd.handle(nd.id, CoordinatorRequestTimeout{Kind: KindGet, Nonce: 9, Peer: "p2"})

	assert.False(t, nd.alive["p2"], "timed-out peer is marked dead")
	assert.Contains(t, nd.gets[9].requested, "p3", "retry extends to the next live candidate")

	var sawRetry bool
	for _, s := range ft.sent {
		if req, ok := s.Msg.(CoordinatorGetRequest); ok && s.To == "p3" && req.Nonce == 9 {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestRetryPutForwardsTimedOutPeerAsHint(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2", "p3"}, 2, 2, 2, ft)

	nd.handle(transport.Client, ClientPutRequest{Nonce: 11, Key: "k", Value: []byte("v"), Context: vclock.NewCtx()})
	nd.handle(nd.id, CoordinatorRequestTimeout{Kind: KindPut, Nonce: 11, Peer: "p2"})

	assert.Equal(t, "p2", nd.puts[11].requested["p3"], "the dead peer becomes the substitute's hint")

	var found bool
	for _, s := range ft.sent {
		if req, ok := s.Msg.(CoordinatorPutRequest); ok && s.To == "p3" && req.Nonce == 11 {
			assert.Equal(t, "p2", req.Context.Hint)
			found = true
		}
	}
	assert.True(t, found)
}

// ─── Redirect ───────────────────────────────────────────────────────────

func TestNonCoordinatorRedirectsToFirstAliveCoordinator(t *testing.T) {
	ft := &fakeTransport{}
	// self is not in "k"'s preference list at all.
	nd := newTestNode("self", []string{"c1", "c2"}, 2, 1, 1, ft)

	nd.handle(transport.Client, ClientGetRequest{Nonce: 5, Key: "k"})

	require.Contains(t, nd.redirects, uint64(5))
	redirected, ok := ft.last().(RedirectedClientRequest)
	require.True(t, ok)
	assert.Equal(t, transport.Client, redirected.Client)
	assert.Equal(t, KindGet, redirected.Kind)
}

func TestRedirectFailsClientWhenNoCoordinatorAlive(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"c1", "c2"}, 2, 1, 1, ft)
	nd.alive["c1"] = false
	nd.alive["c2"] = false

	nd.handle(transport.Client, ClientGetRequest{Nonce: 6, Key: "k"})

	resp, ok := ft.last().(ClientGetResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Empty(t, nd.redirects)
}

// ─── Client timeout purges every tracker ───────────────────────────────

func TestClientTimeoutPurgesPendingGetAndAnswersFailure(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "p2"}, 2, 2, 2, ft)

	nd.handle(transport.Client, ClientGetRequest{Nonce: 20, Key: "k"})
	require.Contains(t, nd.gets, uint64(20))

	nd.handle(nd.id, ClientTimeout{Kind: KindGet, Nonce: 20})
	assert.NotContains(t, nd.gets, uint64(20))

	resp, ok := ft.last().(ClientGetResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)

	// a late response after the timeout must be a no-op, not a panic or a
	// second client reply.
	sentBefore := len(ft.sent)
	nd.handle("p2", CoordinatorGetResponse{Nonce: 20, Values: nil, Context: vclock.NewCtx()})
	assert.Len(t, ft.sent, sentBefore, "late response after client timeout is silently dropped")
}

// ─── Hinted handoff ─────────────────────────────────────────────────────

func TestParticipantTriggersHandoffWhenHintedOwnerAlive(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "dead-owner"}, 2, 1, 1, ft)
	nd.alive["dead-owner"] = true

	nd.handle("coord", CoordinatorPutRequest{
		Nonce:   30,
		Key:     "k",
		Value:   []byte("v"),
		Context: vclock.Ctx{Version: vclock.Clock{"coord": 1}, Hint: "dead-owner"},
	})

	var found bool
	for _, s := range ft.sent {
		if req, ok := s.Msg.(HandoffRequest); ok && s.To == "dead-owner" {
			found = true
			entry, ok := req.Data["k"]
			require.True(t, ok)
			assert.Empty(t, entry.Context.Hint, "handoff payload ships with the hint already stripped")
		}
	}
	assert.True(t, found, "a coordinator put carrying a live hint must trigger an immediate handoff attempt")
}

func TestMarkAliveTriggersHandoffForMatchingHints(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "owner"}, 2, 1, 1, ft)
	nd.store["k"] = StoredValue{
		Payloads: [][]byte{[]byte("v")},
		Context:  vclock.Ctx{Version: vclock.Clock{"self": 1}, Hint: "owner"},
	}
	nd.alive["owner"] = false

	nd.markAlive("owner")

	var found bool
	for _, s := range ft.sent {
		if _, ok := s.Msg.(HandoffRequest); ok && s.To == "owner" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandoffResponseDropsHintWhenContextUnchanged(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "owner"}, 2, 1, 1, ft)
	ctx := vclock.Ctx{Version: vclock.Clock{"self": 1}, Hint: "owner"}
	nd.store["k"] = StoredValue{Payloads: [][]byte{[]byte("v")}, Context: ctx}
	nd.handoffs["owner"] = map[uint64]map[string]vclock.Ctx{
		99: {"k": ctx.WithoutHint()},
	}

	nd.handle("owner", HandoffResponse{Nonce: 99})

	assert.Empty(t, nd.store["k"].Context.Hint, "hint clears once the target has acked the handoff")
	assert.Empty(t, nd.handoffs["owner"])
}

// ─── merge_values / local_put ───────────────────────────────────────────

func TestLocalPutStoresFirstWriteAsIs(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self"}, 1, 1, 1, ft)

	ctx := vclock.Ctx{Version: vclock.Clock{"self": 1}}
	nd.localPut("k", [][]byte{[]byte("v")}, ctx)

	assert.Equal(t, [][]byte{[]byte("v")}, nd.store["k"].Payloads)
}

func TestLocalPutDominatingWriteReplacesOlder(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self"}, 1, 1, 1, ft)

	nd.localPut("k", [][]byte{[]byte("old")}, vclock.Ctx{Version: vclock.Clock{"self": 1}})
	nd.localPut("k", [][]byte{[]byte("new")}, vclock.Ctx{Version: vclock.Clock{"self": 2}})

	assert.Equal(t, [][]byte{[]byte("new")}, nd.store["k"].Payloads)
}

func TestLocalPutConcurrentWritesCollectSiblings(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self"}, 1, 1, 1, ft)

	nd.localPut("k", [][]byte{[]byte("a")}, vclock.Ctx{Version: vclock.Clock{"n1": 1}})
	nd.localPut("k", [][]byte{[]byte("b")}, vclock.Ctx{Version: vclock.Clock{"n2": 1}})

	assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, nd.store["k"].Payloads)
}

// ─── Preference helpers ─────────────────────────────────────────────────

func TestAlivePreferenceWithHintsPairsSubstitutesToDeadOwners(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self", "dead", "sub"}, 2, 1, 1, ft)
	nd.alive["dead"] = false
	nd.alive["sub"] = true

	pairs := nd.AlivePreferenceWithHints("k")
	require.Len(t, pairs, 2)
	assert.Equal(t, HintedPeer{Node: "self"}, pairs[0])
	assert.Equal(t, HintedPeer{Node: "sub", Intended: "dead"}, pairs[1])
}

func TestIsCoordinatorReflectsNaturalPreference(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"other1", "other2"}, 2, 1, 1, ft)
	assert.False(t, nd.IsCoordinator("k"))
}

// ─── Unhandled message is fatal ─────────────────────────────────────────

func TestUnhandledMessagePanics(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self"}, 1, 1, 1, ft)

	assert.Panics(t, func() { nd.handle("x", struct{ Odd bool }{}) })
}

// ─── Crash/recover ──────────────────────────────────────────────────────

func TestCrashWipesStateAndDropsMessagesUntilRecover(t *testing.T) {
	ft := &fakeTransport{}
	nd := newTestNode("self", []string{"self"}, 1, 1, 1, ft)
	nd.store["k"] = StoredValue{Payloads: [][]byte{[]byte("v")}, Context: vclock.NewCtx()}

	nd.handle("x", CrashMessage{})
	assert.Empty(t, nd.store)

	sentBefore := len(ft.sent)
	nd.handle(transport.Client, ClientGetRequest{Nonce: 1, Key: "k"})
	assert.Len(t, ft.sent, sentBefore, "a crashed node drops every message except recover")

	nd.handle("x", RecoverMessage{})
	assert.False(t, nd.crashed)
	assert.Empty(t, nd.store, "recover restarts with an empty store")
}
