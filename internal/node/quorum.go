package node

import "dynamocore/internal/vclock"

// getEntry tracks per-nonce state for an in-flight coordinator get.
type getEntry struct {
	client    string
	key       string
	responses map[string]StoredValue // peer -> its (payloads, ctx)
	requested map[string]bool
}

// putEntry is puts_queue[nonce]: per-nonce state for an in-flight
// coordinator put.
type putEntry struct {
	client             string
	key                string
	value              []byte
	context            vclock.Ctx
	acked              map[string]bool // peers (and self) that have acked
	requested          map[string]string // peer -> hint sent ("" = no hint)
	lastRequestedIndex int
}

// redirectEntry is redirect_queue[nonce]: state for a request this node
// forwarded to a coordinator because it wasn't one itself.
type redirectEntry struct {
	client string
	kind   RequestKind
	key    string
	// original request, retained so it can be resent verbatim to the next
	// coordinator candidate on redirect_timeout.
	get *ClientGetRequest
	put *ClientPutRequest
}

func (e *redirectEntry) toRedirected() RedirectedClientRequest {
	return RedirectedClientRequest{Client: e.client, Kind: e.kind, Get: e.get, Put: e.put}
}
