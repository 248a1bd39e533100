// Package api wires up the Gin HTTP router that fronts one node process:
// client-facing /kv endpoints translate into ClientGetRequest/
// ClientPutRequest messages delivered straight into the node's inbox, and
// /internal/deliver is the receiving end of HTTPTransport's peer-to-peer
// Send, decoding a WireEnvelope back into a concrete message type.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"dynamocore/internal/node"
	"dynamocore/internal/transport"
	"dynamocore/internal/vclock"
)

// Handler holds everything the HTTP surface needs: the node it fronts, the
// sink its own client requests are demultiplexed through, and a nonce
// counter distinct from the node's own internal one.
type Handler struct {
	node       *node.Node
	sink       *transport.ClientSink
	self       string
	nonce      uint64
	reqTimeout time.Duration
}

// NewHandler builds a Handler for nd, using sink to correlate client
// requests issued through this process with their eventual responses.
func NewHandler(nd *node.Node, sink *transport.ClientSink, reqTimeout time.Duration) *Handler {
	if reqTimeout <= 0 {
		reqTimeout = 5 * time.Second
	}
	return &Handler{node: nd, sink: sink, self: nd.ID(), reqTimeout: reqTimeout}
}

func (h *Handler) nextNonce() uint64 {
	return atomic.AddUint64(&h.nonce, 1)
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	kv := r.Group("/kv")
	kv.GET("/:key", h.Get)
	kv.PUT("/:key", h.Put)

	internal := r.Group("/internal")
	internal.POST("/deliver", h.InternalDeliver)
	internal.GET("/state", h.InternalState)
}

// ─── Public KV handlers ─────────────────────────────────────────────────────

type putBody struct {
	Value   string       `json:"value" binding:"required"`
	Context *vclock.Ctx `json:"context"`
}

// Put handles PUT /kv/:key. Body: {"value": "<string>", "context": {...}}
// — context is the causal context observed from a prior Get, or omitted for
// a blind write.
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body putBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := vclock.NewCtx()
	if body.Context != nil {
		ctx = *body.Context
	}

	nonce := h.nextNonce()
	ch := h.sink.Register(nonce)
	h.node.Deliver(transport.Envelope{
		From: transport.Client,
		Msg:  node.ClientPutRequest{Nonce: nonce, Key: key, Value: []byte(body.Value), Context: ctx},
	})

	resp, err := h.await(c, nonce, ch)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	putResp := resp.(node.ClientPutResponse)
	if !putResp.Success {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "write quorum unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"value":   string(putResp.Value),
		"context": putResp.Context,
	})
}

// Get handles GET /kv/:key.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	nonce := h.nextNonce()
	ch := h.sink.Register(nonce)
	h.node.Deliver(transport.Envelope{
		From: transport.Client,
		Msg:  node.ClientGetRequest{Nonce: nonce, Key: key},
	})

	resp, err := h.await(c, nonce, ch)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	getResp := resp.(node.ClientGetResponse)
	if !getResp.Success {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "read quorum unreachable"})
		return
	}
	values := make([]string, len(getResp.Values))
	for i, v := range getResp.Values {
		values[i] = string(v)
	}
	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"values":  values,
		"context": getResp.Context,
	})
}

// await blocks on ch (the response channel registered for nonce) until it
// fires, the request's own deadline expires, or the client disconnects —
// whichever comes first. It always forgets the nonce on the unhappy paths
// so the sink never leaks a waiter.
func (h *Handler) await(c *gin.Context, nonce uint64, ch <-chan any) (any, error) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), h.reqTimeout)
	defer cancel()
	select {
	case msg := <-ch:
		return msg, nil
	case <-reqCtx.Done():
		h.sink.Forget(nonce)
		return nil, reqCtx.Err()
	}
}

// ─── Internal (peer-to-peer) handlers ──────────────────────────────────────

// InternalDeliver handles POST /internal/deliver — the receiving side of
// HTTPTransport.Send from another node process.
func (h *Handler) InternalDeliver(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var env transport.WireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := transport.DecodeMessage(env.Kind, env.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.node.Deliver(transport.Envelope{From: env.From, Msg: msg})
	c.Status(http.StatusNoContent)
}

// InternalState handles GET /internal/state — a debug/test hook mirroring
// GetStateRequest over HTTP.
func (h *Handler) InternalState(c *gin.Context) {
	nonce := h.nextNonce()
	ch := h.sink.Register(nonce)
	h.node.Deliver(transport.Envelope{From: transport.Client, Msg: node.GetStateRequest{Nonce: nonce}})

	resp, err := h.await(c, nonce, ch)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp.(node.GetStateResponse).State)
}
