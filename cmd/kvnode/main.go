// cmd/kvnode is the main entrypoint for a replica process.
//
// Configuration is entirely via flags so a single binary can
// serve any role in the cluster.
//
// Example — 3-node cluster:
//
//	./kvnode --id node1 --addr :8080 --peers node1=localhost:8080,node2=localhost:8081,node3=localhost:8082
//	./kvnode --id node2 --addr :8081 --peers node1=localhost:8080,node2=localhost:8081,node3=localhost:8082
//	./kvnode --id node3 --addr :8082 --peers node1=localhost:8080,node2=localhost:8081,node3=localhost:8082
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"dynamocore/internal/api"
	"dynamocore/internal/node"
	"dynamocore/internal/ring"
	"dynamocore/internal/transport"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	peersFlag := flag.String("peers", "", "Comma-separated node membership: id=host:port (must include self)")
	replicationN := flag.Int("n", 3, "Replication factor (N)")
	writeQuorum := flag.Int("w", 2, "Write quorum (W)")
	readQuorum := flag.Int("r", 2, "Read quorum (R)")
	vnodes := flag.Int("vnodes", 0, "Virtual nodes per physical node on the hash ring (0 = default)")
	clientTimeout := flag.Duration("client-timeout", 2*time.Second, "Deadline for a client get/put before failing")
	redirectTimeout := flag.Duration("redirect-timeout", 500*time.Millisecond, "Deadline before retrying a redirected request against the next coordinator candidate")
	requestTimeout := flag.Duration("request-timeout", 500*time.Millisecond, "Deadline before a coordinator gives up on one peer and tries the next")
	healthInterval := flag.Duration("health-interval", time.Second, "Liveness probe interval")
	merkleInterval := flag.Duration("merkle-interval", 5*time.Second, "Anti-entropy sync interval")
	flag.Parse()

	if *writeQuorum+*readQuorum <= *replicationN {
		log.Printf("WARNING: W(%d) + R(%d) <= N(%d): reads are not guaranteed to see every acknowledged write",
			*writeQuorum, *readQuorum, *replicationN)
	}

	if *peersFlag == "" {
		log.Fatalf("FATAL: --peers must list the full static membership, including self")
	}
	addrs := make(map[string]string)
	var allNodeIDs []string
	for _, entry := range strings.Split(*peersFlag, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid peer format %q: expected id=host:port", entry)
		}
		id, hostport := parts[0], parts[1]
		allNodeIDs = append(allNodeIDs, id)
		if id == *nodeID {
			continue
		}
		base := hostport
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "http://" + base
		}
		addrs[id] = base
	}

	// ── Ring ───────────────────────────────────────────────────────────────
	r := ring.New(*vnodes)
	for _, id := range allNodeIDs {
		r.AddNode(id)
	}

	n := min(*replicationN, r.NodeCount())
	w := min(*writeQuorum, n)
	rq := min(*readQuorum, n)

	// ── Transport + node ─────────────────────────────────────────────────
	sink := transport.NewClientSink()
	httpTransport := transport.NewHTTPTransport(*nodeID, addrs, sink)

	nd := node.New(node.Config{
		ID:         *nodeID,
		AllNodeIDs: allNodeIDs,
		N:          n,
		R:          rq,
		W:          w,
		Timers: node.Timers{
			ClientTimeout:       *clientTimeout,
			RedirectTimeout:     *redirectTimeout,
			RequestTimeout:      *requestTimeout,
			HealthCheckInterval: *healthInterval,
			MerkleSyncInterval:  *merkleInterval,
		},
		Ring:      r,
		Transport: httpTransport,
	})
	httpTransport.SetLocalInbox(nd)

	runCtx, cancelRun := context.WithCancel(context.Background())
	go nd.Run(runCtx)

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(nd, sink, *clientTimeout+time.Second)
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":   *nodeID,
			"status": "ok",
			"nodes":  r.NodeCount(),
		})
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	go func() {
		log.Printf("node %s listening on %s (N=%d W=%d R=%d)", *nodeID, *addr, n, w, rq)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", *nodeID)
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
