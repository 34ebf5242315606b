// Package main implements the node agent. A node hosts replica cores on
// behalf of the coordinator and reports their state back to it.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /info         - Node information     │
//	│    /cores        - Load a replica core  │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    core.Host     - Hosted cores         │
//	│    Registration  - Coordinator link     │
//	│    Reporter      - Replica state PUTs   │
//	└─────────────────────────────────────────┘
//
// Configuration (environment):
//   - NODE_ID: unique node identifier (required)
//   - NODE_LISTEN: listen address (default ":8081")
//   - NODE_ADDR: public address for the coordinator (default "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator URL (required)
//   - CORE_LOAD_DELAY: time a core takes to become active (default "200ms")
//   - LOG_LEVEL: debug, info, warn or error (default "info")
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/replicawatch/internal/cluster"
	"github.com/dreamware/replicawatch/internal/config"
	"github.com/dreamware/replicawatch/internal/core"
	"github.com/dreamware/replicawatch/internal/logging"
)

const (
	registerAttempts = 10
	registerBackoff  = 400 * time.Millisecond
)

func main() {
	cfg, err := config.LoadNode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
	log = log.WithValues("node", cfg.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "node exited unexpectedly")
		os.Exit(1)
	}
	log.Info("node stopped")
}

func run(ctx context.Context, cfg config.Node, log logr.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	host := core.NewHost(cfg.LoadDelay, reporter(cfg.Coordinator), log.WithName("cores"))
	defer host.Wait()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           routes(ctx, cfg.ID, host, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg.Go(func() error {
		log.Info("node listening", "listen", cfg.Listen, "public", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return register(ctx, cfg.Coordinator, cfg.ID, cfg.Addr, log)
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "http shutdown")
		}
		return ctx.Err()
	})

	return eg.Wait()
}

// routes builds the node's HTTP API. Cores loaded through it live as long as
// ctx, not as long as the request that asked for them.
func routes(ctx context.Context, nodeID string, host *core.Host, log logr.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
			NodeID string `json:"node_id"`
		}{Status: "ok", NodeID: nodeID})
	})
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, _ *http.Request) {
		handleNodeInfo(nodeID, host, w)
	})
	mux.HandleFunc("POST /cores", func(w http.ResponseWriter, r *http.Request) {
		handleLoadCore(ctx, host, log, w, r)
	})
	return mux
}

// handleLoadCore starts loading a core and answers before it is active; the
// coordinator learns about progress through state reports.
//
// Endpoint: POST /cores
//
// Response:
//   - 202 Accepted: core is loading (or already hosted)
//   - 400 Bad Request: malformed body or missing fields
func handleLoadCore(ctx context.Context, host *core.Host, log logr.Logger, w http.ResponseWriter, r *http.Request) {
	var req cluster.LoadCoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	c, err := host.Load(ctx, req)
	if err != nil {
		log.V(1).Info("rejected core load", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(c.Info())
}

// handleNodeInfo returns the node id and its hosted cores.
//
// Response body:
//
//	{
//	  "node_id": "node-1",
//	  "core_count": 1,
//	  "cores": [
//	    {"collection": "books", "replica": "core_node1", "core": "books_shard1_replica_n1", "state": "active"}
//	  ]
//	}
func handleNodeInfo(nodeID string, host *core.Host, w http.ResponseWriter) {
	cores := host.Infos()
	response := struct {
		NodeID string      `json:"node_id"`
		Cores  []core.Info `json:"cores"`
		Count  int         `json:"core_count"`
	}{
		NodeID: nodeID,
		Cores:  cores,
		Count:  len(cores),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// reporter sends replica state changes to the coordinator's state endpoint.
func reporter(coord string) core.Reporter {
	base := strings.TrimRight(coord, "/")
	return func(ctx context.Context, collection, replica string, state cluster.ReplicaState) error {
		u := fmt.Sprintf("%s/collections/%s/replicas/%s/state", base, url.PathEscape(collection), url.PathEscape(replica))
		return cluster.PutJSON(ctx, u, cluster.ReplicaStateRequest{State: state}, nil)
	}
}

// register announces the node to the coordinator, retrying while the
// coordinator starts up. It gives up after registerAttempts failures.
func register(ctx context.Context, coord, id, addr string, log logr.Logger) error {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error

	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, strings.TrimRight(coord, "/")+"/register", body, nil)
		if lastErr == nil {
			log.Info("registered with coordinator", "coordinator", coord)
			return nil
		}
		log.Info("register retry", "attempt", i+1, "err", lastErr)
		select {
		case <-time.After(registerBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to register with coordinator: %w", lastErr)
}
