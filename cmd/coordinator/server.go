package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/exp/slices"

	"github.com/dreamware/replicawatch/internal/cluster"
	"github.com/dreamware/replicawatch/internal/coordinator"
	"github.com/dreamware/replicawatch/internal/watcher"
)

type server struct {
	store       *coordinator.StateStore
	monitor     *coordinator.HealthMonitor
	log         logr.Logger
	nodes       []cluster.NodeInfo
	waitTimeout time.Duration
	mu          sync.RWMutex

	// loadCore asks a node to host a replica core.
	loadCore func(ctx context.Context, node cluster.NodeInfo, req cluster.LoadCoreRequest) error
}

func newServer(store *coordinator.StateStore, monitor *coordinator.HealthMonitor, waitTimeout time.Duration, log logr.Logger) *server {
	return &server{
		store:       store,
		monitor:     monitor,
		log:         log,
		waitTimeout: waitTimeout,
		loadCore: func(ctx context.Context, node cluster.NodeInfo, req cluster.LoadCoreRequest) error {
			return cluster.PostJSON(ctx, strings.TrimRight(node.Addr, "/")+"/cores", req, nil)
		},
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("GET /nodes/{id}", s.handleGetNode)
	mux.HandleFunc("GET /live_nodes", s.handleLiveNodes)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /collections", s.handleListCollections)
	mux.HandleFunc("POST /collections", s.handleCreateCollection)
	mux.HandleFunc("GET /collections/{name}", s.handleGetCollection)
	mux.HandleFunc("DELETE /collections/{name}", s.handleDeleteCollection)
	mux.HandleFunc("PUT /collections/{name}/replicas/{replica}/state", s.handleReplicaState)
	mux.HandleFunc("POST /collections/{name}/wait", s.handleWait)
	return mux
}

// nodeList returns a copy of the registered nodes for the health monitor.
func (s *server) nodeList() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.nodes)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		s.nodes[idx] = req.Node
	} else {
		s.nodes = append(s.nodes, req.Node)
	}
	s.log.Info("node registered", "node", req.Node.ID, "addr", req.Node.Addr)
	w.WriteHeader(http.StatusNoContent)
}

// nodeStatus is a registered node together with its last health check.
type nodeStatus struct {
	LastCheck        *time.Time `json:"last_check,omitempty"`
	ID               string     `json:"id"`
	Addr             string     `json:"addr"`
	HealthStatus     string     `json:"health_status"`
	ConsecutiveFails int        `json:"consecutive_fails"`
}

func newNodeStatus(n cluster.NodeInfo, health *coordinator.NodeHealth) nodeStatus {
	st := nodeStatus{ID: n.ID, Addr: n.Addr, HealthStatus: "unknown"}
	if health != nil {
		lastCheck := health.LastCheck
		st.LastCheck = &lastCheck
		st.HealthStatus = health.Status
		st.ConsecutiveFails = health.ConsecutiveFails
	}
	return st
}

// handleListNodes lists the registered nodes with their health. Nodes that
// have not been checked yet report "unknown".
func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.nodeList()
	healths := s.monitor.GetAllNodeHealth()

	out := make([]nodeStatus, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, newNodeStatus(n, healths[n.ID]))
	}
	writeJSON(w, http.StatusOK, struct {
		Nodes []nodeStatus `json:"nodes"`
	}{Nodes: out})
}

func (s *server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nodes := s.nodeList()
	idx := slices.IndexFunc(nodes, func(n cluster.NodeInfo) bool { return n.ID == id })
	if idx < 0 {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newNodeStatus(nodes[idx], s.monitor.GetNodeHealth(id)))
}

func (s *server) handleLiveNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		LiveNodes []string `json:"live_nodes"`
	}{LiveNodes: s.store.LiveNodes().Sorted()})
}

func (s *server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Collections []string `json:"collections"`
	}{Collections: s.store.Collections()})
}

func (s *server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.store.Collection(r.PathValue("name"))
	if !ok {
		http.Error(w, "collection not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCollection(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleReplicaState(w http.ResponseWriter, r *http.Request) {
	var req cluster.ReplicaStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !req.State.Valid() {
		http.Error(w, fmt.Sprintf("unknown replica state %q", req.State), http.StatusBadRequest)
		return
	}
	if err := s.store.SetReplicaState(r.PathValue("name"), r.PathValue("replica"), req.State); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createCollectionRequest struct {
	Name              string `json:"name"`
	NumShards         int    `json:"num_shards"`
	ReplicationFactor int    `json:"replication_factor"`
	Wait              bool   `json:"wait"`
}

// handleCreateCollection places a new collection on the live registered
// nodes, asks each node to load its cores and, if requested, waits for all
// replicas to become active.
func (s *server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ReplicationFactor == 0 {
		req.ReplicationFactor = 1
	}

	live := s.store.LiveNodes()
	var targets []cluster.NodeInfo
	for _, n := range s.nodeList() {
		if live.Contains(n.ID) {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		http.Error(w, "no live nodes to place replicas on", http.StatusServiceUnavailable)
		return
	}
	nodeIDs := make([]string, len(targets))
	for i, n := range targets {
		nodeIDs[i] = n.ID
	}

	c, err := coordinator.PlaceCollection(req.Name, req.NumShards, req.ReplicationFactor, nodeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateCollection(c); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("collection created", "collection", c.Name, "shards", req.NumShards, "replicationFactor", req.ReplicationFactor)

	s.loadCores(r.Context(), c, targets)

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, c)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
	defer cancel()
	aw, err := s.store.WaitForActiveReplicas(ctx, c.Name, coordinator.ReplicaIDs(c), nil)
	s.writeWaitResult(w, http.StatusCreated, aw, err)
}

// loadCores asks every node to load the cores placed on it. Failures are
// logged; the replicas stay down and show up as pending when waited on.
func (s *server) loadCores(ctx context.Context, c *cluster.Collection, nodes []cluster.NodeInfo) {
	byID := make(map[string]cluster.NodeInfo, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, slice := range c.Slices {
		for _, replica := range slice.Replicas {
			req := cluster.LoadCoreRequest{Collection: c.Name, Replica: replica.Name, Core: replica.Core}
			if err := s.loadCore(ctx, byID[replica.NodeName], req); err != nil {
				s.log.Error(err, "load core failed", "collection", c.Name, "replica", replica.Name, "node", replica.NodeName)
			}
		}
	}
}

type waitRequest struct {
	Timeout    string   `json:"timeout,omitempty"`
	ReplicaIDs []string `json:"replica_ids"`
	CoreNames  []string `json:"core_names"`
}

type waitResponse struct {
	Error          string            `json:"error,omitempty"`
	ActiveReplicas []cluster.Replica `json:"active_replicas"`
	ReplicaIDs     []string          `json:"replica_ids"`
	CoreNames      []string          `json:"core_names"`
	Done           bool              `json:"done"`
}

func (s *server) handleWait(w http.ResponseWriter, r *http.Request) {
	var req waitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	timeout := s.waitTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			http.Error(w, fmt.Sprintf("invalid timeout %q", req.Timeout), http.StatusBadRequest)
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	aw, err := s.store.WaitForActiveReplicas(ctx, r.PathValue("name"), req.ReplicaIDs, req.CoreNames)
	s.writeWaitResult(w, http.StatusOK, aw, err)
}

func (s *server) writeWaitResult(w http.ResponseWriter, okStatus int, aw *watcher.ActiveReplicaWatcher, err error) {
	if aw == nil {
		writeError(w, err)
		return
	}
	resp := waitResponse{
		ActiveReplicas: aw.ActiveReplicas(),
		ReplicaIDs:     aw.ReplicaIDs(),
		CoreNames:      aw.CoreNames(),
		Done:           err == nil,
	}
	status := okStatus
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, watcher.ErrInvalidArgument), errors.Is(err, coordinator.ErrInvalidCollection):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrCollectionNotFound), errors.Is(err, coordinator.ErrReplicaNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrCollectionExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
