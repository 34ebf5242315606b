package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/replicawatch/internal/cluster"
	"github.com/dreamware/replicawatch/internal/core"
)

// fakeCoordinator records replica state reports and registrations.
type fakeCoordinator struct {
	mu        sync.Mutex
	paths     []string
	states    []cluster.ReplicaState
	registers []cluster.RegisterRequest
}

func (f *fakeCoordinator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/{name}/replicas/{replica}/state", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.ReplicaStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.states = append(f.states, req.State)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.registers = append(f.registers, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestHealthEndpoint(t *testing.T) {
	host := core.NewHost(0, nil, logr.Discard())
	srv := httptest.NewServer(routes(context.Background(), "node-1", host, logr.Discard()))
	defer srv.Close()

	var got struct {
		Status string `json:"status"`
		NodeID string `json:"node_id"`
	}
	require.NoError(t, cluster.GetJSON(context.Background(), srv.URL+"/health", &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "node-1", got.NodeID)
}

func TestLoadCoreReportsToCoordinator(t *testing.T) {
	coord := &fakeCoordinator{}
	coordSrv := httptest.NewServer(coord.handler())
	defer coordSrv.Close()

	host := core.NewHost(5*time.Millisecond, reporter(coordSrv.URL), logr.Discard())
	srv := httptest.NewServer(routes(context.Background(), "node-1", host, logr.Discard()))
	defer srv.Close()

	body, _ := json.Marshal(cluster.LoadCoreRequest{Collection: "books", Replica: "core_node1", Core: "books_shard1_replica_n1"})
	resp, err := http.Post(srv.URL+"/cores", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var info core.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "books_shard1_replica_n1", info.Name)

	host.Wait()

	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Equal(t, []cluster.ReplicaState{cluster.ReplicaStateRecovering, cluster.ReplicaStateActive}, coord.states)
	assert.Equal(t, "/collections/books/replicas/core_node1/state", coord.paths[1])
}

func TestLoadCoreBadRequest(t *testing.T) {
	host := core.NewHost(0, nil, logr.Discard())
	srv := httptest.NewServer(routes(context.Background(), "node-1", host, logr.Discard()))
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: "{not json"},
		{name: "missing core", body: `{"collection":"books","replica":"core_node1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/cores", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Get(srv.URL + "/cores")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNodeInfo(t *testing.T) {
	host := core.NewHost(0, nil, logr.Discard())
	_, err := host.Load(context.Background(), cluster.LoadCoreRequest{Collection: "books", Replica: "core_node1", Core: "books_shard1_replica_n1"})
	require.NoError(t, err)
	host.Wait()

	srv := httptest.NewServer(routes(context.Background(), "node-1", host, logr.Discard()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got struct {
		NodeID string      `json:"node_id"`
		Cores  []core.Info `json:"cores"`
		Count  int         `json:"core_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "node-1", got.NodeID)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, cluster.ReplicaStateActive, got.Cores[0].State)
}

func TestRegister(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	require.NoError(t, register(context.Background(), srv.URL+"/", "node-1", "http://node-1:8081", logr.Discard()))

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Len(t, coord.registers, 1)
	assert.Equal(t, cluster.NodeInfo{ID: "node-1", Addr: "http://node-1:8081"}, coord.registers[0].Node)
}

func TestRegisterRetriesUntilCoordinatorIsUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, register(context.Background(), srv.URL, "node-1", "http://node-1:8081", logr.Discard()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegisterStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := register(ctx, srv.URL, "node-1", "http://node-1:8081", logr.Discard())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
