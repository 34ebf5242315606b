// Package coordinator implements the control plane of the cluster.
// This file implements health monitoring of registered nodes, which decides
// the live node set published by the state store.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/dreamware/replicawatch/internal/cluster"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
	healthStatusUnknown   = "unknown"
)

// NodeHealth tracks the health status of a single node in the cluster.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed; the getters
// hand out copies.
type NodeHealth struct {
	LastCheck        time.Time `json:"last_check"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"`      // Timestamp of the last successful health check
	NodeID           string    `json:"node_id"`           // Unique identifier of the node
	Status           string    `json:"health_status"`     // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"` // Number of consecutive failed health checks
}

// healthResponse is the body a node serves on GET /health.
type healthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// HealthMonitor performs periodic health checks on all registered nodes and
// derives the set of live nodes from them. A node is live once a check has
// succeeded and until it fails maxFailures times in a row.
//
// After every round of checks the live set is compared with the previous
// one and, if it changed, handed to the OnLiveNodesChanged callback. The
// coordinator wires that callback to StateStore.SetLiveNodes so replicas on
// dead nodes stop counting as active.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes              map[string]*NodeHealth       // Current health status per node
	checkFunc          func(addr string) error      // Function to perform health check
	onUnhealthy        func(nodeID string)          // Callback when node becomes unhealthy
	onLiveNodesChanged func(live cluster.LiveNodes) // Callback when the live set changes
	lastLive           cluster.LiveNodes            // Live set published by the last round
	ctx                context.Context              // Context for cancellation
	cancel             context.CancelFunc           // Cancel function for shutdown
	log                logr.Logger
	interval           time.Duration  // How often to check node health
	timeout            time.Duration  // HTTP timeout for health checks
	mu                 sync.RWMutex   // Protects nodes map and callbacks
	wg                 sync.WaitGroup // Wait group for graceful shutdown
	maxFailures        int            // Failures before marking unhealthy
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will check each node's /health endpoint every interval.
// Nodes are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - log: Logger for state transitions; failed checks are logged at info
//
// Returns:
//   - *HealthMonitor: Configured health monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, log)
//	monitor.SetOnLiveNodesChanged(store.SetLiveNodes)
//	go monitor.Start(ctx, nodeProvider)
func NewHealthMonitor(interval time.Duration, log logr.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		lastLive:    cluster.NewLiveNodes(),
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, in its own goroutine, when a node
// crosses the failure threshold.
//
// Parameters:
//   - callback: Function to call with the node ID when it becomes unhealthy
//
// Example:
//
//	monitor.SetOnUnhealthy(func(nodeID string) {
//	    log.Info("node unhealthy, its replicas no longer count as active", "node", nodeID)
//	})
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetOnLiveNodesChanged sets the callback invoked with the new live set after
// a round of checks that changed it. The callback runs on the monitor's
// goroutine, so rounds never overlap with it.
//
// Parameters:
//   - callback: Function receiving a copy of the new live set
//
// Example:
//
//	monitor.SetOnLiveNodesChanged(store.SetLiveNodes)
func (h *HealthMonitor) SetOnLiveNodesChanged(callback func(live cluster.LiveNodes)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLiveNodesChanged = callback
}

// SetCheckFunction allows overriding the default health check function.
// This is useful for testing or custom health check implementations.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// Start begins the health monitoring process in the current goroutine.
// It periodically checks all nodes provided by the nodeProvider function and
// blocks until ctx or the monitor's own context is canceled. A nil ctx means
// only Stop ends the loop.
//
// Parameters:
//   - ctx: Context for cancellation
//   - nodeProvider: Function that returns the current list of registered nodes
//
// Example:
//
//	eg.Go(func() error {
//	    monitor.Start(ctx, srv.nodeList)
//	    return ctx.Err()
//	})
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", "interval", h.interval)

	// Perform initial health check immediately
	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping", "reason", "context canceled")
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAllNodes checks every node, forgets nodes that left the cluster and
// publishes the live set if it changed.
//
// Implementation:
//  1. Check each provided node in turn
//  2. Drop health records of nodes no longer provided
//  3. Derive the live set from the healthy records
//  4. Invoke the live set callback if the set differs from the last round
func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	currentNodes := make(map[string]bool)

	for _, node := range nodes {
		currentNodes[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			h.log.Info("removed node from health monitoring", "node", nodeID)
		}
	}
	live := h.liveNodesLocked()
	changed := !live.Equal(h.lastLive)
	if changed {
		h.lastLive = live
	}
	callback := h.onLiveNodesChanged
	h.mu.Unlock()

	if changed && callback != nil {
		callback(live.Clone())
	}
}

// checkNode performs a health check on a single node and updates its record.
// The HTTP call is made without holding the lock.
//
// Implementation:
//  1. Get or create the health record for the node
//  2. Run the check function
//  3. Count consecutive failures, or reset them on success
//  4. Trigger the unhealthy callback when the threshold is first crossed
func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      healthStatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	check := h.checkFunc
	h.mu.Unlock()

	err := check(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Info("health check failed", "node", node.ID,
			"attempt", health.ConsecutiveFails, "maxFailures", h.maxFailures, "err", err.Error())

		if health.ConsecutiveFails >= h.maxFailures {
			previousStatus := health.Status
			health.Status = healthStatusUnhealthy

			if previousStatus != healthStatusUnhealthy {
				h.log.Info("node marked unhealthy", "node", node.ID, "failures", health.ConsecutiveFails)
				if h.onUnhealthy != nil {
					go h.onUnhealthy(node.ID)
				}
			}
		}
		return
	}

	if health.Status == healthStatusUnhealthy {
		h.log.Info("node recovered", "node", node.ID)
	}
	health.Status = healthStatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultHealthCheck fetches the node's /health endpoint and expects a
// status of "ok". Both "host:port" and full URLs are accepted.
//
// Parameters:
//   - addr: Node address (e.g., "localhost:8081" or "http://node-1:8081")
//
// Returns:
//   - error: nil if healthy, error otherwise
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	var resp healthResponse
	if err := cluster.GetJSON(ctx, url, &resp); err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("health check reported status %q", resp.Status)
	}
	return nil
}

// liveNodesLocked returns the healthy nodes. Caller must hold h.mu.
func (h *HealthMonitor) liveNodesLocked() cluster.LiveNodes {
	live := cluster.NewLiveNodes()
	for id, health := range h.nodes {
		if health.Status == healthStatusHealthy {
			live[id] = struct{}{}
		}
	}
	return live
}

// LiveNodes returns the nodes currently considered healthy.
func (h *HealthMonitor) LiveNodes() cluster.LiveNodes {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveNodesLocked()
}

// GetNodeHealth returns a copy of the health record of a node, or nil if the
// node is not being monitored.
//
// Parameters:
//   - nodeID: ID of the node to look up
//
// Returns:
//   - *NodeHealth: Current health status or nil if not found
//
// Example:
//
//	if health := monitor.GetNodeHealth("node-1"); health != nil {
//	    log.Info("node health", "status", health.Status)
//	}
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of the health records of all monitored
// nodes, keyed by node ID.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}
	return result
}
