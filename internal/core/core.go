package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/dreamware/replicawatch/internal/cluster"
)

// ErrInvalidCore is returned when a load request lacks a collection, replica
// or core name.
var ErrInvalidCore = errors.New("invalid core")

// Core is a replica core hosted on this node.
type Core struct {
	Collection string
	Replica    string
	Name       string
	state      cluster.ReplicaState
	mu         sync.RWMutex
}

// Info is the JSON view of a core.
type Info struct {
	Collection string               `json:"collection"`
	Replica    string               `json:"replica"`
	Name       string               `json:"core"`
	State      cluster.ReplicaState `json:"state"`
}

// NewCore creates a core in the down state.
func NewCore(req cluster.LoadCoreRequest) *Core {
	return &Core{
		Collection: req.Collection,
		Replica:    req.Replica,
		Name:       req.Core,
		state:      cluster.ReplicaStateDown,
	}
}

func (c *Core) State() cluster.ReplicaState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Core) SetState(state cluster.ReplicaState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Core) Info() Info {
	return Info{
		Collection: c.Collection,
		Replica:    c.Replica,
		Name:       c.Name,
		State:      c.State(),
	}
}

// Reporter publishes a replica state change to the coordinator.
type Reporter func(ctx context.Context, collection, replica string, state cluster.ReplicaState) error

// Host owns the cores of one node.
type Host struct {
	report Reporter
	log    logr.Logger
	cores  map[string]*Core
	wg     sync.WaitGroup
	delay  time.Duration
	mu     sync.RWMutex
}

// NewHost creates a host that takes delay to bring a core up and publishes
// state changes through report.
func NewHost(delay time.Duration, report Reporter, log logr.Logger) *Host {
	return &Host{
		report: report,
		log:    log,
		cores:  make(map[string]*Core),
		delay:  delay,
	}
}

// Load starts hosting the requested core. The core is brought up in the
// background and stays bound to ctx: when ctx ends before the core is active
// it falls back to down.
func (h *Host) Load(ctx context.Context, req cluster.LoadCoreRequest) (*Core, error) {
	if req.Collection == "" || req.Replica == "" || req.Core == "" {
		return nil, fmt.Errorf("%w: collection, replica and core are required", ErrInvalidCore)
	}

	h.mu.Lock()
	if c, ok := h.cores[req.Core]; ok {
		h.mu.Unlock()
		h.log.V(1).Info("core already hosted, reporting its state", "core", c.Name, "state", c.State())
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.publish(ctx, c, c.State())
		}()
		return c, nil
	}
	c := NewCore(req)
	c.SetState(cluster.ReplicaStateRecovering)
	h.cores[req.Core] = c
	h.wg.Add(1)
	h.mu.Unlock()

	h.log.Info("loading core", "collection", c.Collection, "replica", c.Replica, "core", c.Name)
	go func() {
		defer h.wg.Done()
		h.bringUp(ctx, c)
	}()
	return c, nil
}

func (h *Host) bringUp(ctx context.Context, c *Core) {
	h.publish(ctx, c, cluster.ReplicaStateRecovering)

	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		c.SetState(cluster.ReplicaStateDown)
		h.log.Info("core load aborted", "core", c.Name, "err", ctx.Err())
		return
	}

	c.SetState(cluster.ReplicaStateActive)
	h.log.Info("core active", "collection", c.Collection, "replica", c.Replica, "core", c.Name)
	h.publish(ctx, c, cluster.ReplicaStateActive)
}

func (h *Host) publish(ctx context.Context, c *Core, state cluster.ReplicaState) {
	if h.report == nil {
		return
	}
	if err := h.report(ctx, c.Collection, c.Replica, state); err != nil {
		h.log.Error(err, "report replica state", "collection", c.Collection, "replica", c.Replica, "state", state)
	}
}

// Get returns the hosted core with the given name, or nil.
func (h *Host) Get(name string) *Core {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cores[name]
}

// Infos lists the hosted cores ordered by name.
func (h *Host) Infos() []Info {
	h.mu.RLock()
	infos := make([]Info, 0, len(h.cores))
	for _, c := range h.cores {
		infos = append(infos, c.Info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Wait blocks until every background load and report has finished.
func (h *Host) Wait() {
	h.wg.Wait()
}
