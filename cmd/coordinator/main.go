// Package main implements the coordinator service. It owns the cluster state,
// tracks node liveness, places replicas of new collections and lets clients
// wait for replicas to become active.
//
// Configuration (environment):
//   - COORDINATOR_ADDR: listen address (default ":8080")
//   - HEALTH_INTERVAL: node health check interval (default "5s")
//   - WAIT_TIMEOUT: default timeout when waiting for replicas (default "30s")
//   - STATE_FILE: optional YAML cluster state, reloaded on change. When set,
//     the file is authoritative for live nodes and health checks only log.
//   - LOG_LEVEL: debug, info, warn or error (default "info")
//
// Example usage:
//
//	COORDINATOR_ADDR=:8080 ./coordinator
//
//	# create a collection and wait for its replicas
//	curl -X POST localhost:8080/collections \
//	  -d '{"name":"books","num_shards":2,"replication_factor":2,"wait":true}'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/replicawatch/internal/config"
	"github.com/dreamware/replicawatch/internal/coordinator"
	"github.com/dreamware/replicawatch/internal/logging"
	"github.com/dreamware/replicawatch/internal/statefile"
)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "coordinator exited unexpectedly")
		os.Exit(1)
	}
	log.Info("coordinator stopped")
}

func run(ctx context.Context, cfg config.Coordinator, log logr.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	store := coordinator.NewStateStore(log.WithName("state"))
	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval, log.WithName("health"))
	srv := newServer(store, monitor, cfg.WaitTimeout, log)

	monitor.SetOnUnhealthy(func(nodeID string) {
		log.Info("node unhealthy, its replicas no longer count as active", "node", nodeID)
	})
	if cfg.StateFile == "" {
		monitor.SetOnLiveNodesChanged(store.SetLiveNodes)
	} else {
		fw := statefile.NewWatcher(cfg.StateFile, store, log.WithName("statefile"))
		eg.Go(func() error {
			return fw.Run(ctx)
		})
	}

	eg.Go(func() error {
		monitor.Start(ctx, srv.nodeList)
		return ctx.Err()
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg.Go(func() error {
		log.Info("coordinator listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
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
