// Command provisioner runs the reconciliation core's ticker loop against
// real AWS EC2 APIs. Store and Queue are genuinely external collaborators
// (spec §1: "out of scope"); the stubs below exist only so this binary
// links, rather than leaving main() unbuildable. Until they are wired to a
// real backend, every iteration fails to list worker types, logs a
// warning, and is skipped; the process keeps running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/petemoore/aws-provisioner/internal/cloud"
	"github.com/petemoore/aws-provisioner/internal/config"
	"github.com/petemoore/aws-provisioner/internal/events"
	"github.com/petemoore/aws-provisioner/internal/keypair"
	"github.com/petemoore/aws-provisioner/internal/launchspec"
	"github.com/petemoore/aws-provisioner/internal/logging"
	"github.com/petemoore/aws-provisioner/internal/metrics"
	"github.com/petemoore/aws-provisioner/internal/queue"
	"github.com/petemoore/aws-provisioner/internal/reconciler"
	"github.com/petemoore/aws-provisioner/internal/store"
	"github.com/petemoore/aws-provisioner/internal/workertype"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := cloud.BuildClients(ctx, cfg.AllowedRegions)
	if err != nil {
		return fmt.Errorf("building EC2 clients: %w", err)
	}
	adapter := cloud.NewAdapter(clients)
	adapter.PerCallTimeout = cfg.PerCallTimeout

	keyManager := keypair.New(adapter, cfg.KeyPrefix, cfg.PublicKeyBody)
	sink := events.NewLoggerSink(sugar)

	rec := reconciler.New(cfg, adapter, notImplementedStore{}, notImplementedQueue{}, nil, launchspec.StaticGenerator{}, keyManager, sink, sugar)

	go serveMetrics(sugar)

	sugar.Infow("starting reconciliation loop", "iteration_interval", cfg.IterationInterval(), "regions", cfg.AllowedRegions)
	return rec.Run(ctx)
}

// serveMetrics logs that metrics.Registry is ready. It does not start an
// HTTP listener: no handler or port is wired for the registry in this
// binary.
func serveMetrics(log *zap.SugaredLogger) {
	log.Debugw("metrics registry ready", "registered_collectors", "bids_submitted,kills_issued,capacity_observed,iteration_duration,iterations_skipped")
	_ = metrics.Registry
}

// notImplementedStore is a placeholder for the persistent Worker-Type
// Definition store (spec §1, §6: genuinely external, out of scope for
// this module). Replace with a real store.Store before deploying.
type notImplementedStore struct{}

func (notImplementedStore) ListWorkerTypes(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("no store.Store wired: see cmd/provisioner/main.go")
}

func (notImplementedStore) LoadWorkerType(ctx context.Context, name string) (workertype.Definition, error) {
	return workertype.Definition{}, fmt.Errorf("no store.Store wired: see cmd/provisioner/main.go")
}

var _ store.Store = notImplementedStore{}

// notImplementedQueue is a placeholder for the external pending-task
// queue (spec §1, §6: genuinely external, out of scope for this module).
type notImplementedQueue struct{}

func (notImplementedQueue) PendingTasks(ctx context.Context, workerType string) (int, error) {
	return 0, fmt.Errorf("no queue.Queue wired: see cmd/provisioner/main.go")
}

var _ queue.Queue = notImplementedQueue{}
