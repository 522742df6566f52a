// Package queue defines the interface the core consumes from the external
// pending-task queue (spec §6: "Queue.pendingTasks(worker_type) → int").
package queue

import "context"

// Queue reports the backlog size for a worker type.
type Queue interface {
	PendingTasks(ctx context.Context, workerType string) (int, error)
}
