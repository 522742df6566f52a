package testutil

import (
	"context"

	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// FakeStore is an in-memory store.Store backed by a plain map, enough to
// drive the reconciler end to end without an external persistence layer.
type FakeStore struct {
	Defs map[string]workertype.Definition
}

// NewFakeStore constructs a FakeStore from the given definitions, keyed by
// their own Name field.
func NewFakeStore(defs ...workertype.Definition) *FakeStore {
	m := make(map[string]workertype.Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return &FakeStore{Defs: m}
}

func (f *FakeStore) ListWorkerTypes(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.Defs))
	for name := range f.Defs {
		names = append(names, name)
	}
	return names, nil
}

func (f *FakeStore) LoadWorkerType(ctx context.Context, name string) (workertype.Definition, error) {
	return f.Defs[name], nil
}

// FakeQueue reports a fixed backlog per worker type.
type FakeQueue struct {
	Pending map[string]int
}

func NewFakeQueue(pending map[string]int) *FakeQueue {
	return &FakeQueue{Pending: pending}
}

func (f *FakeQueue) PendingTasks(ctx context.Context, workerType string) (int, error) {
	return f.Pending[workerType], nil
}
