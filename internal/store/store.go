// Package store defines the read interface the core borrows from the
// external persistent store (spec §1: "out of scope ... The persistent
// store ... The core consumes a read interface and an enumeration
// operation only.").
package store

import (
	"context"

	"github.com/petemoore/aws-provisioner/internal/workertype"
)

// Store is the consumed interface of spec §6:
// Store.listWorkerTypes() → [name], Store.loadWorkerType(name) → def.
type Store interface {
	ListWorkerTypes(ctx context.Context) ([]string, error)
	LoadWorkerType(ctx context.Context, name string) (workertype.Definition, error)
}
