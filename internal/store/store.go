// Package store defines the Store Gateway contract: the narrow,
// storage-agnostic interface every other component uses to read and write
// User and CrnRecord entities (spec.md §4.1).
//
// Implementations live in subpackages (memstore, redisstore, badgerstore)
// so that internal/scheduler, internal/transition, and internal/notify
// never import a concrete backend directly.
package store

import (
	"context"
	"errors"

	"github.com/reapergt/poller/internal/model"
)

// ErrTransient marks a backend failure the caller should treat as
// best-effort-retry: the spec's contract is "no state advance this tick;
// the next tick re-observes and re-diffs" (spec.md §4.1, §7 store_transient).
var ErrTransient = errors.New("store: transient failure")

// Gateway is the full Store Gateway contract from spec.md §4.1.
type Gateway interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// PutUser performs a full-record write, preserving fields the caller
	// did not touch via read-modify-write.
	PutUser(ctx context.Context, u *model.User) error

	// ScanActiveCRNs returns every CrnRecord whose TrackingUsers is
	// non-empty. This is what the Adaptive Scheduler selects each tick.
	ScanActiveCRNs(ctx context.Context) ([]*model.CrnRecord, error)
	GetCRN(ctx context.Context, crn string) (*model.CrnRecord, error)
	// PutCRN performs a full-record write, preserving TrackingUsers via
	// read-modify-write (spec.md §5's concurrent-writer mitigation).
	PutCRN(ctx context.Context, r *model.CrnRecord) error
	DeleteCRN(ctx context.Context, crn string) error

	// AddUserToCRN and RemoveUserFromCRN maintain the bidirectional
	// invariant: crn ∈ user.TrackedCRNs ⇔ user ∈ CrnRecord[crn].TrackingUsers.
	// RemoveUserFromCRN deletes the CRN record once TrackingUsers empties.
	AddUserToCRN(ctx context.Context, crn, userID string) error
	RemoveUserFromCRN(ctx context.Context, crn, userID string) error
}

// ErrNotFound is returned by Get* methods when the entity does not exist.
var ErrNotFound = errors.New("store: not found")
