// Package syncsvc implements the SyncCoordinator from spec.md §4.6: a
// per-user exclusive sync lease with equipment ownership, TTL refresh, and
// lazy expiry, expressed as a single CoordinationService.AcquireLock/
// ReleaseLock pair per spec.md §9 ("composed invariants... expressed as a
// single primitive call where possible").
package syncsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/coordination"
	"github.com/inkvault/inkvault/metrics"
)

const DefaultLeaseTTL = 5 * time.Minute

// Coordinator serializes sync sessions per user.
type Coordinator struct {
	coord    coordination.Service
	leaseTTL time.Duration
}

func New(coord coordination.Service, leaseTTL time.Duration) *Coordinator {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Coordinator{coord: coord, leaseTTL: leaseTTL}
}

func leaseKey(userEmail string) string {
	return fmt.Sprintf("sync_lease:%s", userEmail)
}

// Start begins (or refreshes) a sync session for equipmentNo. synType
// reports whether the user's storage was non-empty at session start — here
// that's a caller-supplied flag, since "storage empty" is a VFS-layer
// question the FileService answers before calling Start.
func (c *Coordinator) Start(ctx context.Context, userEmail, equipmentNo string, storageNonEmpty bool) (synType bool, err error) {
	acquired, holder, err := c.coord.AcquireLock(ctx, leaseKey(userEmail), equipmentNo, c.leaseTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		metrics.SyncLeaseContentionTotal.Inc()
		return false, errs.ErrSyncContention(holder)
	}
	return storageNonEmpty, nil
}

// End releases the lease, but only if equipmentNo is the current holder.
func (c *Coordinator) End(ctx context.Context, userEmail, equipmentNo string) error {
	released, err := c.coord.ReleaseLock(ctx, leaseKey(userEmail), equipmentNo)
	if err != nil {
		return err
	}
	if !released {
		// Releasing a lease you don't hold (already expired, or held by
		// someone else) is not itself an error the caller can act on.
		return nil
	}
	return nil
}

// CurrentHolder reports who (if anyone) currently holds the lease, for
// diagnostics.
func (c *Coordinator) CurrentHolder(ctx context.Context, userEmail string) (holder string, held bool, err error) {
	v, ok, err := c.coord.GetValue(ctx, leaseKey(userEmail))
	if err != nil {
		return "", false, err
	}
	return v, ok, nil
}
