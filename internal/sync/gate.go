// Package sync runs upstream feed ingestion, both for a manual date range
// and as the shared pipeline used by the scheduler.
package sync

import (
	"errors"
	"sync/atomic"
)

// ErrSyncInProgress is returned when a sync is requested while another one
// holds the gate.
var ErrSyncInProgress = errors.New("sync in progress")

// Gate serializes the scheduled and manual sync paths. The zero value is
// an open gate.
type Gate struct {
	busy atomic.Bool
}

// TryAcquire takes the gate and reports whether it was free.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the gate.
func (g *Gate) Release() {
	g.busy.Store(false)
}

// Busy reports whether a sync currently holds the gate.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}
