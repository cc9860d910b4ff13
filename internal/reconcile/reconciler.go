// Package reconcile compares platform recordings with the bucket inventory
package reconcile

import (
	"context"
	"fmt"

	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
	"github.com/nicliuqi/test-opengauss-meetings/internal/storage"
)

// Decision is the reconciliation result for one key
type Decision int

const (
	// DecisionNew means the key is absent from the bucket
	DecisionNew Decision = iota
	// DecisionUpToDate means the stored object is at least as large as the candidate
	DecisionUpToDate
	// DecisionReplace means the stored object is smaller and must be overwritten
	DecisionReplace
)

// String returns the string representation of the decision
func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "NEW"
	case DecisionUpToDate:
		return "UP_TO_DATE"
	case DecisionReplace:
		return "REPLACE"
	default:
		return "UNKNOWN"
	}
}

// NeedsTransfer reports whether the candidate must be downloaded and uploaded
func (d Decision) NeedsTransfer() bool {
	return d != DecisionUpToDate
}

// Lister is the part of the object store the reconciler reads
type Lister interface {
	ListObjects(ctx context.Context) ([]storage.ObjectInfo, error)
}

// Inventory maps stored keys to their sizes
type Inventory map[string]int64

// Decide compares a candidate size against the stored object
func (inv Inventory) Decide(key string, size int64) Decision {
	stored, ok := inv[key]
	switch {
	case !ok:
		return DecisionNew
	case stored >= size:
		return DecisionUpToDate
	default:
		return DecisionReplace
	}
}

// Reconciler snapshots the bucket inventory
type Reconciler struct {
	lister Lister
}

// New creates a Reconciler over lister
func New(lister Lister) *Reconciler {
	return &Reconciler{lister: lister}
}

// Inventory lists every page of the bucket into a key to size map
func (r *Reconciler) Inventory(ctx context.Context) (Inventory, error) {
	objects, err := r.lister.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket inventory: %w", err)
	}
	inv := make(Inventory, len(objects))
	for _, obj := range objects {
		inv[obj.Key] = obj.Size
	}
	return inv, nil
}

// DecisionState maps a decision onto the job state machine
func DecisionState(d Decision) recording.State {
	if d == DecisionUpToDate {
		return recording.StateUpToDate
	}
	return recording.StateDownloading
}
