// Package dedup partitions incoming candidates against the place catalog.
package dedup

import (
	"context"
	"fmt"

	"github.com/mapfolio/place-crawler/internal/place"
)

// Partition splits a candidate batch into already-stored and new items.
type Partition struct {
	Known   []place.Candidate
	Unknown []place.Candidate
}

// Gate answers "which of these ids do we already have" without mutating
// anything. Enqueueing the unknown side is the caller's job.
type Gate struct {
	store place.PlaceStore
}

// NewGate constructs a Gate backed by the given place store.
func NewGate(store place.PlaceStore) *Gate {
	return &Gate{store: store}
}

// Partition looks up the candidate ids in the catalog and splits the batch.
// Input order is preserved on both sides. Duplicate ids within the batch
// collapse to their first occurrence.
func (g *Gate) Partition(ctx context.Context, candidates []place.Candidate) (Partition, error) {
	if len(candidates) == 0 {
		return Partition{}, nil
	}

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]place.Candidate, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
		ids = append(ids, c.ID)
	}

	existing, err := g.store.ExistingIDs(ctx, ids)
	if err != nil {
		return Partition{}, fmt.Errorf("look up existing ids: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	var out Partition
	for _, c := range unique {
		if _, ok := known[c.ID]; ok {
			out.Known = append(out.Known, c)
			continue
		}
		out.Unknown = append(out.Unknown, c)
	}
	return out, nil
}
