package services

import (
	"context"
	"fmt"

	"car-watchdog/models"
	"car-watchdog/storage"
)

// Deduplicator filters a cleaned batch down to listings the store has not
// seen yet.
type Deduplicator struct {
	store storage.ListingStore
}

func NewDeduplicator(store storage.ListingStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// Partition returns the listings whose URL is not yet stored, preserving
// order. It issues exactly one existence query regardless of batch size.
func (d *Deduplicator) Partition(ctx context.Context, candidates []models.Listing) ([]models.Listing, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	urls := make([]string, len(candidates))
	for i, l := range candidates {
		urls[i] = l.URL
	}

	existing, err := d.store.ExistingIdentities(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}

	fresh := make([]models.Listing, 0, len(candidates))
	for _, l := range candidates {
		if _, ok := existing[l.URL]; !ok {
			fresh = append(fresh, l)
		}
	}
	return fresh, nil
}
