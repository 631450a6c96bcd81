// Package scraper defines the contract shared by the listing source adapters.
package scraper

import (
	"context"
	"errors"

	"car-watchdog/models"
)

// ErrFetch wraps every failure to obtain or decode a source page: transport
// errors, non-2xx responses and unparseable bodies. A cycle that hits it
// simply yields no listings.
var ErrFetch = errors.New("scraper: fetch failed")

// Adapter fetches one page of the newest listings from a single source.
type Adapter interface {
	Source() models.Source
	// Fetch returns listings in the source's own newest-first order. Records
	// without a title or a resolvable link are skipped, not reported.
	Fetch(ctx context.Context) ([]models.RawListing, error)
}
