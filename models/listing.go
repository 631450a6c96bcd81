package models

import "time"

// Source identifies the adapter a listing was ingested from.
type Source string

const (
	SourceBazos Source = "bazos"
	SourceSauto Source = "sauto"
)

// Sources lists every supported source in scheduling order.
var Sources = []Source{SourceBazos, SourceSauto}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceBazos, SourceSauto:
		return true
	}
	return false
}

// DisplayName is the human-facing site name used in notifications.
func (s Source) DisplayName() string {
	switch s {
	case SourceBazos:
		return "Bazos.cz"
	case SourceSauto:
		return "Sauto.cz"
	}
	return string(s)
}

func (s Source) String() string { return string(s) }

// RawListing holds a single record as normalised by a source adapter,
// before price parsing and validation.
type RawListing struct {
	Source       Source
	URL          string
	Title        string
	PriceDisplay string
	ImageURL     string
	Locality     string
	// Feed names the search window that produced the record, e.g. a Bazos
	// price range. Empty for sources with a single feed.
	Feed string
}

// Listing is the cleaned record persisted in the listing store.
// URL is the identity key; a Listing is never updated once stored.
type Listing struct {
	ID           int64
	Source       Source
	URL          string
	Title        string
	PriceDisplay string
	PriceCents   *int64
	ImageURL     string
	Locality     string
	Feed         string
	CreatedAt    time.Time
}

// PushSubscription is a browser push endpoint registered by a viewer.
type PushSubscription struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceStats holds listing counts for one source.
type SourceStats struct {
	Total int `json:"total"`
	Today int `json:"today"`
}

// InsightReport holds the computed analytics over the stored listings.
type InsightReport struct {
	Sources        map[Source]SourceStats `json:"sources"`
	TotalListings  int                    `json:"total_listings"`
	PricedListings int                    `json:"priced_listings"`
	MinPriceCents  int64                  `json:"min_price_cents"`
	MaxPriceCents  int64                  `json:"max_price_cents"`
	AvgPriceCents  int64                  `json:"avg_price_cents"`
	TopLocalities  []LocalityCount        `json:"top_localities"`
}

// LocalityCount pairs a locality with the number of listings seen there.
type LocalityCount struct {
	Locality string `json:"locality"`
	Count    int    `json:"count"`
}
