package storage

import (
	"context"
	"errors"
	"time"

	"car-watchdog/models"
)

// ErrConflict is returned by BulkInsert when a listing violates the unique
// identity constraint. The whole batch is rolled back.
var ErrConflict = errors.New("storage: identity conflict")

// ListingStore is the interface the ingestion pipeline persists through.
type ListingStore interface {
	// ExistingIdentities returns the subset of urls already stored, in one query.
	ExistingIdentities(ctx context.Context, urls []string) (map[string]struct{}, error)
	// BulkInsert stores all listings or none of them.
	BulkInsert(ctx context.Context, listings []models.Listing) error
}

// ListingReader serves the read side used by the stats and listing endpoints.
type ListingReader interface {
	Stats(ctx context.Context, since time.Time) (map[models.Source]models.SourceStats, error)
	Recent(ctx context.Context, source models.Source, limit int) ([]models.Listing, error)
	Ping(ctx context.Context) error
}

// SubscriptionStore holds push subscriptions.
type SubscriptionStore interface {
	AllSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	CountSubscriptions(ctx context.Context) (int, error)
}

// ListingArchiver keeps an append-only export of newly stored listings.
type ListingArchiver interface {
	Archive(listings []models.Listing) error
	Close() error
}
