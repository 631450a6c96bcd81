package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"car-watchdog/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "watchdog.db"))
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listing(src models.Source, url, title string) models.Listing {
	return models.Listing{Source: src, URL: url, Title: title, CreatedAt: time.Now().UTC()}
}

func TestExistingIdentities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.BulkInsert(ctx, []models.Listing{
		listing(models.SourceBazos, "https://x/1", "Car A"),
		listing(models.SourceSauto, "https://x/2", "Car B"),
	}); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	got, err := s.ExistingIdentities(ctx, []string{"https://x/1", "https://x/3"})
	if err != nil {
		t.Fatalf("ExistingIdentities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 existing identity, got %d", len(got))
	}
	if _, ok := got["https://x/1"]; !ok {
		t.Error("https://x/1 should be reported as existing")
	}

	empty, err := s.ExistingIdentities(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("ExistingIdentities(nil) = %v, %v; want empty, nil", empty, err)
	}
}

func TestBulkInsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.BulkInsert(ctx, []models.Listing{listing(models.SourceBazos, "https://x/1", "Car A")}); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	err := s.BulkInsert(ctx, []models.Listing{
		listing(models.SourceBazos, "https://x/2", "Car B"),
		listing(models.SourceBazos, "https://x/1", "Car A again"),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("BulkInsert with duplicate returned %v; want ErrConflict", err)
	}

	got, err := s.ExistingIdentities(ctx, []string{"https://x/2"})
	if err != nil {
		t.Fatalf("ExistingIdentities: %v", err)
	}
	if len(got) != 0 {
		t.Error("rolled back batch must not leave https://x/2 behind")
	}
}

func TestBulkInsertLargeBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var batch []models.Listing
	var urls []string
	for i := 0; i < insertBatchSize*2+7; i++ {
		u := "https://www.sauto.cz/detail/" + strconv.Itoa(i)
		urls = append(urls, u)
		batch = append(batch, listing(models.SourceSauto, u, "Car"))
	}
	if err := s.BulkInsert(ctx, batch); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	got, err := s.ExistingIdentities(ctx, urls)
	if err != nil {
		t.Fatalf("ExistingIdentities: %v", err)
	}
	if len(got) != len(batch) {
		t.Errorf("stored %d listings; want %d", len(got), len(batch))
	}
}

func TestRecentKeepsOptionalFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cents := int64(15000000)
	priced := listing(models.SourceBazos, "https://x/1", "Car A")
	priced.PriceDisplay = "150 000 Kč"
	priced.PriceCents = &cents
	priced.Locality = "Brno"
	unpriced := listing(models.SourceBazos, "https://x/2", "Car B")
	unpriced.PriceDisplay = "on request"
	unpriced.CreatedAt = priced.CreatedAt.Add(time.Second)

	if err := s.BulkInsert(ctx, []models.Listing{priced, unpriced}); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}

	got, err := s.Recent(ctx, models.SourceBazos, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d listings; want 2", len(got))
	}
	if got[0].URL != "https://x/2" || got[0].PriceCents != nil {
		t.Errorf("newest listing = %+v; want https://x/2 with nil price", got[0])
	}
	if got[1].PriceCents == nil || *got[1].PriceCents != cents || got[1].Locality != "Brno" {
		t.Errorf("priced listing = %+v", got[1])
	}
}

func TestStatsIgnoresLegacyRowsWithoutSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := listing(models.SourceSauto, "https://x/old", "Old")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := s.BulkInsert(ctx, []models.Listing{
		listing(models.SourceBazos, "https://x/1", "Car A"),
		listing(models.SourceBazos, "https://x/2", "Car B"),
		old,
	}); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (url, title, created_at) VALUES (?, ?, ?)`,
		"https://legacy/1", "Legacy", time.Now().UTC()); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	since := time.Now().UTC().Add(-time.Hour)
	stats, err := s.Stats(ctx, since)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats[models.SourceBazos]; got.Total != 2 || got.Today != 2 {
		t.Errorf("bazos stats = %+v; want total 2 today 2", got)
	}
	if got := stats[models.SourceSauto]; got.Total != 1 || got.Today != 0 {
		t.Errorf("sauto stats = %+v; want total 1 today 0", got)
	}

	// Legacy rows still count for identity dedup.
	existing, err := s.ExistingIdentities(ctx, []string{"https://legacy/1"})
	if err != nil || len(existing) != 1 {
		t.Errorf("legacy identity lookup = %v, %v; want found", existing, err)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.UpsertSubscription(ctx, models.PushSubscription{Endpoint: "https://push/1", P256dh: "k", Auth: "a"})
	if err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	again, err := s.UpsertSubscription(ctx, models.PushSubscription{Endpoint: "https://push/1", P256dh: "k2", Auth: "a2"})
	if err != nil {
		t.Fatalf("UpsertSubscription (repeat): %v", err)
	}
	if again.ID != first.ID || again.P256dh != "k" {
		t.Errorf("repeat upsert = %+v; want original row %+v", again, first)
	}

	if _, err := s.UpsertSubscription(ctx, models.PushSubscription{Endpoint: "https://push/2", P256dh: "k", Auth: "a"}); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	if n, _ := s.CountSubscriptions(ctx); n != 2 {
		t.Fatalf("CountSubscriptions = %d; want 2", n)
	}

	if err := s.DeleteSubscription(ctx, first.ID); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	subs, err := s.AllSubscriptions(ctx)
	if err != nil {
		t.Fatalf("AllSubscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != "https://push/2" {
		t.Errorf("AllSubscriptions = %+v; want only https://push/2", subs)
	}
}
