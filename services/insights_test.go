package services

import (
	"bytes"
	"strings"
	"testing"

	"car-watchdog/models"
)

func cents(v int64) *int64 { return &v }

func sampleListings() []models.Listing {
	return []models.Listing{
		{Source: models.SourceBazos, Title: "Octavia", PriceCents: cents(4500000), Locality: "Praha", URL: "https://auto.bazos.cz/inzerat/1/"},
		{Source: models.SourceBazos, Title: "Fabia", PriceCents: cents(1500000), Locality: "Praha", URL: "https://auto.bazos.cz/inzerat/2/"},
		{Source: models.SourceSauto, Title: "Superb", PriceCents: cents(15000000), Locality: "Brno", URL: "https://www.sauto.cz/detail/3"},
		{Source: models.SourceSauto, Title: "Focus", Locality: "Ostrava", URL: "https://www.sauto.cz/detail/4"},
		{Source: models.SourceBazos, Title: "Felicia", PriceCents: cents(0), URL: "https://auto.bazos.cz/inzerat/5/"},
	}
}

func sampleStats() map[models.Source]models.SourceStats {
	return map[models.Source]models.SourceStats{
		models.SourceBazos: {Total: 30, Today: 3},
		models.SourceSauto: {Total: 12, Today: 1},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings(), sampleStats())
	if r.TotalListings != 42 {
		t.Errorf("TotalListings: got %d, want 42", r.TotalListings)
	}
	if r.Sources[models.SourceBazos].Today != 3 {
		t.Errorf("bazos today: got %d, want 3", r.Sources[models.SourceBazos].Today)
	}
	if r.PricedListings != 4 {
		t.Errorf("PricedListings: got %d, want 4", r.PricedListings)
	}
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings(), sampleStats())
	if r.MinPriceCents != 0 {
		t.Errorf("MinPriceCents: got %d, want 0", r.MinPriceCents)
	}
	if r.MaxPriceCents != 15000000 {
		t.Errorf("MaxPriceCents: got %d, want 15000000", r.MaxPriceCents)
	}
	if r.AvgPriceCents != 5250000 {
		t.Errorf("AvgPriceCents: got %d, want 5250000", r.AvgPriceCents)
	}
}

func TestInsightTopLocalities(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings(), sampleStats())
	want := []models.LocalityCount{
		{Locality: "Praha", Count: 2},
		{Locality: "Brno", Count: 1},
		{Locality: "Ostrava", Count: 1},
	}
	if len(r.TopLocalities) != len(want) {
		t.Fatalf("TopLocalities: got %v, want %v", r.TopLocalities, want)
	}
	for i := range want {
		if r.TopLocalities[i] != want[i] {
			t.Errorf("TopLocalities[%d]: got %v, want %v", i, r.TopLocalities[i], want[i])
		}
	}
}

func TestInsightEmpty(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil, nil)
	if r.TotalListings != 0 || r.PricedListings != 0 || r.AvgPriceCents != 0 {
		t.Errorf("expected zero report, got %+v", r)
	}
	if len(r.Sources) != len(models.Sources) {
		t.Errorf("Sources should list every source, got %v", r.Sources)
	}
	if r.TopLocalities == nil {
		t.Error("TopLocalities should be an empty slice, not nil")
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleListings(), sampleStats()))

	out := buf.String()
	for _, want := range []string{"Bazos.cz", "Sauto.cz", "150000 Kč", "Praha"} {
		if !strings.Contains(out, want) {
			t.Errorf("Print output missing %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Hradec Králové", 50); got != "Hradec Králové" {
		t.Errorf("truncate short: got %q", got)
	}
	if got := truncate("Hradec Králové", 9); got != "Hradec..." {
		t.Errorf("truncate long: got %q", got)
	}
}
