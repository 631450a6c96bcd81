package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"car-watchdog/models"
)

func TestCSVWriterAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "listings.csv")
	cents := int64(4500000)

	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if err := w.Archive([]models.Listing{{
		Source: models.SourceBazos, URL: "https://x/1", Title: "Car A",
		PriceDisplay: "45 000 Kč", PriceCents: &cents, CreatedAt: time.Now(),
	}}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w, err = NewCSVWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Archive([]models.Listing{{Source: models.SourceSauto, URL: "https://x/2", Title: "Car B"}}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	_ = w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows; want header + 2", len(rows))
	}
	if rows[0][0] != "source" || rows[1][4] != "4500000" || rows[2][4] != "" {
		t.Errorf("unexpected rows: %v", rows)
	}
}
