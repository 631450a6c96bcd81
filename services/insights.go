package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"car-watchdog/models"
	"car-watchdog/utils"
)

const topLocalities = 5

// InsightService computes price and locality analytics over stored listings.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger.Named("insights")}
}

// Generate builds a report from a sample of listings and the per-source
// counts. Listings without a parsed price are left out of price figures.
func (s *InsightService) Generate(listings []models.Listing, stats map[models.Source]models.SourceStats) *models.InsightReport {
	report := &models.InsightReport{
		Sources:       make(map[models.Source]models.SourceStats, len(models.Sources)),
		TopLocalities: []models.LocalityCount{},
	}
	for _, src := range models.Sources {
		report.Sources[src] = stats[src]
		report.TotalListings += stats[src].Total
	}

	var total int64
	byLocality := make(map[string]int)
	for _, l := range listings {
		if l.Locality != "" {
			byLocality[l.Locality]++
		}
		if l.PriceCents == nil {
			continue
		}

		p := *l.PriceCents
		if report.PricedListings == 0 || p < report.MinPriceCents {
			report.MinPriceCents = p
		}
		if p > report.MaxPriceCents {
			report.MaxPriceCents = p
		}
		total += p
		report.PricedListings++
	}

	if report.PricedListings > 0 {
		report.AvgPriceCents = total / int64(report.PricedListings)
	}

	for loc, n := range byLocality {
		report.TopLocalities = append(report.TopLocalities, models.LocalityCount{Locality: loc, Count: n})
	}
	// Ties broken by name so the output is stable.
	sort.Slice(report.TopLocalities, func(i, j int) bool {
		a, b := report.TopLocalities[i], report.TopLocalities[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Locality < b.Locality
	})
	if len(report.TopLocalities) > topLocalities {
		report.TopLocalities = report.TopLocalities[:topLocalities]
	}

	s.logger.Debug("Report over %d listings, %d priced", len(listings), report.PricedListings)
	return report
}

// Print writes a human-readable summary of r to w.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  CAR LISTING INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Stored listings : \033[1m%d\033[0m\n", r.TotalListings)
	for _, src := range models.Sources {
		st := r.Sources[src]
		fmt.Fprintf(w, "  %-15s : \033[1m%d\033[0m (today %d)\n", src.DisplayName(), st.Total, st.Today)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Prices (recent sample)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Fprintf(w, "  Average : \033[1;32m%s\033[0m\n", formatCents(r.AvgPriceCents))
		fmt.Fprintf(w, "  Minimum : \033[1;32m%s\033[0m\n", formatCents(r.MinPriceCents))
		fmt.Fprintf(w, "  Maximum : \033[1;32m%s\033[0m\n", formatCents(r.MaxPriceCents))
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Top localities\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopLocalities) == 0 {
		fmt.Fprintf(w, "  No locality data\n")
	}
	for _, lc := range r.TopLocalities {
		bar := strings.Repeat("█", lc.Count)
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(lc.Locality, 28), bar, lc.Count)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d Kč", c/100)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
