package services

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"car-watchdog/models"
	"car-watchdog/utils"
)

// Cleaner transforms RawListings into clean, validated Listings.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger.Named("cleaner"), now: time.Now}
}

// Clean processes raw listings and returns cleaned records in source order.
// Records without a URL or title, with an unknown source, or repeating a URL
// already seen in the same batch are dropped.
func (c *Cleaner) Clean(raw []models.RawListing) []models.Listing {
	seen := utils.NewURLSet()
	createdAt := c.now().UTC()
	result := make([]models.Listing, 0, len(raw))

	for _, r := range raw {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			c.logger.Warn("Dropping listing with empty URL: %s", r.Title)
			continue
		}

		title := normaliseText(r.Title)
		if title == "" {
			c.logger.Warn("Dropping listing with empty title: %s", url)
			continue
		}

		if !r.Source.Valid() {
			c.logger.Warn("Dropping listing with unknown source %q: %s", r.Source, url)
			continue
		}

		if !seen.Add(url) {
			c.logger.Debug("Duplicate URL skipped: %s", url)
			continue
		}

		price := normaliseText(r.PriceDisplay)
		result = append(result, models.Listing{
			Source:       r.Source,
			URL:          url,
			Title:        title,
			PriceDisplay: price,
			PriceCents:   ParsePriceCents(price),
			ImageURL:     strings.TrimSpace(r.ImageURL),
			Locality:     normaliseText(r.Locality),
			Feed:         r.Feed,
			CreatedAt:    createdAt,
		})
	}

	if len(raw) != len(result) {
		c.logger.Info("Cleaned %d -> %d listings (dropped %d)",
			len(raw), len(result), len(raw)-len(result))
	}
	return result
}

// ParsePriceCents keeps only the digits of a formatted price and returns them
// multiplied by 100. It returns nil when no digits are present or the value
// does not fit in an int64.
//
//	"150 000 Kč" -> 15000000
//	"on request" -> nil
func ParsePriceCents(display string) *int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, display)
	if digits == "" {
		return nil
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > (1<<63-1)/100 {
		return nil
	}
	cents := n * 100
	return &cents
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}
