package bazos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"car-watchdog/models"
	"car-watchdog/scraper"
	"car-watchdog/utils"
)

const (
	Source  = models.SourceBazos
	BaseURL = "https://auto.bazos.cz"
)

// PageLoader returns the HTML of a listing page.
type PageLoader interface {
	Load(ctx context.Context, pageURL string) ([]byte, error)
}

// PriceRange is a search window in CZK. Zero bounds are left out of the query.
type PriceRange struct {
	From int
	To   int
}

// Feed is the label carried on listings found through this range.
func (r PriceRange) Feed() string {
	return strconv.Itoa(r.From) + "-" + strconv.Itoa(r.To)
}

// Options configures the Bazos scraper. Ranges are searched one per Fetch,
// in order, wrapping around.
type Options struct {
	SearchURL     string
	Ranges        []PriceRange
	UserAgent     string
	Timeout       time.Duration
	RenderBrowser bool
	ChromeBin     string
}

type page struct {
	url  string
	feed string
}

// Scraper reads the first page of the Bazos car section search results.
type Scraper struct {
	pages  []page
	next   atomic.Uint64
	base   *url.URL
	loader PageLoader
	logger *utils.Logger
}

// New creates a ready-to-use Bazos Scraper.
func New(opts Options, logger *utils.Logger) (*Scraper, error) {
	ranges := opts.Ranges
	if len(ranges) == 0 {
		ranges = []PriceRange{{}}
	}

	pages := make([]page, 0, len(ranges))
	for _, r := range ranges {
		pageURL, err := searchURL(opts.SearchURL, r.From, r.To)
		if err != nil {
			return nil, err
		}
		p := page{url: pageURL}
		if r != (PriceRange{}) {
			p.feed = r.Feed()
		}
		pages = append(pages, p)
	}
	base, _ := url.Parse(BaseURL)

	var loader PageLoader
	if opts.RenderBrowser {
		loader = newBrowserLoader(opts.ChromeBin, opts.UserAgent, opts.Timeout)
	} else {
		loader = newCollyLoader(opts.UserAgent, opts.Timeout)
	}

	return &Scraper{
		pages:  pages,
		base:   base,
		loader: loader,
		logger: logger.Named("bazos"),
	}, nil
}

// Source reports models.SourceBazos.
func (s *Scraper) Source() models.Source { return Source }

// Fetch loads the search page of the next price range and parses its
// listings. A failed load still advances the rotation.
func (s *Scraper) Fetch(ctx context.Context) ([]models.RawListing, error) {
	p := s.pages[(s.next.Add(1)-1)%uint64(len(s.pages))]

	body, err := s.loader.Load(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("%w: bazos %s: %w", scraper.ErrFetch, p.url, err)
	}

	listings, err := ParsePage(bytes.NewReader(body), s.base)
	if err != nil {
		return nil, fmt.Errorf("%w: bazos parse: %w", scraper.ErrFetch, err)
	}
	for i := range listings {
		listings[i].Feed = p.feed
	}

	s.logger.Debug("Parsed %d listings from %s", len(listings), p.url)
	return listings, nil
}

// ParsePage extracts listings from a Bazos search result page. Links are
// resolved against base; entries without a title or link are skipped.
func ParsePage(r io.Reader, base *url.URL) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var listings []models.RawListing
	doc.Find("div.inzeraty").Each(func(_ int, ad *goquery.Selection) {
		link := ad.Find("h2.nadpis a").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if title == "" || !ok {
			return
		}

		abs, ok := resolve(base, href)
		if !ok {
			return
		}

		listings = append(listings, models.RawListing{
			Source:       Source,
			URL:          abs,
			Title:        title,
			PriceDisplay: strings.TrimSpace(ad.Find("div.inzeratycena").Text()),
			ImageURL:     imageURL(base, ad.Find("img.obrazek").AttrOr("src", "")),
			Locality:     strings.TrimSpace(ad.Find("div.inzeratylok").Contents().First().Text()),
		})
	})

	return listings, nil
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

func imageURL(base *url.URL, src string) string {
	if abs, ok := resolve(base, src); ok {
		return abs
	}
	return ""
}

func searchURL(raw string, priceFrom, priceTo int) (string, error) {
	if raw == "" {
		raw = BaseURL + "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bazos: invalid search URL %q: %w", raw, err)
	}

	q := u.Query()
	q.Set("hledat", "")
	q.Set("rubriky", "auto")
	q.Set("hlokalita", "")
	q.Set("humkreis", "25")
	if priceFrom > 0 {
		q.Set("cenaod", strconv.Itoa(priceFrom))
	}
	if priceTo > 0 {
		q.Set("cenado", strconv.Itoa(priceTo))
	}
	q.Set("order", "")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
