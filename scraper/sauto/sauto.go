package sauto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"car-watchdog/models"
	"car-watchdog/scraper"
	"car-watchdog/utils"
)

const (
	Source  = models.SourceSauto
	SiteURL = "https://www.sauto.cz"

	maxBodySize = 8 << 20
)

// Client queries the Sauto search API for the newest private-seller cars.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	logger     *utils.Logger
}

// New creates a Client for the given search endpoint.
func New(endpoint, userAgent string, timeout time.Duration, logger *utils.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("sauto"),
	}
}

// Source reports models.SourceSauto.
func (c *Client) Source() models.Source { return Source }

// searchResponse keeps results raw so one malformed record does not fail
// the whole page.
type searchResponse struct {
	Results []json.RawMessage `json:"results"`
}

type item struct {
	ID           json.Number `json:"id"`
	Name         string      `json:"name"`
	Category     slug        `json:"category"`
	Manufacturer slug        `json:"manufacturer_cb"`
	Model        slug        `json:"model_cb"`
	Price        price       `json:"price"`
	Photos       []photo     `json:"photos"`
	Locality     struct {
		Name string `json:"name"`
	} `json:"locality"`
}

type slug struct {
	SEOName string `json:"seo_name"`
}

type photo struct {
	URL string `json:"url"`
}

// price accepts either a bare number or an object with a value field.
type price struct {
	Value *int64
}

func (p *price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '{' {
		var obj struct {
			Value *json.Number `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.Value != nil {
			p.Value = numberToInt(*obj.Value)
		}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	p.Value = numberToInt(n)
	return nil
}

func numberToInt(n json.Number) *int64 {
	if i, err := n.Int64(); err == nil {
		return &i
	}
	if f, err := n.Float64(); err == nil {
		i := int64(f)
		return &i
	}
	return nil
}

// Fetch performs one GET against the search endpoint.
func (c *Client) Fetch(ctx context.Context) ([]models.RawListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sauto: build request: %w", scraper.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sauto: %w", scraper.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: sauto: unexpected status %d", scraper.ErrFetch, resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: sauto: decode: %w", scraper.ErrFetch, err)
	}

	listings := make([]models.RawListing, 0, len(payload.Results))
	for i, rec := range payload.Results {
		var it item
		if err := json.Unmarshal(rec, &it); err != nil {
			c.logger.Debug("Skipping result %d: %v", i, err)
			continue
		}
		l, ok := it.toRaw()
		if !ok {
			continue
		}
		listings = append(listings, l)
	}

	c.logger.Debug("Decoded %d of %d results", len(listings), len(payload.Results))
	return listings, nil
}

func (it item) toRaw() (models.RawListing, bool) {
	title := strings.TrimSpace(it.Name)
	id := it.ID.String()
	if title == "" || id == "" {
		return models.RawListing{}, false
	}

	l := models.RawListing{
		Source:   Source,
		URL:      DetailURL(id, it.Category.SEOName, it.Manufacturer.SEOName, it.Model.SEOName),
		Title:    title,
		Locality: strings.TrimSpace(it.Locality.Name),
	}
	if it.Price.Value != nil {
		l.PriceDisplay = FormatPrice(*it.Price.Value)
	}
	if len(it.Photos) > 0 {
		l.ImageURL = photoURL(it.Photos[0].URL)
	}
	return l, true
}

// DetailURL builds the public detail page of an ad. When any slug is
// missing the generic /detail/<id> form is used.
func DetailURL(id, category, brand, model string) string {
	if category == "" || brand == "" || model == "" {
		return SiteURL + "/detail/" + id
	}
	return SiteURL + "/" + category + "/detail/" + brand + "/" + model + "/" + id
}

// FormatPrice renders an amount in crowns with space-grouped thousands,
// e.g. 150000 -> "150 000 Kč".
func FormatPrice(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	b.WriteString(" Kč")
	return b.String()
}

func photoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}
