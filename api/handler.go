package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"car-watchdog/models"
	"car-watchdog/services"
	"car-watchdog/storage"
	"car-watchdog/utils"
)

const (
	defaultListingLimit = 50
	maxListingLimit     = 200
	insightSampleSize   = 500
	maxBodyBytes        = 16 << 10
)

// KeySource exposes the VAPID public key browsers subscribe with.
type KeySource interface {
	PublicKey() (string, error)
}

// Handler serves the read-side and subscription endpoints.
type Handler struct {
	listings storage.ListingReader
	subs     storage.SubscriptionStore
	insights *services.InsightService
	keys     KeySource
	logger   *utils.Logger
	now      func() time.Time
}

func NewHandler(listings storage.ListingReader, subs storage.SubscriptionStore, keys KeySource, logger *utils.Logger) *Handler {
	return &Handler{
		listings: listings,
		subs:     subs,
		insights: services.NewInsightService(logger),
		keys:     keys,
		logger:   logger.Named("api"),
		now:      time.Now,
	}
}

func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.listings.Ping(ctx); err != nil {
		h.logger.Warn("Readiness check failed: %v", err)
		WriteServiceUnavailable(w, "store unreachable", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type statsResponse struct {
	*models.InsightReport
	PushSubscriptions int       `json:"push_subscriptions"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Stats reports per-source counts, price insight over the most recent
// listings and the number of push subscriptions.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats, err := h.listings.Stats(ctx, midnight)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	recent, err := h.listings.Recent(ctx, "", insightSampleSize)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}
	subs, err := h.subs.CountSubscriptions(ctx)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		InsightReport:     h.insights.Generate(recent, stats),
		PushSubscriptions: subs,
		GeneratedAt:       now.UTC(),
	})
}

type listingResponse struct {
	Source       models.Source `json:"source"`
	Title        string        `json:"title"`
	URL          string        `json:"url"`
	PriceDisplay string        `json:"price_display,omitempty"`
	PriceCents   *int64        `json:"price_cents,omitempty"`
	ImageURL     string        `json:"image_url,omitempty"`
	Locality     string        `json:"locality,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Listings returns the newest stored listings, optionally for one source.
func (h *Handler) Listings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	source := models.Source(q.Get("source"))
	if source != "" && !source.Valid() {
		WriteBadRequest(w, "unknown source "+strconv.Quote(string(source)), r.URL.Path)
		return
	}

	limit := defaultListingLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListingLimit {
			WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxListingLimit), r.URL.Path)
			return
		}
		limit = n
	}

	listings, err := h.listings.Recent(r.Context(), source, limit)
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingResponse{
			Source:       l.Source,
			Title:        l.Title,
			URL:          l.URL,
			PriceDisplay: l.PriceDisplay,
			PriceCents:   l.PriceCents,
			ImageURL:     l.ImageURL,
			Locality:     l.Locality,
			CreatedAt:    l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type subscriptionRequest struct {
	Subscription *struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// CreateSubscription registers a browser push subscription. Registering an
// endpoint twice keeps the first record.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Subscription == nil {
		WriteBadRequest(w, "param is missing or the value is empty: subscription", r.URL.Path)
		return
	}

	s := req.Subscription
	u, err := url.Parse(s.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "endpoint must be an absolute URL", r.URL.Path)
		return
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "keys.p256dh and keys.auth are required", r.URL.Path)
		return
	}

	sub, err := h.subs.UpsertSubscription(r.Context(), models.PushSubscription{
		Endpoint: s.Endpoint,
		P256dh:   s.Keys.P256dh,
		Auth:     s.Keys.Auth,
	})
	if err != nil {
		WriteInternalServerError(w, err, r.URL.Path)
		return
	}

	h.logger.Info("Push subscription %d registered", sub.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": sub.ID})
}

// VAPIDPublicKey returns the application server key for PushManager.subscribe.
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.PublicKey()
	if err != nil || key == "" {
		WriteError(w, http.StatusInternalServerError, "Internal Server Error", "VAPID public key not configured", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": key})
}
