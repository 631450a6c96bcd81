package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-watchdog/models"
	"car-watchdog/storage"
	"car-watchdog/utils"
)

type staticKey struct {
	key string
	err error
}

func (k staticKey) PublicKey() (string, error) { return k.key, k.err }

func newTestServer(t *testing.T, keys KeySource) (*httptest.Server, *storage.SQLStore) {
	t.Helper()
	store, err := storage.NewSQLStore(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := utils.NewDiscardLogger()
	srv := httptest.NewServer(NewRouter(NewHandler(store, store, keys, logger), nil, logger))
	t.Cleanup(srv.Close)
	return srv, store
}

func seed(t *testing.T, store *storage.SQLStore) {
	t.Helper()
	price := int64(4500000)
	now := time.Now().UTC()
	require.NoError(t, store.BulkInsert(context.Background(), []models.Listing{
		{Source: models.SourceBazos, URL: "https://auto.bazos.cz/inzerat/1/", Title: "Octavia", PriceDisplay: "45 000 Kč", PriceCents: &price, Locality: "Praha", CreatedAt: now.Add(-time.Minute)},
		{Source: models.SourceSauto, URL: "https://www.sauto.cz/detail/2", Title: "Superb", Locality: "Brno", CreatedAt: now},
	}))
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, staticKey{})

	resp := getJSON(t, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListings(t *testing.T) {
	srv, store := newTestServer(t, staticKey{})
	seed(t, store)

	var all []listingResponse
	resp := getJSON(t, srv.URL+"/listings", &all)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, all, 2)
	assert.Equal(t, "Superb", all[0].Title, "newest first")

	var bazos []listingResponse
	getJSON(t, srv.URL+"/listings?source=bazos&limit=5", &bazos)
	require.Len(t, bazos, 1)
	require.NotNil(t, bazos[0].PriceCents)
	assert.Equal(t, int64(4500000), *bazos[0].PriceCents)

	resp = getJSON(t, srv.URL+"/listings?source=ebay", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	resp = getJSON(t, srv.URL+"/listings?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	srv, store := newTestServer(t, staticKey{})
	seed(t, store)

	var got struct {
		Sources           map[string]models.SourceStats `json:"sources"`
		TotalListings     int                           `json:"total_listings"`
		PricedListings    int                           `json:"priced_listings"`
		AvgPriceCents     int64                         `json:"avg_price_cents"`
		PushSubscriptions int                           `json:"push_subscriptions"`
	}
	resp := getJSON(t, srv.URL+"/stats", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 2, got.TotalListings)
	assert.Equal(t, 1, got.Sources["bazos"].Total)
	assert.Equal(t, 1, got.Sources["sauto"].Total)
	assert.Equal(t, 1, got.PricedListings)
	assert.Equal(t, int64(4500000), got.AvgPriceCents)
	assert.Equal(t, 0, got.PushSubscriptions)
}

func postSubscription(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/push_subscriptions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestCreateSubscription(t *testing.T) {
	srv, store := newTestServer(t, staticKey{})

	body := `{"subscription":{"endpoint":"https://fcm.googleapis.com/fcm/send/abc","keys":{"p256dh":"BPk","auth":"c2VjcmV0"}}}`
	assert.Equal(t, http.StatusCreated, postSubscription(t, srv.URL, body).StatusCode)
	assert.Equal(t, http.StatusCreated, postSubscription(t, srv.URL, body).StatusCode)

	n, err := store.CountSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "endpoint is registered once")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing subscription", `{}`, http.StatusBadRequest},
		{"relative endpoint", `{"subscription":{"endpoint":"/push","keys":{"p256dh":"a","auth":"b"}}}`, http.StatusUnprocessableEntity},
		{"missing keys", `{"subscription":{"endpoint":"https://push.example/1"}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postSubscription(t, srv.URL, tt.body).StatusCode)
		})
	}
}

func TestVAPIDPublicKey(t *testing.T) {
	srv, _ := newTestServer(t, staticKey{key: "BExamplePublicKey"})
	var got map[string]string
	resp := getJSON(t, srv.URL+"/vapid_public_key", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BExamplePublicKey", got["publicKey"])

	srv, _ = newTestServer(t, staticKey{err: errors.New("not configured")})
	resp = getJSON(t, srv.URL+"/vapid_public_key", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, staticKey{})
	resp := getJSON(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
