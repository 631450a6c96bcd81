package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-watchdog/models"
	"car-watchdog/utils"
)

func newTestTelegram(apiURL, token string) *TelegramChannel {
	return NewTelegramChannel(TelegramConfig{
		Token:  token,
		APIURL: apiURL,
		Chats: map[models.Source]string{
			models.SourceBazos: "@bazosfirstfetch",
			models.SourceSauto: "@sautobot1",
		},
		FeedChats: map[string]string{
			"10000-50000":   "@bazosfirstfetch",
			"50000-100000":  "@bazossecondfetch",
			"100000-300000": "@bazosthirdfetch",
		},
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, utils.NewDiscardLogger())
}

func TestTelegramDeliver(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := newTestTelegram(srv.URL, "123:abc")
	l := testListing()
	l.Source = models.SourceSauto
	require.NoError(t, tg.Deliver(context.Background(), l))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "@sautobot1", got.ChatID)
	assert.Equal(t, "MarkdownV2", got.ParseMode)
	assert.Equal(t, "[Škoda Octavia](https://auto.bazos.cz/inzerat/190001/)", got.Text)
}

func TestTelegramRoutesByFeed(t *testing.T) {
	var (
		mu    sync.Mutex
		chats []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		chats = append(chats, req.ChatID)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := newTestTelegram(srv.URL, "123:abc")
	for _, feed := range []string{"50000-100000", "100000-300000", "", "1-2"} {
		l := testListing()
		l.Feed = feed
		require.NoError(t, tg.Deliver(context.Background(), l))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"@bazossecondfetch", "@bazosthirdfetch", "@bazosfirstfetch", "@bazosfirstfetch"}, chats)
}

func TestMarkdownLink(t *testing.T) {
	tests := []struct {
		title, url, want string
	}{
		{"Škoda Octavia", "https://auto.bazos.cz/inzerat/1/", "[Škoda Octavia](https://auto.bazos.cz/inzerat/1/)"},
		{"Octavia 1.9 TDI [top_stav]", "https://x.cz/a", `[Octavia 1\.9 TDI \[top\_stav\]](https://x.cz/a)`},
		{"*NEW* Fabia (r.v. 2010)!", "https://x.cz/a_(b)", `[\*NEW\* Fabia \(r\.v\. 2010\)\!](https://x.cz/a_(b\))`},
		{`back\slash`, "https://x.cz/", `[back\\slash](https://x.cz/)`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MarkdownLink(tt.title, tt.url), tt.title)
	}
}

func TestTelegramRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests: retry after 1"}`))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	require.NoError(t, newTestTelegram(srv.URL, "t").Deliver(context.Background(), testListing()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTelegramDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL, "t").Deliver(context.Background(), testListing())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTelegramGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.Error(t, newTestTelegram(srv.URL, "t").Deliver(context.Background(), testListing()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTelegramNotConfigured(t *testing.T) {
	tg := newTestTelegram("http://127.0.0.1:0", "")
	assert.ErrorIs(t, tg.Deliver(context.Background(), testListing()), ErrNotConfigured)

	tg = NewTelegramChannel(TelegramConfig{Token: "t"}, utils.NewDiscardLogger())
	assert.ErrorIs(t, tg.Deliver(context.Background(), testListing()), ErrNotConfigured)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, `Post "https://api.telegram.org/bot<token>/sendMessage": EOF`,
		redact(`Post "https://api.telegram.org/bot123:abc/sendMessage": EOF`, "123:abc"))
}
