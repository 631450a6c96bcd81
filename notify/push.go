package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"car-watchdog/models"
	"car-watchdog/storage"
	"car-watchdog/utils"
)

const (
	pushTTL          = 24 * time.Hour
	defaultPriceText = "Price on request"
	pushIcon         = "/icon.svg"
)

// PushPayload is the JSON shown by the service worker.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Image string `json:"image,omitempty"`
	URL   string `json:"url"`
}

// NewPushPayload builds the notification text for l.
func NewPushPayload(l models.Listing) PushPayload {
	price := l.PriceDisplay
	if price == "" {
		price = defaultPriceText
	}
	return PushPayload{
		Title: l.Source.DisplayName() + " - New Listing",
		Body:  l.Title + "\n" + price,
		Icon:  pushIcon,
		Image: l.ImageURL,
		URL:   l.URL,
	}
}

// PushChannel sends an encrypted Web Push message to every stored
// subscription. Endpoints answering 404 or 410 are deleted.
type PushChannel struct {
	subs        storage.SubscriptionStore
	signer      *vapidSigner
	signerErr   error
	client      *http.Client
	concurrency int
	logger      *utils.Logger
	now         func() time.Time
}

func NewPushChannel(subs storage.SubscriptionStore, keys VAPIDKeys, concurrency int,
	timeout time.Duration, logger *utils.Logger) *PushChannel {
	signer, err := newVAPIDSigner(keys)
	return &PushChannel{
		subs:        subs,
		signer:      signer,
		signerErr:   err,
		client:      &http.Client{Timeout: timeout},
		concurrency: concurrency,
		logger:      logger.Named("webpush"),
		now:         time.Now,
	}
}

func (p *PushChannel) Name() string { return "webpush" }

// PublicKey returns the VAPID public key browsers subscribe with.
func (p *PushChannel) PublicKey() (string, error) {
	if p.signer == nil {
		return "", p.signerErr
	}
	return p.signer.publicKey, nil
}

// Deliver pushes l to all subscriptions. Gone subscriptions are removed and
// do not count as failures.
func (p *PushChannel) Deliver(ctx context.Context, l models.Listing) error {
	if p.signer == nil {
		return p.signerErr
	}

	subs, err := p.subs.AllSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("webpush: load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(NewPushPayload(l))
	if err != nil {
		return fmt.Errorf("webpush: marshal: %w", err)
	}

	var failed, gone int32
	pool := utils.NewWorkerPool(p.concurrency, 0)
	for _, sub := range subs {
		pool.Submit(func() {
			err := p.Send(ctx, sub, payload)
			switch {
			case err == nil:
			case errors.Is(err, ErrSubscriptionGone):
				atomic.AddInt32(&gone, 1)
				if derr := p.subs.DeleteSubscription(ctx, sub.ID); derr != nil {
					p.logger.Warn("Could not delete gone subscription %d: %v", sub.ID, derr)
				} else {
					p.logger.Info("Removed gone subscription %d", sub.ID)
				}
			default:
				atomic.AddInt32(&failed, 1)
				p.logger.Warn("Push to subscription %d failed: %v", sub.ID, err)
			}
		})
	}
	pool.Wait()

	if gone > 0 {
		p.logger.Info("%d of %d subscriptions were gone", gone, len(subs))
	}
	if failed > 0 {
		return fmt.Errorf("webpush: %d of %d deliveries failed", failed, len(subs))
	}
	return nil
}

// Send encrypts payload for sub and POSTs it to the subscription endpoint.
func (p *PushChannel) Send(ctx context.Context, sub models.PushSubscription, payload []byte) error {
	if p.signer == nil {
		return p.signerErr
	}

	body, err := encryptPayload(payload, sub.P256dh, sub.Auth, rand.Reader)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	authz, err := p.signer.authorization(sub.Endpoint, p.now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", strconv.Itoa(int(pushTTL.Seconds())))
	req.Header.Set("Urgency", "normal")
	req.Header.Set("Authorization", authz)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
