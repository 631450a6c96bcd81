// Package notify delivers newly stored listings to the outbound channels:
// the live broadcast feed, browser web push and the Telegram bot.
package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"car-watchdog/metrics"
	"car-watchdog/models"
	"car-watchdog/utils"
)

var (
	// ErrNotConfigured is returned by a channel whose credentials are missing.
	ErrNotConfigured = errors.New("notify: channel not configured")
	// ErrSubscriptionGone means the push service no longer knows the endpoint.
	ErrSubscriptionGone = errors.New("notify: subscription gone")
)

// Channel is one outbound notification path.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, listing models.Listing) error
}

// Fanout hands every listing to all registered channels concurrently.
// A failing or panicking channel never affects the others or the caller.
type Fanout struct {
	channels []Channel
	logger   *utils.Logger
}

func NewFanout(logger *utils.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logger.Named("notify")}
}

// Notify delivers listing on every channel and waits for all of them.
// Delivery errors are logged and counted only.
func (f *Fanout) Notify(ctx context.Context, listing models.Listing) {
	var g errgroup.Group
	for _, ch := range f.channels {
		g.Go(func() error {
			f.deliver(ctx, ch, listing)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fanout) deliver(ctx context.Context, ch Channel, listing models.Listing) {
	ctx, span := otel.Tracer("car-watchdog/notify").Start(ctx, "notify."+ch.Name(),
		trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(attribute.String("listing.url", listing.URL))
	defer span.End()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			f.logger.Error("%s channel panicked: %v\n%s", ch.Name(), r, debug.Stack())
		}

		outcome := "ok"
		switch {
		case errors.Is(err, ErrNotConfigured):
			outcome = "not_configured"
			f.logger.Debug("%s: %v", ch.Name(), err)
		case err != nil:
			outcome = "error"
			f.logger.Warn("%s delivery for %s failed: %v", ch.Name(), listing.URL, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.Deliveries.WithLabelValues(ch.Name(), outcome).Inc()
	}()

	err = ch.Deliver(ctx, listing)
}
