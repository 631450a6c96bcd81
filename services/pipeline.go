package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"car-watchdog/metrics"
	"car-watchdog/models"
	"car-watchdog/scraper"
	"car-watchdog/storage"
	"car-watchdog/utils"
)

// Notifier receives every listing that was newly persisted.
type Notifier interface {
	Notify(ctx context.Context, listing models.Listing)
}

// CycleResult summarises one ingestion cycle.
type CycleResult struct {
	ID       string
	Source   models.Source
	Fetched  int
	Fresh    int
	Inserted int
	Err      error
}

// Pipeline runs fetch → clean → dedup → persist → notify for one source.
type Pipeline struct {
	adapters map[models.Source]scraper.Adapter
	cleaner  *Cleaner
	dedup    *Deduplicator
	store    storage.ListingStore
	archive  storage.ListingArchiver
	notifier Notifier
	logger   *utils.Logger
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithArchive appends every newly stored batch to an archive.
func WithArchive(a storage.ListingArchiver) PipelineOption {
	return func(p *Pipeline) { p.archive = a }
}

// NewPipeline wires a pipeline over the given adapters.
func NewPipeline(adapters []scraper.Adapter, store storage.ListingStore, notifier Notifier,
	logger *utils.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		adapters: make(map[models.Source]scraper.Adapter, len(adapters)),
		cleaner:  NewCleaner(logger),
		dedup:    NewDeduplicator(store),
		store:    store,
		notifier: notifier,
		logger:   logger.Named("pipeline"),
	}
	for _, a := range adapters {
		p.adapters[a.Source()] = a
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sources lists the sources the pipeline has adapters for, in
// models.Sources order.
func (p *Pipeline) Sources() []models.Source {
	var out []models.Source
	for _, s := range models.Sources {
		if _, ok := p.adapters[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// RunCycle executes one cycle for source. Fetch failures and persist
// conflicts end the cycle with zero inserts; they are reported in the
// result, never panicked on.
func (p *Pipeline) RunCycle(ctx context.Context, source models.Source) CycleResult {
	res := CycleResult{ID: uuid.NewString(), Source: source}
	start := time.Now()

	ctx, span := otel.Tracer("car-watchdog/pipeline").Start(ctx, "pipeline.cycle")
	span.SetAttributes(
		attribute.String("cycle.id", res.ID),
		attribute.String("listing.source", string(source)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("cycle.fetched", res.Fetched),
			attribute.Int("cycle.inserted", res.Inserted),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()

		metrics.CycleDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
		metrics.CycleTotal.WithLabelValues(string(source), outcome(res.Err)).Inc()
	}()

	adapter, ok := p.adapters[source]
	if !ok {
		res.Err = fmt.Errorf("pipeline: no adapter for source %q", source)
		p.logger.Error("%v", res.Err)
		return res
	}

	raw, err := adapter.Fetch(ctx)
	if err != nil {
		res.Err = err
		p.logger.Warn("%s cycle %s: %v", source, res.ID, err)
		return res
	}
	res.Fetched = len(raw)

	cleaned := p.cleaner.Clean(raw)
	fresh, err := p.dedup.Partition(ctx, cleaned)
	if err != nil {
		res.Err = err
		p.logger.Error("%s cycle %s: %v", source, res.ID, err)
		return res
	}
	res.Fresh = len(fresh)

	if len(fresh) == 0 {
		p.logger.Debug("%s cycle %s: %d fetched, nothing new", source, res.ID, res.Fetched)
		return res
	}

	if err := p.store.BulkInsert(ctx, fresh); err != nil {
		res.Err = err
		if errors.Is(err, storage.ErrConflict) {
			p.logger.Warn("%s cycle %s: dropped batch of %d: %v", source, res.ID, len(fresh), err)
		} else {
			p.logger.Error("%s cycle %s: persist failed: %v", source, res.ID, err)
		}
		return res
	}
	res.Inserted = len(fresh)
	metrics.NewListings.WithLabelValues(string(source)).Add(float64(res.Inserted))

	if p.archive != nil {
		if err := p.archive.Archive(fresh); err != nil {
			p.logger.Warn("%s cycle %s: archive failed: %v", source, res.ID, err)
		}
	}

	for _, l := range fresh {
		p.notifier.Notify(ctx, l)
	}

	p.logger.Info("%s cycle %s: %d fetched, %d new", source, res.ID, res.Fetched, res.Inserted)
	return res
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, scraper.ErrFetch):
		return "fetch_error"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "store_error"
	}
}
