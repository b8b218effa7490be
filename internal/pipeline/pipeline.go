// Package pipeline runs one scrape: fetch, normalize, persist.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mspro-labs/sienna-grabber/internal/fetcher"
	"mspro-labs/sienna-grabber/internal/models"
	"mspro-labs/sienna-grabber/internal/normalize"
	"mspro-labs/sienna-grabber/internal/storage"
)

var (
	logger = log.New(os.Stdout, "PIPELINE: ", log.LstdFlags|log.Lshortfile)
	tracer = otel.Tracer("sienna-grabber/pipeline")
)

type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
)

// StageError names the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type ListingWriter interface {
	Write(listings []models.VehicleListing) error
	Path() string
}

type SnapshotWriter interface {
	Write(snap storage.Snapshot) error
}

type Ledger interface {
	Record(model string, listings []models.VehicleListing) (int, error)
}

type Uploader interface {
	Send(ctx context.Context, model string, listings []models.VehicleListing) error
}

// Pipeline wires the stages of a run. Fetcher and CSV are required, the
// rest are optional and only ever produce warnings.
type Pipeline struct {
	Fetcher   fetcher.Fetcher
	CSV       ListingWriter
	Raw       SnapshotWriter
	Ledger    Ledger
	Uploader  Uploader
	Normalize normalize.Options
}

type Summary struct {
	Fetched    int
	Kept       int
	Rejected   int
	Duplicates int
	OutputPath string
	// Active is the ledger's active count for the model, -1 without a ledger.
	Active int
}

// Run fetches, normalizes and writes the listings for params. Nothing is
// written when the fetch fails.
func (p *Pipeline) Run(ctx context.Context, params models.SearchParameters) (Summary, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.model", params.Model),
		attribute.String("search.zip", params.ZipCode),
		attribute.Int("search.distance", params.DistanceMiles),
	)

	summary := Summary{OutputPath: p.CSV.Path(), Active: -1}

	logger.Printf("Searching %s inventory within %d miles of %s...", params.Model, params.DistanceMiles, params.ZipCode)
	raw, err := p.fetch(ctx, params)
	if err != nil {
		return summary, fail(span, StageFetch, err)
	}
	summary.Fetched = len(raw)

	if err := ctx.Err(); err != nil {
		return summary, fail(span, StageNormalize, err)
	}
	opts := p.Normalize
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	res := p.normalize(ctx, raw, opts)
	summary.Kept = len(res.Listings)
	summary.Rejected = len(res.Rejected)
	summary.Duplicates = res.Duplicates
	logger.Printf("Kept %d of %d listings (%d rejected, %d duplicates).", summary.Kept, summary.Fetched, summary.Rejected, summary.Duplicates)

	if err := ctx.Err(); err != nil {
		return summary, fail(span, StagePersist, err)
	}
	if err := p.persist(ctx, params, raw, res.Listings, opts.Now, &summary); err != nil {
		return summary, fail(span, StagePersist, err)
	}
	return summary, nil
}

func (p *Pipeline) fetch(ctx context.Context, params models.SearchParameters) ([]models.RawListing, error) {
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()
	raw, err := p.Fetcher.Fetch(ctx, params)
	span.SetAttributes(attribute.Int("listings.raw", len(raw)))
	return raw, err
}

func (p *Pipeline) normalize(ctx context.Context, raw []models.RawListing, opts normalize.Options) normalize.Result {
	_, span := tracer.Start(ctx, "pipeline.normalize")
	defer span.End()
	res := normalize.Normalize(raw, opts)
	span.SetAttributes(
		attribute.Int("listings.kept", len(res.Listings)),
		attribute.Int("listings.rejected", len(res.Rejected)),
		attribute.Int("listings.duplicates", res.Duplicates),
	)
	return res
}

func (p *Pipeline) persist(ctx context.Context, params models.SearchParameters, raw []models.RawListing, listings []models.VehicleListing, now time.Time, summary *Summary) error {
	ctx, span := tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	if err := p.CSV.Write(listings); err != nil {
		return err
	}

	if p.Raw != nil {
		snap := storage.Snapshot{
			Model:     params.Model,
			ZipCode:   params.ZipCode,
			Distance:  params.DistanceMiles,
			ScrapedAt: now.UTC().Truncate(time.Second),
			Listings:  normalize.UniqueRaw(raw),
		}
		if err := p.Raw.Write(snap); err != nil {
			logger.Printf("Warning: failed to write raw snapshot: %v", err)
		}
	}

	if p.Ledger != nil {
		active, err := p.Ledger.Record(params.Model, listings)
		if err != nil {
			logger.Printf("Warning: failed to update the inventory ledger: %v", err)
		} else {
			summary.Active = active
			logger.Printf("Ledger now tracks %d active %s listings.", active, params.Model)
		}
	}

	if p.Uploader != nil {
		if err := p.Uploader.Send(ctx, params.Model, listings); err != nil {
			logger.Printf("Warning: failed to sync listings: %v", err)
		}
	}
	return nil
}

func fail(span trace.Span, stage Stage, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage)+" failed")
	return &StageError{Stage: stage, Err: err}
}
