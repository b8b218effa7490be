package fetcher

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/models"
)

//go:embed vehicles.graphql
var vehiclesQuery string

// Headers the browser sent that must not be replayed verbatim.
var hopHeaders = []string{"Content-Length", "Host", "Accept-Encoding", "Connection"}

type graphqlRequest struct {
	Name      string         `json:"operationName"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// GraphQLFetcher borrows the WAF headers from a real browser search and then
// pages through the inventory API directly.
type GraphQLFetcher struct {
	cfg       *config.SiteConfig
	open      Opener
	http      *resty.Client
	extractor Extractor

	now           func() time.Time
	retryInterval time.Duration
}

func NewGraphQLFetcher(cfg *config.SiteConfig, open Opener) *GraphQLFetcher {
	httpClient := resty.New()
	httpClient.SetTimeout(cfg.RequestTimeout)

	// One page per PageDelay, the first one right away
	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	limiter := rate.NewLimiter(limit, 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return pace(req.Context(), limiter)
	})

	return &GraphQLFetcher{
		cfg:           cfg,
		open:          open,
		http:          httpClient,
		extractor:     SummaryExtractor{Fields: cfg.Fields},
		now:           time.Now,
		retryInterval: 2 * time.Second,
	}
}

func (f *GraphQLFetcher) Fetch(ctx context.Context, params models.SearchParameters) ([]models.RawListing, error) {
	ctx, span := tracer.Start(ctx, "fetcher.GraphQL")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.model", params.Model),
		attribute.String("search.zip", params.ZipCode),
		attribute.Int("search.distance", params.DistanceMiles),
	)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	listings, err := withSession(ctx, f.open, func(s Session) ([]models.RawListing, error) {
		return f.fetchAll(ctx, s, params)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("listings.raw", len(listings)))
	return listings, nil
}

// apiHeaders holds the borrowed headers and when they were captured.
type apiHeaders struct {
	header     http.Header
	capturedAt time.Time
}

func (f *GraphQLFetcher) capture(ctx context.Context, s Session, params models.SearchParameters) (apiHeaders, error) {
	logger.Println("Capturing API headers from the search page...")
	h, err := s.CaptureHeaders(ctx, browser.CaptureRequest{
		PageURL:   f.cfg.SearchURL,
		ZipInput:  f.cfg.Selectors.ZipInput,
		ZipCode:   params.ZipCode,
		APISuffix: apiSuffix(f.cfg.GraphQLURL),
		Wait:      time.Minute,
	})
	if err != nil {
		return apiHeaders{}, classify("capture API headers", err)
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	return apiHeaders{header: h, capturedAt: f.now()}, nil
}

func (f *GraphQLFetcher) fetchAll(ctx context.Context, s Session, params models.SearchParameters) ([]models.RawListing, error) {
	headers, err := f.capture(ctx, s, params)
	if err != nil {
		return nil, err
	}

	leadID := uuid.NewString()
	seen := make(map[string]bool)
	var all []models.RawListing

	// The API returns nothing past page 40, MaxPages caps it anyway
	for page := 1; page <= f.cfg.MaxPages; page++ {
		if f.cfg.HeaderRefresh > 0 && f.now().Sub(headers.capturedAt) > f.cfg.HeaderRefresh {
			logger.Println("Refreshing API headers...")
			if headers, err = f.capture(ctx, s, params); err != nil {
				return nil, err
			}
		}

		logger.Printf("Getting page %d of %s vehicles", page, params.Model)
		vars := map[string]any{
			"zipCode":  params.ZipCode,
			"model":    params.Model,
			"distance": params.DistanceMiles,
			"pageNo":   page,
			"leadId":   leadID,
		}
		listings, err := f.fetchPage(ctx, s, params, &headers, vars)
		if err != nil {
			return nil, err
		}

		added := 0
		for _, l := range listings {
			all = append(all, l)
			if vin := strings.TrimSpace(l[models.FieldVIN]); vin != "" && !seen[vin] {
				seen[vin] = true
				added++
			}
		}
		logger.Printf("Found %d (+%d) vehicles so far.", len(seen), added)

		// No new cars compared to the previous page means we have them all
		if added == 0 {
			logger.Println("All vehicles found.")
			break
		}
	}
	return all, nil
}

// fetchPage requests one page, retrying network-class failures with
// exponential backoff. A 403 usually means the WAF token expired, so the
// headers are captured again before the next attempt.
func (f *GraphQLFetcher) fetchPage(ctx context.Context, s Session, params models.SearchParameters, headers *apiHeaders, vars map[string]any) ([]models.RawListing, error) {
	op := fmt.Sprintf("page %v", vars["pageNo"])
	attempt := 0

	operation := func() ([]models.RawListing, error) {
		attempt++
		body, err := f.post(ctx, headers.header, vars)
		if err == nil {
			listings, xerr := f.extractor.Extract(body)
			if xerr != nil {
				return nil, backoff.Permanent(classify(op, xerr))
			}
			return listings, nil
		}

		fe := classify(op, err)
		if !retryable(ctx, fe) {
			return nil, backoff.Permanent(fe)
		}
		logger.Printf("Attempt %d for %s failed: %v", attempt, op, err)
		if isForbidden(err) {
			fresh, cerr := f.capture(ctx, s, params)
			if cerr != nil {
				return nil, backoff.Permanent(cerr)
			}
			*headers = fresh
		}
		return nil, fe
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInterval
	policy.MaxElapsedTime = 0
	retries := f.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	listings, err := backoff.RetryWithData(operation, b)
	if err != nil {
		return nil, classify(op, err)
	}
	return listings, nil
}

func (f *GraphQLFetcher) post(ctx context.Context, header http.Header, vars map[string]any) ([]byte, error) {
	res, err := f.http.R().
		SetContext(ctx).
		SetHeaderMultiValues(header).
		SetHeader("Content-Type", "application/json").
		SetBody(graphqlRequest{
			Name:      "LocateVehiclesByZip",
			Query:     vehiclesQuery,
			Variables: vars,
		}).
		Post(f.cfg.GraphQLURL)
	if err != nil {
		return nil, err
	}

	code := res.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return res.Body(), nil
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code >= 500:
		return nil, &statusError{Code: code, Body: res.String()}
	default:
		return nil, fmt.Errorf("%w: %v", ErrStructure, &statusError{Code: code, Body: res.String()})
	}
}

// pace blocks until the limiter lets the next request through. A wait that
// would outlast the deadline of ctx fails at once as context.DeadlineExceeded.
func pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

func apiSuffix(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	if i := strings.Index(endpoint, "/"); i >= 0 {
		return endpoint[i:]
	}
	return "/"
}
