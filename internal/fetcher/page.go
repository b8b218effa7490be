package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/models"
)

// PageFetcher renders the dealer search results page and scrapes the
// listings out of the DOM.
type PageFetcher struct {
	cfg       *config.SiteConfig
	open      Opener
	extractor Extractor
}

func NewPageFetcher(cfg *config.SiteConfig, open Opener) *PageFetcher {
	return &PageFetcher{
		cfg:       cfg,
		open:      open,
		extractor: DOMExtractor{Row: cfg.Selectors.ListingRow, Fields: cfg.Fields},
	}
}

func (f *PageFetcher) Fetch(ctx context.Context, params models.SearchParameters) ([]models.RawListing, error) {
	ctx, span := tracer.Start(ctx, "fetcher.Page")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	target, err := SearchURL(f.cfg.SearchURL, params)
	if err != nil {
		return nil, classify("build search URL", fmt.Errorf("%w: %v", ErrStructure, err))
	}
	span.SetAttributes(attribute.String("search.url", target))

	listings, err := withSession(ctx, f.open, func(s Session) ([]models.RawListing, error) {
		rendered, err := s.RenderHTML(ctx, browser.RenderRequest{
			URL:           target,
			WaitSelector:  f.cfg.Selectors.ListingWait,
			EmptySelector: f.cfg.Selectors.NoResults,
			Wait:          f.cfg.RequestTimeout * 4,
		})
		if err != nil {
			return nil, classify("render results page", err)
		}
		if rendered.Empty {
			logger.Println("Search returned no results.")
			return nil, nil
		}

		listings, err := f.extractor.Extract([]byte(rendered.HTML))
		if err != nil {
			return nil, classify("extract listings", err)
		}
		if len(listings) == 0 {
			return nil, classify("extract listings", fmt.Errorf("%w: no rows match %q", ErrStructure, f.cfg.Selectors.ListingRow))
		}
		logger.Printf("Extracted %d listings from the results page.", len(listings))
		return listings, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	return listings, nil
}

// SearchURL adds the search parameters to the results page URL.
func SearchURL(base string, params models.SearchParameters) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("search URL %q is not absolute", base)
	}
	q := u.Query()
	q.Set("model", params.Model)
	q.Set("zipcode", params.ZipCode)
	q.Set("distance", strconv.Itoa(params.DistanceMiles))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
