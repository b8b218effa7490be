package fetcher

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/models"
)

var (
	logger = log.New(os.Stdout, "FETCHER: ", log.LstdFlags|log.Lshortfile)
	tracer = otel.Tracer("sienna-grabber/fetcher")
)

// Fetcher returns the raw listings for one search. Errors are *FetchError.
// Zero results is not an error.
type Fetcher interface {
	Fetch(ctx context.Context, params models.SearchParameters) ([]models.RawListing, error)
}

// Session is the browser handle a fetcher works with for the duration of a
// single Fetch call.
type Session interface {
	CaptureHeaders(ctx context.Context, req browser.CaptureRequest) (http.Header, error)
	RenderHTML(ctx context.Context, req browser.RenderRequest) (browser.Rendered, error)
	Close() error
}

// Opener starts a new browser session.
type Opener func(ctx context.Context) (Session, error)

// BrowserOpener opens real Chrome sessions through go-rod.
func BrowserOpener(opts browser.Options) Opener {
	return func(ctx context.Context) (Session, error) {
		s, err := browser.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// New builds the fetcher for the configured site mode.
func New(cfg *config.SiteConfig, open Opener) (Fetcher, error) {
	switch cfg.Mode {
	case config.ModeGraphQL:
		return NewGraphQLFetcher(cfg, open), nil
	case config.ModePage:
		return NewPageFetcher(cfg, open), nil
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Mode)
	}
}

// withSession opens a session, runs fn and always closes the session again,
// whichever way fn returns.
func withSession(ctx context.Context, open Opener, fn func(Session) ([]models.RawListing, error)) (_ []models.RawListing, err error) {
	session, err := open(ctx)
	if err != nil {
		return nil, classify("launch browser", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Printf("Warning: failed to close browser cleanly: %v", cerr)
		}
	}()
	return fn(session)
}
