package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var logger = log.New(os.Stdout, "BROWSER: ", log.LstdFlags|log.Lshortfile)

var (
	ErrNavigation     = errors.New("navigation failed")
	ErrElementMissing = errors.New("expected element absent")
	ErrNoAPIRequest   = errors.New("no matching API request observed")
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36 Edg/127.0.0.0",
}

// RandomUserAgent picks one of the common desktop user agents.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// Options configures the launched browser.
type Options struct {
	Headless bool
}

// Session owns one Chrome process. It must be closed by whoever opened it.
type Session struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	userAgent string
	closeOnce sync.Once
	closeErr  error
}

// Open launches a headless browser and connects to it.
func Open(ctx context.Context, opts Options) (*Session, error) {
	logger.Println("Launching headless browser...")
	l := launcher.New().Context(ctx).Headless(opts.Headless).NoSandbox(true)
	u, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Session{
		launcher: l,
		// Detach from ctx so Close still works after cancellation
		browser:   b.Context(context.Background()),
		userAgent: RandomUserAgent(),
	}, nil
}

// Close shuts the browser down and kills its process. Safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		logger.Println("Closing browser...")
		s.closeErr = s.browser.Close()
		s.launcher.Kill()
		s.launcher.Cleanup()
	})
	return s.closeErr
}

func (s *Session) newPage(ctx context.Context) (*rod.Page, error) {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	page = page.Context(ctx)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to set user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080}); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}
	return page, nil
}

func (s *Session) navigate(ctx context.Context, page *rod.Page, url string) error {
	logger.Printf("Navigating to: %s", url)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}
	return ctx.Err()
}

// CaptureRequest describes a search form submission whose outgoing API
// request headers should be recorded.
type CaptureRequest struct {
	PageURL  string
	ZipInput string // selector of the zip code input
	ZipCode  string
	// APISuffix selects the request to capture by URL suffix, e.g. "/graphql".
	APISuffix string
	Wait      time.Duration
}

// CaptureHeaders loads the search page, submits the zip code and returns the
// headers of the first XHR or fetch request to the API. Those headers carry
// the WAF token the API expects.
func (s *Session) CaptureHeaders(ctx context.Context, req CaptureRequest) (http.Header, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page, err := s.newPage(pctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	captured := make(chan http.Header, 1)
	wait := page.EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
		if e.Request == nil || !IsAPIRequest(e.Type, e.Request.URL, req.APISuffix) {
			return false
		}
		captured <- toHeader(e.Request.Headers)
		return true
	})
	go wait()

	if err := s.navigate(pctx, page, req.PageURL); err != nil {
		return nil, err
	}

	el, err := page.Timeout(req.waitOrDefault()).Element(req.ZipInput)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: zip input %q: %w", ErrElementMissing, req.ZipInput, err)
	}
	el = el.CancelTimeout()
	if err := el.Input(req.ZipCode); err != nil {
		return nil, fmt.Errorf("failed to type zip code: %w", err)
	}
	if err := page.Keyboard.Type(input.Enter); err != nil {
		return nil, fmt.Errorf("failed to submit zip code: %w", err)
	}

	timer := time.NewTimer(req.waitOrDefault())
	defer timer.Stop()

	select {
	case h := <-captured:
		logger.Printf("Captured %d API request headers", len(h))
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no request ending in %q", ErrNoAPIRequest, req.APISuffix)
	}
}

func (r CaptureRequest) waitOrDefault() time.Duration {
	if r.Wait > 0 {
		return r.Wait
	}
	return 60 * time.Second
}

// IsAPIRequest reports whether a request seen by the browser is the API call
// whose headers are worth keeping.
func IsAPIRequest(kind proto.NetworkResourceType, url, suffix string) bool {
	if kind != proto.NetworkResourceTypeXHR && kind != proto.NetworkResourceTypeFetch {
		return false
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.HasSuffix(url, suffix)
}

func toHeader(headers proto.NetworkHeaders) http.Header {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		// HTTP/2 pseudo headers are not valid on a replayed request
		if strings.HasPrefix(k, ":") {
			continue
		}
		h.Set(k, v.String())
	}
	return h
}

// RenderRequest describes a results page to render.
type RenderRequest struct {
	URL           string
	WaitSelector  string // present once listings have rendered
	EmptySelector string // present when the search found nothing; optional
	Wait          time.Duration
}

// Rendered is the HTML of a results page after its listings appeared.
type Rendered struct {
	HTML  string
	Empty bool
}

// RenderHTML loads the page and waits until either the listings or the
// no-results marker show up.
func (s *Session) RenderHTML(ctx context.Context, req RenderRequest) (Rendered, error) {
	page, err := s.newPage(ctx)
	if err != nil {
		return Rendered{}, err
	}
	defer page.Close()

	if err := s.navigate(ctx, page, req.URL); err != nil {
		return Rendered{}, err
	}

	wait := req.Wait
	if wait <= 0 {
		wait = 60 * time.Second
	}

	var empty bool
	race := page.Timeout(wait).Race().Element(req.WaitSelector)
	if req.EmptySelector != "" {
		race = race.Element(req.EmptySelector).Handle(func(*rod.Element) error {
			empty = true
			return nil
		})
	}
	logger.Printf("Waiting for listings: %s", req.WaitSelector)
	if _, err := race.Do(); err != nil {
		if ctx.Err() != nil {
			return Rendered{}, ctx.Err()
		}
		return Rendered{}, fmt.Errorf("%w: listings %q: %w", ErrElementMissing, req.WaitSelector, err)
	}

	html, err := page.HTML()
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to read page HTML: %w", err)
	}
	return Rendered{HTML: html, Empty: empty}, nil
}
