package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/models"
)

// fakeSession stands in for a Chrome session.
type fakeSession struct {
	mu sync.Mutex

	header     http.Header
	captureErr error
	captures   []browser.CaptureRequest

	rendered  browser.Rendered
	renderErr error
	renders   []browser.RenderRequest

	closed int
}

func newFakeSession() *fakeSession {
	h := http.Header{}
	h.Set("X-Aws-Waf-Token", "token-1")
	h.Set("Referer", "https://www.toyota.com/search-inventory/")
	h.Set("Content-Length", "512")
	return &fakeSession{header: h}
}

func (s *fakeSession) CaptureHeaders(ctx context.Context, req browser.CaptureRequest) (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = append(s.captures, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	h := s.header.Clone()
	h.Set("X-Aws-Waf-Token", fmt.Sprintf("token-%d", len(s.captures)))
	return h, nil
}

func (s *fakeSession) RenderHTML(ctx context.Context, req browser.RenderRequest) (browser.Rendered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, req)
	if s.renderErr != nil {
		return browser.Rendered{}, s.renderErr
	}
	return s.rendered, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) open(context.Context) (Session, error) {
	return s, nil
}

func (s *fakeSession) captureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

func TestNew(t *testing.T) {
	s := newFakeSession()

	cfg := config.DefaultSiteConfig()
	f, err := New(cfg, s.open)
	require.NoError(t, err)
	assert.IsType(t, &GraphQLFetcher{}, f)

	cfg.Mode = config.ModePage
	f, err = New(cfg, s.open)
	require.NoError(t, err)
	assert.IsType(t, &PageFetcher{}, f)

	cfg.Mode = "carrier-pigeon"
	_, err = New(cfg, s.open)
	assert.Error(t, err)
}

func TestWithSession_OpenFailure(t *testing.T) {
	open := func(context.Context) (Session, error) {
		return nil, errors.New("chrome not found")
	}

	called := false
	_, err := withSession(context.Background(), open, func(Session) ([]models.RawListing, error) {
		called = true
		return nil, nil
	})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.Equal(t, "launch browser", fe.Op)
	assert.False(t, called)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), KindTimeout},
		{"structure", fmt.Errorf("%w: no rows", ErrStructure), KindStructure},
		{"missing element", fmt.Errorf("%w: zip input", browser.ErrElementMissing), KindStructure},
		{"no api request", browser.ErrNoAPIRequest, KindStructure},
		{"server error", &statusError{Code: 503}, KindNetwork},
		{"anything else", errors.New("connection reset by peer"), KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := classify("op", tt.err)
			assert.Equal(t, tt.want, fe.Kind)
			assert.ErrorIs(t, fe, tt.err)
		})
	}

	t.Run("keeps existing classification", func(t *testing.T) {
		inner := &FetchError{Kind: KindStructure, Op: "page 3", Err: ErrStructure}
		fe := classify("outer", fmt.Errorf("wrapped: %w", inner))
		assert.Same(t, inner, fe)
	})
}

func TestRetryable(t *testing.T) {
	ctx := context.Background()
	assert.True(t, retryable(ctx, &FetchError{Kind: KindNetwork}))
	assert.False(t, retryable(ctx, &FetchError{Kind: KindTimeout}))
	assert.False(t, retryable(ctx, &FetchError{Kind: KindStructure}))
	assert.False(t, retryable(ctx, &FetchError{Kind: KindCanceled}))

	done, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, retryable(done, &FetchError{Kind: KindNetwork}))
}

func TestStatusErrorTruncatesBody(t *testing.T) {
	err := &statusError{Code: 403, Body: strings.Repeat("x", 500)}
	assert.Len(t, err.Error(), len("HTTP 403: ")+200+len("..."))
	assert.True(t, isForbidden(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, isForbidden(&statusError{Code: 500}))
}
