package fetcher

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/models"
)

func newTestPage(s *fakeSession) *PageFetcher {
	cfg := config.DefaultSiteConfig()
	cfg.Mode = config.ModePage
	cfg.SearchURL = "https://dealer.example/inventory"
	cfg.Selectors.ListingRow = "div.card"
	cfg.Fields = map[string]string{
		models.FieldVIN:   "@data-vin",
		models.FieldPrice: "span.price",
		models.FieldURL:   "a.detail@href",
	}
	return NewPageFetcher(cfg, s.open)
}

func TestPageFetcher(t *testing.T) {
	s := newFakeSession()
	s.rendered = browser.Rendered{HTML: sampleResults}
	f := newTestPage(s)

	listings, err := f.Fetch(context.Background(), sienna)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "5TDYRKEC1RS123456", listings[0][models.FieldVIN])
	assert.Equal(t, "/vehicle/5TDYRKEC1RS123456", listings[0][models.FieldURL])

	require.Len(t, s.renders, 1)
	u, err := url.Parse(s.renders[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "dealer.example", u.Host)
	assert.Equal(t, "32801", u.Query().Get("zipcode"))
	assert.Equal(t, 1, s.closed)
}

func TestPageFetcher_NoResults(t *testing.T) {
	s := newFakeSession()
	s.rendered = browser.Rendered{Empty: true}
	f := newTestPage(s)

	listings, err := f.Fetch(context.Background(), sienna)
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Equal(t, 1, s.closed)
}

func TestPageFetcher_NoRowsIsStructural(t *testing.T) {
	s := newFakeSession()
	s.rendered = browser.Rendered{HTML: `<html><body><div class="tile">redesigned</div></body></html>`}
	f := newTestPage(s)

	_, err := f.Fetch(context.Background(), sienna)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindStructure, fe.Kind)
	assert.Equal(t, 1, s.closed)
}

func TestPageFetcher_RenderFailure(t *testing.T) {
	s := newFakeSession()
	s.renderErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	f := newTestPage(s)

	_, err := f.Fetch(context.Background(), sienna)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.Equal(t, "render results page", fe.Op)
	assert.Equal(t, 1, s.closed)
}

func TestSearchURL(t *testing.T) {
	got, err := SearchURL("https://dealer.example/inventory?sort=price", sienna)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/inventory", u.Path)
	assert.Equal(t, url.Values{
		"sort":     {"price"},
		"model":    {"sienna"},
		"zipcode":  {"32801"},
		"distance": {"120"},
	}, u.Query())

	_, err = SearchURL("/inventory", sienna)
	assert.Error(t, err)
}
