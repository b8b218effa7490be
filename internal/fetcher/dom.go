package fetcher

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mspro-labs/sienna-grabber/internal/models"
)

// DOMExtractor reads listings out of a rendered results page.
//
// Field selectors are relative to a listing row. A selector may end in
// "@attr" to read an attribute instead of the text; a bare "@attr" reads
// the row's own attribute. The options field joins every match, all other
// fields use the first one.
type DOMExtractor struct {
	Row    string
	Fields map[string]string
}

func (x DOMExtractor) Extract(payload []byte) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable HTML: %v", ErrStructure, err)
	}

	// Stable field order keeps extraction deterministic.
	keys := make([]string, 0, len(x.Fields))
	for k := range x.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var listings []models.RawListing
	doc.Find(x.Row).Each(func(_ int, row *goquery.Selection) {
		raw := make(models.RawListing)
		for _, key := range keys {
			sel, attr := splitSelector(x.Fields[key])
			target := row
			if sel != "" {
				target = row.Find(sel)
			}
			if target.Length() == 0 {
				continue
			}

			var value string
			if key == models.FieldOptions {
				var parts []string
				target.Each(func(_ int, s *goquery.Selection) {
					if v := read(s, attr); v != "" {
						parts = append(parts, v)
					}
				})
				value = strings.Join(parts, ListSeparator)
			} else {
				value = read(target.First(), attr)
			}
			if value != "" {
				raw[key] = value
			}
		}
		listings = append(listings, raw)
	})
	return listings, nil
}

func splitSelector(s string) (sel, attr string) {
	if i := strings.LastIndex(s, "@"); i >= 0 && !strings.ContainsAny(s[i:], "]) ") {
		return strings.TrimSpace(s[:i]), s[i+1:]
	}
	return strings.TrimSpace(s), ""
}

func read(s *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}
