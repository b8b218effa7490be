// Package normalize turns raw scraped values into validated, de-duplicated
// and ordered vehicle listings.
package normalize

import (
	"log"
	"math"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"mspro-labs/sienna-grabber/internal/models"
)

var logger = log.New(os.Stdout, "NORMALIZE: ", log.LstdFlags|log.Lshortfile)

var (
	reNumber = regexp.MustCompile(`[^\d\.\-]+`)
	reVIN    = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{1,17}$`)
)

// Shipping status codes as the inventory API reports them in dealerCategory.
var shippingStatus = map[string]string{
	"A": "Factory to port",
	"F": "Port to dealer",
	"G": "At dealer",
}

const optionSeparator = " | "

// Anything larger is garbage and reads as unknown.
const (
	maxMileage = math.MaxInt32
	maxYear    = 9999
)

type Options struct {
	// StrictVIN requires exactly 17 characters instead of at most 17.
	StrictVIN bool
	// BaseURL resolves relative listing links.
	BaseURL string
	// Now stamps every listing of the run. Zero means time.Now.
	Now time.Time
}

// Rejection records a raw listing that was dropped and why.
type Rejection struct {
	Index  int
	VIN    string
	Reason string
}

type Result struct {
	Listings   []models.VehicleListing
	Rejected   []Rejection
	Duplicates int
}

// Normalize validates every raw listing, drops the ones without a usable
// VIN, keeps the last record seen for each VIN and orders the rest by price,
// unknown prices last, then by VIN.
func Normalize(raw []models.RawListing, opts Options) Result {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Second)

	var base *url.URL
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil && u.IsAbs() {
			base = u
		}
	}

	var res Result
	byVIN := make(map[string]int)
	for i, r := range raw {
		vin := strings.ToUpper(strings.TrimSpace(r[models.FieldVIN]))
		if reason := checkVIN(vin, opts.StrictVIN); reason != "" {
			logger.Printf("Dropping listing %d (vin %q): %s", i, vin, reason)
			res.Rejected = append(res.Rejected, Rejection{Index: i, VIN: vin, Reason: reason})
			continue
		}

		l := models.VehicleListing{
			VIN:            vin,
			Price:          nonNegative(parseNumber(r[models.FieldPrice])),
			Trim:           clean(r[models.FieldTrim]),
			DealerName:     clean(r[models.FieldDealerName]),
			URL:            resolve(base, r[models.FieldURL]),
			ScrapedAt:      now,
			ExteriorColor:  clean(r[models.FieldExteriorColor]),
			InteriorColor:  clean(r[models.FieldInteriorColor]),
			Distance:       nonNegative(parseNumber(r[models.FieldDistance])),
			ShippingStatus: expandShipping(r[models.FieldShippingStatus]),
			Options:        formatOptions(r[models.FieldOptions]),
		}
		if m := nonNegative(parseNumber(r[models.FieldMileage])); m != nil && *m <= maxMileage {
			miles := int(math.Round(*m))
			l.Mileage = &miles
		}
		if y := parseNumber(r[models.FieldYear]); y != nil && *y > 0 && *y <= maxYear {
			l.Year = int(*y)
		}

		// Last one wins
		if at, ok := byVIN[vin]; ok {
			res.Listings[at] = l
			res.Duplicates++
			continue
		}
		byVIN[vin] = len(res.Listings)
		res.Listings = append(res.Listings, l)
	}

	sort.Slice(res.Listings, func(i, j int) bool {
		return less(res.Listings[i], res.Listings[j])
	})
	return res
}

// UniqueRaw drops repeated VINs from raw listings, keeping the last record
// seen at the position of the first. Rows without a VIN are kept as they are.
func UniqueRaw(raw []models.RawListing) []models.RawListing {
	out := make([]models.RawListing, 0, len(raw))
	byVIN := make(map[string]int)
	for _, r := range raw {
		vin := strings.ToUpper(strings.TrimSpace(r[models.FieldVIN]))
		if vin == "" {
			out = append(out, r)
			continue
		}
		if at, ok := byVIN[vin]; ok {
			out[at] = r
			continue
		}
		byVIN[vin] = len(out)
		out = append(out, r)
	}
	return out
}

func less(a, b models.VehicleListing) bool {
	switch {
	case a.Price != nil && b.Price != nil && *a.Price != *b.Price:
		return *a.Price < *b.Price
	case a.Price != nil && b.Price == nil:
		return true
	case a.Price == nil && b.Price != nil:
		return false
	}
	return a.VIN < b.VIN
}

func checkVIN(vin string, strict bool) string {
	switch {
	case vin == "":
		return "missing VIN"
	case !reVIN.MatchString(vin):
		return "malformed VIN"
	case strict && len(vin) != 17:
		return "VIN is not 17 characters"
	}
	return ""
}

// parseNumber reads values like "$48,215", "12.4 mi" or "48215.00".
// Anything it cannot read is unknown.
func parseNumber(s string) *float64 {
	val := reNumber.ReplaceAllString(s, "")
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func nonNegative(f *float64) *float64 {
	if f == nil || *f < 0 {
		return nil
	}
	return f
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" || base == nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	return base.ResolveReference(ref).String()
}

func expandShipping(code string) string {
	code = strings.TrimSpace(code)
	if s, ok := shippingStatus[strings.ToUpper(code)]; ok {
		return s
	}
	return code
}

// formatOptions de-duplicates and sorts a separator joined option list.
func formatOptions(raw string) string {
	seen := make(map[string]bool)
	var opts []string
	for _, o := range strings.Split(raw, "|") {
		o = clean(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		opts = append(opts, o)
	}
	sort.Strings(opts)
	return strings.Join(opts, optionSeparator)
}
