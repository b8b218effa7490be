package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mspro-labs/sienna-grabber/internal/models"
)

// ListSeparator joins multi-valued fields such as options.
const ListSeparator = " | "

// Extractor turns one fetched payload into raw listings keyed by the
// canonical field names. All knowledge of the site's markup lives behind it.
type Extractor interface {
	Extract(payload []byte) ([]models.RawListing, error)
}

// SummaryExtractor reads the vehicleSummary list of a locateVehiclesByZip
// GraphQL response.
type SummaryExtractor struct {
	// Fields maps canonical keys to dotted paths in a vehicle summary.
	Fields map[string]string
}

type graphqlResponse struct {
	Data *struct {
		LocateVehiclesByZip map[string]json.RawMessage `json:"locateVehiclesByZip"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (x SummaryExtractor) Extract(payload []byte) ([]models.RawListing, error) {
	var res graphqlResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %v", ErrStructure, err)
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: graphql errors: %s", ErrStructure, strings.Join(msgs, "; "))
	}
	if res.Data == nil || res.Data.LocateVehiclesByZip == nil {
		return nil, fmt.Errorf("%w: data.locateVehiclesByZip missing", ErrStructure)
	}
	rawSummary, ok := res.Data.LocateVehiclesByZip["vehicleSummary"]
	if !ok {
		return nil, fmt.Errorf("%w: vehicleSummary missing", ErrStructure)
	}

	var vehicles []map[string]any
	dec := json.NewDecoder(bytes.NewReader(rawSummary))
	dec.UseNumber()
	if err := dec.Decode(&vehicles); err != nil {
		return nil, fmt.Errorf("%w: vehicleSummary is not a list of objects: %v", ErrStructure, err)
	}

	listings := make([]models.RawListing, 0, len(vehicles))
	for _, v := range vehicles {
		flat := make(models.RawListing)
		flatten("", v, flat)
		listings = append(listings, mapFields(flat, x.Fields))
	}
	return listings, nil
}

// mapFields renames the configured paths to canonical keys and keeps every
// other flattened value under its own path.
func mapFields(flat models.RawListing, fields map[string]string) models.RawListing {
	out := make(models.RawListing, len(flat))
	for k, v := range flat {
		out[k] = v
	}
	for canonical, path := range fields {
		v, ok := flat[path]
		if path != canonical {
			delete(out, path)
		}
		if ok {
			out[canonical] = v
		}
	}
	return out
}

// flatten writes nested JSON values under dotted keys, e.g. price.totalMsrp.
// Lists collapse into one ListSeparator-joined value of their labels.
func flatten(prefix string, v any, out models.RawListing) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []any:
		var labels []string
		for _, item := range val {
			if l := label(item); l != "" {
				labels = append(labels, l)
			}
		}
		if len(labels) > 0 {
			out[prefix] = strings.Join(labels, ListSeparator)
		}
	case nil:
	default:
		if s := scalar(val); s != "" {
			out[prefix] = s
		}
	}
}

func label(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return scalar(item)
	}
	for _, key := range []string{"marketingName", "marketingLongName", "name", "title"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
