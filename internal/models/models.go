package models

import "time"

// SearchParameters describes one inventory search. It is built once from the
// environment and never changes during a run.
type SearchParameters struct {
	Model         string
	ZipCode       string
	DistanceMiles int
}

// Canonical keys of a RawListing. Extractors map site-specific fields onto
// these; anything else they find is kept under its own key.
const (
	FieldVIN            = "vin"
	FieldPrice          = "price"
	FieldTrim           = "trim"
	FieldMileage        = "mileage"
	FieldDealerName     = "dealerName"
	FieldURL            = "url"
	FieldYear           = "year"
	FieldExteriorColor  = "exteriorColor"
	FieldInteriorColor  = "interiorColor"
	FieldDistance       = "distance"
	FieldShippingStatus = "shippingStatus"
	FieldOptions        = "options"
)

// RawListing holds unvalidated values as scraped. Any key may be missing.
type RawListing map[string]string

// VehicleListing is the canonical record written to the output files.
type VehicleListing struct {
	VIN        string    `json:"vin"`
	Price      *float64  `json:"price"` // nil when unknown
	Trim       string    `json:"trim"`
	Mileage    *int      `json:"mileage"` // nil when unknown
	DealerName string    `json:"dealerName"`
	URL        string    `json:"url"`
	ScrapedAt  time.Time `json:"scrapedAt"`

	// Details kept for the ledger and sync upload.
	Year           int      `json:"year,omitempty"`
	ExteriorColor  string   `json:"exteriorColor,omitempty"`
	InteriorColor  string   `json:"interiorColor,omitempty"`
	Distance       *float64 `json:"distance,omitempty"`
	ShippingStatus string   `json:"shippingStatus,omitempty"`
	Options        string   `json:"options,omitempty"`
}
