package storage

import (
	"encoding/json"
	"io"
	"time"

	"mspro-labs/sienna-grabber/internal/models"
)

// Snapshot is the JSON document kept next to the CSV. Listings hold every
// flattened field the site returned, unvalidated.
type Snapshot struct {
	Model     string              `json:"model"`
	ZipCode   string              `json:"zipCode"`
	Distance  int                 `json:"distance"`
	ScrapedAt time.Time           `json:"scrapedAt"`
	Listings  []models.RawListing `json:"listings"`
}

// RawWriter saves the run snapshot as indented JSON.
type RawWriter struct {
	path string
}

func NewRawWriter(path string) *RawWriter {
	return &RawWriter{path: path}
}

func (w *RawWriter) Path() string { return w.path }

func (w *RawWriter) Write(snap Snapshot) error {
	if snap.Listings == nil {
		snap.Listings = []models.RawListing{}
	}
	return writeAtomic(w.path, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	})
}
