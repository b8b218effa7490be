package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"mspro-labs/sienna-grabber/internal/models"
)

// Header is the fixed column set of the listings CSV.
var Header = []string{"vin", "price", "trim", "mileage", "dealerName", "url", "scrapedAt"}

// CSVWriter saves the listings of one run to a CSV file, replacing whatever
// the previous run left there.
type CSVWriter struct {
	path string
}

func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

func (w *CSVWriter) Path() string { return w.path }

// Write replaces the file with a header and one row per listing. Zero
// listings still produce the header. Errors are *WriteError.
func (w *CSVWriter) Write(listings []models.VehicleListing) error {
	if err := writeAtomic(w.path, func(out io.Writer) error {
		return EncodeCSV(out, listings)
	}); err != nil {
		return err
	}
	logger.Printf("Saved %d listings to %s", len(listings), w.path)
	return nil
}

// EncodeCSV writes the header and listing rows to out.
func EncodeCSV(out io.Writer, listings []models.VehicleListing) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	for _, l := range listings {
		if err := cw.Write(row(l)); err != nil {
			return fmt.Errorf("csv row %s: %w", l.VIN, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv write error: %w", err)
	}
	return nil
}

func row(l models.VehicleListing) []string {
	var price, mileage string
	if l.Price != nil {
		price = strconv.FormatFloat(*l.Price, 'f', 2, 64)
	}
	if l.Mileage != nil {
		mileage = strconv.Itoa(*l.Mileage)
	}
	return []string{
		l.VIN,
		price,
		l.Trim,
		mileage,
		l.DealerName,
		l.URL,
		l.ScrapedAt.UTC().Format(time.RFC3339),
	}
}
