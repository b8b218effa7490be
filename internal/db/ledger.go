package db

import (
	"database/sql"

	"mspro-labs/sienna-grabber/internal/models"
)

// Ledger keeps every listing ever seen per model. Listings missing from the
// latest run stay in the table as inactive rows.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// OpenLedger connects to the SQLite file at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := Connect(path)
	if err != nil {
		return nil, err
	}
	return NewLedger(db), nil
}

// Record replaces the active set of model with listings and returns the new
// active count.
func (l *Ledger) Record(model string, listings []models.VehicleListing) (int, error) {
	if _, err := SaveListings(l.db, model, listings); err != nil {
		return 0, err
	}
	return ActiveCount(l.db, model)
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
