package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for side-effects only

	"mspro-labs/sienna-grabber/internal/models"
)

// Connect opens a connection to the SQLite database and ensures the schema exists.
// It automatically applies recommended settings for concurrency (WAL mode).
func Connect(dbPath string) (*sql.DB, error) {
	// Use robust connection settings to prevent "database locked" errors
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err = createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// createSchema is private as it's only called by Connect.
func createSchema(db *sql.DB) error {
	listingTable := `
	CREATE TABLE IF NOT EXISTS listing (
	  vin TEXT PRIMARY KEY,
	  model TEXT NOT NULL,
	  price REAL,
	  trim TEXT,
	  mileage INTEGER,
	  dealer_name TEXT,
	  url TEXT,
	  year INTEGER,
	  exterior_color TEXT,
	  interior_color TEXT,
	  distance REAL,
	  shipping_status TEXT,
	  options TEXT,
	  first_seen_at TIMESTAMP NOT NULL,
	  last_seen_at TIMESTAMP NOT NULL,
	  is_active INTEGER DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_listing_model_active ON listing(model, is_active);
	`
	_, err := db.Exec(listingTable)
	return err
}

// MarkAllAsInactive sets is_active=0 for every listing of the model.
// SaveListings calls it inside its transaction before the upserts.
func MarkAllAsInactive(ctx context.Context, tx *sql.Tx, model string) error {
	_, err := tx.ExecContext(ctx, `UPDATE listing SET is_active = 0 WHERE model = ? AND is_active = 1;`, model)
	if err != nil {
		return fmt.Errorf("failed to mark %s listings as inactive: %w", model, err)
	}
	return nil
}

// SaveListings replaces the active set of the model with the listings of one
// run in a single transaction: the model's rows are marked inactive, then the
// listings are upserted. Saved listings become active again and keep their
// first_seen_at. On error nothing changes.
func SaveListings(db *sql.DB, model string, listings []models.VehicleListing) (int64, error) {
	upsertSQL := `
	INSERT INTO listing (
	  vin, model, price, trim, mileage, dealer_name, url, year, exterior_color, interior_color,
	  distance, shipping_status, options, first_seen_at, last_seen_at, is_active
	) VALUES (
	  ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
	  ?, ?, ?, ?, ?, 1
	) ON CONFLICT(vin) DO UPDATE SET
	  model = excluded.model,
	  price = excluded.price,
	  trim = excluded.trim,
	  mileage = excluded.mileage,
	  dealer_name = excluded.dealer_name,
	  url = excluded.url,
	  year = excluded.year,
	  exterior_color = excluded.exterior_color,
	  interior_color = excluded.interior_color,
	  distance = excluded.distance,
	  shipping_status = excluded.shipping_status,
	  options = excluded.options,
	  last_seen_at = excluded.last_seen_at,
	  is_active = 1;
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	if err := MarkAllAsInactive(ctx, tx, model); err != nil {
		tx.Rollback()
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	var totalAffected int64 = 0
	for _, l := range listings {
		seen := l.ScrapedAt.UTC()
		res, err := stmt.ExecContext(ctx,
			l.VIN,
			model,
			nullFloat(l.Price),
			nullString(l.Trim),
			nullInt(l.Mileage),
			nullString(l.DealerName),
			nullString(l.URL),
			sql.NullInt64{Int64: int64(l.Year), Valid: l.Year > 0},
			nullString(l.ExteriorColor),
			nullString(l.InteriorColor),
			nullFloat(l.Distance),
			nullString(l.ShippingStatus),
			nullString(l.Options),
			seen,
			seen,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to upsert %s: %w", l.VIN, err)
		}
		rows, _ := res.RowsAffected()
		totalAffected += rows
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return totalAffected, nil
}

// ActiveCount returns how many listings of the model the last run saw.
func ActiveCount(db *sql.DB, model string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM listing WHERE model = ? AND is_active = 1`, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active %s listings: %w", model, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
