package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mspro-labs/sienna-grabber/internal/models"
)

func ptr[T any](v T) *T { return &v }

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// One connection so every query sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, createSchema(db))
	return db
}

func TestSaveListings_Upsert(t *testing.T) {
	db := newTestDB(t)
	monday := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)

	first := models.VehicleListing{
		VIN:        "5TDYRKEC1RS123456",
		Price:      ptr(48215.0),
		Trim:       "XLE",
		DealerName: "Orlando Toyota",
		ScrapedAt:  monday,
		Year:       2024,
	}
	count, err := SaveListings(db, "sienna", []models.VehicleListing{first})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var price float64
	var mileage sql.NullInt64
	var isActive int
	err = db.QueryRow("SELECT price, mileage, is_active FROM listing WHERE vin = ?", first.VIN).Scan(&price, &mileage, &isActive)
	require.NoError(t, err)
	assert.Equal(t, 48215.0, price)
	assert.False(t, mileage.Valid, "unknown mileage is stored as NULL")
	assert.Equal(t, 1, isActive)

	// Seen again the next day at a new price
	second := first
	second.Price = ptr(46999.0)
	second.ScrapedAt = tuesday
	_, err = SaveListings(db, "sienna", []models.VehicleListing{second})
	require.NoError(t, err)

	var firstSeen, lastSeen time.Time
	err = db.QueryRow("SELECT price, first_seen_at, last_seen_at FROM listing WHERE vin = ?", first.VIN).Scan(&price, &firstSeen, &lastSeen)
	require.NoError(t, err)
	assert.Equal(t, 46999.0, price)
	assert.True(t, monday.Equal(firstSeen), "first_seen_at is kept, got %v", firstSeen)
	assert.True(t, tuesday.Equal(lastSeen), "last_seen_at moves, got %v", lastSeen)
}

func TestLedger_Record(t *testing.T) {
	ledger := NewLedger(newTestDB(t))
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	run1 := []models.VehicleListing{
		{VIN: "AAA", ScrapedAt: now},
		{VIN: "BBB", ScrapedAt: now},
	}
	active, err := ledger.Record("sienna", run1)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	// Another model is tracked separately
	active, err = ledger.Record("camry", []models.VehicleListing{{VIN: "CCC", ScrapedAt: now}})
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	// BBB sold, DDD arrived
	run2 := []models.VehicleListing{
		{VIN: "AAA", ScrapedAt: now.Add(time.Hour)},
		{VIN: "DDD", ScrapedAt: now.Add(time.Hour)},
	}
	active, err = ledger.Record("sienna", run2)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	var bbbActive int
	require.NoError(t, ledger.db.QueryRow("SELECT is_active FROM listing WHERE vin = 'BBB'").Scan(&bbbActive))
	assert.Equal(t, 0, bbbActive)

	camry, err := ActiveCount(ledger.db, "camry")
	require.NoError(t, err)
	assert.Equal(t, 1, camry)
}

func TestOpenLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.db")
	ledger, err := OpenLedger(path)
	require.NoError(t, err)
	defer ledger.Close()

	active, err := ledger.Record("sienna", nil)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestSaveListings_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listing SET is_active = 0").
		WithArgs("sienna").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectPrepare("INSERT INTO listing").
		ExpectExec().
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = SaveListings(db, "sienna", []models.VehicleListing{{VIN: "AAA"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert AAA")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllAsInactive_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE listing SET is_active = 0").
		WithArgs("sienna").
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	ledger := NewLedger(db)
	_, err = ledger.Record("sienna", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark sienna listings as inactive")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_FailedRunKeepsPreviousActiveSet(t *testing.T) {
	ledger := NewLedger(newTestDB(t))
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	active, err := ledger.Record("sienna", []models.VehicleListing{
		{VIN: "AAA", ScrapedAt: now},
		{VIN: "BBB", ScrapedAt: now},
	})
	require.NoError(t, err)
	require.Equal(t, 2, active)

	_, err = ledger.db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON listing
		WHEN NEW.vin = 'BAD' BEGIN SELECT RAISE(ABORT, 'bad vin'); END;`)
	require.NoError(t, err)

	_, err = ledger.Record("sienna", []models.VehicleListing{
		{VIN: "AAA", ScrapedAt: now.Add(time.Hour)},
		{VIN: "BAD", ScrapedAt: now.Add(time.Hour)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert BAD")

	active, err = ActiveCount(ledger.db, "sienna")
	require.NoError(t, err)
	assert.Equal(t, 2, active, "the previous run stays active")

	var lastSeen time.Time
	require.NoError(t, ledger.db.QueryRow("SELECT last_seen_at FROM listing WHERE vin = 'AAA'").Scan(&lastSeen))
	assert.True(t, now.Equal(lastSeen), "AAA upsert rolled back, got %v", lastSeen)
}
