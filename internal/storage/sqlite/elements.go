// Package sqlite persists fetched orbital element sets so the satellite
// feed can start while its provider is unreachable.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/akaris/globetrack/internal/orbit"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// ElementStorage is a SQLite-backed element-set cache.
type ElementStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewElementStorage opens (or creates) the cache database at dbPath.
func NewElementStorage(dbPath string, log *logger.Logger) (*ElementStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &ElementStorage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection.
func (s *ElementStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS element_sets (
			catalog_id TEXT PRIMARY KEY,
			name TEXT,
			line1 TEXT NOT NULL,
			line2 TEXT NOT NULL,
			inclination_deg REAL,
			mean_motion REAL,
			period_min REAL,
			orbit_class TEXT,
			military INTEGER DEFAULT 0,
			fetched_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create element_sets table: %w", err)
	}
	return nil
}

// SaveElements replaces the cached catalog with a freshly fetched one.
// The whole swap runs in one transaction so a reader never sees a
// half-written catalog.
func (s *ElementStorage) SaveElements(ctx context.Context, fetched time.Time, elements []orbit.Element) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM element_sets"); err != nil {
		return fmt.Errorf("failed to clear element_sets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO element_sets
			(catalog_id, name, line1, line2, inclination_deg, mean_motion,
			 period_min, orbit_class, military, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, el := range elements {
		military := 0
		if el.Military {
			military = 1
		}
		if _, err := stmt.ExecContext(ctx,
			el.CatalogID, el.Name, el.Line1, el.Line2,
			el.InclinationDeg, el.MeanMotion, el.PeriodMin,
			string(el.Class), military, fetched.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert element set %s: %w", el.CatalogID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit element sets: %w", err)
	}

	s.logger.Info("Cached element sets",
		logger.Int("count", len(elements)))
	return nil
}

// LoadElements returns the cached catalog and when it was fetched.
func (s *ElementStorage) LoadElements(ctx context.Context) (time.Time, []orbit.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT catalog_id, name, line1, line2, inclination_deg, mean_motion,
		       period_min, orbit_class, military, fetched_at
		FROM element_sets
		ORDER BY catalog_id
	`)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to query element_sets: %w", err)
	}
	defer rows.Close()

	var (
		elements []orbit.Element
		fetched  time.Time
	)
	for rows.Next() {
		var (
			el       orbit.Element
			class    string
			military int
			at       time.Time
		)
		if err := rows.Scan(&el.CatalogID, &el.Name, &el.Line1, &el.Line2,
			&el.InclinationDeg, &el.MeanMotion, &el.PeriodMin,
			&class, &military, &at); err != nil {
			return time.Time{}, nil, fmt.Errorf("failed to scan element set: %w", err)
		}
		el.Class = units.OrbitClass(class)
		el.Military = military != 0
		if at.After(fetched) {
			fetched = at
		}
		elements = append(elements, el)
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to read element_sets: %w", err)
	}
	return fetched, elements, nil
}
