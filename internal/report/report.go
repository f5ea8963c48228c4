// Package report persists conversion runs and the anomalies they recovered
// from into a SQLite database, so repeated conversions of a large asset
// library can be audited afterwards.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openeq/eqconvert/internal/scene"
)

// Database is a connection to the conversion report database.
type Database struct {
	db   *sql.DB
	path string
}

// Options configures report database creation and connection behavior.
type Options struct {
	// Path to the SQLite database file. ":memory:" is accepted.
	Path string

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	WALMode bool

	// BusyTimeout sets the timeout for locked database operations.
	BusyTimeout time.Duration
}

// DefaultOptions returns sensible defaults for report connections.
func DefaultOptions(path string) *Options {
	return &Options{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 30 * time.Second,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	zone        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	materials   INTEGER NOT NULL,
	objects     INTEGER NOT NULL,
	meshes      INTEGER NOT NULL,
	vertices    INTEGER NOT NULL,
	triangles   INTEGER NOT NULL,
	placeables  INTEGER NOT NULL,
	lights      INTEGER NOT NULL,
	anomalies   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	kind   TEXT NOT NULL,
	entity TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anomalies_run ON anomalies(run_id);
`

// New opens (creating if necessary) the report database and ensures the
// schema exists.
func New(options *Options) (*Database, error) {
	if options == nil {
		return nil, fmt.Errorf("report options cannot be nil")
	}
	if options.Path == "" {
		return nil, fmt.Errorf("report database path cannot be empty")
	}

	if err := ensureDirectory(options.Path); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	db, err := sql.Open("sqlite3", buildConnectionString(options))
	if err != nil {
		return nil, fmt.Errorf("opening report database %s: %w", options.Path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("testing report database connection: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating report schema: %w", err)
	}

	return &Database{db: db, path: options.Path}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("closing report database: %w", err)
	}
	return nil
}

// Run summarizes one zone conversion for persistence.
type Run struct {
	Zone       string
	StartedAt  time.Time
	Duration   time.Duration
	Materials  int
	Objects    int
	Meshes     int
	Vertices   int
	Triangles  int
	Placeables int
	Lights     int
}

// RecordRun inserts a run row plus one row per recovered anomaly, in a
// single transaction.
func (d *Database) RecordRun(ctx context.Context, run *Run, anomalies []scene.Anomaly) error {
	if d.db == nil {
		return fmt.Errorf("report database is closed")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting report transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (zone, started_at, duration_ms, materials, objects, meshes,
			vertices, triangles, placeables, lights, anomalies)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Zone,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.Duration.Milliseconds(),
		run.Materials,
		run.Objects,
		run.Meshes,
		run.Vertices,
		run.Triangles,
		run.Placeables,
		run.Lights,
		len(anomalies),
	)
	if err != nil {
		return fmt.Errorf("inserting run for %s: %w", run.Zone, err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading run id: %w", err)
	}

	if len(anomalies) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO anomalies (run_id, kind, entity, detail) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing anomaly insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range anomalies {
			if _, err := stmt.ExecContext(ctx, runID, a.Kind, a.Entity, a.Detail); err != nil {
				return fmt.Errorf("inserting anomaly: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report transaction: %w", err)
	}
	return nil
}

// RunCount returns the number of recorded runs, mostly for verification.
func (d *Database) RunCount(ctx context.Context) (int, error) {
	if d.db == nil {
		return 0, fmt.Errorf("report database is closed")
	}
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

func ensureDirectory(path string) error {
	if path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func buildConnectionString(options *Options) string {
	connStr := options.Path
	sep := "?"
	if options.WALMode && options.Path != ":memory:" {
		connStr += sep + "_journal_mode=WAL"
		sep = "&"
	}
	if options.BusyTimeout > 0 {
		connStr += sep + fmt.Sprintf("_busy_timeout=%d", options.BusyTimeout.Milliseconds())
	}
	return connStr
}
