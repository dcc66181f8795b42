// Package ledger keeps a relational record of generated experiment
// definitions so output image names can be mapped back to raw images without
// parsing them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"stimkit/internal/experiment"
)

// Driver names a ledger backend.
type Driver string

const (
	DriverNone     Driver = "none"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const (
	defaultSQLitePath  = "stimkit-ledger.db"
	defaultPostgresDSN = "postgres://localhost/stimkit?sslmode=disable"
)

var (
	// ErrNotFound is returned when a lookup has no match.
	ErrNotFound = errors.New("not found in ledger")
	// ErrAlreadyRecorded is returned when a (subject, experiment) pair is
	// recorded twice.
	ErrAlreadyRecorded = errors.New("definition already recorded")
	// ErrDisabled is returned by Open for DriverNone.
	ErrDisabled = errors.New("ledger disabled")
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
	nowFunc = func() time.Time { return time.Now().UTC() }
)

// Config selects and locates the backend. DSN is a file path for sqlite.
type Config struct {
	Driver Driver
	DSN    string
}

// Record is one stored definition. Trials are only populated by Get.
type Record struct {
	RunID      string
	Path       string
	RecordedAt time.Time
	Definition experiment.Definition
}

// Store is a ledger backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Driver
}

// Open connects to the configured backend and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case DriverSQLite:
		driverName, dsn = "sqlite", cfg.DSN
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	case DriverPostgres:
		driverName, dsn = "pgx", cfg.DSN
		if dsn == "" {
			dsn = defaultPostgresDSN
		}
	case DriverNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	s := &Store{db: db, dialect: cfg.Driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// RecordDefinition stores def and its trials under a new run id.
func (s *Store) RecordDefinition(ctx context.Context, path string, def experiment.Definition) (runID string, retErr error) {
	var existing string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT run_id FROM definitions WHERE subject_id = ? AND experiment_id = ?`),
		def.SubjectID, def.ExperimentID).Scan(&existing)
	switch {
	case err == nil:
		return "", fmt.Errorf("subject %d experiment %d (run %s): %w", def.SubjectID, def.ExperimentID, existing, ErrAlreadyRecorded)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("check existing: %w", err)
	}

	runID = uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO definitions
		(run_id, path, subject_id, experiment_id, random_seed, trials_per_class, total_trials, version, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, path, def.SubjectID, def.ExperimentID, def.RandomSeed, def.TrialsPerClass, def.TotalTrials,
		strconv.FormatFloat(def.Version, 'f', -1, 64), nowFunc().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("insert definition: %w", err)
	}
	for _, tr := range def.Trials {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO trials
			(run_id, trial_id, image_name, category, full_image_name) VALUES (?, ?, ?, ?, ?)`),
			runID, tr.TrialID, tr.ImageName, tr.Category, tr.FullImageName); err != nil {
			return "", fmt.Errorf("insert trial %d: %w", tr.TrialID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// LookupRawName returns the raw image identifier behind an output image name.
func (s *Store) LookupRawName(ctx context.Context, fullImageName string) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT image_name FROM trials WHERE full_image_name = ? ORDER BY run_id LIMIT 1`),
		fullImageName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", fullImageName, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", fullImageName, err)
	}
	return raw, nil
}

// Definitions lists stored definitions ordered by subject then experiment.
func (s *Store) Definitions(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, path, subject_id, experiment_id, random_seed,
		trials_per_class, total_trials, version, recorded_at
		FROM definitions ORDER BY subject_id, experiment_id`)
	if err != nil {
		return nil, fmt.Errorf("select definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get loads one definition with its trials.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT run_id, path, subject_id, experiment_id, random_seed,
		trials_per_class, total_trials, version, recorded_at
		FROM definitions WHERE run_id = ?`), runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT trial_id, image_name, category, full_image_name
		FROM trials WHERE run_id = ? ORDER BY trial_id`), runID)
	if err != nil {
		return Record{}, fmt.Errorf("select trials: %w", err)
	}
	defer func() { _ = rows.Close() }()
	rec.Definition.Trials = []experiment.Trial{}
	for rows.Next() {
		var tr experiment.Trial
		if err := rows.Scan(&tr.TrialID, &tr.ImageName, &tr.Category, &tr.FullImageName); err != nil {
			return Record{}, fmt.Errorf("scan trial: %w", err)
		}
		rec.Definition.Trials = append(rec.Definition.Trials, tr)
	}
	return rec, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec              Record
		version, created string
	)
	d := &rec.Definition
	if err := sc.Scan(&rec.RunID, &rec.Path, &d.SubjectID, &d.ExperimentID, &d.RandomSeed,
		&d.TrialsPerClass, &d.TotalTrials, &version, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan definition: %w", err)
	}
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse version %q: %w", version, err)
	}
	d.Version = v
	if rec.RecordedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Record{}, fmt.Errorf("parse recorded_at %q: %w", created, err)
	}
	return rec, nil
}

// q rewrites ? placeholders to $n for postgres.
func (s *Store) q(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
