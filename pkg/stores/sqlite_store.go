package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/loomengine/loom/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the SQLite-backed event journal. It implements
// engine.EventSink.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	attachID *string
}

var _ engine.EventSink = (*SQLiteStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new journal instance. Init must be called
// before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded schema.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BindAttach associates subsequently journalled events with an attach.
func (s *SQLiteStore) BindAttach(id string) {
	s.attachID = &id
}

// Record journals one load event. It implements engine.EventSink.
func (s *SQLiteStore) Record(ctx context.Context, ev engine.LoadEvent) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	rules, err := json.Marshal(ev.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	query := `
		INSERT INTO load_events (id, attach_id, type, unit_name, context_name, rules, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(),
		s.attachID,
		string(ev.Type),
		ev.UnitName,
		ev.ContextName,
		string(rules),
		ev.Error,
		occurred.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to journal event: %w", err)
	}
	return nil
}

// ListEvents retrieves journalled events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*EventRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var typ, unit *string
	if filter.Type != "" {
		t := string(filter.Type)
		typ = &t
	}
	if filter.UnitName != "" {
		unit = &filter.UnitName
	}

	query := `
		SELECT id, attach_id, type, unit_name, context_name, rules, error, occurred_at
		FROM load_events
		WHERE (? IS NULL OR type = ?)
		  AND (? IS NULL OR unit_name = ?)
		ORDER BY occurred_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, typ, typ, unit, unit, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		rec := &EventRecord{}
		var rules string
		if err := rows.Scan(
			&rec.ID,
			&rec.AttachID,
			&rec.Type,
			&rec.UnitName,
			&rec.ContextName,
			&rules,
			&rec.Error,
			&rec.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(rules), &rec.Rules); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// CountEventsByType returns how many events of each type are journalled.
func (s *SQLiteStore) CountEventsByType(ctx context.Context) (map[engine.LoadEventType]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM load_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.LoadEventType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[engine.LoadEventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// CreateAttach journals a successful attach.
func (s *SQLiteStore) CreateAttach(ctx context.Context, res *engine.AttachResult) error {
	dropped, err := json.Marshal(res.Dropped)
	if err != nil {
		return fmt.Errorf("failed to encode dropped plugins: %w", err)
	}

	query := `
		INSERT INTO attaches (id, plugins, rules, dropped, attached_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		res.ID,
		res.Plugins,
		res.Rules,
		string(dropped),
		res.AttachedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to journal attach: %w", err)
	}
	s.BindAttach(res.ID)
	return nil
}

// MarkDetached records the detach time on an attach record.
func (s *SQLiteStore) MarkDetached(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE attaches SET detached_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark detach: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attach not found: %s", id)
	}
	return nil
}

// GetAttach retrieves one attach record by ID.
func (s *SQLiteStore) GetAttach(ctx context.Context, id string) (*AttachRecord, error) {
	query := `
		SELECT id, plugins, rules, dropped, attached_at, detached_at
		FROM attaches
		WHERE id = ?
	`
	rec := &AttachRecord{}
	var dropped string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Plugins,
		&rec.Rules,
		&dropped,
		&rec.AttachedAt,
		&rec.DetachedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attach not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attach: %w", err)
	}
	if err := json.Unmarshal([]byte(dropped), &rec.Dropped); err != nil {
		return nil, fmt.Errorf("failed to decode dropped plugins: %w", err)
	}
	return rec, nil
}

// ListAttaches lists attach records, newest first.
func (s *SQLiteStore) ListAttaches(ctx context.Context, limit, offset int) ([]*AttachRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, plugins, rules, dropped, attached_at, detached_at
		FROM attaches
		ORDER BY attached_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attaches: %w", err)
	}
	defer rows.Close()

	records := []*AttachRecord{}
	for rows.Next() {
		rec := &AttachRecord{}
		var dropped string
		if err := rows.Scan(
			&rec.ID,
			&rec.Plugins,
			&rec.Rules,
			&dropped,
			&rec.AttachedAt,
			&rec.DetachedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attach: %w", err)
		}
		if err := json.Unmarshal([]byte(dropped), &rec.Dropped); err != nil {
			return nil, fmt.Errorf("failed to decode dropped plugins: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attaches: %w", err)
	}
	return records, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
