package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	// PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore implements the Store interface on top of database/sql.
type SQLStore struct {
	db  *sql.DB
	cfg Config
	sb  squirrel.StatementBuilderType
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new SQL store instance
func NewSQLStore(cfg Config) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var placeholder squirrel.PlaceholderFormat = squirrel.Question
	switch cfg.Driver {
	case DriverSQLite:
	case DriverPostgres:
		placeholder = squirrel.Dollar
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLStore{
		cfg: cfg,
		sb:  squirrel.StatementBuilder.PlaceholderFormat(placeholder),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the database connection and verifies it.
func (s *SQLStore) Init(ctx context.Context) error {
	dsn := s.cfg.DSN
	maxOpen := s.cfg.MaxOpenConns

	if s.cfg.Driver == DriverSQLite {
		pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		if isMemoryDSN(dsn) {
			// every connection to :memory: is a separate database
			maxOpen = 1
		} else {
			pragmas += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = dsn + sep + pragmas
	}

	db, err := sql.Open(s.cfg.Driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver database.Driver
	switch s.cfg.Driver {
	case DriverPostgres:
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, s.cfg.Driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// exec runs a built statement and returns the number of affected rows.
func (s *SQLStore) exec(ctx context.Context, b squirrel.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// queryRow runs a built select expected to return a single row.
func (s *SQLStore) queryRow(ctx context.Context, b squirrel.SelectBuilder) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

// query runs a built select returning many rows.
func (s *SQLStore) query(ctx context.Context, b squirrel.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// update applies the allowed subset of fields to the row with the given id.
func (s *SQLStore) update(ctx context.Context, table, kind, id string, allowed map[string]bool, fields Fields) error {
	set := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if allowed[k] {
			set[k] = v
		}
	}
	set["updated_at"] = s.now()

	n, err := s.exec(ctx, s.sb.Update(table).SetMap(set).Where(squirrel.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// deleteByID removes one row by primary key.
func (s *SQLStore) deleteByID(ctx context.Context, table, kind, id string) error {
	n, err := s.exec(ctx, s.sb.Delete(table).Where(squirrel.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// notFound converts sql.ErrNoRows into ErrNotFound.
func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", kind, err)
}

// mapError translates driver-specific constraint errors into store errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrAlreadyExists)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")) {
			return fmt.Errorf("%s: %w", liteErr.Error(), ErrAlreadyExists)
		}
	}

	return err
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func stamp(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = now
	}
}
