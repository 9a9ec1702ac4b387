/*
Package sqldb provides a SQL-backed implementation of intake.TxStore.

PURPOSE:
  Persists entries and the per-date ledger in one relational database so
  both collaborators can share a transaction. The same statements run on
  SQLite and PostgreSQL; only placeholders and connection setup differ.

DRIVERS:
  sqlite:   modernc.org/sqlite (pure Go, default)
  sqlite3:  github.com/mattn/go-sqlite3 (cgo)
  postgres: github.com/jackc/pgx/v5/stdlib

KEY TABLES:
  entries:       One row per logged food item (source of truth)
  daily_totals:  date -> total_centi (materialized ledger)

NUMERIC STORAGE:
  Calories and confidence are stored as integer hundredths (*_centi). The
  ledger add is then an exact integer addition performed by the database:

    INSERT INTO daily_totals (date, total_centi) VALUES (?, ?)
    ON CONFLICT (date) DO UPDATE
      SET total_centi = daily_totals.total_centi + excluded.total_centi
    RETURNING total_centi

  One statement, so concurrent increments on the same date never lose
  updates regardless of isolation level.

LISTING ORDER:
  ORDER BY date ASC, timestamp DESC, id ASC. Dates are stored as
  YYYY-MM-DD and timestamps in a fixed-width layout, so text order equals
  chronological order on both engines.

SQLITE CONNECTIONS:
  SQLite is opened with a single connection (SetMaxOpenConns(1)) and WAL.
  This serializes writers in-process and keeps ":memory:" databases alive
  for the lifetime of the Store. Code running inside WithTx must only use
  the transaction view it is given.

LEDGER LOCK:
  On Postgres, LockLedger takes SHARE ROW EXCLUSIVE on daily_totals. That
  conflicts with the ROW EXCLUSIVE lock every increment takes, so no other
  transaction can change the ledger (or commit a mutation that would) until
  the locking transaction ends. Plain reads are not blocked. On SQLite the
  single connection already gives the transaction exclusive access.

USAGE:
  s, err := sqldb.Open(ctx, sqldb.DriverSQLite, "./intake.db")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

SEE ALSO:
  - intake/store.go: Interface definitions
  - intake/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
	_ "modernc.org/sqlite" // registers "sqlite"
)

// Supported driver names (the values accepted by Open).
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
)

// Dialect captures the few differences between engines.
type Dialect struct {
	Name       string
	SQLDriver  string
	Positional bool // $1, $2 ... instead of ?
}

var dialects = map[string]Dialect{
	DriverSQLite:   {Name: DriverSQLite, SQLDriver: "sqlite"},
	DriverSQLite3:  {Name: DriverSQLite3, SQLDriver: "sqlite3"},
	DriverPostgres: {Name: DriverPostgres, SQLDriver: "pgx", Positional: true},
}

// LookupDialect returns the dialect for a driver name.
func LookupDialect(driver string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported storage driver %q", driver)
	}
	return d, nil
}

func (d Dialect) sqlite() bool { return !d.Positional }

// rebind rewrites ? placeholders to $n for positional dialects.
func (d Dialect) rebind(query string) string {
	if !d.Positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// STORE
// =============================================================================

// Store implements intake.TxStore on database/sql.
type Store struct {
	conn
	db *sql.DB
}

// Open connects with the named driver, configures the connection pool and
// applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := LookupDialect(driver)
	if err != nil {
		return nil, err
	}

	if dialect.sqlite() && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := sql.Open(dialect.SQLDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := New(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open *sql.DB and migrates it.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if dialect.sqlite() {
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				return nil, fmt.Errorf("exec pragma %q: %w", p, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}

	s := &Store{conn: conn{q: db, dialect: dialect}, db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the engine this store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			date TEXT NOT NULL,
			meal_type TEXT NOT NULL,
			item TEXT NOT NULL,
			quantity TEXT NOT NULL DEFAULT '',
			calories_centi BIGINT NOT NULL DEFAULT 0,
			confidence_centi BIGINT NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL DEFAULT ''
		)`,

		// Listing and range scans (hot path)
		`CREATE INDEX IF NOT EXISTS idx_entries_date_timestamp
			ON entries(date, timestamp DESC, id)`,

		`CREATE TABLE IF NOT EXISTS daily_totals (
			date TEXT PRIMARY KEY,
			total_centi BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (intake.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(intake.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&conn{q: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// QUERIES - Shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q       querier
	dialect Dialect
}

const entryColumns = `id, timestamp, date, meal_type, item, quantity,
	calories_centi, confidence_centi, source, raw_text`

func (c *conn) InsertEntry(ctx context.Context, e intake.Entry) (intake.Entry, error) {
	calories, confidence, err := amounts(e)
	if err != nil {
		return intake.Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	e.ID = intake.EntryID(uuid.NewString())

	query := `INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = c.q.ExecContext(ctx, c.dialect.rebind(query),
		string(e.ID),
		intake.FormatTimestamp(e.Timestamp),
		e.Date.String(),
		string(e.MealType),
		e.Item,
		e.Quantity,
		calories,
		confidence,
		e.Source,
		e.RawText,
	)
	if err != nil {
		return intake.Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	return e, nil
}

func (c *conn) GetEntry(ctx context.Context, id intake.EntryID) (intake.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = ?`
	e, err := scanEntry(c.q.QueryRowContext(ctx, c.dialect.rebind(query), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return intake.Entry{}, &intake.NotFoundError{EntryID: id}
	}
	if err != nil {
		return intake.Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

func (c *conn) ReplaceEntry(ctx context.Context, e intake.Entry) error {
	calories, confidence, err := amounts(e)
	if err != nil {
		return fmt.Errorf("failed to replace entry: %w", err)
	}
	query := `UPDATE entries
		SET timestamp = ?, date = ?, meal_type = ?, item = ?, quantity = ?,
		    calories_centi = ?, confidence_centi = ?, source = ?, raw_text = ?
		WHERE id = ?`
	res, err := c.q.ExecContext(ctx, c.dialect.rebind(query),
		intake.FormatTimestamp(e.Timestamp),
		e.Date.String(),
		string(e.MealType),
		e.Item,
		e.Quantity,
		calories,
		confidence,
		e.Source,
		e.RawText,
		string(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to replace entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to replace entry: %w", err)
	}
	if n == 0 {
		return &intake.NotFoundError{EntryID: e.ID}
	}
	return nil
}

// DeleteEntry removes and returns the row in one statement.
func (c *conn) DeleteEntry(ctx context.Context, id intake.EntryID) (intake.Entry, error) {
	query := `DELETE FROM entries WHERE id = ? RETURNING ` + entryColumns
	e, err := scanEntry(c.q.QueryRowContext(ctx, c.dialect.rebind(query), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return intake.Entry{}, &intake.NotFoundError{EntryID: id}
	}
	if err != nil {
		return intake.Entry{}, fmt.Errorf("failed to delete entry: %w", err)
	}
	return e, nil
}

func (c *conn) ListEntries(ctx context.Context, f intake.EntryFilter) ([]intake.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != nil {
		where = append(where, "date = ?")
		args = append(args, f.Date.String())
	}
	if f.Range != nil {
		where = append(where, "date >= ? AND date <= ?")
		args = append(args, f.Range.Start.String(), f.Range.End.String())
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, timestamp DESC, id ASC"
	if f.Limit > 0 || f.Offset > 0 {
		limit := int64(f.Limit)
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, int64(f.Offset))
	}

	rows, err := c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []intake.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// LEDGER (intake.TotalLedger interface)
// =============================================================================

// LockLedger implements intake.LedgerLocker. Only valid inside WithTx.
func (c *conn) LockLedger(ctx context.Context) error {
	if c.dialect.sqlite() {
		return nil
	}
	if _, ok := c.q.(*sql.Tx); !ok {
		return errors.New("ledger lock requires a transaction")
	}
	if _, err := c.q.ExecContext(ctx, `LOCK TABLE daily_totals IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	return nil
}

func (c *conn) Increment(ctx context.Context, date intake.Date, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `INSERT INTO daily_totals (date, total_centi) VALUES (?, ?)
		ON CONFLICT (date) DO UPDATE
		SET total_centi = daily_totals.total_centi + excluded.total_centi
		RETURNING total_centi`

	centi, err := intake.Centi(delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to increment total for %s: %w", date, err)
	}
	var total int64
	err = c.q.QueryRowContext(ctx, c.dialect.rebind(query), date.String(), centi).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to increment total for %s: %w", date, err)
	}
	return intake.FromCenti(total), nil
}

func (c *conn) Total(ctx context.Context, date intake.Date) (decimal.Decimal, error) {
	var total int64
	err := c.q.QueryRowContext(ctx,
		c.dialect.rebind(`SELECT total_centi FROM daily_totals WHERE date = ?`),
		date.String(),
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read total for %s: %w", date, err)
	}
	return intake.FromCenti(total), nil
}

func (c *conn) Totals(ctx context.Context, r intake.DateRange) ([]intake.DailyTotal, error) {
	query := `SELECT date, total_centi FROM daily_totals
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC`
	rows, err := c.q.QueryContext(ctx, c.dialect.rebind(query), r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	result := []intake.DailyTotal{}
	for rows.Next() {
		var (
			date  string
			total int64
		)
		if err := rows.Scan(&date, &total); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		d, err := intake.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger date %q: %w", date, err)
		}
		result = append(result, intake.DailyTotal{Date: d, TotalCalories: intake.FromCenti(total)})
	}
	return result, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

// amounts converts the entry's calories and confidence to hundredths.
func amounts(e intake.Entry) (calories, confidence int64, err error) {
	if calories, err = intake.Centi(e.Calories); err != nil {
		return 0, 0, err
	}
	if confidence, err = intake.Centi(e.Confidence); err != nil {
		return 0, 0, err
	}
	return calories, confidence, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (intake.Entry, error) {
	var (
		e               intake.Entry
		id              string
		timestamp       string
		date            string
		mealType        string
		caloriesCenti   int64
		confidenceCenti int64
	)

	err := row.Scan(
		&id, &timestamp, &date, &mealType, &e.Item, &e.Quantity,
		&caloriesCenti, &confidenceCenti, &e.Source, &e.RawText,
	)
	if err != nil {
		return e, err
	}

	e.ID = intake.EntryID(id)
	e.MealType = intake.MealType(mealType)
	e.Calories = intake.FromCenti(caloriesCenti)
	e.Confidence = intake.FromCenti(confidenceCenti)

	if e.Timestamp, err = intake.ParseTimestamp(timestamp); err != nil {
		return e, fmt.Errorf("corrupt timestamp %q: %w", timestamp, err)
	}
	if e.Date, err = intake.ParseDate(date); err != nil {
		return e, fmt.Errorf("corrupt date %q: %w", date, err)
	}
	return e, nil
}

var (
	_ intake.TxStore      = (*Store)(nil)
	_ intake.Store        = (*conn)(nil)
	_ intake.LedgerLocker = (*conn)(nil)
)
