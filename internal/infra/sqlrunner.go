package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface shared by the repository and the
// credential store.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrMissingMarker rejects statements that do not open with "--sql <uuid>".
var ErrMissingMarker = errors.New("sql: audit marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// SQLRunner executes marker-tagged statements on a pool and logs each one
// by its marker, never by its text or arguments.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
	// Slow promotes statements taking longer than this to warn level.
	Slow time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, Slow: 250 * time.Millisecond}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt, args...)
	r.observe(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return timedRow{row: r.Pool.QueryRow(ctx, stmt, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, stmt, args...)
	if err != nil {
		r.observe(marker, "query", start, err).Send()
		return nil, err
	}
	return &timedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// observe picks the log level for a finished statement. No-row results are
// ordinary lookups, not failures.
func (r *SQLRunner) observe(marker, op string, start time.Time, err error) *zerolog.Event {
	elapsed := time.Since(start)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.Logger.Error().Err(err)
	case r.Slow > 0 && elapsed > r.Slow:
		ev = r.Logger.Warn().Bool("slow", true)
	default:
		ev = r.Logger.Debug()
	}
	return ev.Str("sql", marker).Str("op", op).Dur("elapsed", elapsed)
}

type timedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (t timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.observe(t.marker, "query_row", t.start, err).Send()
	return err
}

type timedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	n      int
}

func (t *timedRows) Next() bool {
	if t.Rows.Next() {
		t.n++
		return true
	}
	return false
}

func (t *timedRows) Close() {
	t.Rows.Close()
	t.runner.observe(t.marker, "query", t.start, t.Rows.Err()).Int("rows", t.n).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// splitMarker separates the leading marker line from the statement body.
func splitMarker(query string) (marker, stmt string, err error) {
	query = strings.TrimSpace(query)
	first, rest, _ := strings.Cut(query, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", ErrMissingMarker
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", errors.New("sql: empty statement")
	}
	return m[1], rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

// IsNoRows reports whether err signals an empty single-row result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
