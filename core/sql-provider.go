package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Schema is the SQLite layout of the routing table written by the site build.
// The CHECK constraints are the ingestion-side guard of the closed vocabularies.
const Schema = `
CREATE TABLE IF NOT EXISTS uris (
	uri TEXT PRIMARY KEY,
	action TEXT NOT NULL CHECK (action IN ('RESOURCE', 'REDIRECT', 'DELETION')),
	cache TEXT NOT NULL CHECK (cache IN ('NONE', 'INSTANT', 'SHORT', 'MEDIUM', 'LONG', 'INDEFINITE'))
);
CREATE TABLE IF NOT EXISTS resources (
	uri TEXT PRIMARY KEY REFERENCES uris(uri),
	type TEXT NOT NULL,
	etag TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS encodings (
	uri TEXT REFERENCES uris(uri),
	encoding TEXT NOT NULL,
	location TEXT NOT NULL CHECK (location IN ('DATABASE', 'FILESYSTEM')),
	data BLOB,
	length INTEGER NOT NULL,
	UNIQUE (uri, encoding)
);
CREATE TABLE IF NOT EXISTS redirects (
	uri TEXT PRIMARY KEY REFERENCES uris(uri),
	type TEXT NOT NULL CHECK (type IN ('TEMPORARY', 'PERMANENT')),
	location TEXT NOT NULL
);
`

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name        string
	placeholder func(n int) string
	txOptions   *sql.TxOptions
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	// both reads of a request must see one table state
	txOptions: &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead},
}

// SQLRoutes is a routing table stored in a SQL database.
type SQLRoutes struct {
	db      *sql.DB
	dialect dialect
	cb      *gobreaker.TwoStepCircuitBreaker

	payloadQuery string
}

// NewSQLiteRoutes opens the SQLite routing table at filename.
// The connection is query-only.
func NewSQLiteRoutes(filename string) (*SQLRoutes, error) {
	if filename == "" {
		filename = "database.db"
	}
	sep := "?"
	if strings.Contains(filename, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", filename+sep+"_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", filename, err)
	}
	return newSQLRoutes(db, sqliteDialect, nil), nil
}

// NewPostgresRoutes connects to the Postgres routing table.
// Read failures trip a circuit breaker; while it is open requests fail without
// touching the database.
func NewPostgresRoutes(connStr string) (*SQLRoutes, error) {
	if connStr == "" {
		return nil, fmt.Errorf("connection string is required for the postgres provider")
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLRoutes(db, postgresDialect, newBreaker("routes-postgres")), nil
}

// newBreaker counts one sample per request: the request fails if beginning the
// read or any query of its snapshot fails.
func newBreaker(name string) *gobreaker.TwoStepCircuitBreaker {
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Routing table breaker changed state")
		},
	})
}

func newSQLRoutes(db *sql.DB, d dialect, cb *gobreaker.TwoStepCircuitBreaker) *SQLRoutes {
	return &SQLRoutes{
		db:      db,
		dialect: d,
		cb:      cb,
		payloadQuery: fmt.Sprintf(
			"SELECT data FROM encodings WHERE uri = %s AND encoding = %s",
			d.placeholder(1), d.placeholder(2)),
	}
}

// Dialect returns the name of the SQL engine.
func (s *SQLRoutes) Dialect() string {
	return s.dialect.name
}

// Open begins a read transaction for one request.
func (s *SQLRoutes) Open(ctx context.Context) (Snapshot, error) {
	snap := &sqlSnapshot{routes: s}
	if s.cb != nil {
		done, err := s.cb.Allow()
		if err != nil {
			return nil, fmt.Errorf("begin read: %w", err)
		}
		snap.done = done
	}
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions)
	if err != nil {
		snap.report(err)
		snap.finish()
		return nil, fmt.Errorf("begin read: %w", err)
	}
	snap.tx = tx
	return snap, nil
}

func (s *SQLRoutes) Close() error {
	return s.db.Close()
}

func (s *SQLRoutes) entriesSQL(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = s.dialect.placeholder(i + 1)
	}
	return `SELECT
		uris.uri, uris.action, uris.cache,
		resources.type, resources.etag,
		encodings.encoding, encodings.location,
		CASE WHEN encodings.location = 'FILESYSTEM' THEN encodings.data END,
		encodings.length,
		redirects.type, redirects.location
	FROM uris
		LEFT JOIN resources ON uris.uri = resources.uri
		LEFT JOIN encodings ON uris.uri = encodings.uri
		LEFT JOIN redirects ON uris.uri = redirects.uri
	WHERE uris.uri IN (` + strings.Join(marks, ", ") + `)
	ORDER BY uris.uri, encodings.length`
}

type sqlSnapshot struct {
	routes *SQLRoutes
	tx     *sql.Tx
	done   func(success bool)
	failed bool
}

// report marks the snapshot failed for the breaker. Cancelled requests and
// corrupt rows say nothing about the database's health.
func (s *sqlSnapshot) report(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCorruptRow) {
		s.failed = true
	}
	return err
}

func (s *sqlSnapshot) finish() {
	if s.done != nil {
		s.done(!s.failed)
		s.done = nil
	}
}

// routeRow is one row of the four-way join; a path yields one row per variant.
type routeRow struct {
	uri, action, cache             string
	typ, etag                      sql.NullString
	encoding, location, external   sql.NullString
	length                         sql.NullInt64
	redirectType, redirectLocation sql.NullString
}

func (s *sqlSnapshot) Entries(ctx context.Context, paths ...string) ([]Entry, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	rows, err := s.tx.QueryContext(ctx, s.routes.entriesSQL(len(paths)), args...)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", s.report(err))
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var r routeRow
		if err := rows.Scan(
			&r.uri, &r.action, &r.cache,
			&r.typ, &r.etag,
			&r.encoding, &r.location, &r.external, &r.length,
			&r.redirectType, &r.redirectLocation,
		); err != nil {
			return nil, fmt.Errorf("scan route: %w", s.report(err))
		}
		if n := len(entries); n > 0 && entries[n-1].Path == r.uri {
			if err := appendVariant(&entries[n-1], r); err != nil {
				return nil, err
			}
			continue
		}
		e, err := entryFromRow(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read routes: %w", s.report(err))
	}
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func entryFromRow(r routeRow) (Entry, error) {
	e := Entry{Path: r.uri}
	action, err := ParseAction(r.action)
	if err != nil {
		return e, fmt.Errorf("%s: %w", r.uri, err)
	}
	if e.Cache, err = ParseCachePolicy(r.cache); err != nil {
		return e, fmt.Errorf("%s: %w", r.uri, err)
	}
	switch action {
	case ActionServe:
		if !r.typ.Valid {
			return e, corrupt("%s: servable path without resource row", r.uri)
		}
		e.Disposition = Serve{ContentType: r.typ.String}
		err := appendVariant(&e, r)
		return e, err
	case ActionRedirect:
		durability, err := ParseDurability(r.redirectType.String)
		if err != nil {
			return e, fmt.Errorf("%s: %w", r.uri, err)
		}
		e.Disposition = Redirect{Durability: durability, Target: r.redirectLocation.String}
	case ActionGone:
		e.Disposition = Gone{}
	}
	if r.encoding.Valid {
		return e, corrupt("%s: %s path with variants", r.uri, action)
	}
	return e, nil
}

func appendVariant(e *Entry, r routeRow) error {
	if !r.encoding.Valid {
		return nil
	}
	serve, ok := e.Disposition.(Serve)
	if !ok {
		return corrupt("%s: %s path with variants", e.Path, e.Disposition.Action())
	}
	storage, err := ParseStorageKind(r.location.String)
	if err != nil {
		return fmt.Errorf("%s: %w", e.Path, err)
	}
	serve.Variants = append(serve.Variants, Variant{
		Validator: r.etag.String,
		Encoding:  r.encoding.String,
		Storage:   storage,
		Location:  r.external.String,
		Length:    r.length.Int64,
	})
	e.Disposition = serve
	return nil
}

func (s *sqlSnapshot) Payload(ctx context.Context, path, encoding string) ([]byte, error) {
	var data []byte
	err := s.tx.QueryRowContext(ctx, s.routes.payloadQuery, path, encoding).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corrupt("%s: no %q variant", path, encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", s.report(err))
	}
	return data, nil
}

// Close ends the read transaction. Closing twice is a no-op.
func (s *sqlSnapshot) Close() error {
	defer s.finish()
	// read-only; nothing to commit
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
