package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*sqlStore
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers; transactions never deadlock on lock
	// upgrades.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{sqlStore: newSQLStore(newSQLiteBackend(db), "sqlite"), db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS golden_skus (
	key                 TEXT PRIMARY KEY,
	model               TEXT NOT NULL,
	storage             TEXT NOT NULL,
	color               TEXT NOT NULL,
	condition           TEXT NOT NULL,
	sim_variant         TEXT NOT NULL DEFAULT '',
	lock_state          TEXT NOT NULL DEFAULT '',
	region_variant      TEXT NOT NULL DEFAULT '',
	display_name        TEXT NOT NULL,
	reference_price_usd REAL NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_golden_skus_family ON golden_skus(model, condition);

CREATE TABLE IF NOT EXISTS merchants (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	name                  TEXT NOT NULL,
	normalized_name       TEXT NOT NULL UNIQUE,
	rating                REAL,
	review_count          INTEGER,
	verified              INTEGER NOT NULL DEFAULT 0,
	blacklisted           INTEGER NOT NULL DEFAULT 0,
	reputation_checked_at TEXT,
	created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_offers (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source           TEXT NOT NULL,
	country          TEXT NOT NULL,
	identity_key     TEXT NOT NULL,
	product_id       TEXT NOT NULL DEFAULT '',
	url_hash         TEXT NOT NULL DEFAULT '',
	link             TEXT NOT NULL DEFAULT '',
	query            TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL,
	price            REAL NOT NULL,
	currency         TEXT NOT NULL,
	merchant         TEXT NOT NULL,
	immersive_token  TEXT NOT NULL DEFAULT '',
	condition_hint   TEXT NOT NULL DEFAULT '',
	delivery         TEXT NOT NULL DEFAULT '',
	availability     TEXT NOT NULL DEFAULT 'unknown',
	attrs            TEXT NOT NULL,
	is_accessory     INTEGER NOT NULL DEFAULT 0,
	is_contract      INTEGER NOT NULL DEFAULT 0,
	is_multi_variant INTEGER NOT NULL DEFAULT 0,
	extraction_hash  TEXT NOT NULL,
	matched_sku_key  TEXT,
	match_confidence REAL,
	reason_codes     TEXT NOT NULL DEFAULT '[]',
	offer_id         INTEGER,
	seen_count       INTEGER NOT NULL DEFAULT 1,
	first_seen_at    TEXT NOT NULL,
	last_seen_at     TEXT NOT NULL,
	UNIQUE (source, country, identity_key)
);

CREATE INDEX IF NOT EXISTS idx_raw_offers_offer ON raw_offers(offer_id);

CREATE TABLE IF NOT EXISTS offers (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	sku_key             TEXT NOT NULL REFERENCES golden_skus(key),
	country             TEXT NOT NULL,
	merchant_id         INTEGER NOT NULL REFERENCES merchants(id),
	raw_offer_id        INTEGER NOT NULL REFERENCES raw_offers(id),
	dedup_key           TEXT NOT NULL,
	price               REAL NOT NULL,
	currency            TEXT NOT NULL,
	price_usd           REAL NOT NULL,
	fx_rate             REAL NOT NULL,
	shipping_usd        REAL NOT NULL DEFAULT 0,
	tax_refund_usd      REAL NOT NULL DEFAULT 0,
	effective_price_usd REAL NOT NULL,
	price_flags         TEXT NOT NULL DEFAULT '[]',
	availability        TEXT NOT NULL DEFAULT 'unknown',
	trust_score         INTEGER NOT NULL DEFAULT 0,
	trust_reasons       TEXT NOT NULL DEFAULT '[]',
	match_confidence    REAL NOT NULL,
	link                TEXT NOT NULL DEFAULT '',
	immersive_token     TEXT NOT NULL DEFAULT '',
	merchant_url        TEXT NOT NULL DEFAULT '',
	seen_count          INTEGER NOT NULL DEFAULT 1,
	first_seen_at       TEXT NOT NULL,
	last_seen_at        TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	UNIQUE (sku_key, country, dedup_key)
);

CREATE INDEX IF NOT EXISTS idx_offers_sku_seen ON offers(sku_key, last_seen_at);

CREATE TABLE IF NOT EXISTS phrases (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	phrase     TEXT NOT NULL,
	lang       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	UNIQUE (kind, phrase, lang)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed-width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteQuerier runs the shared queries over a *sql.DB or *sql.Tx, storing
// times as UTC text.
type sqliteQuerier struct {
	conn sqlConn
}

func (q sqliteQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.conn.ExecContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqliteQuerier) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return sqliteRow{row: q.conn.QueryRowContext(ctx, query, sqliteArgs(args)...)}
}

func (q sqliteQuerier) query(ctx context.Context, query string, args ...any) (rowsIter, error) {
	rows, err := q.conn.QueryContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return nil, err
	}
	return &sqliteRows{rows: rows}, nil
}

type sqliteBackend struct {
	sqliteQuerier
	db *sql.DB
}

func newSQLiteBackend(db *sql.DB) sqliteBackend {
	return sqliteBackend{sqliteQuerier: sqliteQuerier{conn: db}, db: db}
}

func (b sqliteBackend) begin(ctx context.Context) (txQuerier, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqliteTx{sqliteQuerier: sqliteQuerier{conn: tx}, tx: tx}, nil
}

type sqliteTx struct {
	sqliteQuerier
	tx *sql.Tx
}

func (t sqliteTx) commit(context.Context) error   { return t.tx.Commit() }
func (t sqliteTx) rollback(context.Context) error { return t.tx.Rollback() }

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = formatSQLiteTime(v)
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = formatSQLiteTime(*v)
			}
		default:
			out[i] = a
		}
	}
	return out
}

// sqliteTime scans a stored timestamp back into a time.Time.
type sqliteTime struct {
	t     time.Time
	valid bool
}

func (st *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		st.valid = false
		return nil
	case time.Time:
		st.t, st.valid = v.UTC(), true
		return nil
	case string:
		return st.parse(v)
	case []byte:
		return st.parse(string(v))
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
}

func (st *sqliteTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			st.t, st.valid = t.UTC(), true
			return nil
		}
	}
	return eris.Errorf("sqlite: unparseable time %q", s)
}

// scanWithTimes swaps time destinations for sqliteTime scanners, scans, then
// copies the parsed values back.
func scanWithTimes(scan func(dest ...any) error, dest []any) error {
	type fixup struct {
		st  *sqliteTime
		val *time.Time
		ptr **time.Time
	}
	var fixups []fixup
	actual := make([]any, len(dest))
	for i, d := range dest {
		switch v := d.(type) {
		case *time.Time:
			st := &sqliteTime{}
			fixups = append(fixups, fixup{st: st, val: v})
			actual[i] = st
		case **time.Time:
			st := &sqliteTime{}
			fixups = append(fixups, fixup{st: st, ptr: v})
			actual[i] = st
		default:
			actual[i] = d
		}
	}
	if err := scan(actual...); err != nil {
		return err
	}
	for _, f := range fixups {
		switch {
		case f.val != nil:
			*f.val = f.st.t
		case f.st.valid:
			t := f.st.t
			*f.ptr = &t
		default:
			*f.ptr = nil
		}
	}
	return nil
}

type sqliteRow struct {
	row *sql.Row
}

func (r sqliteRow) Scan(dest ...any) error {
	return scanWithTimes(r.row.Scan, dest)
}

type sqliteRows struct {
	rows *sql.Rows
}

func (r *sqliteRows) Next() bool             { return r.rows.Next() }
func (r *sqliteRows) Err() error             { return r.rows.Err() }
func (r *sqliteRows) Close()                 { _ = r.rows.Close() }
func (r *sqliteRows) Scan(dest ...any) error { return scanWithTimes(r.rows.Scan, dest) }
