// Package store persists the catalog, the raw ingestion buffer and canonical
// offers. Postgres is the production backend; SQLite serves single-node
// deployments and tests. Both share one query layer written with "?"
// placeholders.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type querier interface {
	exec(ctx context.Context, q string, args ...any) (int64, error)
	queryRow(ctx context.Context, q string, args ...any) rowScanner
	query(ctx context.Context, q string, args ...any) (rowsIter, error)
}

type txQuerier interface {
	querier
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type backend interface {
	querier
	begin(ctx context.Context) (txQuerier, error)
}

// sqlStore implements the Store operations over a backend.
type sqlStore struct {
	b       backend
	name    string
	nowFunc func() time.Time
}

func newSQLStore(b backend, name string) *sqlStore {
	return &sqlStore{b: b, name: name, nowFunc: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlStore) now() time.Time {
	return s.nowFunc().UTC()
}

// wrap prefixes errors with the backend name, mapping missing rows to
// ErrNotFound.
func (s *sqlStore) wrap(err error, action string) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return eris.Wrapf(ErrNotFound, "%s: %s", s.name, action)
	}
	return eris.Wrapf(err, "%s: %s", s.name, action)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *sqlStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.b.begin(ctx)
	if err != nil {
		return s.wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.rollback(ctx)
		return err
	}
	return s.wrap(tx.commit(ctx), "commit tx")
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// rebind rewrites "?" placeholders to Postgres "$n" form. Placeholders
// inside single-quoted literals are left alone.
func rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func marshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	return raw, nil
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(raw, dst), "store: unmarshal json")
}

// stringList marshals a list, storing nil as an empty array.
func stringList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return marshalJSON(v)
}

// extractionHash fingerprints the extraction state of a listing.
func extractionHash(a model.ExtractedAttrs, f model.Flags) string {
	raw, _ := json.Marshal(struct {
		A model.ExtractedAttrs `json:"a"`
		F model.Flags          `json:"f"`
	}{a, f})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
