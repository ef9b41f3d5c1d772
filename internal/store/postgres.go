package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/db"
	"github.com/sells-group/skuboard/internal/model"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*sqlStore
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		sqlStore: newSQLStore(pgBackend{pool: pool}, "postgres"),
		pool:     pool,
		closeFn:  closeFn,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
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
	reference_price_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_golden_skus_family ON golden_skus(model, condition);

CREATE TABLE IF NOT EXISTS merchants (
	id                    BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name                  TEXT NOT NULL,
	normalized_name       TEXT NOT NULL UNIQUE,
	rating                DOUBLE PRECISION,
	review_count          INTEGER,
	verified              BOOLEAN NOT NULL DEFAULT false,
	blacklisted           BOOLEAN NOT NULL DEFAULT false,
	reputation_checked_at TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_offers (
	id               BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	source           TEXT NOT NULL,
	country          TEXT NOT NULL,
	identity_key     TEXT NOT NULL,
	product_id       TEXT NOT NULL DEFAULT '',
	url_hash         TEXT NOT NULL DEFAULT '',
	link             TEXT NOT NULL DEFAULT '',
	query            TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL,
	price            DOUBLE PRECISION NOT NULL,
	currency         TEXT NOT NULL,
	merchant         TEXT NOT NULL,
	immersive_token  TEXT NOT NULL DEFAULT '',
	condition_hint   TEXT NOT NULL DEFAULT '',
	delivery         TEXT NOT NULL DEFAULT '',
	availability     TEXT NOT NULL DEFAULT 'unknown',
	attrs            JSONB NOT NULL,
	is_accessory     BOOLEAN NOT NULL DEFAULT false,
	is_contract      BOOLEAN NOT NULL DEFAULT false,
	is_multi_variant BOOLEAN NOT NULL DEFAULT false,
	extraction_hash  TEXT NOT NULL,
	matched_sku_key  TEXT,
	match_confidence DOUBLE PRECISION,
	reason_codes     JSONB NOT NULL DEFAULT '[]',
	offer_id         BIGINT,
	seen_count       INTEGER NOT NULL DEFAULT 1,
	first_seen_at    TIMESTAMPTZ NOT NULL,
	last_seen_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (source, country, identity_key)
);

CREATE INDEX IF NOT EXISTS idx_raw_offers_unresolved ON raw_offers(id) WHERE offer_id IS NULL;

CREATE TABLE IF NOT EXISTS offers (
	id                  BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	sku_key             TEXT NOT NULL REFERENCES golden_skus(key),
	country             TEXT NOT NULL,
	merchant_id         BIGINT NOT NULL REFERENCES merchants(id),
	raw_offer_id        BIGINT NOT NULL REFERENCES raw_offers(id),
	dedup_key           TEXT NOT NULL,
	price               DOUBLE PRECISION NOT NULL,
	currency            TEXT NOT NULL,
	price_usd           DOUBLE PRECISION NOT NULL,
	fx_rate             DOUBLE PRECISION NOT NULL,
	shipping_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
	tax_refund_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	effective_price_usd DOUBLE PRECISION NOT NULL,
	price_flags         JSONB NOT NULL DEFAULT '[]',
	availability        TEXT NOT NULL DEFAULT 'unknown',
	trust_score         INTEGER NOT NULL DEFAULT 0,
	trust_reasons       JSONB NOT NULL DEFAULT '[]',
	match_confidence    DOUBLE PRECISION NOT NULL,
	link                TEXT NOT NULL DEFAULT '',
	immersive_token     TEXT NOT NULL DEFAULT '',
	merchant_url        TEXT NOT NULL DEFAULT '',
	seen_count          INTEGER NOT NULL DEFAULT 1,
	first_seen_at       TIMESTAMPTZ NOT NULL,
	last_seen_at        TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (sku_key, country, dedup_key)
);

CREATE INDEX IF NOT EXISTS idx_offers_sku_seen ON offers(sku_key, last_seen_at);

CREATE TABLE IF NOT EXISTS phrases (
	id         BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	kind       TEXT NOT NULL,
	phrase     TEXT NOT NULL,
	lang       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (kind, phrase, lang)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var goldenSkuUpsert = db.UpsertConfig{
	Table: "golden_skus",
	Columns: []string{"key", "model", "storage", "color", "condition", "sim_variant", "lock_state",
		"region_variant", "display_name", "reference_price_usd", "created_at"},
	ConflictKeys: []string{"key"},
	UpdateCols:   []string{"display_name", "reference_price_usd"},
	OnlyChanged:  true,
}

// UpsertGoldenSkus seeds the catalog through COPY and a single merge.
func (s *PostgresStore) UpsertGoldenSkus(ctx context.Context, skus []model.GoldenSku) (int64, error) {
	now := s.now()
	rows := make([][]any, 0, len(skus))
	for _, g := range skus {
		rows = append(rows, []any{g.Key, g.Model, g.Storage, g.Color, string(g.Condition),
			g.SimVariant, g.LockState, g.RegionVariant, g.DisplayName, g.ReferencePriceUSD, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, goldenSkuUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert golden skus")
}

// pgBackend adapts a db.Pool to the shared query layer.
type pgBackend struct {
	pool db.Pool
}

func (b pgBackend) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := b.pool.Exec(ctx, rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (b pgBackend) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return b.pool.QueryRow(ctx, rebind(q), args...)
}

func (b pgBackend) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	return b.pool.Query(ctx, rebind(q), args...)
}

func (b pgBackend) begin(ctx context.Context) (txQuerier, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgTx) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return t.tx.QueryRow(ctx, rebind(q), args...)
}

func (t pgTx) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	return t.tx.Query(ctx, rebind(q), args...)
}

func (t pgTx) commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
