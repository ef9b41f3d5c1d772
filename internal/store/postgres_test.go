package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := newPostgresStore(mock, nil)
	s.nowFunc = func() time.Time { return t0 }
	return s, mock
}

func TestPostgresStore_PingAndMigrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS golden_skus`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetGoldenSku_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT key, model, .* FROM golden_skus WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetGoldenSku(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get golden sku")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetGoldenSku(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"key", "model", "storage", "color", "condition", "sim_variant",
		"lock_state", "region_variant", "display_name", "reference_price_usd", "created_at"}).
		AddRow(testSku.Key, "iphone-16-pro", "256gb", "black", model.ConditionNew, "", "", "",
			testSku.DisplayName, 1099.0, t0)
	mock.ExpectQuery(`FROM golden_skus WHERE key = \$1`).WithArgs(testSku.Key).WillReturnRows(rows)

	got, err := s.GetGoldenSku(context.Background(), testSku.Key)
	require.NoError(t, err)
	assert.Equal(t, testSku.Key, got.Key)
	assert.Equal(t, model.ConditionNew, got.Condition)
	assert.Equal(t, 1099.0, got.ReferencePriceUSD)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertGoldenSkus_BulkPath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_golden_skus"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_golden_skus"}, goldenSkuUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "golden_skus" .* DO UPDATE SET "display_name" = EXCLUDED."display_name", "reference_price_usd" = EXCLUDED."reference_price_usd" WHERE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertGoldenSkus(context.Background(), []model.GoldenSku{testSku})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetMerchantBlacklisted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE merchants SET blacklisted = \$1 WHERE id = \$2`).
		WithArgs(true, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE merchants SET blacklisted = \$1 WHERE id = \$2`).
		WithArgs(true, int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetMerchantBlacklisted(context.Background(), 7, true))
	assert.ErrorIs(t, s.SetMerchantBlacklisted(context.Background(), 8, true), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertOffer_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO offers .* ON CONFLICT \(sku_key, country, dedup_key\) DO NOTHING\s+RETURNING id`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.InsertOffer(context.Background(), testOffer(1, 2, "k"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshOffer_Monotonic(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE offers SET .* WHERE id = \$19 AND last_seen_at <= \$20`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	o := testOffer(1, 2, "k")
	o.ID = 5
	applied, err := s.RefreshOffer(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRawOffer_InsertErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)INSERT INTO raw_offers .* ON CONFLICT \(source, country, identity_key\) DO NOTHING`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := s.UpsertRawOffer(context.Background(), testRaw(t0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert raw offer")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeletePhrase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM phrases WHERE id = \$1`).WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM phrases WHERE id = \$1`).WithArgs(int64(4)).
		WillReturnError(errors.New("boom"))

	require.NoError(t, s.DeletePhrase(context.Background(), 3))
	err := s.DeletePhrase(context.Background(), 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
