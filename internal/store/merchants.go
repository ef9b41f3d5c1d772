package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

const merchantColumns = `id, name, normalized_name, rating, review_count, verified, blacklisted, reputation_checked_at, created_at`

func scanMerchant(row rowScanner) (*model.Merchant, error) {
	var m model.Merchant
	err := row.Scan(&m.ID, &m.Name, &m.NormalizedName, &m.Rating, &m.ReviewCount,
		&m.Verified, &m.Blacklisted, &m.ReputationCheckedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EnsureMerchant returns the merchant with the given display name, creating
// it on first sighting. Names are matched on their normalized form.
func (s *sqlStore) EnsureMerchant(ctx context.Context, name string) (*model.Merchant, error) {
	name = strings.TrimSpace(name)
	norm := model.NormalizeMerchantName(name)
	if norm == "" {
		return nil, eris.Errorf("%s: empty merchant name", s.name)
	}
	m, err := scanMerchant(s.b.queryRow(ctx,
		`INSERT INTO merchants (name, normalized_name, verified, blacklisted, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_name) DO UPDATE SET normalized_name = excluded.normalized_name
		 RETURNING `+merchantColumns,
		name, norm, false, false, s.now(),
	))
	if err != nil {
		return nil, s.wrap(err, "ensure merchant "+norm)
	}
	return m, nil
}

func (s *sqlStore) GetMerchant(ctx context.Context, id int64) (*model.Merchant, error) {
	m, err := scanMerchant(s.b.queryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id))
	if err != nil {
		return nil, s.wrap(err, "get merchant")
	}
	return m, nil
}

// ListMerchantsNeedingReputation returns merchants never checked or last
// checked before checkedBefore, oldest id first.
func (s *sqlStore) ListMerchantsNeedingReputation(ctx context.Context, checkedBefore time.Time, limit int) ([]model.Merchant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.b.query(ctx,
		`SELECT `+merchantColumns+` FROM merchants
		 WHERE blacklisted = ? AND (reputation_checked_at IS NULL OR reputation_checked_at < ?)
		 ORDER BY id LIMIT ?`,
		false, checkedBefore.UTC(), limit,
	)
	if err != nil {
		return nil, s.wrap(err, "list merchants needing reputation")
	}
	defer rows.Close()

	var out []model.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, s.wrap(err, "scan merchant")
		}
		out = append(out, *m)
	}
	return out, s.wrap(rows.Err(), "list merchants iterate")
}

// UpdateMerchantReputation records a reputation lookup. Nil signals leave
// the stored values untouched.
func (s *sqlStore) UpdateMerchantReputation(ctx context.Context, id int64, rating *float64, reviews *int, checkedAt time.Time) error {
	n, err := s.b.exec(ctx,
		`UPDATE merchants SET
		   rating = COALESCE(?, rating),
		   review_count = COALESCE(?, review_count),
		   reputation_checked_at = ?
		 WHERE id = ?`,
		rating, reviews, checkedAt.UTC(), id,
	)
	if err != nil {
		return s.wrap(err, "update merchant reputation")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: merchant %d", s.name, id)
	}
	return nil
}

func (s *sqlStore) SetMerchantBlacklisted(ctx context.Context, id int64, blacklisted bool) error {
	n, err := s.b.exec(ctx, `UPDATE merchants SET blacklisted = ? WHERE id = ?`, blacklisted, id)
	if err != nil {
		return s.wrap(err, "set merchant blacklisted")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: merchant %d", s.name, id)
	}
	return nil
}
