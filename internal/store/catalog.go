package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

const goldenSkuColumns = `key, model, storage, color, condition, sim_variant, lock_state, region_variant, display_name, reference_price_usd, created_at`

func scanGoldenSku(row rowScanner) (*model.GoldenSku, error) {
	var g model.GoldenSku
	err := row.Scan(&g.Key, &g.Model, &g.Storage, &g.Color, &g.Condition,
		&g.SimVariant, &g.LockState, &g.RegionVariant, &g.DisplayName,
		&g.ReferencePriceUSD, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpsertGoldenSkus inserts new SKUs and refreshes display name and reference
// price of existing ones. Defining attributes never change for an existing key.
func (s *sqlStore) UpsertGoldenSkus(ctx context.Context, skus []model.GoldenSku) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}
	now := s.now()
	var total int64
	err := s.withTx(ctx, func(q querier) error {
		for _, g := range skus {
			n, err := q.exec(ctx,
				`INSERT INTO golden_skus (`+goldenSkuColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (key) DO UPDATE SET
				   display_name = excluded.display_name,
				   reference_price_usd = excluded.reference_price_usd
				 WHERE golden_skus.display_name <> excluded.display_name
				    OR golden_skus.reference_price_usd <> excluded.reference_price_usd`,
				g.Key, g.Model, g.Storage, g.Color, string(g.Condition),
				g.SimVariant, g.LockState, g.RegionVariant, g.DisplayName,
				g.ReferencePriceUSD, now,
			)
			if err != nil {
				return s.wrap(err, "upsert golden sku "+g.Key)
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (s *sqlStore) ListGoldenSkus(ctx context.Context) ([]model.GoldenSku, error) {
	rows, err := s.b.query(ctx, `SELECT `+goldenSkuColumns+` FROM golden_skus ORDER BY key`)
	if err != nil {
		return nil, s.wrap(err, "list golden skus")
	}
	defer rows.Close()

	var out []model.GoldenSku
	for rows.Next() {
		g, err := scanGoldenSku(rows)
		if err != nil {
			return nil, s.wrap(err, "scan golden sku")
		}
		out = append(out, *g)
	}
	return out, s.wrap(rows.Err(), "list golden skus iterate")
}

func (s *sqlStore) GetGoldenSku(ctx context.Context, key string) (*model.GoldenSku, error) {
	g, err := scanGoldenSku(s.b.queryRow(ctx, `SELECT `+goldenSkuColumns+` FROM golden_skus WHERE key = ?`, key))
	if err != nil {
		return nil, s.wrap(err, "get golden sku "+key)
	}
	return g, nil
}

// --- Phrase dictionary ---

func scanPhrase(row rowScanner) (*model.Phrase, error) {
	var p model.Phrase
	if err := row.Scan(&p.ID, &p.Kind, &p.Phrase, &p.Lang, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) ListPhrases(ctx context.Context) ([]model.Phrase, error) {
	rows, err := s.b.query(ctx, `SELECT id, kind, phrase, lang, created_at FROM phrases ORDER BY id`)
	if err != nil {
		return nil, s.wrap(err, "list phrases")
	}
	defer rows.Close()

	var out []model.Phrase
	for rows.Next() {
		p, err := scanPhrase(rows)
		if err != nil {
			return nil, s.wrap(err, "scan phrase")
		}
		out = append(out, *p)
	}
	return out, s.wrap(rows.Err(), "list phrases iterate")
}

// AddPhrase stores a phrase, lowercased and trimmed. Adding an existing
// (kind, phrase, lang) returns the stored row.
func (s *sqlStore) AddPhrase(ctx context.Context, p model.Phrase) (*model.Phrase, error) {
	if !p.Kind.Valid() {
		return nil, eris.Errorf("%s: unknown phrase kind %q", s.name, p.Kind)
	}
	p.Phrase = strings.ToLower(strings.TrimSpace(p.Phrase))
	p.Lang = strings.ToLower(strings.TrimSpace(p.Lang))
	if p.Phrase == "" {
		return nil, eris.Errorf("%s: empty phrase", s.name)
	}

	out, err := scanPhrase(s.b.queryRow(ctx,
		`INSERT INTO phrases (kind, phrase, lang, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (kind, phrase, lang) DO NOTHING
		 RETURNING id, kind, phrase, lang, created_at`,
		string(p.Kind), p.Phrase, p.Lang, s.now(),
	))
	if err == nil {
		return out, nil
	}
	if !isNoRows(err) {
		return nil, s.wrap(err, "insert phrase")
	}
	out, err = scanPhrase(s.b.queryRow(ctx,
		`SELECT id, kind, phrase, lang, created_at FROM phrases WHERE kind = ? AND phrase = ? AND lang = ?`,
		string(p.Kind), p.Phrase, p.Lang,
	))
	if err != nil {
		return nil, s.wrap(err, "get phrase")
	}
	return out, nil
}

func (s *sqlStore) DeletePhrase(ctx context.Context, id int64) error {
	n, err := s.b.exec(ctx, `DELETE FROM phrases WHERE id = ?`, id)
	if err != nil {
		return s.wrap(err, "delete phrase")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: phrase %d", s.name, id)
	}
	return nil
}
