package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

const rawOfferColumns = `id, source, country, identity_key, product_id, url_hash, link, query, title,
	price, currency, merchant, immersive_token, condition_hint, delivery, availability,
	attrs, is_accessory, is_contract, is_multi_variant, extraction_hash,
	matched_sku_key, match_confidence, reason_codes, offer_id,
	seen_count, first_seen_at, last_seen_at`

type rawOfferRow struct {
	model.RawOffer
	hash string
}

func scanRawOffer(row rowScanner) (*rawOfferRow, error) {
	var r rawOfferRow
	var attrs, reasons []byte
	var sku *string
	err := row.Scan(&r.ID, &r.Source, &r.Country, &r.IdentityKey, &r.ProductID, &r.URLHash,
		&r.Link, &r.Query, &r.Title, &r.Price, &r.Currency, &r.Merchant, &r.ImmersiveToken,
		&r.ConditionHint, &r.Delivery, &r.Availability, &attrs,
		&r.Flags.IsAccessory, &r.Flags.IsContract, &r.Flags.IsMultiVariant, &r.hash,
		&sku, &r.MatchConfidence, &reasons, &r.OfferID,
		&r.SeenCount, &r.FirstSeenAt, &r.LastSeenAt)
	if err != nil {
		return nil, err
	}
	r.MatchedSKUKey = derefString(sku)
	if err := unmarshalJSON(attrs, &r.Attrs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(reasons, &r.ReasonCodes); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) getRawOffer(ctx context.Context, q querier, where string, args ...any) (*rawOfferRow, error) {
	return scanRawOffer(q.queryRow(ctx, `SELECT `+rawOfferColumns+` FROM raw_offers WHERE `+where, args...))
}

func validateRawOffer(raw model.RawOffer) error {
	switch {
	case raw.Source == "":
		return eris.New("store: raw offer without source")
	case raw.Country == "":
		return eris.New("store: raw offer without country")
	case raw.IdentityKey == "":
		return eris.New("store: raw offer without identity key")
	case raw.LastSeenAt.IsZero():
		return eris.New("store: raw offer without sighting time")
	}
	return nil
}

// UpsertRawOffer buffers one sighting. A new identity is inserted; a repeat
// sighting updates price, availability and last-seen in place. Extraction and
// match state are replaced only when the new extraction differs, and a
// sighting older than the stored one is ignored so last_seen_at only moves
// forward.
func (s *sqlStore) UpsertRawOffer(ctx context.Context, raw model.RawOffer) (*model.RawOffer, UpsertOutcome, error) {
	if err := validateRawOffer(raw); err != nil {
		return nil, UpsertOutcome{}, err
	}
	raw.Country = strings.ToUpper(raw.Country)
	raw.LastSeenAt = raw.LastSeenAt.UTC()
	hash := extractionHash(raw.Attrs, raw.Flags)
	attrs, err := marshalJSON(raw.Attrs)
	if err != nil {
		return nil, UpsertOutcome{}, err
	}

	var out *model.RawOffer
	var outcome UpsertOutcome
	err = s.withTx(ctx, func(q querier) error {
		var id int64
		err := q.queryRow(ctx,
			`INSERT INTO raw_offers (source, country, identity_key, product_id, url_hash, link, query, title,
			   price, currency, merchant, immersive_token, condition_hint, delivery, availability,
			   attrs, is_accessory, is_contract, is_multi_variant, extraction_hash,
			   reason_codes, seen_count, first_seen_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			 ON CONFLICT (source, country, identity_key) DO NOTHING
			 RETURNING id`,
			raw.Source, raw.Country, raw.IdentityKey, raw.ProductID, raw.URLHash, raw.Link, raw.Query, raw.Title,
			raw.Price, raw.Currency, raw.Merchant, raw.ImmersiveToken, raw.ConditionHint, raw.Delivery, string(raw.Availability),
			attrs, raw.Flags.IsAccessory, raw.Flags.IsContract, raw.Flags.IsMultiVariant, hash,
			[]byte("[]"), raw.LastSeenAt, raw.LastSeenAt,
		).Scan(&id)
		switch {
		case err == nil:
			outcome.Created = true
		case !isNoRows(err):
			return s.wrap(err, "insert raw offer")
		default:
			stored, err := s.getRawOffer(ctx, q, `source = ? AND country = ? AND identity_key = ?`,
				raw.Source, raw.Country, raw.IdentityKey)
			if err != nil {
				return s.wrap(err, "get raw offer by identity")
			}
			if raw.LastSeenAt.Before(stored.LastSeenAt) {
				outcome.Stale = true
				out = &stored.RawOffer
				return nil
			}
			id = stored.ID
			outcome.ExtractionChanged = stored.hash != hash
			if err := s.refreshRawOffer(ctx, q, id, raw, outcome.ExtractionChanged, attrs, hash); err != nil {
				return err
			}
		}
		row, err := s.getRawOffer(ctx, q, `id = ?`, id)
		if err != nil {
			return s.wrap(err, "reload raw offer")
		}
		out = &row.RawOffer
		return nil
	})
	if err != nil {
		return nil, UpsertOutcome{}, err
	}
	return out, outcome, nil
}

func (s *sqlStore) refreshRawOffer(ctx context.Context, q querier, id int64, raw model.RawOffer, extractionChanged bool, attrs []byte, hash string) error {
	set := `title = ?, price = ?, currency = ?, merchant = ?, link = ?, url_hash = ?, product_id = ?, query = ?,
		immersive_token = ?, condition_hint = ?, delivery = ?, availability = ?,
		seen_count = seen_count + 1, last_seen_at = ?`
	args := []any{raw.Title, raw.Price, raw.Currency, raw.Merchant, raw.Link, raw.URLHash, raw.ProductID, raw.Query,
		raw.ImmersiveToken, raw.ConditionHint, raw.Delivery, string(raw.Availability), raw.LastSeenAt}
	if extractionChanged {
		set += `, attrs = ?, is_accessory = ?, is_contract = ?, is_multi_variant = ?, extraction_hash = ?,
			matched_sku_key = NULL, match_confidence = NULL, reason_codes = ?, offer_id = NULL`
		args = append(args, attrs, raw.Flags.IsAccessory, raw.Flags.IsContract, raw.Flags.IsMultiVariant, hash, []byte("[]"))
	}
	args = append(args, id, raw.LastSeenAt)
	if _, err := q.exec(ctx, `UPDATE raw_offers SET `+set+` WHERE id = ? AND last_seen_at <= ?`, args...); err != nil {
		return s.wrap(err, "update raw offer")
	}
	return nil
}

func (s *sqlStore) GetRawOffer(ctx context.Context, id int64) (*model.RawOffer, error) {
	r, err := s.getRawOffer(ctx, s.b, `id = ?`, id)
	if err != nil {
		return nil, s.wrap(err, "get raw offer")
	}
	return &r.RawOffer, nil
}

func (s *sqlStore) GetRawOfferByIdentity(ctx context.Context, source, country, identityKey string) (*model.RawOffer, error) {
	r, err := s.getRawOffer(ctx, s.b, `source = ? AND country = ? AND identity_key = ?`,
		source, strings.ToUpper(country), identityKey)
	if err != nil {
		return nil, s.wrap(err, "get raw offer by identity")
	}
	return &r.RawOffer, nil
}

// ListUnresolvedRawOffers returns buffered listings not yet attached to an
// Offer, in id order.
func (s *sqlStore) ListUnresolvedRawOffers(ctx context.Context, f RawOfferFilter) ([]model.RawOffer, error) {
	query := `SELECT ` + rawOfferColumns + ` FROM raw_offers WHERE offer_id IS NULL AND id > ?`
	args := []any{f.AfterID}
	if f.Country != "" {
		query += ` AND country = ?`
		args = append(args, strings.ToUpper(f.Country))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.b.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err, "list unresolved raw offers")
	}
	defer rows.Close()

	var out []model.RawOffer
	for rows.Next() {
		r, err := scanRawOffer(rows)
		if err != nil {
			return nil, s.wrap(err, "scan raw offer")
		}
		out = append(out, r.RawOffer)
	}
	return out, s.wrap(rows.Err(), "list unresolved raw offers iterate")
}

// UpdateRawOfferMatch writes a fresh decision, including the extraction it
// was made from. The stored hash covers the deterministic extraction only, so
// verdict flags do not make the next sighting look changed.
func (s *sqlStore) UpdateRawOfferMatch(ctx context.Context, id int64, m MatchUpdate) error {
	attrs, err := marshalJSON(m.Attrs)
	if err != nil {
		return err
	}
	reasons, err := stringList(m.Reasons)
	if err != nil {
		return err
	}
	n, err := s.b.exec(ctx,
		`UPDATE raw_offers SET attrs = ?, is_accessory = ?, is_contract = ?, is_multi_variant = ?,
		   extraction_hash = ?, matched_sku_key = ?, match_confidence = ?, reason_codes = ?
		 WHERE id = ?`,
		attrs, m.Flags.IsAccessory, m.Flags.IsContract, m.Flags.IsMultiVariant,
		extractionHash(m.Attrs, m.ExtractedFlags), nullString(m.SKUKey), m.Confidence, reasons, id,
	)
	if err != nil {
		return s.wrap(err, "update raw offer match")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: raw offer %d", s.name, id)
	}
	return nil
}

// LinkRawOffer records the Offer a raw listing was promoted or merged into.
func (s *sqlStore) LinkRawOffer(ctx context.Context, rawID, offerID int64) error {
	n, err := s.b.exec(ctx, `UPDATE raw_offers SET offer_id = ? WHERE id = ?`, offerID, rawID)
	if err != nil {
		return s.wrap(err, "link raw offer")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: raw offer %d", s.name, rawID)
	}
	return nil
}
