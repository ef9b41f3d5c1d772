package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

const offerColumns = `o.id, o.sku_key, o.country, o.merchant_id, o.raw_offer_id, o.dedup_key,
	o.price, o.currency, o.price_usd, o.fx_rate, o.shipping_usd, o.tax_refund_usd, o.effective_price_usd,
	o.price_flags, o.availability, o.trust_score, o.trust_reasons, o.match_confidence,
	o.link, o.immersive_token, o.merchant_url, o.seen_count, o.first_seen_at, o.last_seen_at, o.created_at`

func offerDest(o *model.Offer, flags, reasons *[]byte) []any {
	return []any{&o.ID, &o.SKUKey, &o.Country, &o.MerchantID, &o.RawOfferID, &o.DedupKey,
		&o.Price, &o.Currency, &o.PriceUSD, &o.FXRate, &o.ShippingUSD, &o.TaxRefundUSD, &o.EffectivePriceUSD,
		flags, &o.Availability, &o.TrustScore, reasons, &o.MatchConfidence,
		&o.Link, &o.ImmersiveToken, &o.MerchantURL, &o.SeenCount, &o.FirstSeenAt, &o.LastSeenAt, &o.CreatedAt}
}

func decodeOfferLists(o *model.Offer, flags, reasons []byte) error {
	if err := unmarshalJSON(flags, &o.PriceFlags); err != nil {
		return err
	}
	return unmarshalJSON(reasons, &o.TrustReasons)
}

func scanOffer(row rowScanner) (*model.Offer, error) {
	var o model.Offer
	var flags, reasons []byte
	if err := row.Scan(offerDest(&o, &flags, &reasons)...); err != nil {
		return nil, err
	}
	if err := decodeOfferLists(&o, flags, reasons); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *sqlStore) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	o, err := scanOffer(s.b.queryRow(ctx, `SELECT `+offerColumns+` FROM offers o WHERE o.id = ?`, id))
	if err != nil {
		return nil, s.wrap(err, "get offer")
	}
	return o, nil
}

func (s *sqlStore) FindOfferByDedupKey(ctx context.Context, skuKey, country, dedupKey string) (*model.Offer, error) {
	o, err := scanOffer(s.b.queryRow(ctx,
		`SELECT `+offerColumns+` FROM offers o WHERE o.sku_key = ? AND o.country = ? AND o.dedup_key = ?`,
		skuKey, strings.ToUpper(country), dedupKey,
	))
	if err != nil {
		return nil, s.wrap(err, "find offer by dedup key")
	}
	return o, nil
}

// InsertOffer creates a canonical offer. The SKU must exist; losing a race
// on (sku_key, country, dedup_key) returns ErrConflict.
func (s *sqlStore) InsertOffer(ctx context.Context, o model.Offer) (*model.Offer, error) {
	flags, err := stringList(o.PriceFlags)
	if err != nil {
		return nil, err
	}
	reasons, err := stringList(o.TrustReasons)
	if err != nil {
		return nil, err
	}
	o.Country = strings.ToUpper(o.Country)
	now := s.now()
	if o.FirstSeenAt.IsZero() {
		o.FirstSeenAt = now
	}
	if o.LastSeenAt.IsZero() {
		o.LastSeenAt = o.FirstSeenAt
	}

	var id int64
	err = s.b.queryRow(ctx,
		`INSERT INTO offers (sku_key, country, merchant_id, raw_offer_id, dedup_key,
		   price, currency, price_usd, fx_rate, shipping_usd, tax_refund_usd, effective_price_usd,
		   price_flags, availability, trust_score, trust_reasons, match_confidence,
		   link, immersive_token, merchant_url, seen_count, first_seen_at, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 1, ?, ?, ?)
		 ON CONFLICT (sku_key, country, dedup_key) DO NOTHING
		 RETURNING id`,
		o.SKUKey, o.Country, o.MerchantID, o.RawOfferID, o.DedupKey,
		o.Price, o.Currency, o.PriceUSD, o.FXRate, o.ShippingUSD, o.TaxRefundUSD, o.EffectivePriceUSD,
		flags, string(o.Availability), o.TrustScore, reasons, o.MatchConfidence,
		o.Link, o.ImmersiveToken, o.FirstSeenAt.UTC(), o.LastSeenAt.UTC(), now,
	).Scan(&id)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrConflict, "%s: offer %s/%s/%s", s.name, o.SKUKey, o.Country, o.DedupKey)
	}
	if err != nil {
		return nil, s.wrap(err, "insert offer")
	}
	return s.GetOffer(ctx, id)
}

// RefreshOffer applies a re-sighting to an existing offer: price, FX,
// availability, trust and last-seen. Identity columns are kept. It reports
// false when the stored sighting is newer. A changed link drops any hydrated
// merchant URL.
func (s *sqlStore) RefreshOffer(ctx context.Context, o model.Offer) (bool, error) {
	flags, err := stringList(o.PriceFlags)
	if err != nil {
		return false, err
	}
	reasons, err := stringList(o.TrustReasons)
	if err != nil {
		return false, err
	}
	n, err := s.b.exec(ctx,
		`UPDATE offers SET
		   raw_offer_id = ?, dedup_key = ?, price = ?, currency = ?, price_usd = ?, fx_rate = ?,
		   shipping_usd = ?, tax_refund_usd = ?, effective_price_usd = ?, price_flags = ?,
		   availability = ?, trust_score = ?, trust_reasons = ?, match_confidence = ?,
		   merchant_url = CASE WHEN link = ? THEN merchant_url ELSE '' END,
		   link = ?, immersive_token = ?, seen_count = seen_count + 1, last_seen_at = ?
		 WHERE id = ? AND last_seen_at <= ?`,
		o.RawOfferID, o.DedupKey, o.Price, o.Currency, o.PriceUSD, o.FXRate,
		o.ShippingUSD, o.TaxRefundUSD, o.EffectivePriceUSD, flags,
		string(o.Availability), o.TrustScore, reasons, o.MatchConfidence,
		o.Link, o.Link, o.ImmersiveToken, o.LastSeenAt.UTC(),
		o.ID, o.LastSeenAt.UTC(),
	)
	if err != nil {
		return false, s.wrap(err, "refresh offer")
	}
	return n > 0, nil
}

// ListOfferViews returns the offers of a SKU seen since the given time,
// joined with their merchants. An empty country lists every market.
func (s *sqlStore) ListOfferViews(ctx context.Context, skuKey, country string, since time.Time) ([]model.OfferView, error) {
	query := `SELECT ` + offerColumns + `, ` + prefixed("m.", merchantColumns) + `
		FROM offers o JOIN merchants m ON m.id = o.merchant_id
		WHERE o.sku_key = ? AND o.last_seen_at >= ?`
	args := []any{skuKey, since.UTC()}
	if country != "" {
		query += ` AND o.country = ?`
		args = append(args, strings.ToUpper(country))
	}
	query += ` ORDER BY o.id`

	rows, err := s.b.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err, "list offer views")
	}
	defer rows.Close()

	var out []model.OfferView
	for rows.Next() {
		var v model.OfferView
		var flags, reasons []byte
		m := &v.Merchant
		dest := append(offerDest(&v.Offer, &flags, &reasons),
			&m.ID, &m.Name, &m.NormalizedName, &m.Rating, &m.ReviewCount,
			&m.Verified, &m.Blacklisted, &m.ReputationCheckedAt, &m.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, s.wrap(err, "scan offer view")
		}
		if err := decodeOfferLists(&v.Offer, flags, reasons); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, s.wrap(rows.Err(), "list offer views iterate")
}

func (s *sqlStore) SetOfferMerchantURL(ctx context.Context, id int64, url string) error {
	n, err := s.b.exec(ctx, `UPDATE offers SET merchant_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return s.wrap(err, "set offer merchant url")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s: offer %d", s.name, id)
	}
	return nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
