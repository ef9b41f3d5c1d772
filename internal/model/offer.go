package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// SourceGoogleShopping identifies listings fetched through the shopping search provider.
const SourceGoogleShopping = "serpapi_google_shopping"

// Availability is the stock state reported for a listing.
type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityLimited    Availability = "limited"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityUnknown    Availability = "unknown"
)

var availabilityPhrases = []struct {
	state   Availability
	phrases []string
}{
	{AvailabilityOutOfStock, []string{"out of stock", "sold out", "unavailable", "在庫切れ", "売り切れ",
		"nicht verfügbar", "ausverkauft", "rupture de stock", "épuisé", "품절", "缺貨", "缺货", "نفد"}},
	{AvailabilityLimited, []string{"limited stock", "only a few left", "few left", "残りわずか", "残り僅か",
		"nur noch wenige", "stock limité", "재고 부족", "庫存有限"}},
	{AvailabilityInStock, []string{"in stock", "在庫あり", "auf lager", "en stock", "재고 있음", "有現貨", "有货", "متوفر"}},
}

// ParseAvailability reads a stock state from free-form delivery or
// extension text. Unrecognized text is unknown.
func ParseAvailability(text string) Availability {
	t := strings.ToLower(text)
	if strings.TrimSpace(t) == "" {
		return AvailabilityUnknown
	}
	for _, a := range availabilityPhrases {
		for _, p := range a.phrases {
			if strings.Contains(t, p) {
				return a.state
			}
		}
	}
	return AvailabilityUnknown
}

// Confidence is the extraction confidence bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// VariantFlags holds optional configuration variants found in a title.
type VariantFlags struct {
	Sim    string `json:"sim,omitempty"`
	Lock   string `json:"lock,omitempty"`
	Region string `json:"region,omitempty"`
}

// Empty reports whether no variant was detected.
func (v VariantFlags) Empty() bool {
	return v.Sim == "" && v.Lock == "" && v.Region == ""
}

// ExtractedAttrs is the normalized attribute set parsed from a listing.
type ExtractedAttrs struct {
	Model           string       `json:"model,omitempty"`
	Storage         string       `json:"storage,omitempty"`
	Color           string       `json:"color,omitempty"`
	Condition       Condition    `json:"condition"`
	ConditionSource string       `json:"condition_source"`
	Variants        VariantFlags `json:"variants,omitzero"`
	Confidence      Confidence   `json:"confidence"`
}

// Flags are the classification flags that exclude a listing from promotion.
type Flags struct {
	IsAccessory    bool `json:"is_accessory"`
	IsContract     bool `json:"is_contract"`
	IsMultiVariant bool `json:"is_multi_variant"`
}

// Excluded reports whether any flag keeps the listing out of rankings.
func (f Flags) Excluded() bool {
	return f.IsAccessory || f.IsContract || f.IsMultiVariant
}

// RawListing is one result as returned by the search provider.
type RawListing struct {
	ProductID      string       `json:"product_id,omitempty"`
	Title          string       `json:"title"`
	Price          float64      `json:"price"`
	Currency       string       `json:"currency"`
	Merchant       string       `json:"merchant"`
	Link           string       `json:"link,omitempty"`
	ImmersiveToken string       `json:"immersive_token,omitempty"`
	ConditionHint  string       `json:"condition_hint,omitempty"`
	Delivery       string       `json:"delivery,omitempty"`
	Thumbnail      string       `json:"thumbnail,omitempty"`
	Availability   Availability `json:"availability,omitempty"`
}

// RawOffer is a buffered listing as seen at its latest sighting, before
// canonical acceptance.
type RawOffer struct {
	ID              int64          `json:"id"`
	Source          string         `json:"source"`
	Country         string         `json:"country"`
	IdentityKey     string         `json:"identity_key"`
	ProductID       string         `json:"product_id,omitempty"`
	URLHash         string         `json:"url_hash,omitempty"`
	Link            string         `json:"link,omitempty"`
	Query           string         `json:"query,omitempty"`
	Title           string         `json:"title"`
	Price           float64        `json:"price"`
	Currency        string         `json:"currency"`
	Merchant        string         `json:"merchant"`
	ImmersiveToken  string         `json:"immersive_token,omitempty"`
	ConditionHint   string         `json:"condition_hint,omitempty"`
	Delivery        string         `json:"delivery,omitempty"`
	Availability    Availability   `json:"availability"`
	Attrs           ExtractedAttrs `json:"attrs"`
	Flags           Flags          `json:"flags"`
	MatchedSKUKey   string         `json:"matched_sku_key,omitempty"`
	MatchConfidence *float64       `json:"match_confidence,omitempty"`
	ReasonCodes     []string       `json:"reason_codes"`
	// OfferID links the listing to the Offer it was promoted or merged into.
	OfferID         *int64         `json:"offer_id,omitempty"`
	SeenCount       int            `json:"seen_count"`
	FirstSeenAt     time.Time      `json:"first_seen_at"`
	LastSeenAt      time.Time      `json:"last_seen_at"`
}

// Offer is a canonical, rankable listing attached to exactly one GoldenSku.
type Offer struct {
	ID                int64        `json:"id"`
	SKUKey            string       `json:"sku_key"`
	Country           string       `json:"country"`
	MerchantID        int64        `json:"merchant_id"`
	RawOfferID        int64        `json:"raw_offer_id"`
	DedupKey          string       `json:"dedup_key"`
	Price             float64      `json:"price"`
	Currency          string       `json:"currency"`
	PriceUSD          float64      `json:"price_usd"`
	FXRate            float64      `json:"fx_rate"`
	ShippingUSD       float64      `json:"shipping_usd"`
	TaxRefundUSD      float64      `json:"tax_refund_usd"`
	EffectivePriceUSD float64      `json:"effective_price_usd"`
	PriceFlags        []string     `json:"price_flags"`
	Availability      Availability `json:"availability"`
	TrustScore        int          `json:"trust_score"`
	TrustReasons      []string     `json:"trust_reasons"`
	MatchConfidence   float64      `json:"match_confidence"`
	Link              string       `json:"link,omitempty"`
	ImmersiveToken    string       `json:"immersive_token,omitempty"`
	MerchantURL       string       `json:"merchant_url,omitempty"`
	SeenCount         int          `json:"seen_count"`
	FirstSeenAt       time.Time    `json:"first_seen_at"`
	LastSeenAt        time.Time    `json:"last_seen_at"`
	CreatedAt         time.Time    `json:"created_at"`
}

// OfferView joins an offer with the current state of its merchant, which is
// everything ranking needs.
type OfferView struct {
	Offer    Offer    `json:"offer"`
	Merchant Merchant `json:"merchant"`
}

var trackingParams = map[string]bool{
	"gclid": true, "srsltid": true, "fbclid": true, "ref": true, "tag": true,
}

// CanonicalURL normalizes a listing URL for identity hashing: lowercase
// scheme and host, no fragment, no tracking parameters, sorted query.
func CanonicalURL(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(link)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := url.Values{}
	for _, k := range keys {
		vals[k] = q[k]
	}
	u.RawQuery = vals.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// URLHash is the hex SHA-256 of the canonical form of link, or "" for an
// empty link.
func URLHash(link string) string {
	if strings.TrimSpace(link) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(CanonicalURL(link)))
	return hex.EncodeToString(sum[:])
}

// IdentityKey returns the buffer identity of a listing within its source and
// country: the source product id when present, else the URL hash. It
// returns "" when the listing has neither.
func IdentityKey(productID, link string) string {
	if id := strings.TrimSpace(productID); id != "" {
		return "pid:" + id
	}
	if h := URLHash(link); h != "" {
		return "url:" + h
	}
	return ""
}
