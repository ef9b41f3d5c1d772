package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when an insert loses a race on a unique key.
	ErrConflict = eris.New("store: conflict")
)

// UpsertOutcome describes what UpsertRawOffer did with a sighting.
type UpsertOutcome struct {
	// Created is set when the sighting introduced a new identity.
	Created bool `json:"created"`
	// ExtractionChanged is set when the stored extraction was replaced and
	// match state cleared.
	ExtractionChanged bool `json:"extraction_changed"`
	// Stale is set when the sighting is older than the stored one and was
	// ignored.
	Stale bool `json:"stale"`
}

// NeedsDecision reports whether the listing's match decision must be
// (re)computed after the upsert.
func (o UpsertOutcome) NeedsDecision(stored *model.RawOffer) bool {
	if o.Stale {
		return false
	}
	return o.Created || o.ExtractionChanged || len(stored.ReasonCodes) == 0
}

// RawOfferFilter scopes a scan of the raw ingestion buffer.
type RawOfferFilter struct {
	Country string
	Limit   int
	// AfterID resumes a scan after the given raw offer id.
	AfterID int64
}

// MatchUpdate is the decision state written back to a raw offer. Flags may
// carry classifier verdict flags on top of ExtractedFlags; only Attrs and
// ExtractedFlags feed the extraction hash that later sightings compare
// against.
type MatchUpdate struct {
	Attrs          model.ExtractedAttrs
	ExtractedFlags model.Flags
	Flags          model.Flags
	SKUKey     string
	Confidence *float64
	Reasons    []string
}

// Store defines the persistence interface for the offer pipeline.
type Store interface {
	// Catalog
	UpsertGoldenSkus(ctx context.Context, skus []model.GoldenSku) (int64, error)
	ListGoldenSkus(ctx context.Context) ([]model.GoldenSku, error)
	GetGoldenSku(ctx context.Context, key string) (*model.GoldenSku, error)

	// Merchants
	EnsureMerchant(ctx context.Context, name string) (*model.Merchant, error)
	GetMerchant(ctx context.Context, id int64) (*model.Merchant, error)
	ListMerchantsNeedingReputation(ctx context.Context, checkedBefore time.Time, limit int) ([]model.Merchant, error)
	UpdateMerchantReputation(ctx context.Context, id int64, rating *float64, reviews *int, checkedAt time.Time) error
	SetMerchantBlacklisted(ctx context.Context, id int64, blacklisted bool) error

	// Raw ingestion buffer
	UpsertRawOffer(ctx context.Context, raw model.RawOffer) (*model.RawOffer, UpsertOutcome, error)
	GetRawOffer(ctx context.Context, id int64) (*model.RawOffer, error)
	GetRawOfferByIdentity(ctx context.Context, source, country, identityKey string) (*model.RawOffer, error)
	ListUnresolvedRawOffers(ctx context.Context, filter RawOfferFilter) ([]model.RawOffer, error)
	UpdateRawOfferMatch(ctx context.Context, id int64, m MatchUpdate) error
	LinkRawOffer(ctx context.Context, rawID, offerID int64) error

	// Offers
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)
	FindOfferByDedupKey(ctx context.Context, skuKey, country, dedupKey string) (*model.Offer, error)
	InsertOffer(ctx context.Context, o model.Offer) (*model.Offer, error)
	RefreshOffer(ctx context.Context, o model.Offer) (bool, error)
	ListOfferViews(ctx context.Context, skuKey, country string, since time.Time) ([]model.OfferView, error)
	SetOfferMerchantURL(ctx context.Context, id int64, url string) error

	// Phrase dictionary
	ListPhrases(ctx context.Context) ([]model.Phrase, error)
	AddPhrase(ctx context.Context, p model.Phrase) (*model.Phrase, error)
	DeletePhrase(ctx context.Context, id int64) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
