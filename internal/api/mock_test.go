package api

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/home"
	"github.com/sells-group/skuboard/internal/hydrate"
	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/reconcile"
	"github.com/sells-group/skuboard/internal/store"
)

type fakeStore struct {
	pingErr     error
	phrases     map[int64]model.Phrase
	nextID      int64
	skus        map[string]model.GoldenSku
	blacklisted map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		phrases:     map[int64]model.Phrase{},
		skus:        map[string]model.GoldenSku{},
		blacklisted: map[int64]bool{1: false},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListPhrases(context.Context) ([]model.Phrase, error) {
	var out []model.Phrase
	for _, p := range f.phrases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) AddPhrase(_ context.Context, p model.Phrase) (*model.Phrase, error) {
	f.nextID++
	p.ID = f.nextID
	f.phrases[p.ID] = p
	return &p, nil
}

func (f *fakeStore) DeletePhrase(_ context.Context, id int64) error {
	if _, ok := f.phrases[id]; !ok {
		return eris.Wrapf(store.ErrNotFound, "fake: phrase %d", id)
	}
	delete(f.phrases, id)
	return nil
}

func (f *fakeStore) ListGoldenSkus(context.Context) ([]model.GoldenSku, error) {
	var out []model.GoldenSku
	for _, g := range f.skus {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) UpsertGoldenSkus(_ context.Context, skus []model.GoldenSku) (int64, error) {
	for _, g := range skus {
		f.skus[g.Key] = g
	}
	return int64(len(skus)), nil
}

func (f *fakeStore) SetMerchantBlacklisted(_ context.Context, id int64, blacklisted bool) error {
	if _, ok := f.blacklisted[id]; !ok {
		return eris.Wrapf(store.ErrNotFound, "fake: merchant %d", id)
	}
	f.blacklisted[id] = blacklisted
	return nil
}

type fakeHome struct {
	last home.Request
	err  error
}

func (f *fakeHome) Get(_ context.Context, req home.Request) (*home.Payload, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &home.Payload{SKUKey: req.SKU, ModelKey: "iphone-16-pro"}, nil
}

type fakeRedirector map[int64]hydrate.Target

func (f fakeRedirector) RedirectTarget(_ context.Context, id int64) (hydrate.Target, error) {
	t, ok := f[id]
	if !ok {
		return hydrate.Target{}, eris.Wrapf(store.ErrNotFound, "fake: offer %d", id)
	}
	if t.URL == "" {
		return hydrate.Target{}, eris.Wrap(hydrate.ErrUnsafeURL, "fake")
	}
	return t, nil
}

type fakeIngester struct {
	last ingest.Request
	err  error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Stats, error) {
	f.last = req
	if f.err != nil {
		return ingest.Stats{}, f.err
	}
	return ingest.Stats{SKUKey: req.SKUKey, Country: req.Country, Fetched: 3, Promoted: 1}, nil
}

type fakeReconciler struct {
	lastScope reconcile.Scope
}

func (f *fakeReconciler) Reconcile(_ context.Context, scope reconcile.Scope) (reconcile.Stats, error) {
	f.lastScope = scope
	return reconcile.Stats{DryRun: scope.IsDryRun(), Scanned: 2}, nil
}

func (f *fakeReconciler) Explain(_ context.Context, ref, country string) (*reconcile.Explanation, error) {
	switch {
	case ref == "404":
		return nil, eris.Wrap(store.ErrNotFound, "fake")
	case ref == "42":
		return &reconcile.Explanation{RawOffer: model.RawOffer{ID: 42}}, nil
	case ref == "pid:abc/1" && country == "US":
		return &reconcile.Explanation{RawOffer: model.RawOffer{ID: 7, IdentityKey: ref}}, nil
	case country == "":
		return nil, eris.Wrapf(reconcile.ErrNeedsCountry, "fake: %q", ref)
	default:
		return nil, eris.Wrap(store.ErrNotFound, "fake")
	}
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }
