package refresh

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/merchants"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/reconcile"
)

type fakeCatalog []model.GoldenSku

func (f fakeCatalog) ListGoldenSkus(context.Context) ([]model.GoldenSku, error) {
	return f, nil
}

type fakeIngester struct {
	mu    sync.Mutex
	reqs  []ingest.Request
	fail  map[string]bool
	calls int
}

func (f *fakeIngester) IngestMany(_ context.Context, reqs []ingest.Request) ([]ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, reqs...)
	out := make([]ingest.Result, len(reqs))
	for i, r := range reqs {
		out[i] = ingest.Result{Request: r}
		if f.fail[r.Country] {
			out[i].Error = "search: upstream 500"
			continue
		}
		out[i].Stats = ingest.Stats{SKUKey: r.SKUKey, Country: r.Country, Promoted: 2, Merged: 1}
	}
	return out, nil
}

type fakeReconciler struct {
	scopes []reconcile.Scope
	err    error
	// next is returned as NextAfterID, one value per call.
	next []int64
}

func (f *fakeReconciler) Reconcile(_ context.Context, scope reconcile.Scope) (reconcile.Stats, error) {
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return reconcile.Stats{}, f.err
	}
	st := reconcile.Stats{DryRun: scope.IsDryRun(), Promoted: 3}
	if len(f.next) > 0 {
		st.NextAfterID, f.next = f.next[0], f.next[1:]
	}
	return st, nil
}

type fakeReputation struct{ err error }

func (f fakeReputation) Refresh(context.Context) (merchants.Stats, error) {
	if f.err != nil {
		return merchants.Stats{}, f.err
	}
	return merchants.Stats{Checked: 4, Updated: 2}, nil
}

var errBoom = eris.New("boom")
