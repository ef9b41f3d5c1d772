package home

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/ranking"
	"github.com/sells-group/skuboard/internal/store"
)

type fakeRanks struct {
	boards map[string]ranking.Leaderboard
	err    error
	calls  int
}

func (f *fakeRanks) Leaderboard(_ context.Context, _ string, country string, _ int) (ranking.Leaderboard, error) {
	f.calls++
	if f.err != nil {
		return ranking.Leaderboard{}, f.err
	}
	return f.boards[country], nil
}

type fakeCatalog map[string]model.GoldenSku

func (f fakeCatalog) GetGoldenSku(_ context.Context, key string) (*model.GoldenSku, error) {
	g, ok := f[key]
	if !ok {
		return nil, eris.Wrap(store.ErrNotFound, "fake: get golden sku")
	}
	return &g, nil
}

type fakeFX map[string]float64

func (f fakeFX) FromUSD(_ context.Context, usd float64, currency string) (float64, error) {
	r, ok := f[currency]
	if !ok {
		return 0, eris.Errorf("no rate for %s", currency)
	}
	return usd * r, nil
}
