package hydrate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/store"
)

type fakeStore struct {
	mu     sync.Mutex
	offers map[int64]*model.Offer
	setErr error
	sets   int
}

func newFakeStore(offers ...model.Offer) *fakeStore {
	fs := &fakeStore{offers: make(map[int64]*model.Offer)}
	for i := range offers {
		o := offers[i]
		fs.offers[o.ID] = &o
	}
	return fs
}

func (f *fakeStore) GetOffer(_ context.Context, id int64) (*model.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "offer %d", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) SetOfferMerchantURL(_ context.Context, id int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	o, ok := f.offers[id]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "offer %d", id)
	}
	o.MerchantURL = url
	f.sets++
	return nil
}
