package resolve

import (
	"context"
	"sync"

	"github.com/sells-group/skuboard/internal/classifier"
)

// Provider caches a Resolver built from the store and rebuilds it after
// Invalidate, so catalog and phrase edits reach the next decision.
type Provider struct {
	src           CatalogSource
	gateway       *classifier.Gateway
	minConfidence float64

	mu  sync.Mutex
	cur *Resolver
}

// NewProvider creates a provider. A nil gateway disables the classifier.
func NewProvider(src CatalogSource, gw *classifier.Gateway, minConfidence float64) *Provider {
	return &Provider{src: src, gateway: gw, minConfidence: minConfidence}
}

// Resolver returns the current snapshot, loading it on first use or after
// an invalidation.
func (p *Provider) Resolver(ctx context.Context) (*Resolver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return p.cur, nil
	}
	r, err := Load(ctx, p.src, p.gateway, p.minConfidence)
	if err != nil {
		return nil, err
	}
	p.cur = r
	return r, nil
}

// Invalidate drops the snapshot.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()
}
