package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
)

func TestProvider_CachesUntilInvalidated(t *testing.T) {
	src := &fakeSource{skus: testSkus[:1]}
	p := NewProvider(src, nil, 0.8)
	ctx := context.Background()

	r1, err := p.Resolver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Catalog().Len())
	assert.InDelta(t, 0.8, r1.MinConfidence(), 1e-9)

	src.skus = testSkus
	r2, err := p.Resolver(ctx)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	p.Invalidate()
	r3, err := p.Resolver(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(testSkus), r3.Catalog().Len())
}

func TestProvider_LoadErrorIsNotCached(t *testing.T) {
	src := &fakeSource{skusErr: errBoom}
	p := NewProvider(src, nil, 0.8)

	_, err := p.Resolver(context.Background())
	require.ErrorIs(t, err, errBoom)

	src.skusErr = nil
	src.skus = []model.GoldenSku{testSkus[0]}
	r, err := p.Resolver(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Catalog().Len())
}
