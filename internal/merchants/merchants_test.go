package merchants

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/internal/store"
	"github.com/sells-group/skuboard/pkg/google"
	"github.com/sells-group/skuboard/pkg/google/mocks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(t *testing.T) (*Refresher, *store.SQLiteStore, *mocks.MockClient) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "merchants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	places := mocks.NewMockClient(t)
	guard := resilience.NewGuard("google_places", resilience.GuardConfig{
		Timeout: time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})
	r := New(st, places, guard, Config{RequestsPerSecond: 1000})
	r.now = func() time.Time { return t0 }
	return r, st, places
}

func search(name string) any {
	return mock.MatchedBy(func(req google.TextSearchRequest) bool { return req.TextQuery == name })
}

func TestRefresh(t *testing.T) {
	r, st, places := newTestRefresher(t)
	ctx := context.Background()
	bestBuy, err := st.EnsureMerchant(ctx, "Best Buy")
	require.NoError(t, err)
	corner, err := st.EnsureMerchant(ctx, "Corner Phones")
	require.NoError(t, err)
	flaky, err := st.EnsureMerchant(ctx, "Flaky Shop")
	require.NoError(t, err)

	places.On("TextSearch", mock.Anything, search("Best Buy")).Return(&google.TextSearchResponse{Places: []google.Place{
		{DisplayName: google.DisplayName{Text: "Best Buy"}, Rating: 3.9, UserRatingCount: 100, BusinessStatus: "CLOSED_PERMANENTLY"},
		{DisplayName: google.DisplayName{Text: "Best Buy Mobile"}, Rating: 4.1, UserRatingCount: 800},
		{DisplayName: google.DisplayName{Text: "Best Buy"}, Rating: 4.4, UserRatingCount: 12000, BusinessStatus: "OPERATIONAL"},
	}}, nil).Once()
	places.On("TextSearch", mock.Anything, search("Corner Phones")).Return(&google.TextSearchResponse{Places: []google.Place{
		{DisplayName: google.DisplayName{Text: "Joe's Pizza"}, Rating: 4.8, UserRatingCount: 50},
	}}, nil).Once()
	places.On("TextSearch", mock.Anything, search("Flaky Shop")).Return(nil, errors.New("boom")).Once()

	stats, err := r.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 3, Updated: 1, NoMatch: 1, Errors: 1}, stats)

	got, err := st.GetMerchant(ctx, bestBuy.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.4, *got.Rating, 1e-9)
	require.NotNil(t, got.ReviewCount)
	assert.Equal(t, 12000, *got.ReviewCount)
	require.NotNil(t, got.ReputationCheckedAt)

	got, err = st.GetMerchant(ctx, corner.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Rating)
	assert.NotNil(t, got.ReputationCheckedAt)

	// Only the failed lookup is due again.
	due, err := st.ListMerchantsNeedingReputation(ctx, t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, flaky.ID, due[0].ID)
}

func TestRefresh_NothingDue(t *testing.T) {
	r, _, places := newTestRefresher(t)
	stats, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats)
	places.AssertNotCalled(t, "TextSearch", mock.Anything, mock.Anything)
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Best Buy", "best  buy", 1},
		{"Best Buy", "Best Buy Mobile", 2.0 / 3.0},
		{"Amazon.com", "Amazon com", 1},
		{"Shop", "", 0},
		{"Apple", "Samsung", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, nameSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
