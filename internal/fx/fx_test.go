package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/oxr"
)

type rateServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newRateServer(t *testing.T, status int, body string) *rateServer {
	t.Helper()
	rs := &rateServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

const ratesBody = `{"base":"USD","timestamp":1767225600,"rates":{"USD":1,"JPY":150.5,"EUR":0.92}}`

func newTestService(srv *rateServer, static map[string]float64) *Service {
	var client oxr.Client
	if srv != nil {
		client = oxr.NewClient("app", oxr.WithBaseURL(srv.URL))
	}
	guard := resilience.NewGuard("oxr", resilience.GuardConfig{
		Timeout: time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})
	return New(client, cache.NewMemory(), guard, Config{Static: static})
}

func TestRate_CachesLiveRates(t *testing.T) {
	srv := newRateServer(t, http.StatusOK, ratesBody)
	s := newTestService(srv, nil)
	ctx := context.Background()

	r, err := s.Rate(ctx, "jpy")
	require.NoError(t, err)
	assert.InDelta(t, 150.5, r, 1e-9)

	r, err = s.Rate(ctx, "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 0.92, r, 1e-9)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestRate_USDNeedsNoLookup(t *testing.T) {
	srv := newRateServer(t, http.StatusOK, ratesBody)
	s := newTestService(srv, nil)

	r, err := s.Rate(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, 1.0, r)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestRate_MissingCurrencyForcesOneRefresh(t *testing.T) {
	srv := newRateServer(t, http.StatusOK, ratesBody)
	s := newTestService(srv, map[string]float64{"aed": 3.6725})
	ctx := context.Background()

	r, err := s.Rate(ctx, "AED")
	require.NoError(t, err)
	assert.InDelta(t, 3.6725, r, 1e-9)
	assert.Equal(t, int32(2), srv.calls.Load())

	// A second miss within the force interval reads the cache only.
	_, err = s.Rate(ctx, "AED")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load())

	_, err = s.Rate(ctx, "XYZ")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestRate_StaticFallbackWhenAPIFails(t *testing.T) {
	srv := newRateServer(t, http.StatusInternalServerError, `oops`)
	s := newTestService(srv, map[string]float64{"JPY": 149})

	r, err := s.Rate(context.Background(), "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 149, r, 1e-9)

	_, err = s.Rate(context.Background(), "KRW")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestRate_StaticOnly(t *testing.T) {
	s := newTestService(nil, map[string]float64{"JPY": 150})

	r, err := s.Rate(context.Background(), "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 150, r, 1e-9)

	_, err = s.Rate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestConversions(t *testing.T) {
	s := newTestService(nil, map[string]float64{"JPY": 150})
	ctx := context.Background()

	usd, err := s.ToUSD(ctx, 15000, "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 100, usd, 1e-9)

	jpy, err := s.FromUSD(ctx, 100, "JPY")
	require.NoError(t, err)
	assert.InDelta(t, 15000, jpy, 1e-9)

	_, err = s.ToUSD(ctx, 1, "XYZ")
	assert.Error(t, err)
}
