package oxr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/resilience"
)

func TestLatest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest.json", r.URL.Path)
		assert.Equal(t, "app-123", r.URL.Query().Get("app_id"))
		_, _ = w.Write([]byte(`{"timestamp": 1772366400, "base": "USD", "rates": {"JPY": 150.25, "EUR": 0.92}}`))
	}))
	defer srv.Close()

	c := NewClient("app-123", WithBaseURL(srv.URL))
	rates, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD", rates.Base)
	assert.Equal(t, time.Unix(1772366400, 0).UTC(), rates.Timestamp)
	assert.InDelta(t, 150.25, rates.Rates["JPY"], 0.0001)
	assert.InDelta(t, 1.0, rates.Rates["USD"], 0.0001)
}

func TestLatest_MissingAppID(t *testing.T) {
	_, err := NewClient("").Latest(context.Background())
	assert.Error(t, err)
}

func TestLatest_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error": true, "description": "invalid app_id"}`))
	}))
	defer srv.Close()

	_, err := NewClient("bad", WithBaseURL(srv.URL)).Latest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid app_id")
}

func TestLatest_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL), WithHTTPClient(srv.Client())).Latest(context.Background())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestLatest_NoRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"base": "USD", "rates": {}}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Latest(context.Background())
	assert.Error(t, err)
}
